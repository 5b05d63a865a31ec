package probegen

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/rttprobe/internal/core"
)

const snapLen = 65535

// TrafficConfig controls Generate.
type TrafficConfig struct {
	Options    Options
	Flows      []string      // flow ids, used round-robin
	Count      int           // number of probe frames
	NoiseRatio float64       // fraction of extra non-probe frames, 0..1
	Start      time.Time     // timestamp of the first frame
	Interval   time.Duration // spacing between frames
	Seed       int64
}

// Generate produces Count probe frames, interleaved with noise frames
// (UDP to other ports, TCP, ARP) according to NoiseRatio. It returns the
// frames and how many of them are probes.
func Generate(cfg TrafficConfig) ([][]byte, int, error) {
	if len(cfg.Flows) == 0 {
		cfg.Flows = []string{"flow-1"}
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	frames := make([][]byte, 0, cfg.Count)
	probes := 0
	for i := 0; i < cfg.Count; i++ {
		if cfg.NoiseRatio > 0 && rng.Float64() < cfg.NoiseRatio {
			noise, err := noiseFrame(cfg.Options, rng)
			if err != nil {
				return nil, 0, err
			}
			frames = append(frames, noise)
		}
		t0 := uint32(i * 1000)
		frame, err := ProbeFrame(cfg.Options, core.ProbeFields{
			FlowID:    cfg.Flows[i%len(cfg.Flows)],
			T0:        t0,
			T1:        t0 + uint32(rng.Intn(500)+1),
			Direction: i%2 == 0,
		})
		if err != nil {
			return nil, 0, err
		}
		frames = append(frames, frame)
		probes++
	}
	return frames, probes, nil
}

func noiseFrame(opts Options, rng *rand.Rand) ([]byte, error) {
	switch rng.Intn(3) {
	case 0:
		o := opts
		o.DstPort = 53
		return UDPFrame(o, []byte("not a probe"))
	case 1:
		return TCPFrame(opts, []byte("GET / HTTP/1.1\r\n\r\n"))
	default:
		return ARPFrame(opts)
	}
}

// WritePcap writes frames to w as an Ethernet pcap stream.
func WritePcap(w io.Writer, frames [][]byte, start time.Time, interval time.Duration) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("write pcap header: %w", err)
	}
	ts := start
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := pw.WritePacket(ci, frame); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
		ts = ts.Add(interval)
	}
	return nil
}

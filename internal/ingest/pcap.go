package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/rttprobe/internal/log"
	"firestige.xyz/rttprobe/internal/ring"
)

const pcapngMagic = "\x0a\x0d\x0d\x0a"

// loopBackoff paces a looping replay while the ring or pool is full.
const loopBackoff = time.Millisecond

// PcapConfig configures a pcap replay feeder.
type PcapConfig struct {
	Files []string
	// Loop replays the file list until the context is cancelled.
	Loop bool
	// Prefilter drops frames that cannot be probes before they take a buffer.
	Prefilter bool
	ProbePort uint16
}

// PcapFeeder replays pcap or pcapng files into the ring as fast as the ring
// accepts them.
type PcapFeeder struct {
	cfg    PcapConfig
	enq    *enqueuer
	filter *frameFilter
	logger log.Logger
}

// NewPcapFeeder creates a feeder for cfg.Files.
func NewPcapFeeder(cfg PcapConfig, pool *ring.Pool, sink ring.Sink) (*PcapFeeder, error) {
	if len(cfg.Files) == 0 {
		return nil, errors.New("pcap feeder: no files")
	}
	f := &PcapFeeder{
		cfg:    cfg,
		enq:    newEnqueuer("pcap", pool, sink),
		logger: log.GetLogger().WithField("feeder", "pcap"),
	}
	if cfg.Prefilter {
		filter, err := newFrameFilter(cfg.ProbePort)
		if err != nil {
			return nil, err
		}
		f.filter = filter
	}
	return f, nil
}

func (f *PcapFeeder) Name() string { return "pcap" }

func (f *PcapFeeder) Stats() Stats { return f.enq.stats() }

// Run replays the files once, or until ctx is done when looping.
func (f *PcapFeeder) Run(ctx context.Context) error {
	for pass := 1; ; pass++ {
		var read uint64
		for _, path := range f.cfg.Files {
			n, err := f.replay(ctx, path)
			read += n
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		if !f.cfg.Loop {
			f.logger.WithField("frames", f.enq.frames.Load()).Info("pcap replay finished")
			return nil
		}
		if read == 0 {
			return errors.New("pcap feeder: files contain no frames, cannot loop")
		}
		f.logger.WithField("pass", pass).Debug("pcap replay pass finished")
	}
}

func (f *PcapFeeder) replay(ctx context.Context, path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	defer file.Close()

	src, linkType, err := openReader(bufio.NewReader(file))
	if err != nil {
		return 0, fmt.Errorf("failed to read pcap file %s: %w", path, err)
	}
	if linkType != layers.LinkTypeEthernet {
		return 0, fmt.Errorf("pcap file %s: unsupported link type %s", path, linkType)
	}

	var n uint64
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		data, _, err := src.ReadPacketData()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to read packet from %s: %w", path, err)
		}
		n++
		if f.filter != nil && !f.filter.match(data) {
			f.enq.drop()
			continue
		}
		if !f.enq.push(data) && f.cfg.Loop {
			if err := waitBackoff(ctx, loopBackoff); err != nil {
				return n, err
			}
		}
	}
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func openReader(r *bufio.Reader) (gopacket.PacketDataSource, layers.LinkType, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, 0, err
	}
	if string(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, 0, err
		}
		return ng, ng.LinkType(), nil
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, 0, err
	}
	return pr, pr.LinkType(), nil
}

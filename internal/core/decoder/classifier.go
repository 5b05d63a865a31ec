// Package decoder implements probe packet classification and payload decoding.
package decoder

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/rttprobe/internal/core"
)

// DefaultProbePort is the UDP destination port of flow-RTT probe packets.
const DefaultProbePort = 58168

// Verdict is the classification outcome of one frame.
type Verdict uint8

const (
	// VerdictProbe means the frame is a UDP datagram to the probe port.
	VerdictProbe Verdict = iota
	// VerdictMalformed means the frame could not be parsed as Ethernet/IP/UDP.
	VerdictMalformed
	// VerdictNotIP means the link layer carried no IPv4/IPv6 (ARP, LLDP, ...).
	VerdictNotIP
	// VerdictNotUDP means an IP packet without a UDP layer (TCP, ICMP, fragments).
	VerdictNotUDP
	// VerdictWrongPort means a UDP datagram to another destination port.
	VerdictWrongPort
)

var verdictNames = [...]string{
	VerdictProbe:     "probe",
	VerdictMalformed: "malformed",
	VerdictNotIP:     "not_ip",
	VerdictNotUDP:    "not_udp",
	VerdictWrongPort: "wrong_port",
}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return fmt.Sprintf("verdict(%d)", uint8(v))
}

// Classifier decides whether a raw Ethernet frame is a probe packet. Every
// frame is fully parsed; header offsets are never cached between frames, so
// VLAN-tagged, IPv4 and IPv6 frames can be mixed freely on the same ring.
//
// A Classifier reuses its layer structs and is not safe for concurrent use;
// each worker owns one.
type Classifier struct {
	port uint16

	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	udp     layers.UDP
	decoded []gopacket.LayerType
}

// NewClassifier creates a classifier matching UDP destination port port.
func NewClassifier(port uint16) *Classifier {
	c := &Classifier{
		port:    port,
		decoded: make([]gopacket.LayerType, 0, 8),
	}
	c.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&c.eth,
		&c.dot1q,
		&c.ip4,
		&c.ip6,
		&c.udp,
	)
	// Layers past UDP (and non-IP payloads) are not our business.
	c.parser.IgnoreUnsupported = true
	return c
}

// Port returns the probe destination port.
func (c *Classifier) Port() uint16 {
	return c.port
}

// Classify parses frame and returns the verdict. For VerdictProbe the
// returned slice is the UDP payload, a view into frame that is only valid
// while frame is. For VerdictMalformed the parse error is returned.
func (c *Classifier) Classify(frame []byte) (Verdict, []byte, error) {
	if len(frame) == 0 {
		return VerdictMalformed, nil, core.ErrPacketTooShort
	}

	c.decoded = c.decoded[:0]
	if err := c.parser.DecodeLayers(frame, &c.decoded); err != nil {
		return VerdictMalformed, nil, err
	}
	if len(c.decoded) == 0 {
		return VerdictMalformed, nil, core.ErrPacketTooShort
	}

	sawIP := false
	for _, layerType := range c.decoded {
		switch layerType {
		case layers.LayerTypeIPv4, layers.LayerTypeIPv6:
			sawIP = true
		case layers.LayerTypeUDP:
			if uint16(c.udp.DstPort) != c.port {
				return VerdictWrongPort, nil, nil
			}
			return VerdictProbe, c.udp.Payload, nil
		}
	}
	if !sawIP {
		return VerdictNotIP, nil, nil
	}
	return VerdictNotUDP, nil, nil
}

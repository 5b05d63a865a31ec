// Package probegen builds synthetic probe traffic: Ethernet frames carrying
// probe payloads, unrelated noise frames, and pcap files of both.
package probegen

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/rttprobe/internal/core"
	"firestige.xyz/rttprobe/internal/core/decoder"
)

// Options describes the headers of a generated frame.
type Options struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcIP   net.IP // IPv6 when DstIP is not an IPv4 address
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	VLAN    uint16 // 0 = untagged
}

// DefaultOptions returns IPv4 options addressed to the default probe port.
func DefaultOptions() Options {
	return Options{
		SrcMAC:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		SrcIP:   net.IPv4(192, 168, 42, 1),
		DstIP:   net.IPv4(192, 168, 42, 2),
		SrcPort: 40000,
		DstPort: decoder.DefaultProbePort,
	}
}

// ProbeFrame returns an Ethernet/IP/UDP frame carrying the probe payload f.
func ProbeFrame(opts Options, f core.ProbeFields) ([]byte, error) {
	return UDPFrame(opts, decoder.AppendPayload(nil, f))
}

// UDPFrame returns an Ethernet/IP/UDP frame carrying payload.
func UDPFrame(opts Options, payload []byte) ([]byte, error) {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(opts.SrcPort),
		DstPort: layers.UDPPort(opts.DstPort),
	}
	return serialize(opts, layers.IPProtocolUDP, udp, payload)
}

// TCPFrame returns an Ethernet/IP/TCP frame carrying payload.
func TCPFrame(opts Options, payload []byte) ([]byte, error) {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(opts.SrcPort),
		DstPort: layers.TCPPort(opts.DstPort),
		Seq:     1,
		ACK:     true,
		PSH:     true,
		Window:  65535,
	}
	return serialize(opts, layers.IPProtocolTCP, tcp, payload)
}

// ARPFrame returns a broadcast ARP request, a frame with no IP layer.
func ARPFrame(opts Options) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       opts.SrcMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   opts.SrcMAC,
		SourceProtAddress: opts.SrcIP.To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    opts.DstIP.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		return nil, fmt.Errorf("serialize arp: %w", err)
	}
	return buf.Bytes(), nil
}

type transportLayer interface {
	gopacket.SerializableLayer
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

func serialize(opts Options, proto layers.IPProtocol, transport transportLayer, payload []byte) ([]byte, error) {
	var (
		network   gopacket.NetworkLayer
		netLayer  gopacket.SerializableLayer
		etherType layers.EthernetType
	)
	if opts.DstIP.To4() != nil {
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: proto,
			SrcIP:    opts.SrcIP.To4(),
			DstIP:    opts.DstIP.To4(),
		}
		network, netLayer, etherType = ip, ip, layers.EthernetTypeIPv4
	} else {
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: proto,
			SrcIP:      opts.SrcIP.To16(),
			DstIP:      opts.DstIP.To16(),
		}
		network, netLayer, etherType = ip, ip, layers.EthernetTypeIPv6
	}
	if err := transport.SetNetworkLayerForChecksum(network); err != nil {
		return nil, fmt.Errorf("checksum setup: %w", err)
	}

	stack := make([]gopacket.SerializableLayer, 0, 5)
	eth := &layers.Ethernet{
		SrcMAC:       opts.SrcMAC,
		DstMAC:       opts.DstMAC,
		EthernetType: etherType,
	}
	stack = append(stack, eth)
	if opts.VLAN != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{
			VLANIdentifier: opts.VLAN,
			Type:           etherType,
		})
	}
	stack = append(stack, netLayer, transport, gopacket.Payload(payload))

	buf := gopacket.NewSerializeBuffer()
	serializeOpts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, serializeOpts, stack...); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

package decoder_test

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/rttprobe/internal/core"
	"firestige.xyz/rttprobe/internal/core/decoder"
	"firestige.xyz/rttprobe/internal/probegen"
)

var sample = core.ProbeFields{FlowID: "f1", T0: 100, T1: 200, Direction: true}

func TestClassifyProbeRoundTrip(t *testing.T) {
	frame, err := probegen.ProbeFrame(probegen.DefaultOptions(), sample)
	require.NoError(t, err)

	c := decoder.NewClassifier(decoder.DefaultProbePort)
	verdict, payload, err := c.Classify(frame)
	require.NoError(t, err)
	require.Equal(t, decoder.VerdictProbe, verdict)
	assert.Len(t, payload, decoder.PayloadLen)

	fields, err := decoder.DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, sample, fields)
}

func TestClassifyIPv6(t *testing.T) {
	opts := probegen.DefaultOptions()
	opts.SrcIP = net.ParseIP("2001:db8::1")
	opts.DstIP = net.ParseIP("2001:db8::2")
	frame, err := probegen.ProbeFrame(opts, sample)
	require.NoError(t, err)

	verdict, payload, err := decoder.NewClassifier(decoder.DefaultProbePort).Classify(frame)
	require.NoError(t, err)
	require.Equal(t, decoder.VerdictProbe, verdict)

	fields, err := decoder.DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "f1", fields.FlowID)
}

func TestClassifyVLAN(t *testing.T) {
	opts := probegen.DefaultOptions()
	opts.VLAN = 42
	frame, err := probegen.ProbeFrame(opts, sample)
	require.NoError(t, err)

	verdict, _, err := decoder.NewClassifier(decoder.DefaultProbePort).Classify(frame)
	require.NoError(t, err)
	assert.Equal(t, decoder.VerdictProbe, verdict)
}

func TestClassifyQinQ(t *testing.T) {
	opts := probegen.DefaultOptions()
	eth := &layers.Ethernet{SrcMAC: opts.SrcMAC, DstMAC: opts.DstMAC, EthernetType: layers.EthernetTypeDot1Q}
	outer := &layers.Dot1Q{VLANIdentifier: 100, Type: layers.EthernetTypeDot1Q}
	inner := &layers.Dot1Q{VLANIdentifier: 200, Type: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: opts.SrcIP.To4(), DstIP: opts.DstIP.To4()}
	udp := &layers.UDP{SrcPort: 40000, DstPort: decoder.DefaultProbePort}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth, outer, inner, ip, udp, gopacket.Payload(decoder.AppendPayload(nil, sample)))
	require.NoError(t, err)

	verdict, payload, err := decoder.NewClassifier(decoder.DefaultProbePort).Classify(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, decoder.VerdictProbe, verdict)
	fields, err := decoder.DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, sample, fields)
}

func TestClassifyNotProbe(t *testing.T) {
	opts := probegen.DefaultOptions()

	wrongPort := opts
	wrongPort.DstPort = 53
	udpFrame, err := probegen.UDPFrame(wrongPort, decoder.AppendPayload(nil, sample))
	require.NoError(t, err)

	tcpFrame, err := probegen.TCPFrame(opts, decoder.AppendPayload(nil, sample))
	require.NoError(t, err)

	arpFrame, err := probegen.ARPFrame(opts)
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame []byte
		want  decoder.Verdict
	}{
		{"udp other port", udpFrame, decoder.VerdictWrongPort},
		{"tcp to probe port", tcpFrame, decoder.VerdictNotUDP},
		{"arp", arpFrame, decoder.VerdictNotIP},
	}

	c := decoder.NewClassifier(decoder.DefaultProbePort)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, payload, err := c.Classify(tt.frame)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, verdict)
			assert.Nil(t, payload)
		})
	}
}

func TestClassifyFragment(t *testing.T) {
	opts := probegen.DefaultOptions()
	eth := &layers.Ethernet{SrcMAC: opts.SrcMAC, DstMAC: opts.DstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		FragOffset: 185, SrcIP: opts.SrcIP.To4(), DstIP: opts.DstIP.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth, ip, gopacket.Payload(make([]byte, 64)))
	require.NoError(t, err)

	verdict, _, err := decoder.NewClassifier(decoder.DefaultProbePort).Classify(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, decoder.VerdictNotUDP, verdict)
}

func TestClassifyMalformed(t *testing.T) {
	frame, err := probegen.ProbeFrame(probegen.DefaultOptions(), sample)
	require.NoError(t, err)

	c := decoder.NewClassifier(decoder.DefaultProbePort)

	verdict, _, err := c.Classify(nil)
	assert.Equal(t, decoder.VerdictMalformed, verdict)
	assert.ErrorIs(t, err, core.ErrPacketTooShort)

	verdict, _, err = c.Classify(frame[:10])
	assert.Equal(t, decoder.VerdictMalformed, verdict)
	assert.Error(t, err)

	// Ethernet header plus half an IPv4 header.
	verdict, _, err = c.Classify(frame[:24])
	assert.Equal(t, decoder.VerdictMalformed, verdict)
	assert.Error(t, err)
}

func TestClassifyShortPayload(t *testing.T) {
	frame, err := probegen.UDPFrame(probegen.DefaultOptions(), []byte("short"))
	require.NoError(t, err)

	verdict, payload, err := decoder.NewClassifier(decoder.DefaultProbePort).Classify(frame)
	require.NoError(t, err)
	require.Equal(t, decoder.VerdictProbe, verdict)
	assert.Equal(t, []byte("short"), payload)

	_, err = decoder.DecodePayload(payload)
	assert.ErrorIs(t, err, core.ErrMalformedPayload)
}

func TestClassifyCustomPort(t *testing.T) {
	opts := probegen.DefaultOptions()
	opts.DstPort = 9000
	frame, err := probegen.ProbeFrame(opts, sample)
	require.NoError(t, err)

	verdict, _, _ := decoder.NewClassifier(decoder.DefaultProbePort).Classify(frame)
	assert.Equal(t, decoder.VerdictWrongPort, verdict)

	c := decoder.NewClassifier(9000)
	assert.Equal(t, uint16(9000), c.Port())
	verdict, _, _ = c.Classify(frame)
	assert.Equal(t, decoder.VerdictProbe, verdict)
}

func TestClassifierReuse(t *testing.T) {
	c := decoder.NewClassifier(decoder.DefaultProbePort)
	arp, err := probegen.ARPFrame(probegen.DefaultOptions())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		frame, err := probegen.ProbeFrame(probegen.DefaultOptions(), core.ProbeFields{FlowID: "reuse", T0: uint32(i)})
		require.NoError(t, err)

		verdict, payload, err := c.Classify(frame)
		require.NoError(t, err)
		require.Equal(t, decoder.VerdictProbe, verdict)
		fields, err := decoder.DecodePayload(payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), fields.T0)

		verdict, _, err = c.Classify(arp)
		require.NoError(t, err)
		assert.Equal(t, decoder.VerdictNotIP, verdict)
	}
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "probe", decoder.VerdictProbe.String())
	assert.Equal(t, "wrong_port", decoder.VerdictWrongPort.String())
	assert.Equal(t, "verdict(99)", decoder.Verdict(99).String())
}

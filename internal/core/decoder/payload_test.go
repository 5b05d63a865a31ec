package decoder

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/rttprobe/internal/core"
)

func TestDecodePayloadLayout(t *testing.T) {
	payload := make([]byte, PayloadLen)
	copy(payload, "flow-a")
	payload[32], payload[33], payload[34], payload[35] = 0x00, 0x00, 0x01, 0x00
	payload[36], payload[37], payload[38], payload[39] = 0xde, 0xad, 0xbe, 0xef
	payload[40] = 0x07

	fields, err := DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "flow-a", fields.FlowID)
	assert.Equal(t, uint32(256), fields.T0)
	assert.Equal(t, uint32(0xdeadbeef), fields.T1)
	assert.True(t, fields.Direction)
}

func TestDecodePayloadDirectionFalse(t *testing.T) {
	fields, err := DecodePayload(AppendPayload(nil, core.ProbeFields{FlowID: "x", Direction: false}))
	require.NoError(t, err)
	assert.False(t, fields.Direction)
}

func TestDecodePayloadTooShort(t *testing.T) {
	for _, n := range []int{0, 1, FlowIDLen, PayloadLen - 1} {
		_, err := DecodePayload(make([]byte, n))
		assert.ErrorIs(t, err, core.ErrMalformedPayload, "length %d", n)
	}
}

func TestDecodePayloadTrailingBytes(t *testing.T) {
	want := core.ProbeFields{FlowID: "f1", T0: 100, T1: 200, Direction: true}
	payload := AppendPayload(nil, want)
	payload = append(payload, 0xff, 0xff, 0xff)

	fields, err := DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, want, fields)
}

func TestDecodePayloadFullWidthFlowID(t *testing.T) {
	id := "0123456789abcdef0123456789abcdef"
	require.Len(t, id, FlowIDLen)

	fields, err := DecodePayload(AppendPayload(nil, core.ProbeFields{FlowID: id}))
	require.NoError(t, err)
	assert.Equal(t, id, fields.FlowID)
}

func TestDecodePayloadInvalidUTF8(t *testing.T) {
	payload := AppendPayload(nil, core.ProbeFields{FlowID: "f\xff1", T0: 100, T1: 200, Direction: true})

	fields, err := DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "f\uFFFD1", fields.FlowID)
	assert.True(t, utf8.ValidString(fields.FlowID))
	assert.Equal(t, uint32(100), fields.T0)
	assert.Equal(t, uint32(200), fields.T1)
	assert.True(t, fields.Direction)
}

func TestDecodePayloadDoesNotAlias(t *testing.T) {
	payload := AppendPayload(nil, core.ProbeFields{FlowID: "keep"})
	fields, err := DecodePayload(payload)
	require.NoError(t, err)

	copy(payload, "XXXX")
	assert.Equal(t, "keep", fields.FlowID)
}

func TestAppendPayloadTruncatesLongFlowID(t *testing.T) {
	long := "this-flow-id-is-definitely-longer-than-thirty-two-bytes"
	payload := AppendPayload([]byte{0xaa}, core.ProbeFields{FlowID: long})
	require.Len(t, payload, PayloadLen+1)
	assert.Equal(t, byte(0xaa), payload[0])

	fields, err := DecodePayload(payload[1:])
	require.NoError(t, err)
	assert.Equal(t, long[:FlowIDLen], fields.FlowID)
}

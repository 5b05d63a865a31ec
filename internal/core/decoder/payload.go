package decoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"firestige.xyz/rttprobe/internal/core"
)

// Probe payload layout, shared with the traffic generator:
//
//	offset  width  field
//	0       32     flow id, NUL-padded
//	32      4      t0, big-endian
//	36      4      t1, big-endian
//	40      1      direction, non-zero = true
const (
	FlowIDLen  = 32
	t0Offset   = FlowIDLen
	t1Offset   = t0Offset + 4
	dirOffset  = t1Offset + 4
	PayloadLen = dirOffset + 1
)

// DecodePayload decodes a probe payload. The length is checked before any
// field is read; bytes past PayloadLen are ignored. The flow id is copied
// out, so the result does not alias payload. Invalid UTF-8 in the flow id
// is replaced with U+FFFD so the record stays encodable.
func DecodePayload(payload []byte) (core.ProbeFields, error) {
	if len(payload) < PayloadLen {
		return core.ProbeFields{}, fmt.Errorf("payload %d bytes, need %d: %w", len(payload), PayloadLen, core.ErrMalformedPayload)
	}

	id := payload[:FlowIDLen]
	if i := bytes.IndexByte(id, 0); i >= 0 {
		id = id[:i]
	}
	return core.ProbeFields{
		FlowID:    strings.ToValidUTF8(string(id), "\uFFFD"),
		T0:        binary.BigEndian.Uint32(payload[t0Offset : t0Offset+4]),
		T1:        binary.BigEndian.Uint32(payload[t1Offset : t1Offset+4]),
		Direction: payload[dirOffset] != 0,
	}, nil
}

// AppendPayload appends the wire encoding of f to dst. Flow ids longer than
// FlowIDLen are truncated.
func AppendPayload(dst []byte, f core.ProbeFields) []byte {
	var buf [PayloadLen]byte
	copy(buf[:FlowIDLen], f.FlowID)
	binary.BigEndian.PutUint32(buf[t0Offset:], f.T0)
	binary.BigEndian.PutUint32(buf[t1Offset:], f.T1)
	if f.Direction {
		buf[dirOffset] = 1
	}
	return append(dst, buf[:]...)
}

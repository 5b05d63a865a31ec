// Package flowrtt encodes probe batches as FlowLatencyPacketBucket protobuf
// messages (see flowrtt.proto). Encoding is done field by field with
// protowire to avoid generated code and per-record allocations.
package flowrtt

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/rttprobe/internal/core"
)

// Field numbers of FlowLatencyPacket.
const (
	fieldFlowID    protowire.Number = 1
	fieldT0        protowire.Number = 2
	fieldT1        protowire.Number = 3
	fieldPacketID  protowire.Number = 4
	fieldDirection protowire.Number = 5
)

// fieldPacket is the repeated packet field of FlowLatencyPacketBucket.
const fieldPacket protowire.Number = 1

// Marshal encodes batch as a FlowLatencyPacketBucket.
func Marshal(batch *core.Batch) []byte {
	return AppendBucket(nil, batch)
}

// AppendBucket appends the encoding of batch to dst. Fields holding their
// proto3 default value are omitted, like generated code does.
func AppendBucket(dst []byte, batch *core.Batch) []byte {
	for i := range batch.Records {
		r := &batch.Records[i]
		dst = protowire.AppendTag(dst, fieldPacket, protowire.BytesType)
		dst = protowire.AppendVarint(dst, uint64(packetSize(r)))
		dst = appendPacket(dst, r)
	}
	return dst
}

func packetSize(r *core.ProbeRecord) int {
	n := 0
	if r.FlowID != "" {
		n += protowire.SizeTag(fieldFlowID) + protowire.SizeBytes(len(r.FlowID))
	}
	if r.T0 != 0 {
		n += protowire.SizeTag(fieldT0) + protowire.SizeVarint(uint64(r.T0))
	}
	if r.T1 != 0 {
		n += protowire.SizeTag(fieldT1) + protowire.SizeVarint(uint64(r.T1))
	}
	if r.PacketID != 0 {
		n += protowire.SizeTag(fieldPacketID) + protowire.SizeVarint(r.PacketID)
	}
	if r.Direction {
		n += protowire.SizeTag(fieldDirection) + 1
	}
	return n
}

func appendPacket(dst []byte, r *core.ProbeRecord) []byte {
	if r.FlowID != "" {
		dst = protowire.AppendTag(dst, fieldFlowID, protowire.BytesType)
		dst = protowire.AppendString(dst, r.FlowID)
	}
	if r.T0 != 0 {
		dst = protowire.AppendTag(dst, fieldT0, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(r.T0))
	}
	if r.T1 != 0 {
		dst = protowire.AppendTag(dst, fieldT1, protowire.VarintType)
		dst = protowire.AppendVarint(dst, uint64(r.T1))
	}
	if r.PacketID != 0 {
		dst = protowire.AppendTag(dst, fieldPacketID, protowire.VarintType)
		dst = protowire.AppendVarint(dst, r.PacketID)
	}
	if r.Direction {
		dst = protowire.AppendTag(dst, fieldDirection, protowire.VarintType)
		dst = protowire.AppendVarint(dst, protowire.EncodeBool(true))
	}
	return dst
}

// Unmarshal decodes a FlowLatencyPacketBucket. Unknown fields are skipped.
func Unmarshal(b []byte) (*core.Batch, error) {
	batch := &core.Batch{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("bucket tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == fieldPacket && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("bucket packet: %w", protowire.ParseError(n))
			}
			r, err := unmarshalPacket(msg)
			if err != nil {
				return nil, err
			}
			batch.Records = append(batch.Records, r)
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, fmt.Errorf("bucket field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return batch, nil
}

func unmarshalPacket(b []byte) (core.ProbeRecord, error) {
	var r core.ProbeRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("packet tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldFlowID && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, fmt.Errorf("packet flow_id: %w", protowire.ParseError(n))
			}
			r.FlowID = s
			b = b[n:]
		case typ == protowire.VarintType && num >= fieldT0 && num <= fieldDirection:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("packet field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case fieldT0:
				r.T0 = uint32(v)
			case fieldT1:
				r.T1 = uint32(v)
			case fieldPacketID:
				r.PacketID = v
			case fieldDirection:
				r.Direction = protowire.DecodeBool(v)
			}
			b = b[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("packet field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

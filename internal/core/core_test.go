package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestBatch(t *testing.T) {
	t.Run("ZeroValue", func(t *testing.T) {
		var b Batch
		if !b.Empty() {
			t.Errorf("expected empty batch")
		}
		if b.Len() != 0 {
			t.Errorf("expected Len=0, got %d", b.Len())
		}
	})

	t.Run("ResetKeepsCapacity", func(t *testing.T) {
		b := Batch{Records: make([]ProbeRecord, 0, 32)}
		b.Records = append(b.Records, ProbeRecord{FlowID: "f1", PacketID: 1})
		b.Records = append(b.Records, ProbeRecord{FlowID: "f2", PacketID: 2})
		if b.Len() != 2 {
			t.Fatalf("expected Len=2, got %d", b.Len())
		}

		b.Reset()
		if !b.Empty() {
			t.Errorf("expected empty batch after reset")
		}
		if cap(b.Records) != 32 {
			t.Errorf("expected capacity 32 after reset, got %d", cap(b.Records))
		}
	})
}

func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrPacketTooShort, "rttprobe: packet too short"},
			{ErrNotProbe, "rttprobe: not a probe packet"},
			{ErrMalformedPayload, "rttprobe: malformed probe payload"},
			{ErrRingFull, "rttprobe: ring full"},
			{ErrDoubleRelease, "rttprobe: buffer released twice"},
			{ErrBindFailed, "rttprobe: channel bind failed"},
			{ErrBackpressure, "rttprobe: publish queue full"},
			{ErrConfigInvalid, "rttprobe: invalid configuration"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("bind tcp://*:5555: %w", ErrBindFailed)
		if !errors.Is(wrapped, ErrBindFailed) {
			t.Error("errors.Is failed for wrapped error")
		}
		if errors.Is(wrapped, ErrPublishFailed) {
			t.Error("wrapped bind error must not match ErrPublishFailed")
		}
	})
}

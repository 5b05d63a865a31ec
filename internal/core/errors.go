// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, wrapped with fmt.Errorf("...: %w") and matched with errors.Is.
var (
	// Packet classification and payload decoding errors
	ErrPacketTooShort   = errors.New("rttprobe: packet too short")
	ErrNotProbe         = errors.New("rttprobe: not a probe packet")
	ErrMalformedPayload = errors.New("rttprobe: malformed probe payload")

	// Buffer ring and pool errors
	ErrRingFull      = errors.New("rttprobe: ring full")
	ErrPoolExhausted = errors.New("rttprobe: buffer pool exhausted")
	ErrDoubleRelease = errors.New("rttprobe: buffer released twice")

	// Publish channel errors
	ErrBindFailed    = errors.New("rttprobe: channel bind failed")
	ErrPublishFailed = errors.New("rttprobe: publish failed")
	ErrBackpressure  = errors.New("rttprobe: publish queue full")
	ErrChannelClosed = errors.New("rttprobe: channel closed")

	// Worker lifecycle errors
	ErrWorkerState = errors.New("rttprobe: invalid worker state")

	// Configuration errors
	ErrConfigInvalid = errors.New("rttprobe: invalid configuration")
)

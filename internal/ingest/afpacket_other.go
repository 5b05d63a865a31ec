//go:build !linux || !cgo

package ingest

import (
	"context"
	"errors"

	"firestige.xyz/rttprobe/internal/ring"
)

// AFPacketConfig configures a live capture feeder.
type AFPacketConfig struct {
	Interface string
	Geometry  Geometry
	Prefilter bool
	ProbePort uint16
}

// AFPacketFeeder is only available on linux.
type AFPacketFeeder struct{}

// NewAFPacketFeeder always fails off linux.
func NewAFPacketFeeder(cfg AFPacketConfig, pool *ring.Pool, sink ring.Sink) (*AFPacketFeeder, error) {
	return nil, errors.New("afpacket feeder requires linux")
}

func (f *AFPacketFeeder) Name() string { return "afpacket" }

func (f *AFPacketFeeder) Stats() Stats { return Stats{} }

func (f *AFPacketFeeder) Run(ctx context.Context) error {
	return errors.New("afpacket feeder requires linux")
}

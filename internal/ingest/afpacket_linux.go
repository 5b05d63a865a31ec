//go:build linux && cgo

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/rttprobe/internal/log"
	"firestige.xyz/rttprobe/internal/ring"
)

const pollTimeout = 100 * time.Millisecond

// AFPacketConfig configures a live capture feeder.
type AFPacketConfig struct {
	Interface string
	Geometry  Geometry
	// Prefilter installs ProbeFilter on the socket.
	Prefilter bool
	ProbePort uint16
}

// AFPacketFeeder captures from a network interface with a TPACKET_V3 ring.
type AFPacketFeeder struct {
	cfg    AFPacketConfig
	enq    *enqueuer
	logger log.Logger
}

// NewAFPacketFeeder validates cfg. The socket is opened by Run.
func NewAFPacketFeeder(cfg AFPacketConfig, pool *ring.Pool, sink ring.Sink) (*AFPacketFeeder, error) {
	if cfg.Interface == "" {
		return nil, errors.New("afpacket feeder: interface is required")
	}
	g, err := alignGeometry(cfg.Geometry, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("afpacket feeder: %w", err)
	}
	cfg.Geometry = g
	return &AFPacketFeeder{
		cfg:    cfg,
		enq:    newEnqueuer("afpacket", pool, sink),
		logger: log.GetLogger().WithField("feeder", "afpacket").WithField("interface", cfg.Interface),
	}, nil
}

func (f *AFPacketFeeder) Name() string { return "afpacket" }

func (f *AFPacketFeeder) Stats() Stats { return f.enq.stats() }

// Run captures until ctx is done.
func (f *AFPacketFeeder) Run(ctx context.Context) error {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(f.cfg.Interface),
		afpacket.OptFrameSize(f.cfg.Geometry.FrameSize),
		afpacket.OptBlockSize(f.cfg.Geometry.BlockSize),
		afpacket.OptNumBlocks(f.cfg.Geometry.NumBlocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("failed to open afpacket on %s: %w", f.cfg.Interface, err)
	}
	defer tp.Close()

	if f.cfg.Prefilter {
		raw, err := AssembleProbeFilter(f.cfg.ProbePort)
		if err != nil {
			return err
		}
		if err := tp.SetBPF(raw); err != nil {
			return fmt.Errorf("failed to attach probe filter: %w", err)
		}
	}

	f.logger.WithFields(map[string]interface{}{
		"frame_size": f.cfg.Geometry.FrameSize,
		"block_size": f.cfg.Geometry.BlockSize,
		"num_blocks": f.cfg.Geometry.NumBlocks,
		"prefilter":  f.cfg.Prefilter,
	}).Info("afpacket capture started")

	for ctx.Err() == nil {
		data, _, err := tp.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) {
				continue
			}
			return fmt.Errorf("afpacket read on %s: %w", f.cfg.Interface, err)
		}
		f.enq.push(data)
	}

	_, s, err := tp.SocketStats()
	if err == nil {
		f.logger.WithFields(map[string]interface{}{
			"packets": s.Packets(),
			"drops":   s.Drops(),
			"frames":  f.enq.frames.Load(),
		}).Info("afpacket capture stopped")
	}
	return nil
}

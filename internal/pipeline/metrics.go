package pipeline

import (
	"sync/atomic"

	"firestige.xyz/rttprobe/internal/core"
)

// Metrics contains per-worker counters. The worker goroutine is the only
// writer; readers take snapshots.
type Metrics struct {
	Cycles    atomic.Uint64
	IdlePolls atomic.Uint64
	Dequeued  atomic.Uint64
	Released  atomic.Uint64

	Accepted   atomic.Uint64
	NotIP      atomic.Uint64
	NotUDP     atomic.Uint64
	WrongPort  atomic.Uint64
	Malformed  atomic.Uint64
	BadPayload atomic.Uint64

	BatchesPublished atomic.Uint64
	RecordsPublished atomic.Uint64
	PublishErrors    atomic.Uint64
	Panics           atomic.Uint64
	LastPacketID     atomic.Uint64
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() core.WorkerStats {
	return core.WorkerStats{
		Cycles:           m.Cycles.Load(),
		IdlePolls:        m.IdlePolls.Load(),
		Dequeued:         m.Dequeued.Load(),
		Released:         m.Released.Load(),
		Accepted:         m.Accepted.Load(),
		NotIP:            m.NotIP.Load(),
		NotUDP:           m.NotUDP.Load(),
		WrongPort:        m.WrongPort.Load(),
		Malformed:        m.Malformed.Load(),
		BadPayload:       m.BadPayload.Load(),
		BatchesPublished: m.BatchesPublished.Load(),
		RecordsPublished: m.RecordsPublished.Load(),
		PublishErrors:    m.PublishErrors.Load(),
		Panics:           m.Panics.Load(),
		LastPacketID:     m.LastPacketID.Load(),
	}
}

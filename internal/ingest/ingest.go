// Package ingest implements the producer side of the buffer ring: feeders
// copy captured frames into pool buffers and enqueue them for the workers.
package ingest

import (
	"context"
	"sync/atomic"

	"firestige.xyz/rttprobe/internal/metrics"
	"firestige.xyz/rttprobe/internal/ring"
)

// Drop reasons
const (
	DropPoolExhausted = "pool_exhausted"
	DropRingFull      = "ring_full"
	DropFiltered      = "filtered"
)

// Feeder fills a ring from one capture source. Run blocks until ctx is done
// or the source is exhausted.
type Feeder interface {
	Name() string
	Run(ctx context.Context) error
	Stats() Stats
}

// Stats are the counters of one feeder.
type Stats struct {
	Frames        uint64
	PoolExhausted uint64
	RingFull      uint64
	Filtered      uint64
}

// enqueuer copies frames into pool buffers and hands them to a sink. A frame
// that cannot be enqueued is dropped and its buffer released.
type enqueuer struct {
	source string
	pool   *ring.Pool
	sink   ring.Sink

	frames        atomic.Uint64
	poolExhausted atomic.Uint64
	ringFull      atomic.Uint64
	filtered      atomic.Uint64
}

func newEnqueuer(source string, pool *ring.Pool, sink ring.Sink) *enqueuer {
	return &enqueuer{source: source, pool: pool, sink: sink}
}

// push reports whether the frame reached the ring.
func (e *enqueuer) push(frame []byte) bool {
	b, err := e.pool.Get()
	if err != nil {
		e.poolExhausted.Add(1)
		metrics.IngestDropsTotal.WithLabelValues(e.source, DropPoolExhausted).Inc()
		return false
	}
	b.SetBytes(frame)
	if !e.sink.Enqueue(b) {
		_ = b.Release()
		e.ringFull.Add(1)
		metrics.IngestDropsTotal.WithLabelValues(e.source, DropRingFull).Inc()
		return false
	}
	e.frames.Add(1)
	metrics.IngestFramesTotal.WithLabelValues(e.source).Inc()
	return true
}

func (e *enqueuer) drop() {
	e.filtered.Add(1)
	metrics.IngestDropsTotal.WithLabelValues(e.source, DropFiltered).Inc()
}

func (e *enqueuer) stats() Stats {
	return Stats{
		Frames:        e.frames.Load(),
		PoolExhausted: e.poolExhausted.Load(),
		RingFull:      e.ringFull.Load(),
		Filtered:      e.filtered.Load(),
	}
}

package ring

import (
	"fmt"
	"sync/atomic"

	"firestige.xyz/rttprobe/internal/core"
)

// Buffer is a preallocated packet buffer owned by a Pool. Between Pool.Get
// (or a Source dequeue) and Release it is exclusively owned by one goroutine.
type Buffer struct {
	data  []byte
	n     int
	pool  *Pool
	owned atomic.Bool
}

// Bytes returns the valid frame bytes. The slice aliases pool memory and must
// not be retained after Release.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.n]
}

// Len returns the frame length.
func (b *Buffer) Len() int {
	return b.n
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// SetBytes copies frame into the buffer, truncating to capacity, and returns
// the number of bytes stored.
func (b *Buffer) SetBytes(frame []byte) int {
	b.n = copy(b.data, frame)
	return b.n
}

// Release returns the buffer to its pool. A second release of the same
// handout is rejected with ErrDoubleRelease and leaves the pool untouched.
func (b *Buffer) Release() error {
	if !b.owned.CompareAndSwap(true, false) {
		b.pool.doubleReleases.Add(1)
		return core.ErrDoubleRelease
	}
	b.n = 0
	b.pool.outstanding.Add(-1)
	b.pool.released.Add(1)
	if !b.pool.free.Enqueue(b) {
		// Cannot happen while the free ring is sized to the pool.
		return fmt.Errorf("pool %q: free ring overflow: %w", b.pool.name, core.ErrRingFull)
	}
	return nil
}

// Pool is a fixed set of buffers whose free list is itself an MPMC ring, so
// Get and Release are safe from any goroutine.
type Pool struct {
	name    string
	buffers []Buffer
	free    *Ring[*Buffer]

	outstanding    atomic.Int64
	allocated      atomic.Uint64
	released       atomic.Uint64
	doubleReleases atomic.Uint64
	exhausted      atomic.Uint64
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Size           int
	Outstanding    int64
	Allocated      uint64
	Released       uint64
	DoubleReleases uint64
	Exhausted      uint64
}

// NewPool allocates size buffers of bufSize bytes each.
func NewPool(name string, size, bufSize int) (*Pool, error) {
	if size <= 0 || bufSize <= 0 {
		return nil, fmt.Errorf("pool %q: size=%d buffer_size=%d: %w", name, size, bufSize, core.ErrConfigInvalid)
	}
	free, err := NewRing[*Buffer](name+"-free", size)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		name:    name,
		buffers: make([]Buffer, size),
		free:    free,
	}
	backing := make([]byte, size*bufSize)
	for i := range p.buffers {
		b := &p.buffers[i]
		b.data = backing[i*bufSize : (i+1)*bufSize : (i+1)*bufSize]
		b.pool = p
		free.Enqueue(b)
	}
	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Get takes a free buffer. It never blocks and returns ErrPoolExhausted when
// all buffers are handed out.
func (p *Pool) Get() (*Buffer, error) {
	b, ok := p.free.Dequeue()
	if !ok {
		p.exhausted.Add(1)
		return nil, core.ErrPoolExhausted
	}
	b.owned.Store(true)
	p.outstanding.Add(1)
	p.allocated.Add(1)
	return b, nil
}

// Outstanding returns the number of buffers currently handed out.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Size:           len(p.buffers),
		Outstanding:    p.outstanding.Load(),
		Allocated:      p.allocated.Load(),
		Released:       p.released.Load(),
		DoubleReleases: p.doubleReleases.Load(),
		Exhausted:      p.exhausted.Load(),
	}
}

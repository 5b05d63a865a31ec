// Package ring implements the shared packet buffer ring and its buffer pool.
//
// Ring is a bounded lock-free multi-producer/multi-consumer queue. Each slot
// carries a sequence number; producers and consumers claim positions with a
// CAS on their cursor and publish through the slot sequence, so concurrent
// consumers always receive disjoint subsets of the enqueued elements.
package ring

import (
	"fmt"
	"sync/atomic"

	"firestige.xyz/rttprobe/internal/core"
)

const cacheLinePad = 64

type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a fixed-capacity MPMC ring. The zero value is not usable; use NewRing.
type Ring[T any] struct {
	_      [cacheLinePad]byte
	enqPos atomic.Uint64
	_      [cacheLinePad - 8]byte
	deqPos atomic.Uint64
	_      [cacheLinePad - 8]byte

	name  string
	mask  uint64
	slots []slot[T]
}

// NewRing creates a ring able to hold capacity elements. Capacity is rounded
// up to the next power of two.
func NewRing[T any](name string, capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring %q: capacity must be positive, got %d: %w", name, capacity, core.ErrConfigInvalid)
	}
	size := nextPowerOfTwo(uint64(capacity))
	r := &Ring[T]{
		name:  name,
		mask:  size - 1,
		slots: make([]slot[T], size),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r, nil
}

// Name returns the ring name.
func (r *Ring[T]) Name() string {
	return r.name
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.slots)
}

// Len returns an approximation of the number of queued elements. It is exact
// when no producer or consumer is active.
func (r *Ring[T]) Len() int {
	deq := r.deqPos.Load()
	enq := r.enqPos.Load()
	if enq <= deq {
		return 0
	}
	n := enq - deq
	if n > uint64(len(r.slots)) {
		n = uint64(len(r.slots))
	}
	return int(n)
}

// Enqueue adds v to the ring. It returns false without blocking when the ring
// is full.
func (r *Ring[T]) Enqueue(v T) bool {
	pos := r.enqPos.Load()
	for {
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			if r.enqPos.CompareAndSwap(pos, pos+1) {
				s.val = v
				s.seq.Store(pos + 1)
				return true
			}
			pos = r.enqPos.Load()
		case dif < 0:
			return false
		default:
			pos = r.enqPos.Load()
		}
	}
}

// Dequeue removes one element. It returns false without blocking when the
// ring is empty.
func (r *Ring[T]) Dequeue() (T, bool) {
	var zero T
	pos := r.deqPos.Load()
	for {
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		switch dif := int64(seq) - int64(pos+1); {
		case dif == 0:
			if r.deqPos.CompareAndSwap(pos, pos+1) {
				v := s.val
				s.val = zero
				s.seq.Store(pos + r.mask + 1)
				return v, true
			}
			pos = r.deqPos.Load()
		case dif < 0:
			return zero, false
		default:
			pos = r.deqPos.Load()
		}
	}
}

// EnqueueBurst enqueues as many elements of src as fit and returns how many
// were accepted. Elements are accepted in order; src[n:] were not enqueued.
func (r *Ring[T]) EnqueueBurst(src []T) int {
	for i, v := range src {
		if !r.Enqueue(v) {
			return i
		}
	}
	return len(src)
}

// DequeueBurst fills dst with up to len(dst) elements and returns the count.
// It never blocks; zero means the ring was empty.
func (r *Ring[T]) DequeueBurst(dst []T) int {
	for i := range dst {
		v, ok := r.Dequeue()
		if !ok {
			return i
		}
		dst[i] = v
	}
	return len(dst)
}

func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

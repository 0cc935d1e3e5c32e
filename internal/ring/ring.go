// Package ring provides a lock-free single-producer/single-consumer ring
// buffer for interrupt-style producers that must never block.
//
// The producer overwrites the oldest unread entry when the buffer is full.
// Overwritten entries are counted as lost on the consumer side; the producer
// never sees an error.
package ring

import (
	"fmt"
	"sync/atomic"
)

// Ring is a fixed-capacity SPSC buffer of 32-bit values.
//
// Each slot holds the value together with the low 32 bits of the sequence
// number it was written at, packed into a single atomic word. The consumer
// uses the stored sequence to detect a slot the producer lapped while it was
// being read. Indices are free-running and wrap mod 2^32.
//
// Push must only be called from one goroutine and Pop/Peek/Discard from one
// other goroutine.
type Ring[T ~uint32] struct {
	slots []atomic.Uint64
	mask  uint32
	write atomic.Uint32 // advanced only by the producer
	read  atomic.Uint32 // advanced only by the consumer
	lost  atomic.Uint32 // entries overwritten before they were read
}

// New creates a Ring. capacity must be a power of two.
func New[T ~uint32](capacity int) (*Ring[T], error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring capacity %d is not a power of two", capacity)
	}
	return &Ring[T]{
		slots: make([]atomic.Uint64, capacity),
		mask:  uint32(capacity - 1),
	}, nil
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.slots)
}

// Push appends v. It never blocks and never allocates.
func (r *Ring[T]) Push(v T) {
	w := r.write.Load()
	r.slots[w&r.mask].Store(uint64(w)<<32 | uint64(uint32(v)))
	r.write.Store(w + 1)
}

// Pop removes and returns the oldest retained value and its sequence number.
func (r *Ring[T]) Pop() (v T, seq uint32, ok bool) {
	v, seq, ok = r.Peek()
	if ok {
		r.read.Store(seq + 1)
	}
	return v, seq, ok
}

// Peek returns the oldest retained value without consuming it. If the
// producer has overwritten unread entries, the read index is first moved up
// to the oldest entry still held.
func (r *Ring[T]) Peek() (v T, seq uint32, ok bool) {
	capacity := uint32(len(r.slots))
	for {
		w := r.write.Load()
		rd := r.read.Load()
		if w == rd {
			return 0, 0, false
		}
		if w-rd > capacity {
			r.lost.Add(w - capacity - rd)
			rd = w - capacity
			r.read.Store(rd)
		}
		s := r.slots[rd&r.mask].Load()
		if uint32(s>>32) != rd {
			// lapped while reading; recompute from the new write index
			continue
		}
		return T(uint32(s)), rd, true
	}
}

// Discard drops everything currently buffered and returns how many entries
// were dropped. Entries the producer had already overwritten are counted as
// lost, not dropped. The sequence number of the last dropped entry is
// returned so callers that derive state from sequence parity stay aligned.
func (r *Ring[T]) Discard() (n uint32, last uint32) {
	capacity := uint32(len(r.slots))
	w := r.write.Load()
	rd := r.read.Load()
	n = w - rd
	if n > capacity {
		r.lost.Add(n - capacity)
		n = capacity
	}
	r.read.Store(w)
	return n, w - 1
}

// Len returns the number of unread entries, capped at the capacity. It may be
// called from either side.
func (r *Ring[T]) Len() int {
	n := r.write.Load() - r.read.Load()
	if n > uint32(len(r.slots)) {
		return len(r.slots)
	}
	return int(n)
}

// Empty reports whether the consumer has caught up with the producer.
func (r *Ring[T]) Empty() bool {
	return r.write.Load() == r.read.Load()
}

// Lost returns the number of entries overwritten before they were read.
func (r *Ring[T]) Lost() uint32 {
	return r.lost.Load()
}

// Written returns the total number of entries ever pushed, mod 2^32.
func (r *Ring[T]) Written() uint32 {
	return r.write.Load()
}

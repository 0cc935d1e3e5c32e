package monitor

import (
	"math"
	"sync/atomic"
)

// Accumulator is a lock-free float64 running total. Any number of producers
// may Add; a single consumer reads and resets it with Take.
type Accumulator struct {
	bits atomic.Uint64
}

// Add adds v to the total.
func (a *Accumulator) Add(v float64) {
	for {
		old := a.bits.Load()
		sum := math.Float64bits(math.Float64frombits(old) + v)
		if a.bits.CompareAndSwap(old, sum) {
			return
		}
	}
}

// Take returns the total and resets it to zero.
func (a *Accumulator) Take() float64 {
	return math.Float64frombits(a.bits.Swap(0))
}

// Load returns the total without resetting it.
func (a *Accumulator) Load() float64 {
	return math.Float64frombits(a.bits.Load())
}

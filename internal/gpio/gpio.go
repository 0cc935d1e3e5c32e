// Package gpio delivers filament sensor edges from GPIO lines to monitor
// channels. The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"fmt"
	"log"

	"github.com/sweeney/filament-sensor/internal/ring"
)

// DefaultChip is the GPIO chip sensors are wired to on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// EdgeSink receives timestamped edges. *monitor.Channel satisfies it.
type EdgeSink interface {
	Interrupt(t ring.Tick)

	// NextEdgeFalling reports the direction the sink expects next.
	// ok is false if the sink only counts edges.
	NextEdgeFalling() (falling, ok bool)
}

// Source watches input lines and delivers their edges to sinks.
type Source interface {
	// Watch starts delivering edges on pin to sink. bothEdges selects
	// rising and falling edges; otherwise only rising edges are delivered.
	// Edges for one pin are delivered from a single goroutine.
	Watch(pin int, bothEdges bool, sink EdgeSink) error

	// Close releases GPIO resources.
	Close() error
}

// Deliver passes one edge to sink. Sinks that derive direction from arrival
// order get an extra edge at the same tick when the real direction does not
// match, so that a coalesced edge pair cannot invert every later bit.
func Deliver(sink EdgeSink, t ring.Tick, rising bool) {
	if falling, ok := sink.NextEdgeFalling(); ok && falling == rising {
		sink.Interrupt(t)
	}
	sink.Interrupt(t)
}

// TicksFromNanos converts a CLOCK_MONOTONIC reading to a tick count.
func TicksFromNanos(ns int64) ring.Tick {
	return ring.Tick(uint64(ns) / uint64(1_000_000_000/ring.TickRate))
}

// pendingLine is a requested input whose edge detection is still off.
type pendingLine interface {
	Value() (int, error)
	EnableEdges() error
}

// arm starts edge delivery on line. The idle level of a both-edge sensor is
// high, so a line that is low before the first event owes the sink a falling
// edge. That edge is delivered before edges are enabled so the sink only ever
// has one producer, and sees the edges in order.
func arm(line pendingLine, pin int, bothEdges bool, sink EdgeSink, now ring.Tick) error {
	if bothEdges {
		v, err := line.Value()
		if err != nil {
			return fmt.Errorf("read pin %d: %w", pin, err)
		}
		if v == 0 {
			log.Printf("gpio: pin %d low at start", pin)
			Deliver(sink, now, false)
		}
	}
	if err := line.EnableEdges(); err != nil {
		return fmt.Errorf("enable edges on pin %d: %w", pin, err)
	}
	return nil
}

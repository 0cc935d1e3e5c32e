package gpio

import (
	"fmt"

	"github.com/sweeney/filament-sensor/internal/ring"
)

// FakeSource is a test double that replays scripted edges.
type FakeSource struct {
	// Edges contains scripted edges. Replay delivers them in order.
	Edges []ScriptedEdge

	// Closed tracks if Close was called
	Closed bool

	// WatchError, if set, will be returned by Watch()
	WatchError error

	sinks     map[int]EdgeSink
	bothEdges map[int]bool
}

// ScriptedEdge is one edge on one pin.
type ScriptedEdge struct {
	Pin    int
	Time   ring.Tick
	Rising bool
}

// NewFakeSource creates a FakeSource with the given edges.
func NewFakeSource(edges []ScriptedEdge) *FakeSource {
	return &FakeSource{
		Edges:     edges,
		sinks:     make(map[int]EdgeSink),
		bothEdges: make(map[int]bool),
	}
}

// Watch registers sink for pin.
func (f *FakeSource) Watch(pin int, bothEdges bool, sink EdgeSink) error {
	if f.WatchError != nil {
		return f.WatchError
	}
	if _, ok := f.sinks[pin]; ok {
		return fmt.Errorf("pin %d already watched", pin)
	}
	f.sinks[pin] = sink
	f.bothEdges[pin] = bothEdges
	return nil
}

// Replay delivers every scripted edge to its pin's sink. Falling edges are
// dropped for pins watched for rising edges only. It returns the number of
// edges delivered.
func (f *FakeSource) Replay() int {
	n := 0
	for _, e := range f.Edges {
		sink, ok := f.sinks[e.Pin]
		if !ok {
			continue
		}
		if !e.Rising && !f.bothEdges[e.Pin] {
			continue
		}
		Deliver(sink, e.Time, e.Rising)
		n++
	}
	return n
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"

	"github.com/sweeney/filament-sensor/internal/ring"
)

// RealSource watches lines on a Linux GPIO character device.
type RealSource struct {
	chip *gpiocdev.Chip

	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewRealSource opens the named GPIO chip.
func NewRealSource(chipName string) (*RealSource, error) {
	// ABI v2 (Linux 5.10) is needed to enable edges on a requested line.
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithABIVersion(2))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealSource{chip: chip, lines: make(map[int]*gpiocdev.Line)}, nil
}

// Watch requests pin as an input with pull-up and delivers its edges to sink.
// Event timestamps come from CLOCK_MONOTONIC, the same base as
// MonotonicClock.
func (s *RealSource) Watch(pin int, bothEdges bool, sink EdgeSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lines[pin]; ok {
		return fmt.Errorf("pin %d already watched", pin)
	}

	edges := gpiocdev.WithRisingEdge
	if bothEdges {
		edges = gpiocdev.WithBothEdges
	}
	handler := func(evt gpiocdev.LineEvent) {
		Deliver(sink, TicksFromNanos(evt.Timestamp.Nanoseconds()), evt.Type == gpiocdev.LineEventRisingEdge)
	}

	// Requested without edge detection; arm turns it on once the start
	// level has been handled.
	line, err := s.chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp,
		gpiocdev.WithEventHandler(handler))
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}
	if err := arm(cdevLine{line, edges}, pin, bothEdges, sink, MonotonicClock{}.Now()); err != nil {
		line.Close()
		return err
	}

	s.lines[pin] = line
	return nil
}

type cdevLine struct {
	*gpiocdev.Line
	edges gpiocdev.LineEdge
}

func (l cdevLine) EnableEdges() error {
	return l.Reconfigure(l.edges)
}

// Close releases all requested lines and the chip. Lines are reconfigured as
// plain inputs with pull-up first so the sensors see a stable level.
func (s *RealSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for pin, line := range s.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(s.lines, pin)
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		s.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// MonotonicClock reads CLOCK_MONOTONIC as a tick count.
type MonotonicClock struct{}

func (MonotonicClock) Now() ring.Tick {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return TicksFromNanos(ts.Nano())
}

//go:build !linux

package gpio

import (
	"errors"
	"time"

	"github.com/sweeney/filament-sensor/internal/ring"
)

// RealSource is not available on non-Linux platforms.
type RealSource struct{}

// NewRealSource returns an error on non-Linux platforms.
func NewRealSource(chipName string) (*RealSource, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Watch is not implemented on non-Linux platforms.
func (s *RealSource) Watch(pin int, bothEdges bool, sink EdgeSink) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *RealSource) Close() error {
	return nil
}

var processStart = time.Now()

// MonotonicClock counts ticks from process start.
type MonotonicClock struct{}

func (MonotonicClock) Now() ring.Tick {
	return TicksFromNanos(int64(time.Since(processStart)))
}

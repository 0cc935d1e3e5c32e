package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/filament-sensor/internal/ring"
)

const (
	DefaultMmPerRev              = 25.2
	DefaultMmPerPulse            = 1.0
	DefaultMinMovementAllowed    = 0.6
	DefaultMaxMovementAllowed    = 1.6
	DefaultMagnetCheckLength     = 3.0
	DefaultPulsedCheckLength     = 5.0
	DefaultCalibrationSamples    = 10
	MaxCalibrationSamples        = 64
	OverdueTimeout               = 500 * time.Millisecond
	overdueCheckLengthMultiple   = 3
	minCommandedForComparison    = 0.01 // mm; smaller segments carry no usable ratio
	positionReportsPerRevolution = 1024
)

// ErrInvalidParams wraps every configuration rejection.
var ErrInvalidParams = errors.New("invalid monitor parameters")

// Params is the configuration of one channel. JSON names match the MQTT
// configure command.
type Params struct {
	Enable                EnableMode `json:"enable"`
	MmPerRev              float64    `json:"mm_per_rev,omitempty"`
	MmPerPulse            float64    `json:"mm_per_pulse,omitempty"`
	MinMovementAllowed    float64    `json:"min_movement"`
	MaxMovementAllowed    float64    `json:"max_movement"`
	CheckLength           float64    `json:"check_length"`
	CheckNonPrintingMoves bool       `json:"check_non_printing"`
	CalibrationSamples    int        `json:"calibration_samples"`
}

// DefaultParams returns the factory configuration for a monitor type.
func DefaultParams(t Type) Params {
	p := Params{
		Enable:             EnableWhilePrinting,
		MinMovementAllowed: DefaultMinMovementAllowed,
		MaxMovementAllowed: DefaultMaxMovementAllowed,
		CalibrationSamples: DefaultCalibrationSamples,
	}
	if t == TypePulsed {
		p.MmPerPulse = DefaultMmPerPulse
		p.CheckLength = DefaultPulsedCheckLength
	} else {
		p.MmPerRev = DefaultMmPerRev
		p.CheckLength = DefaultMagnetCheckLength
	}
	return p
}

// Validate checks p for a monitor of type t.
func (p Params) Validate(t Type) error {
	switch {
	case t == TypePulsed && !(p.MmPerPulse > 0):
		return fmt.Errorf("%w: mm per pulse %g must be positive", ErrInvalidParams, p.MmPerPulse)
	case t != TypePulsed && !(p.MmPerRev > 0):
		return fmt.Errorf("%w: mm per rev %g must be positive", ErrInvalidParams, p.MmPerRev)
	case p.MinMovementAllowed < 0:
		return fmt.Errorf("%w: minimum movement %g is negative", ErrInvalidParams, p.MinMovementAllowed)
	case !(p.MaxMovementAllowed > p.MinMovementAllowed):
		return fmt.Errorf("%w: maximum movement %g not above minimum %g", ErrInvalidParams, p.MaxMovementAllowed, p.MinMovementAllowed)
	case !(p.CheckLength > 0):
		return fmt.Errorf("%w: check length %g must be positive", ErrInvalidParams, p.CheckLength)
	case p.CalibrationSamples < 0 || p.CalibrationSamples > MaxCalibrationSamples:
		return fmt.Errorf("%w: calibration samples %d outside 0..%d", ErrInvalidParams, p.CalibrationSamples, MaxCalibrationSamples)
	case p.Enable > EnableAlways:
		return fmt.Errorf("%w: enable mode %d", ErrInvalidParams, p.Enable)
	}
	return nil
}

// Clock supplies the current tick count to the poll domain.
type Clock interface {
	Now() ring.Tick
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() ring.Tick

func (f ClockFunc) Now() ring.Tick { return f() }

func durationTicks(d time.Duration) uint32 {
	return uint32(d * ring.TickRate / time.Second)
}

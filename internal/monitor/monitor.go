package monitor

import (
	"fmt"
	"strings"

	"github.com/sweeney/filament-sensor/internal/ring"
)

// CheckInput is what the poll loop hands a monitor on each check.
type CheckInput struct {
	Printing bool      // extrusion in Consumed was part of a print move
	FromISR  bool      // Consumed was snapshotted by Interrupt
	ISRTicks ring.Tick // when the snapshot was taken, if FromISR
	Consumed float64   // mm of extrusion commanded since the previous check
}

// LiveData is the per-channel summary published with each status report.
type LiveData struct {
	HasLiveData       bool    `json:"has_live_data"`
	Calibrated        bool    `json:"calibrated"`
	HavePosition      bool    `json:"have_position"`
	Position          uint16  `json:"position,omitempty"`
	LastPercent       float64 `json:"last_percent"`
	MinPercent        float64 `json:"min_percent"`
	MaxPercent        float64 `json:"max_percent"`
	AvgPercent        float64 `json:"avg_percent"`
	CalibrationLength float64 `json:"calibration_length_mm"`
	Sensitivity       float64 `json:"measured_sensitivity,omitempty"`
}

// Monitor is one filament sensor interpreter. Interrupt runs in the
// interrupt domain; every other method belongs to the poll domain and must
// be called from a single goroutine.
type Monitor interface {
	Type() Type
	Interrupt(t ring.Tick) bool
	Check(in CheckInput) Status
	Clear() Status
	Configure(p Params) error
	Params() Params
	LiveData() LiveData
	Diagnostics() string
}

// EdgeTracker is implemented by monitors that take both edges of the sensor
// signal and derive edge direction from arrival order.
type EdgeTracker interface {
	NextEdgeFalling() bool
}

// New creates a monitor of type t.
func New(t Type, p Params, clock Clock) (Monitor, error) {
	switch t {
	case TypeRotatingMagnet, TypeRotatingMagnetSwitch:
		return NewRotatingMagnet(t, p, clock)
	case TypePulsed:
		return NewPulsed(p, clock)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
}

// fillComparison copies comparator results into ld. distance converts one
// sensor unit (a revolution or a pulse) to mm.
func fillComparison(ld *LiveData, c *Comparator, distance float64) {
	last, lo, hi, ok := c.Observed()
	if ok {
		ld.LastPercent = last * 100
		ld.MinPercent = lo * 100
		ld.MaxPercent = hi * 100
	}
	ld.AvgPercent = c.MeanRatio() * 100
	ld.CalibrationLength, _ = c.Totals()
	if r := c.MeanRatio(); r > 0 {
		ld.Sensitivity = distance / r
	}
}

func writeCalibration(b *strings.Builder, c *Comparator, distance float64, unit string) {
	switch c.Phase() {
	case PhaseIdle:
		b.WriteString(", no calibration data")
		return
	case PhaseCalibrating:
		fmt.Fprintf(b, ", calibrating (%d samples)", c.Samples())
		return
	}
	lo, hi := c.Band()
	fmt.Fprintf(b, ", band %.0f%% to %.0f%%", lo*100, hi*100)
	if mean, sd := c.Calibration(); mean != 0 {
		fmt.Fprintf(b, ", calibration %.1f%% ± %.1f%%", mean*100, sd*100)
	}
	if c.Backwards() {
		b.WriteString(", backwards")
	}
	if r := c.MeanRatio(); r > 0 {
		commanded, _ := c.Totals()
		_, seenMin, seenMax, _ := c.Observed()
		fmt.Fprintf(b, ", measured sensitivity %.2f%s, min %.0f%% max %.0f%% over %.1fmm",
			distance/r, unit, seenMin*100, seenMax*100, commanded)
	}
}

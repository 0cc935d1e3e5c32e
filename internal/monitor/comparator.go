package monitor

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Phase is the comparator's progress from reset to live checking.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseCalibrating
	PhaseComparing
)

func (p Phase) String() string {
	switch p {
	case PhaseCalibrating:
		return "calibrating"
	case PhaseComparing:
		return "comparing"
	}
	return "idle"
}

// Comparator classifies measured movement against commanded extrusion.
//
// The first CalibrationSamples usable segments are not checked. Their
// measured/commanded ratios are recorded and, once enough have been seen, the
// acceptance band is frozen as [min ratio * MinMovementAllowed, max ratio *
// MaxMovementAllowed]. With no calibration samples configured the band is
// [MinMovementAllowed, MaxMovementAllowed] from the start.
type Comparator struct {
	minAllowed   float64
	maxAllowed   float64
	calibrate    int
	discardFirst bool

	phase     Phase
	discarded bool
	backwards bool

	samples  int
	ratios   [MaxCalibrationSamples]float64
	calMin   float64
	calMax   float64
	bandMin  float64
	bandMax  float64
	calMean  float64
	calSD    float64
	haveLast bool
	last     float64
	seenMin  float64
	seenMax  float64

	totalCommanded float64
	totalMeasured  float64
}

// NewComparator creates a comparator from the movement limits in p. When
// discardFirst is set the first segment after a reset is thrown away, for
// sensors whose first reading straddles the start of extrusion.
func NewComparator(p Params, discardFirst bool) *Comparator {
	c := &Comparator{discardFirst: discardFirst}
	c.Configure(p)
	return c
}

// Configure applies new limits and resets.
func (c *Comparator) Configure(p Params) {
	c.minAllowed = p.MinMovementAllowed
	c.maxAllowed = p.MaxMovementAllowed
	c.calibrate = p.CalibrationSamples
	c.Reset()
}

// Reset returns to the idle phase and forgets all calibration data.
func (c *Comparator) Reset() {
	c.phase = PhaseIdle
	c.discarded = false
	c.backwards = false
	c.samples = 0
	c.calMin, c.calMax = 0, 0
	c.bandMin, c.bandMax = 0, 0
	c.calMean, c.calSD = 0, 0
	c.haveLast = false
	c.last, c.seenMin, c.seenMax = 0, 0, 0
	c.totalCommanded, c.totalMeasured = 0, 0
}

// Compare classifies one segment. Both amounts are in mm. overdue marks a
// segment closed because no sensor data arrived in time; overdue segments only
// count once calibration is complete.
func (c *Comparator) Compare(commanded, measured float64, overdue bool) Status {
	if c.backwards {
		measured = -measured
	}
	if math.Abs(commanded) < minCommandedForComparison {
		// no movement expected
		return StatusOK
	}
	ratio := measured / commanded

	switch c.phase {
	case PhaseIdle:
		if overdue {
			return StatusOK
		}
		if c.discardFirst && !c.discarded {
			c.discarded = true
			return StatusOK
		}
		if c.calibrate == 0 {
			c.bandMin, c.bandMax = c.minAllowed, c.maxAllowed
			c.phase = PhaseComparing
			return c.compare(commanded, measured, ratio)
		}
		c.phase = PhaseCalibrating
		fallthrough

	case PhaseCalibrating:
		if overdue {
			return StatusOK
		}
		c.record(commanded, measured, ratio)
		if c.samples >= c.calibrate {
			c.freeze()
		}
		return StatusOK
	}

	return c.compare(commanded, measured, ratio)
}

func (c *Comparator) record(commanded, measured, ratio float64) {
	c.ratios[c.samples] = ratio
	if c.samples == 0 || ratio < c.calMin {
		c.calMin = ratio
	}
	if c.samples == 0 || ratio > c.calMax {
		c.calMax = ratio
	}
	c.samples++
	c.totalCommanded += commanded
	c.totalMeasured += measured
	c.observe(ratio)
}

func (c *Comparator) freeze() {
	if c.totalMeasured < 0 {
		// sensor mounted the other way round
		c.backwards = true
		c.totalMeasured = -c.totalMeasured
		c.calMin, c.calMax = -c.calMax, -c.calMin
		for i := 0; i < c.samples; i++ {
			c.ratios[i] = -c.ratios[i]
		}
		c.last, c.seenMin, c.seenMax = -c.last, -c.seenMax, -c.seenMin
	}
	c.bandMin = c.calMin * c.minAllowed
	c.bandMax = c.calMax * c.maxAllowed
	if c.samples > 1 {
		c.calMean, c.calSD = stat.MeanStdDev(c.ratios[:c.samples], nil)
	} else {
		c.calMean, c.calSD = c.ratios[0], 0
	}
	c.phase = PhaseComparing
}

func (c *Comparator) compare(commanded, measured, ratio float64) Status {
	c.totalCommanded += commanded
	c.totalMeasured += measured
	c.observe(ratio)
	switch {
	case ratio < c.bandMin:
		return StatusTooLittleMovement
	case ratio > c.bandMax:
		return StatusTooMuchMovement
	}
	return StatusOK
}

func (c *Comparator) observe(ratio float64) {
	if !c.haveLast || ratio < c.seenMin {
		c.seenMin = ratio
	}
	if !c.haveLast || ratio > c.seenMax {
		c.seenMax = ratio
	}
	c.last = ratio
	c.haveLast = true
}

// Phase returns the current phase.
func (c *Comparator) Phase() Phase { return c.phase }

// Band returns the frozen acceptance band. It is zero until comparing.
func (c *Comparator) Band() (lo, hi float64) { return c.bandMin, c.bandMax }

// Calibration returns the mean and standard deviation of the calibration
// ratios.
func (c *Comparator) Calibration() (mean, stddev float64) { return c.calMean, c.calSD }

// Backwards reports whether calibration found the sensor reversed.
func (c *Comparator) Backwards() bool { return c.backwards }

// Samples returns the number of calibration samples recorded.
func (c *Comparator) Samples() int { return c.samples }

// Observed returns the last, lowest and highest ratios seen since reset.
func (c *Comparator) Observed() (last, lo, hi float64, ok bool) {
	return c.last, c.seenMin, c.seenMax, c.haveLast
}

// Totals returns the commanded and measured mm compared since reset.
func (c *Comparator) Totals() (commanded, measured float64) {
	return c.totalCommanded, c.totalMeasured
}

// MeanRatio returns total measured over total commanded, or 0 before any
// comparison.
func (c *Comparator) MeanRatio() float64 {
	if c.totalCommanded < minCommandedForComparison {
		return 0
	}
	return c.totalMeasured / c.totalCommanded
}

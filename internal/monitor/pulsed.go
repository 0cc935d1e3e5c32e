package monitor

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sweeney/filament-sensor/internal/ring"
)

// Pulsed counts pulses from a sensor that emits one pulse per fixed length of
// filament. There is no framing: every rising edge is a measurement.
type Pulsed struct {
	clock        Clock
	params       Params
	cmp          *Comparator
	overdueTicks uint32

	// written by Interrupt only
	pulses      atomic.Uint32
	lastIsrTime atomic.Uint32

	lastPulses      uint32
	dataReceived    bool
	lastMeasurement ring.Tick
	overdueCount    uint32

	commandedAtInterrupt   float64
	wasPrintingAtInterrupt bool
	haveInterruptData      bool
	commandedSinceSync     float64
	movementSinceSync      float64
	commandedThisSegment   float64
	movementThisSegment    float64
}

// NewPulsed creates a pulsed monitor.
func NewPulsed(p Params, clock Clock) (*Pulsed, error) {
	if err := p.Validate(TypePulsed); err != nil {
		return nil, err
	}
	m := &Pulsed{
		clock:        clock,
		params:       p,
		cmp:          NewComparator(p, true),
		overdueTicks: durationTicks(OverdueTimeout),
	}
	m.reset()
	return m, nil
}

func (m *Pulsed) reset() {
	m.cmp.Reset()
	m.lastPulses = m.pulses.Load()
	m.dataReceived = false
	m.haveInterruptData = false
	m.commandedAtInterrupt = 0
	m.commandedSinceSync = 0
	m.movementSinceSync = 0
	m.commandedThisSegment = 0
	m.movementThisSegment = 0
	m.lastMeasurement = m.clock.Now()
}

func (m *Pulsed) Type() Type { return TypePulsed }

func (m *Pulsed) Params() Params { return m.params }

// Interrupt counts a pulse. Every pulse is a sync point.
func (m *Pulsed) Interrupt(t ring.Tick) bool {
	m.lastIsrTime.Store(uint32(t))
	m.pulses.Add(1)
	return true
}

// Pulses returns the number of pulses counted since start.
func (m *Pulsed) Pulses() uint32 { return m.pulses.Load() }

func (m *Pulsed) Configure(p Params) error {
	if err := p.Validate(TypePulsed); err != nil {
		return err
	}
	m.params = p
	m.cmp.Configure(p)
	m.reset()
	return nil
}

// poll folds new pulses into the movement total and reports whether a
// snapshot taken at a pulse is waiting to be used.
func (m *Pulsed) poll() bool {
	if n := m.pulses.Load(); n != m.lastPulses {
		m.movementSinceSync += float64(n-m.lastPulses) * m.params.MmPerPulse
		m.lastPulses = n
		m.lastMeasurement = ring.Tick(m.lastIsrTime.Load())
		m.dataReceived = true
	}
	synced := m.haveInterruptData
	m.haveInterruptData = false
	return synced
}

func (m *Pulsed) Check(in CheckInput) Status {
	m.commandedSinceSync += in.Consumed
	if in.FromISR {
		m.commandedAtInterrupt = m.commandedSinceSync
		m.wasPrintingAtInterrupt = in.Printing
		m.haveInterruptData = true
	}

	ret := StatusOK
	if m.poll() {
		if m.params.CheckNonPrintingMoves || m.wasPrintingAtInterrupt {
			m.commandedThisSegment += m.commandedAtInterrupt
			m.movementThisSegment += m.movementSinceSync
		}
		m.commandedSinceSync -= m.commandedAtInterrupt
		m.movementSinceSync = 0

		if m.commandedThisSegment >= m.params.CheckLength {
			ret = m.cmp.Compare(m.commandedThisSegment, m.movementThisSegment, false)
			m.commandedThisSegment = 0
			m.movementThisSegment = 0
		}
	} else if m.commandedSinceSync >= overdueCheckLengthMultiple*m.params.CheckLength &&
		m.clock.Now().Since(m.lastMeasurement) > m.overdueTicks {
		ret = m.overdue()
	}
	return ret
}

// overdue handles a segment with no pulse for longer than the timeout.
// Before comparing starts there is no band to hold the shortfall against,
// so the silence itself is the fault.
func (m *Pulsed) overdue() Status {
	commanded, movement := m.commandedSinceSync, m.movementSinceSync
	m.commandedSinceSync = 0
	m.movementSinceSync = 0
	if !m.dataReceived {
		return StatusNoDataReceived
	}
	m.overdueCount++
	if m.cmp.Phase() == PhaseComparing {
		if st := m.cmp.Compare(commanded, movement, true); st != StatusOK {
			return st
		}
	}
	return StatusOverdue
}

func (m *Pulsed) Clear() Status {
	m.reset()
	return StatusOK
}

func (m *Pulsed) LiveData() LiveData {
	ld := LiveData{
		HasLiveData: m.dataReceived,
		Calibrated:  m.cmp.Phase() == PhaseComparing,
	}
	fillComparison(&ld, m.cmp, m.params.MmPerPulse)
	return ld
}

func (m *Pulsed) Diagnostics() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pulse-type filament monitor, %s, sensitivity %.3fmm/pulse, allowed movement %.0f%% to %.0f%%, check every %.1fmm",
		m.params.Enable, m.params.MmPerPulse,
		m.params.MinMovementAllowed*100, m.params.MaxMovementAllowed*100, m.params.CheckLength)
	fmt.Fprintf(&b, ", %d pulses", m.pulses.Load())
	if !m.dataReceived {
		b.WriteString(", no data received")
	}
	writeCalibration(&b, m.cmp, m.params.MmPerPulse, "mm/pulse")
	fmt.Fprintf(&b, ", ovdue %d", m.overdueCount)
	return b.String()
}

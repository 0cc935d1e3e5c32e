package monitor

import (
	"fmt"
	"strings"

	"github.com/sweeney/filament-sensor/internal/decoder"
	"github.com/sweeney/filament-sensor/internal/ring"
)

// Message layout of the rotating magnet sensor.
const (
	magnetV1ErrorMask      = 0x8000
	magnetV1SwitchOpenMask = 0x4000

	magnetV2MessageTypeMask     = 0x6C00
	magnetV2MessageTypePosition = 0x0800
	magnetV2MessageTypeError    = 0x2000
	magnetV2MessageTypeInfo     = 0x6000
	magnetV2SwitchOpenMask      = 0x1000

	magnetV2InfoTypeMask      = 0x1F00
	magnetV2InfoTypeVersion   = 0x0000
	magnetV3InfoTypeMagnitude = 0x0200
	magnetV3InfoTypeAgc       = 0x0300

	magnetV1VersionMask  = 0x7F00 // a v1 sensor only sends a version word after an upgrade
	magnetV1VersionValue = 0x6000

	magnetAngleMask = 0x03FF
)

// wordParityOK reports whether the 16-bit word has even parity.
func wordParityOK(val uint16) bool {
	d := uint8(val>>8) ^ uint8(val)
	d ^= d >> 4
	d ^= d >> 2
	d ^= d >> 1
	return d&1 == 0
}

// angleDelta returns the signed movement between two 10-bit angles, taking
// the shortest way round.
func angleDelta(from, to uint16) int {
	d := int((to - from) & magnetAngleMask)
	if d > positionReportsPerRevolution/2 {
		d -= positionReportsPerRevolution
	}
	return d
}

// RotatingMagnet interprets words from a Duet3D rotating magnet sensor.
type RotatingMagnet struct {
	typ    Type
	clock  Clock
	dec    *decoder.Decoder
	params Params
	cmp    *Comparator

	overdueTicks uint32

	version        uint8
	switchOpenMask uint16
	lastErrorCode  uint8
	magnitude      uint8
	agc            uint8
	sensorError    bool

	dataReceived      bool
	positionWord      uint16
	lastPosition      uint16
	lastMeasurement   ring.Tick
	lastSyncTime      ring.Tick
	framingErrorCount uint32
	overdueCount      uint32

	candidateStartTime   ring.Tick
	commandedAtStartBit  float64
	wasPrintingAtStart   bool
	haveStartBitData     bool
	synced               bool
	referenceOnly        bool
	commandedSinceSync   float64
	revsSinceSync        float64
	commandedThisSegment float64
	revsThisSegment      float64
}

// NewRotatingMagnet creates a rotating magnet monitor of type t (3 or 4).
func NewRotatingMagnet(t Type, p Params, clock Clock) (*RotatingMagnet, error) {
	if t != TypeRotatingMagnet && t != TypeRotatingMagnetSwitch {
		return nil, fmt.Errorf("%w: %d is not a rotating magnet", ErrUnknownType, t)
	}
	if err := p.Validate(t); err != nil {
		return nil, err
	}
	m := &RotatingMagnet{
		typ:          t,
		clock:        clock,
		dec:          decoder.New(decoder.DefaultConfig()),
		params:       p,
		cmp:          NewComparator(p, false),
		overdueTicks: durationTicks(OverdueTimeout),
	}
	m.init()
	return m, nil
}

func (m *RotatingMagnet) init() {
	m.version = 1
	m.switchOpenMask = 0
	if m.typ == TypeRotatingMagnetSwitch {
		m.switchOpenMask = magnetV1SwitchOpenMask
	}
	m.sensorError = false
	m.dataReceived = false
	m.positionWord = 0
	m.lastPosition = 0
	m.reset()
}

// reset drops all movement accounting and calibration but keeps the last
// known sensor state.
func (m *RotatingMagnet) reset() {
	m.cmp.Reset()
	m.haveStartBitData = false
	m.synced = false
	m.referenceOnly = false
	m.commandedAtStartBit = 0
	m.commandedSinceSync = 0
	m.revsSinceSync = 0
	m.commandedThisSegment = 0
	m.revsThisSegment = 0
	m.lastMeasurement = m.clock.Now()
}

func (m *RotatingMagnet) Type() Type { return m.typ }

func (m *RotatingMagnet) Params() Params { return m.params }

// Decoder exposes the bitstream decoder for diagnostics and edge sources.
func (m *RotatingMagnet) Decoder() *decoder.Decoder { return m.dec }

// Interrupt queues an edge. It returns true when the edge may be the start of
// a new word, so the caller should snapshot the commanded extrusion now.
func (m *RotatingMagnet) Interrupt(t ring.Tick) bool {
	return m.dec.PushEdge(t)
}

// NextEdgeFalling reports whether the decoder expects the next edge to fall.
func (m *RotatingMagnet) NextEdgeFalling() bool {
	return m.dec.Edges().NextIsFalling()
}

// Configure applies new parameters and restarts calibration.
func (m *RotatingMagnet) Configure(p Params) error {
	if err := p.Validate(m.typ); err != nil {
		return err
	}
	m.params = p
	m.cmp.Configure(p)
	m.reset()
	return nil
}

// Check consumes decoded words and classifies movement since the last call.
func (m *RotatingMagnet) Check(in CheckInput) Status {
	m.commandedSinceSync += in.Consumed

	if in.FromISR && m.dec.IsWaitingForStartBit() {
		m.commandedAtStartBit = m.commandedSinceSync
		m.wasPrintingAtStart = in.Printing
		m.candidateStartTime = in.ISRTicks
		m.haveStartBitData = true
	}

	m.handleIncomingData()

	ret := StatusOK
	switch {
	case m.sensorError:
		ret = StatusSensorError
	case m.positionWord&m.switchOpenMask != 0:
		ret = StatusNoFilament
	case m.synced:
		if !m.referenceOnly && (m.params.CheckNonPrintingMoves || m.wasPrintingAtStart) {
			m.commandedThisSegment += m.commandedAtStartBit
			m.revsThisSegment += m.revsSinceSync
		}
		m.lastSyncTime = m.candidateStartTime
		m.commandedSinceSync -= m.commandedAtStartBit
		m.revsSinceSync = 0
		m.referenceOnly = false

		if m.commandedThisSegment >= m.params.CheckLength {
			ret = m.cmp.Compare(m.commandedThisSegment, m.revsThisSegment*m.params.MmPerRev, false)
			m.commandedThisSegment = 0
			m.revsThisSegment = 0
		}
	case m.commandedSinceSync >= overdueCheckLengthMultiple*m.params.CheckLength &&
		m.clock.Now().Since(m.lastMeasurement) > m.overdueTicks &&
		!m.dec.IsReceiving():
		ret = m.overdue()
	}
	m.synced = false
	return ret
}

func (m *RotatingMagnet) overdue() Status {
	commanded, revs := m.commandedSinceSync, m.revsSinceSync
	m.commandedSinceSync = 0
	m.revsSinceSync = 0
	if !m.dataReceived {
		return StatusNoDataReceived
	}
	m.overdueCount++
	if m.cmp.Phase() == PhaseComparing {
		if st := m.cmp.Compare(commanded, revs*m.params.MmPerRev, true); st != StatusOK {
			return st
		}
	}
	return StatusOverdue
}

// handleIncomingData drains the decoder and applies every word received.
func (m *RotatingMagnet) handleIncomingData() {
	now := m.clock.Now()
	for {
		res, val := m.dec.PollReceiveBuffer(now)
		if res == decoder.Incomplete {
			return
		}
		if res == decoder.Complete {
			if m.applyWord(val) {
				m.applyPosition(val, now)
			}
		} else {
			m.framingErrorCount++
		}
		// start bit data belongs to the first word after it
		m.haveStartBitData = false
	}
}

// applyWord classifies one word and reports whether it is a position.
func (m *RotatingMagnet) applyWord(val uint16) bool {
	if m.version == 1 {
		if wordParityOK(val) && val&magnetV1VersionMask == magnetV1VersionValue && val&0xFF >= 2 {
			m.version = uint8(val)
			if m.switchOpenMask != 0 {
				m.switchOpenMask = magnetV2SwitchOpenMask
			}
			return false
		}
		if val&magnetV1ErrorMask != 0 {
			m.sensorError = true
			return false
		}
		m.sensorError = false
		return true
	}

	if !wordParityOK(val) {
		m.dec.RejectWord()
		return false
	}
	switch val & magnetV2MessageTypeMask {
	case magnetV2MessageTypePosition:
		m.sensorError = false
		return true
	case magnetV2MessageTypeError:
		m.lastErrorCode = uint8(val)
		m.sensorError = true
	case magnetV2MessageTypeInfo:
		switch val & magnetV2InfoTypeMask {
		case magnetV2InfoTypeVersion:
			m.version = uint8(val)
		case magnetV3InfoTypeMagnitude:
			m.magnitude = uint8(val)
		case magnetV3InfoTypeAgc:
			m.agc = uint8(val)
		}
	}
	return false
}

func (m *RotatingMagnet) applyPosition(val uint16, now ring.Tick) {
	angle := val & magnetAngleMask
	m.positionWord = val
	m.lastMeasurement = now

	if !m.dataReceived {
		// the first report only establishes the reference angle
		m.dataReceived = true
		m.lastPosition = angle
		if m.haveStartBitData {
			m.synced = true
			m.referenceOnly = true
		} else {
			m.commandedSinceSync = 0
		}
		return
	}

	m.revsSinceSync += float64(angleDelta(m.lastPosition, angle)) / positionReportsPerRevolution
	m.lastPosition = angle
	if m.haveStartBitData {
		m.synced = true
	}
}

// Clear abandons movement checking, typically when a print starts or stops.
func (m *RotatingMagnet) Clear() Status {
	m.reset()
	m.handleIncomingData()
	m.synced = false
	switch {
	case m.sensorError:
		return StatusSensorError
	case m.positionWord&m.switchOpenMask != 0:
		return StatusNoFilament
	}
	return StatusOK
}

// LiveData returns the values shown on the status page.
func (m *RotatingMagnet) LiveData() LiveData {
	ld := LiveData{
		HasLiveData:  m.dataReceived,
		HavePosition: m.dataReceived,
		Position:     m.lastPosition,
		Calibrated:   m.cmp.Phase() == PhaseComparing,
	}
	fillComparison(&ld, m.cmp, m.params.MmPerRev)
	return ld
}

// Diagnostics renders the counters and calibration results.
func (m *RotatingMagnet) Diagnostics() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Duet3D %s, %s, sensitivity %.2fmm/rev, allowed movement %.0f%% to %.0f%%, check every %.1fmm",
		m.typ, m.params.Enable, m.params.MmPerRev,
		m.params.MinMovementAllowed*100, m.params.MaxMovementAllowed*100, m.params.CheckLength)
	fmt.Fprintf(&b, ", version %d", m.version)
	if m.version >= 3 {
		fmt.Fprintf(&b, ", mag %d agc %d", m.magnitude, m.agc)
	}
	switch {
	case !m.dataReceived:
		b.WriteString(", no data received")
	case m.sensorError:
		fmt.Fprintf(&b, ", error %d", m.lastErrorCode)
	default:
		fmt.Fprintf(&b, ", pos %.2f", float64(m.lastPosition)*360/positionReportsPerRevolution)
	}
	writeCalibration(&b, m.cmp, m.params.MmPerRev, "mm/rev")
	c := m.dec.Counters()
	fmt.Fprintf(&b, ", errs: frame %d parity %d ovrun %d pol %d tmout %d ovdue %d lost %d",
		m.framingErrorCount, c.Parity, c.Overrun, c.Polarity, c.Timeout, m.overdueCount, m.dec.LostEdges())
	return b.String()
}

// Package decoder turns edge timestamps from a Duet3D-protocol filament
// sensor into 16-bit data words.
//
// The sensor line idles high. A frame is a start bit (low), a sync bit
// (high) and four nibbles sent MSB first. Each nibble carries four data bits
// and a stuffing bit that is the inverse of the fourth data bit, so every
// nibble contains at least one edge to resynchronise on. There is no clock
// reference: the bit period of each frame is taken from the measured length
// of its start bit.
package decoder

import (
	"sync/atomic"

	"github.com/sweeney/filament-sensor/internal/ring"
)

// State is the receive state of a Decoder.
type State uint8

const (
	WaitingForStartBit State = iota
	WaitingForEndOfStartBit
	WaitingForNibble
	ErrorRecovery1
	ErrorRecovery2
	ErrorRecovery3
	ErrorRecovery4
)

func (s State) String() string {
	switch s {
	case WaitingForStartBit:
		return "waitingForStartBit"
	case WaitingForEndOfStartBit:
		return "waitingForEndOfStartBit"
	case WaitingForNibble:
		return "waitingForNibble"
	case ErrorRecovery1:
		return "errorRecovery1"
	case ErrorRecovery2:
		return "errorRecovery2"
	case ErrorRecovery3:
		return "errorRecovery3"
	case ErrorRecovery4:
		return "errorRecovery4"
	}
	return "unknown"
}

// Result is the outcome of a poll.
type Result uint8

const (
	Incomplete Result = iota
	Complete
	Error
)

func (r Result) String() string {
	switch r {
	case Complete:
		return "complete"
	case Error:
		return "error"
	}
	return "incomplete"
}

const (
	nibblesPerWord  = 4
	bitsPerNibble   = 5 // four data bits and the stuffing bit
	startBitTimeout = 5 // bit periods a start bit may stay low
	maxRunBits      = 6 // longest legal gap between edges inside a frame
)

// recoveryQuietBits is how long the line must idle high, in bit periods,
// before each recovery level hands back to start bit detection. Level 4 also
// flushes every buffered edge on entry.
var recoveryQuietBits = [4]uint32{2, 8, 16, 32}

// Config sets the decoder's timing.
type Config struct {
	TickRate   uint32 // ticks per second of the edge timestamps
	BitRate    uint32 // nominal bits per second sent by the sensor
	SettleBits uint32 // bit periods to wait for late edges before sampling
}

// DefaultConfig returns the timing of the Duet3D sensors on a 1 MHz clock.
func DefaultConfig() Config {
	return Config{
		TickRate:   ring.TickRate,
		BitRate:    1000,
		SettleBits: 2,
	}
}

// NominalBitLength returns the nominal bit period in ticks.
func (c Config) NominalBitLength() uint32 {
	return c.TickRate / c.BitRate
}

// Counters are the decoder's error counts. They are never reset.
type Counters struct {
	Overrun  uint32 // two edges inside one half bit
	Polarity uint32 // sync or stuffing bit had the wrong level
	Timeout  uint32 // an expected edge never came
	Parity   uint32 // complete words rejected by the interpreter's parity check
}

// Decoder is the receive state machine for one sensor channel. PushEdge is
// the only method that may be called from the interrupt domain.
type Decoder struct {
	edges *ring.EdgeCaptureBuffer

	nominal uint32
	minBit  uint32
	maxBit  uint32
	settle  uint32

	state    State
	idle     atomic.Bool // mirrors state == WaitingForStartBit for the ISR
	counters Counters

	lineHigh     bool
	lastEdgeTime ring.Tick

	startTime      ring.Tick
	startBitLength uint32
	nextSample     ring.Tick
	syncPending    bool
	bits           uint8
	nibble         uint8
	value          uint16
	nibbles        uint8

	recoveryLevel int
}

// New creates a Decoder reading from its own edge capture buffer.
func New(cfg Config) *Decoder {
	if cfg.TickRate == 0 || cfg.BitRate == 0 {
		cfg = DefaultConfig()
	}
	nominal := cfg.NominalBitLength()
	d := &Decoder{
		edges:    ring.NewEdgeCaptureBuffer(),
		nominal:  nominal,
		minBit:   nominal * 10 / 13,
		maxBit:   nominal * 13 / 10,
		settle:   cfg.SettleBits * nominal,
		lineHigh: true,
	}
	d.idle.Store(true)
	return d
}

// PushEdge records a pin transition from the interrupt domain. It returns
// true when the edge is a candidate start bit: the decoder is idle, nothing
// else is queued and the edge is falling.
func (d *Decoder) PushEdge(t ring.Tick) (candidateStart bool) {
	candidateStart = d.idle.Load() && d.edges.Empty() && d.edges.NextIsFalling()
	d.edges.PushEdge(t)
	return candidateStart
}

// Edges exposes the capture buffer so edge sources can check parity.
func (d *Decoder) Edges() *ring.EdgeCaptureBuffer {
	return d.edges
}

// State returns the current receive state.
func (d *Decoder) State() State {
	return d.state
}

// IsWaitingForStartBit reports whether no frame is in progress.
func (d *Decoder) IsWaitingForStartBit() bool {
	return d.state == WaitingForStartBit
}

// IsReceiving reports whether a frame is being assembled.
func (d *Decoder) IsReceiving() bool {
	return d.state == WaitingForEndOfStartBit || d.state == WaitingForNibble
}

// Counters returns the error counts.
func (d *Decoder) Counters() Counters {
	return d.counters
}

// StartBitLength returns the measured length of the last accepted start bit,
// or zero if none has been seen.
func (d *Decoder) StartBitLength() uint32 {
	return d.startBitLength
}

// RejectWord records that a complete word failed the interpreter's parity
// check. It counts as a polarity error as well.
func (d *Decoder) RejectWord() {
	d.counters.Polarity++
	d.counters.Parity++
}

// LostEdges returns the number of edges overwritten before they were decoded.
func (d *Decoder) LostEdges() uint32 {
	return d.edges.Lost()
}

// PollReceiveBuffer consumes queued edges until a frame completes, a frame
// fails, or no further progress is possible at time now. Callers loop until
// Incomplete to drain the buffer. It is safe to call after arbitrarily long
// gaps: a frame whose edges stopped arriving fails with a timeout instead of
// completing.
func (d *Decoder) PollReceiveBuffer(now ring.Tick) (Result, uint16) {
	res, word := d.poll(now)
	d.idle.Store(d.state == WaitingForStartBit)
	return res, word
}

func (d *Decoder) poll(now ring.Tick) (Result, uint16) {
	for {
		switch d.state {
		case WaitingForStartBit:
			e, ok := d.edges.PopEdge()
			if !ok {
				return Incomplete, 0
			}
			d.consumed(e)
			if !e.Rising {
				d.startTime = e.Time
				d.state = WaitingForEndOfStartBit
			}

		case WaitingForEndOfStartBit:
			e, ok := d.edges.PopEdge()
			if !ok {
				if now.Since(d.startTime) > startBitTimeout*d.refBitLength()+d.settle {
					d.counters.Timeout++
					d.enterRecovery(now)
					return Error, 0
				}
				return Incomplete, 0
			}
			d.consumed(e)
			length := e.Time.Since(d.startTime)
			if !e.Rising || length < d.minBit || length > d.maxBit {
				// not a start bit after all
				d.state = WaitingForStartBit
				continue
			}
			d.startBitLength = length
			d.value = 0
			d.nibbles = 0
			d.bits = 0
			d.nibble = 0
			d.syncPending = true
			d.nextSample = e.Time + ring.Tick(length/2)
			d.state = WaitingForNibble

		case WaitingForNibble:
			res, word, progressed := d.sampleBit(now)
			if res != Incomplete || !progressed {
				return res, word
			}

		default:
			if !d.recover(now) {
				return Incomplete, 0
			}
		}
	}
}

// sampleBit resynchronises on any edge before the next sample point and then
// takes one sample. progressed is false when the sample cannot be taken yet.
func (d *Decoder) sampleBit(now ring.Tick) (res Result, word uint16, progressed bool) {
	half := ring.Tick(d.startBitLength / 2)

	e, ok := d.edges.PeekEdge()
	if ok && e.Time.Before(d.nextSample) {
		if !d.take(e) {
			d.counters.Overrun++
			d.enterRecovery(now)
			return Error, 0, true
		}
		d.nextSample = e.Time + half
		if e2, ok2 := d.edges.PeekEdge(); ok2 && e2.Time.Before(d.nextSample) {
			d.counters.Overrun++
			d.enterRecovery(now)
			return Error, 0, true
		}
		return Incomplete, 0, true
	}
	if !ok {
		if now.Before(d.nextSample + ring.Tick(d.settle)) {
			return Incomplete, 0, false
		}
		if d.nextSample.Since(d.lastEdgeTime) > maxRunBits*d.startBitLength {
			// the rest of this frame is never coming
			d.counters.Timeout++
			d.enterRecovery(now)
			return Error, 0, true
		}
	}

	bit := d.lineHigh
	d.nextSample += ring.Tick(d.startBitLength)

	if d.syncPending {
		d.syncPending = false
		if !bit {
			d.counters.Polarity++
			d.enterRecovery(now)
			return Error, 0, true
		}
		return Incomplete, 0, true
	}

	d.nibble <<= 1
	if bit {
		d.nibble |= 1
	}
	d.bits++
	if d.bits < bitsPerNibble {
		return Incomplete, 0, true
	}

	if (d.nibble^(d.nibble>>1))&1 == 0 {
		d.counters.Polarity++
		d.enterRecovery(now)
		return Error, 0, true
	}
	d.value = d.value<<4 | uint16(d.nibble>>1)
	d.nibble = 0
	d.bits = 0
	d.nibbles++
	if d.nibbles < nibblesPerWord {
		return Incomplete, 0, true
	}

	d.state = WaitingForStartBit
	d.recoveryLevel = 0
	return Complete, d.value, true
}

// enterRecovery escalates to the next recovery level.
func (d *Decoder) enterRecovery(now ring.Tick) {
	if d.recoveryLevel < len(recoveryQuietBits) {
		d.recoveryLevel++
	}
	d.state = ErrorRecovery1 + State(d.recoveryLevel-1)
	if d.state == ErrorRecovery4 {
		d.lineHigh = d.edges.Flush()
		d.lastEdgeTime = now
	}
}

// recover waits for the line to idle high for the current level's quiet
// period, consuming edges as it goes. It returns true once the decoder is
// back in WaitingForStartBit.
func (d *Decoder) recover(now ring.Tick) bool {
	quiet := recoveryQuietBits[d.recoveryLevel-1] * d.refBitLength()
	for {
		e, ok := d.edges.PeekEdge()
		if !ok {
			if d.lineHigh && now.Since(d.lastEdgeTime) >= quiet+d.settle {
				d.state = WaitingForStartBit
				return true
			}
			return false
		}
		if d.lineHigh && !e.Rising && e.Time.Since(d.lastEdgeTime) >= quiet {
			// the falling edge after the quiet period is a plausible start bit
			d.state = WaitingForStartBit
			return true
		}
		d.take(e)
	}
}

// take consumes the edge last peeked as e. It returns false if the producer
// lapped the buffer since the peek, in which case the edge actually removed
// is the one consumed.
func (d *Decoder) take(e ring.Edge) bool {
	got, ok := d.edges.PopEdge()
	if !ok {
		return false
	}
	d.consumed(got)
	return got.Seq == e.Seq
}

func (d *Decoder) consumed(e ring.Edge) {
	d.lineHigh = e.Rising
	d.lastEdgeTime = e.Time
}

func (d *Decoder) refBitLength() uint32 {
	if d.startBitLength != 0 {
		return d.startBitLength
	}
	return d.nominal
}

package monitor

import (
	"fmt"
	"sync/atomic"

	"github.com/sweeney/filament-sensor/internal/ring"
)

// MaxChannels is the number of extruder channels one process can monitor.
const MaxChannels = 8

// Channel binds a monitor to one extruder. It owns the hand-off of commanded
// extrusion between the motion feed, the edge interrupt and the poll loop.
//
// NotifyExtrusion may be called from any goroutine. Interrupt must be called
// from the single goroutine that delivers edges for this channel. Every other
// method belongs to the poll loop.
type Channel struct {
	index int
	mon   Monitor

	pending         Accumulator // commanded since the last snapshot or poll
	pendingPrinting atomic.Bool
	isr             Accumulator // snapshot taken at the last interrupt
	isrPrinting     atomic.Bool
	isrTicks        atomic.Uint32
	haveIsr         atomic.Bool

	enable      EnableMode
	lastStatus  Status
	polled      bool
	wasPrinting bool
}

// NewChannel wraps mon as extruder channel index.
func NewChannel(index int, mon Monitor) (*Channel, error) {
	if index < 0 || index >= MaxChannels {
		return nil, fmt.Errorf("channel %d out of range 0..%d", index, MaxChannels-1)
	}
	return &Channel{
		index:  index,
		mon:    mon,
		enable: mon.Params().Enable,
	}, nil
}

func (c *Channel) Index() int { return c.index }

func (c *Channel) Monitor() Monitor { return c.mon }

// NotifyExtrusion records mm of commanded extrusion. printing marks it as part
// of a print move; the flag is sticky until the amount is consumed.
func (c *Channel) NotifyExtrusion(mm float64, printing bool) {
	c.pending.Add(mm)
	if printing {
		c.pendingPrinting.Store(true)
	}
}

// Interrupt delivers an edge at tick t to the monitor and snapshots the
// commanded extrusion if the monitor asks for it.
func (c *Channel) Interrupt(t ring.Tick) {
	if !c.mon.Interrupt(t) {
		return
	}
	c.isr.Add(c.pending.Take())
	if c.pendingPrinting.Swap(false) {
		c.isrPrinting.Store(true)
	}
	c.isrTicks.Store(uint32(t))
	c.haveIsr.Store(true)
}

// NextEdgeFalling reports the direction the monitor expects of the next edge.
// ok is false for monitors that only count edges.
func (c *Channel) NextEdgeFalling() (falling, ok bool) {
	if et, isTracker := c.mon.(EdgeTracker); isTracker {
		return et.NextEdgeFalling(), true
	}
	return false, false
}

// Poll runs one check. printingActive is the printer's global printing
// state, used by EnableWhilePrinting. A channel that is always enabled is
// cleared instead of checked on the poll where a print starts. changed
// reports whether the status differs from the previous poll.
func (c *Channel) Poll(printingActive bool) (st Status, changed bool) {
	started := c.polled && printingActive && !c.wasPrinting
	c.polled, c.wasPrinting = true, printingActive

	var in CheckInput
	if c.haveIsr.Swap(false) {
		in.FromISR = true
		in.Consumed = c.isr.Take()
		in.Printing = c.isrPrinting.Swap(false)
		in.ISRTicks = ring.Tick(c.isrTicks.Load())
	} else {
		in.Consumed = c.pending.Take()
		in.Printing = c.pendingPrinting.Swap(false)
	}

	switch {
	case c.enable == EnableAlways && started:
		st = c.mon.Clear()
	case c.enable == EnableAlways || (c.enable == EnableWhilePrinting && printingActive):
		st = c.mon.Check(in)
	default:
		st = c.mon.Clear()
	}
	changed = st != c.lastStatus
	c.lastStatus = st
	return st, changed
}

// Clear resets the monitor, for example when a print starts.
func (c *Channel) Clear() Status {
	c.pending.Take()
	c.pendingPrinting.Store(false)
	st := c.mon.Clear()
	c.lastStatus = st
	return st
}

// Configure applies p to the monitor and the channel's enable mode.
func (c *Channel) Configure(p Params) error {
	if err := c.mon.Configure(p); err != nil {
		return fmt.Errorf("channel %d: %w", c.index, err)
	}
	c.enable = p.Enable
	return nil
}

// Status returns the status of the last poll.
func (c *Channel) Status() Status { return c.lastStatus }

func (c *Channel) LiveData() LiveData { return c.mon.LiveData() }

func (c *Channel) Diagnostics() string {
	return fmt.Sprintf("channel %d: %s", c.index, c.mon.Diagnostics())
}

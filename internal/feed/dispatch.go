package feed

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrUnknownChannel is returned for extrusion on a channel with no monitor.
var ErrUnknownChannel = errors.New("no monitor on channel")

// ErrCommandQueueFull is returned when commands arrive faster than the poll
// loop takes them.
var ErrCommandQueueFull = errors.New("command queue full")

// Extruder receives commanded extrusion. *monitor.Channel satisfies it.
type Extruder interface {
	NotifyExtrusion(mm float64, printing bool)
}

// Dispatcher routes feed messages. Extrusion goes straight to the channel,
// the printing state is held for the poll loop, and commands are queued for
// the poll loop since they touch monitor state.
type Dispatcher struct {
	extruders map[int]Extruder
	printing  atomic.Bool
	commands  chan Command
}

// NewDispatcher creates a Dispatcher for the given channels with room for
// queue pending commands.
func NewDispatcher(extruders map[int]Extruder, queue int) *Dispatcher {
	if queue < 1 {
		queue = 1
	}
	return &Dispatcher{
		extruders: extruders,
		commands:  make(chan Command, queue),
	}
}

// Dispatch handles one message. Safe for concurrent use.
func (d *Dispatcher) Dispatch(m Message) error {
	switch m.Kind {
	case KindExtrusion:
		e, ok := d.extruders[m.Channel]
		if !ok {
			return fmt.Errorf("%w %d", ErrUnknownChannel, m.Channel)
		}
		e.NotifyExtrusion(m.Mm, m.Printing)
	case KindPrinting:
		d.printing.Store(m.Printing)
	case KindCommand:
		if _, ok := d.extruders[m.Command.Channel]; !ok {
			return fmt.Errorf("%w %d", ErrUnknownChannel, m.Command.Channel)
		}
		select {
		case d.commands <- m.Command:
		default:
			return ErrCommandQueueFull
		}
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, m.Kind)
	}
	return nil
}

// Printing reports the last printing state received.
func (d *Dispatcher) Printing() bool {
	return d.printing.Load()
}

// Commands returns the queue of pending commands.
func (d *Dispatcher) Commands() <-chan Command {
	return d.commands
}

// Package feed carries commanded extrusion, the printing state and operator
// commands from the motion controller to the monitor channels.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/filament-sensor/internal/monitor"
)

// ErrMalformed is returned for messages that cannot be parsed.
var ErrMalformed = errors.New("malformed feed message")

// Kind identifies what a Message carries.
type Kind int

const (
	KindExtrusion Kind = iota
	KindPrinting
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindExtrusion:
		return "extrusion"
	case KindPrinting:
		return "printing"
	case KindCommand:
		return "command"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message is one parsed feed item.
type Message struct {
	Kind     Kind
	Channel  int     // extrusion only
	Mm       float64 // extrusion only
	Printing bool    // extrusion: part of a print move; printing: printer state
	Command  Command // command only
}

// Command names.
const (
	CommandClear     = "clear"
	CommandConfigure = "configure"
)

// Command is an operator request for one channel.
type Command struct {
	Name    string          `json:"command"`
	Channel int             `json:"channel"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Apply overlays the command's params on cur. Fields absent from the command
// keep their current values.
func (c Command) Apply(cur monitor.Params) (monitor.Params, error) {
	if len(c.Params) == 0 {
		return cur, nil
	}
	p := cur
	if err := json.Unmarshal(c.Params, &p); err != nil {
		return cur, fmt.Errorf("%w: params: %v", ErrMalformed, err)
	}
	return p, nil
}

// ParseLine parses one line of the serial feed:
//
//	E <channel> <mm> [P0|P1]   commanded extrusion
//	S <0|1>                    printing stopped or started
//	C <channel>                clear a channel
func ParseLine(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Message{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	switch fields[0] {
	case "E":
		if len(fields) < 3 || len(fields) > 4 {
			return Message{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		ch, err := parseChannel(fields[1])
		if err != nil {
			return Message{}, err
		}
		mm, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return Message{}, fmt.Errorf("%w: extrusion %q", ErrMalformed, fields[2])
		}
		m := Message{Kind: KindExtrusion, Channel: ch, Mm: mm, Printing: true}
		if len(fields) == 4 {
			switch fields[3] {
			case "P0":
				m.Printing = false
			case "P1":
			default:
				return Message{}, fmt.Errorf("%w: print flag %q", ErrMalformed, fields[3])
			}
		}
		return m, nil

	case "S":
		if len(fields) != 2 || (fields[1] != "0" && fields[1] != "1") {
			return Message{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		return Message{Kind: KindPrinting, Printing: fields[1] == "1"}, nil

	case "C":
		if len(fields) != 2 {
			return Message{}, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		ch, err := parseChannel(fields[1])
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindCommand, Command: Command{Name: CommandClear, Channel: ch}}, nil
	}
	return Message{}, fmt.Errorf("%w: unknown record %q", ErrMalformed, fields[0])
}

func parseChannel(s string) (int, error) {
	ch, err := strconv.Atoi(s)
	if err != nil || ch < 0 || ch >= monitor.MaxChannels {
		return 0, fmt.Errorf("%w: channel %q", ErrMalformed, s)
	}
	return ch, nil
}

type extrusionJSON struct {
	Channel  *int     `json:"channel"`
	Mm       *float64 `json:"mm"`
	Printing *bool    `json:"printing"`
}

// ParseExtrusionJSON parses {"channel":0,"mm":0.42,"printing":true}.
// printing defaults to true.
func ParseExtrusionJSON(b []byte) (Message, error) {
	var e extrusionJSON
	if err := json.Unmarshal(b, &e); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Channel == nil || e.Mm == nil {
		return Message{}, fmt.Errorf("%w: extrusion needs channel and mm", ErrMalformed)
	}
	if *e.Channel < 0 || *e.Channel >= monitor.MaxChannels {
		return Message{}, fmt.Errorf("%w: channel %d", ErrMalformed, *e.Channel)
	}
	m := Message{Kind: KindExtrusion, Channel: *e.Channel, Mm: *e.Mm, Printing: true}
	if e.Printing != nil {
		m.Printing = *e.Printing
	}
	return m, nil
}

// ParsePrintingJSON parses {"printing":true}.
func ParsePrintingJSON(b []byte) (Message, error) {
	var p struct {
		Printing *bool `json:"printing"`
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Printing == nil {
		return Message{}, fmt.Errorf("%w: missing printing", ErrMalformed)
	}
	return Message{Kind: KindPrinting, Printing: *p.Printing}, nil
}

// ParseCommandJSON parses {"command":"clear","channel":0} and
// {"command":"configure","channel":0,"params":{...}}.
func ParseCommandJSON(b []byte) (Message, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch c.Name {
	case CommandClear, CommandConfigure:
	default:
		return Message{}, fmt.Errorf("%w: unknown command %q", ErrMalformed, c.Name)
	}
	if c.Channel < 0 || c.Channel >= monitor.MaxChannels {
		return Message{}, fmt.Errorf("%w: channel %d", ErrMalformed, c.Channel)
	}
	if c.Name == CommandConfigure && len(c.Params) == 0 {
		return Message{}, fmt.Errorf("%w: configure needs params", ErrMalformed)
	}
	return Message{Kind: KindCommand, Command: c}, nil
}

// Package monitor correlates measured filament movement with commanded
// extrusion and reports a small status value per channel.
package monitor

import (
	"errors"
	"fmt"
)

// Status is the outcome of a filament check.
type Status uint8

const (
	StatusOK Status = iota
	StatusNoDataReceived
	StatusNoFilament
	StatusTooLittleMovement
	StatusTooMuchMovement
	StatusSensorError
	StatusOverdue
	StatusNoMonitor
)

var statusNames = [...]string{
	StatusOK:                "ok",
	StatusNoDataReceived:    "noDataReceived",
	StatusNoFilament:        "noFilament",
	StatusTooLittleMovement: "tooLittleMovement",
	StatusTooMuchMovement:   "tooMuchMovement",
	StatusSensorError:       "sensorError",
	StatusOverdue:           "overdueError",
	StatusNoMonitor:         "noMonitor",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Message returns the human readable text shown to the user.
func (s Status) Message() string {
	switch s {
	case StatusOK:
		return "no error"
	case StatusNoDataReceived:
		return "no data received"
	case StatusNoFilament:
		return "no filament"
	case StatusTooLittleMovement:
		return "too little movement"
	case StatusTooMuchMovement:
		return "too much movement"
	case StatusSensorError:
		return "sensor not working"
	case StatusOverdue:
		return "sensor data overdue"
	case StatusNoMonitor:
		return "no monitor"
	default:
		return "unknown error"
	}
}

// IsFault reports whether the status should pause a print.
func (s Status) IsFault() bool {
	return s != StatusOK && s != StatusNoMonitor
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for i, n := range statusNames {
		if n == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Type is the monitor type number used in channel configuration.
type Type uint8

const (
	TypeRotatingMagnet       Type = 3
	TypeRotatingMagnetSwitch Type = 4
	TypePulsed               Type = 7
)

// ErrUnknownType is returned for monitor types that are not supported.
var ErrUnknownType = errors.New("unknown filament monitor type")

func (t Type) String() string {
	switch t {
	case TypeRotatingMagnet:
		return "rotating magnet"
	case TypeRotatingMagnetSwitch:
		return "rotating magnet with switch"
	case TypePulsed:
		return "pulsed"
	}
	return fmt.Sprintf("type %d", uint8(t))
}

// Valid reports whether t names a supported monitor.
func (t Type) Valid() bool {
	return t == TypeRotatingMagnet || t == TypeRotatingMagnetSwitch || t == TypePulsed
}

// EnableMode controls when a channel is checked.
type EnableMode uint8

const (
	EnableNever         EnableMode = iota // checks disabled, state kept clear
	EnableWhilePrinting                   // checked only while a print is running
	EnableAlways
)

func (m EnableMode) String() string {
	switch m {
	case EnableNever:
		return "disabled"
	case EnableWhilePrinting:
		return "enabled when printing"
	case EnableAlways:
		return "enabled always"
	}
	return fmt.Sprintf("mode %d", uint8(m))
}

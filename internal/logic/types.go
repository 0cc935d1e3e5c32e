// Package logic turns the per-poll channel statuses into debounced fault
// alarms. This package has NO external dependencies (no GPIO, MQTT, OS, or
// time.Sleep). Time is always injectable via time.Time parameters.
package logic

import (
	"time"

	"github.com/sweeney/filament-sensor/internal/monitor"
)

// EventType is the kind of alarm transition.
type EventType string

const (
	EventFault   EventType = "FAULT"
	EventCleared EventType = "CLEARED"
)

// Event is an alarm transition on one channel.
type Event struct {
	Timestamp time.Time
	Channel   int
	Type      EventType
	From      monitor.Status
	To        monitor.Status
}

// ChannelStatus is one channel's status from a poll.
type ChannelStatus struct {
	Channel int
	Status  monitor.Status
}

// Input is the outcome of one poll of every channel.
type Input struct {
	Time     time.Time
	Statuses []ChannelStatus
}

// channelState tracks debounce state for a single channel.
type channelState struct {
	// Current stable (debounced) status
	stable monitor.Status
	// Pending status during debounce
	pending     monitor.Status
	havePending bool
	// Time when pending status was first observed
	pendingSince time.Time
	// Whether we have established a baseline
	baselined bool
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Faults  int
	Cleared int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

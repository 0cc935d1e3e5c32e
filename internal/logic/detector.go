package logic

import (
	"sort"
	"time"

	"github.com/sweeney/filament-sensor/internal/monitor"
)

// Detector tracks channel statuses and raises debounced alarms. A status
// must persist for the debounce duration before it becomes stable.
type Detector struct {
	debounceDuration time.Duration
	channels         map[int]*channelState
	baselined        bool
	startTime        time.Time
	eventCounts      EventCounts
	lastHeartbeat    time.Time
}

// NewDetector creates a detector with the given debounce duration. Zero
// debounce makes every status change stable at once. The startTime is used
// for calculating uptime in heartbeat events.
func NewDetector(debounceDuration time.Duration, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		channels:         make(map[int]*channelState),
		startTime:        startTime,
		lastHeartbeat:    startTime,
	}
}

// Process takes the statuses of one poll and returns any alarm events, in
// input order. Events are only returned after every channel seen so far has
// a baseline.
func (d *Detector) Process(input Input) []Event {
	var events []Event
	for _, cs := range input.Statuses {
		ch, ok := d.channels[cs.Channel]
		if !ok {
			ch = &channelState{}
			d.channels[cs.Channel] = ch
		}
		if e := d.processChannel(ch, cs.Status, input.Time); e != nil && d.baselined {
			e.Channel = cs.Channel
			events = append(events, *e)
		}
	}

	if !d.baselined {
		d.baselined = len(d.channels) > 0
		for _, ch := range d.channels {
			d.baselined = d.baselined && ch.baselined
		}
		return nil
	}

	for _, e := range events {
		switch e.Type {
		case EventFault:
			d.eventCounts.Faults++
		case EventCleared:
			d.eventCounts.Cleared++
		}
	}
	return events
}

// processChannel handles debounce for a single channel and returns an event
// if the stable status moved into, out of, or between faults.
func (d *Detector) processChannel(ch *channelState, st monitor.Status, now time.Time) *Event {
	if ch.baselined && st == ch.stable {
		ch.havePending = false
		return nil
	}

	if !ch.havePending || ch.pending != st {
		ch.pending = st
		ch.havePending = true
		ch.pendingSince = now
	}
	if now.Sub(ch.pendingSince) < d.debounceDuration {
		return nil
	}

	old, wasBaselined := ch.stable, ch.baselined
	ch.stable = st
	ch.baselined = true
	ch.havePending = false
	if !wasBaselined {
		return nil
	}
	return eventForTransition(old, st, now)
}

func eventForTransition(from, to monitor.Status, now time.Time) *Event {
	var typ EventType
	switch {
	case to.IsFault():
		typ = EventFault
	case from.IsFault():
		typ = EventCleared
	default:
		return nil
	}
	return &Event{Timestamp: now, Type: typ, From: from, To: to}
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// Stable returns the debounced status of channel.
func (d *Detector) Stable(channel int) (monitor.Status, bool) {
	ch, ok := d.channels[channel]
	if !ok || !ch.baselined {
		return monitor.StatusOK, false
	}
	return ch.stable, true
}

// Faulted returns the channels whose stable status is a fault, ascending.
func (d *Detector) Faulted() []int {
	var out []int
	for idx, ch := range d.channels {
		if ch.baselined && ch.stable.IsFault() {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// EventCountsSnapshot returns the event counts so far.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}

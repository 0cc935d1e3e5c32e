// Package status provides a thread-safe status tracker for the filament-sensor
// daemon. It is read by the HTTP handlers and the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/filament-sensor/internal/logic"
	"github.com/sweeney/filament-sensor/internal/monitor"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	DebounceMs  int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Feed        string // "mqtt" or a serial device path
	Database    string // empty when history is disabled
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
}

// ChannelSnapshot is the state of one monitor channel.
type ChannelSnapshot struct {
	Index       int
	Type        monitor.Type
	Status      monitor.Status
	Params      monitor.Params
	Live        monitor.LiveData
	Diagnostics string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Channels      []ChannelSnapshot
	Printing      bool
	Baselined     bool
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Channel returns the channel with the given index.
func (s Snapshot) Channel(index int) (ChannelSnapshot, bool) {
	for _, ch := range s.Channels {
		if ch.Index == index {
			return ch, true
		}
	}
	return ChannelSnapshot{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets channel states, printing state, baseline status, and alarm
// counts. Called from runLoop on every tick.
func (t *Tracker) Update(channels []ChannelSnapshot, printing, baselined bool, counts logic.EventCounts) {
	cp := append([]ChannelSnapshot(nil), channels...)
	t.mu.Lock()
	t.snap.Channels = cp
	t.snap.Printing = printing
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

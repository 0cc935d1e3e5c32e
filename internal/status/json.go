package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/filament-sensor/internal/monitor"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Printing      bool          `json:"printing"`
	Ready         bool          `json:"ready"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"alarm_counts"`
	Channels      []ChannelJSON `json:"channels"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of alarm counts.
type CountsJSON struct {
	Faults  int `json:"faults"`
	Cleared int `json:"cleared"`
}

// ChannelJSON is the JSON representation of one channel.
type ChannelJSON struct {
	Channel     int               `json:"channel"`
	Type        string            `json:"type"`
	Status      monitor.Status    `json:"status"`
	Message     string            `json:"message"`
	Enable      string            `json:"enable"`
	Params      monitor.Params    `json:"params"`
	Live        *monitor.LiveData `json:"live,omitempty"`
	Diagnostics string            `json:"diagnostics,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Feed        string `json:"feed"`
	Database    string `json:"database,omitempty"`
	WSBroker    string `json:"ws_broker,omitempty"`
}

// BuildChannel converts a channel snapshot for JSON output.
func BuildChannel(ch ChannelSnapshot) ChannelJSON {
	cj := ChannelJSON{
		Channel:     ch.Index,
		Type:        ch.Type.String(),
		Status:      ch.Status,
		Message:     ch.Status.Message(),
		Enable:      ch.Params.Enable.String(),
		Params:      ch.Params,
		Diagnostics: ch.Diagnostics,
	}
	if ch.Live.HasLiveData {
		live := ch.Live
		cj.Live = &live
	}
	return cj
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, 0, len(snap.Channels))
	for _, ch := range snap.Channels {
		channels = append(channels, BuildChannel(ch))
	}

	return StatusInner{
		Printing:      snap.Printing,
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        CountsJSON{Faults: snap.Counts.Faults, Cleared: snap.Counts.Cleared},
		Channels:      channels,
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Feed:        snap.Config.Feed,
			Database:    snap.Config.Database,
			WSBroker:    snap.Config.WSBroker,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// Diagnostics are left out to keep the message small.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	for i := range inner.Channels {
		inner.Channels[i].Diagnostics = ""
	}
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// Package mqtt publishes filament channel status and lifecycle events and
// receives the extrusion feed, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/filament-sensor/internal/monitor"
)

// Topics.
const (
	TopicStatus    = "filament/sensor/status"
	TopicSystem    = "filament/sensor/system"
	TopicExtrusion = "filament/sensor/extrusion"
	TopicPrinting  = "filament/sensor/printing"
	TopicCommand   = "filament/sensor/command"
)

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishStatus sends a status report for every channel.
	// Returns error if publishing fails (should not crash the process).
	PublishStatus(report StatusReport) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers messages arriving on a topic. Handlers run on the
// client's goroutine and must not block.
type Subscriber interface {
	Subscribe(topic string, handle func(payload []byte)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StatusReport is one publication of every channel's state.
type StatusReport struct {
	Timestamp time.Time
	Printing  bool
	Changed   bool // some channel changed status since the last report
	Channels  []ChannelReport
}

// ChannelReport is the state of one channel.
type ChannelReport struct {
	Channel int
	Type    monitor.Type
	Status  monitor.Status
	Live    monitor.LiveData
}

// Payload represents the MQTT status payload structure.
type Payload struct {
	Filament FilamentPayload `json:"filament"`
}

// FilamentPayload contains the status report details.
type FilamentPayload struct {
	Timestamp string           `json:"timestamp"`
	Printing  bool             `json:"printing"`
	Channels  []ChannelPayload `json:"channels"`
}

// ChannelPayload is one channel in a status payload.
type ChannelPayload struct {
	Channel int               `json:"channel"`
	Type    string            `json:"type"`
	Status  monitor.Status    `json:"status"`
	Message string            `json:"message"`
	Live    *monitor.LiveData `json:"live,omitempty"`
}

// FormatPayload creates the JSON payload for a status report. Live data is
// included only for channels that have some.
func FormatPayload(report StatusReport) ([]byte, error) {
	channels := make([]ChannelPayload, 0, len(report.Channels))
	for _, ch := range report.Channels {
		cp := ChannelPayload{
			Channel: ch.Channel,
			Type:    ch.Type.String(),
			Status:  ch.Status,
			Message: ch.Status.Message(),
		}
		if ch.Live.HasLiveData {
			live := ch.Live
			cp.Live = &live
		}
		channels = append(channels, cp)
	}
	payload := Payload{
		Filament: FilamentPayload{
			Timestamp: report.Timestamp.UTC().Format(time.RFC3339),
			Printing:  report.Printing,
			Channels:  channels,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ClientID returns a broker client id unique to this process, so two
// instances on one broker do not keep disconnecting each other.
func ClientID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

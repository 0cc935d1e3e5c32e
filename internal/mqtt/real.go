package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// OfflineBufferSize is how many messages are held while the broker is
// unreachable.
const OfflineBufferSize = 100

// RealPublisher publishes to and subscribes on an actual MQTT broker.
// Messages published while disconnected are buffered and replayed after a
// RECONNECTED event once the connection returns.
type RealPublisher struct {
	client paho.Client

	mu        sync.Mutex
	buffer    *ringBuffer
	connected bool
	everUp    bool
	subs      map[string]func([]byte)
}

// NewRealPublisher creates a publisher for the given broker. Connecting
// happens in the background and retries until it succeeds; the broker
// publishes a retained SHUTDOWN with reason MQTT_DISCONNECT if this process
// vanishes.
func NewRealPublisher(broker, clientID string) *RealPublisher {
	p := &RealPublisher{
		buffer: newRingBuffer(OfflineBufferSize),
		subs:   make(map[string]func([]byte)),
	}

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.mu.Lock()
			p.connected = false
			p.mu.Unlock()
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// onConnect runs on paho's goroutine after every successful connect.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.everUp
	p.everUp = true
	p.connected = true
	pending := p.buffer.drainAll()
	subs := make(map[string]func([]byte), len(p.subs))
	for topic, h := range p.subs {
		subs[topic] = h
	}
	p.mu.Unlock()

	log.Printf("mqtt: connected")
	for topic, h := range subs {
		if err := p.subscribe(topic, h); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		if err := p.send(TopicSystem, 1, false, payload); err != nil {
			log.Printf("mqtt: publish reconnected: %v", err)
		}
	}
	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d buffered messages", len(pending))
	}
	for _, m := range pending {
		if err := p.send(m.topic, m.qos, m.retained, m.payload); err != nil {
			log.Printf("mqtt: replay to %s: %v", m.topic, err)
		}
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// PublishStatus sends a status report. Unchanged reports are only worth
// anything live and are not buffered while disconnected.
func (p *RealPublisher) PublishStatus(report StatusReport) error {
	payload, err := FormatPayload(report)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	if !report.Changed && !p.IsConnected() {
		return nil
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: TopicStatus, payload: payload, snapshot: true})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) - we want to ensure delivery
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.buffer.push(m)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(m.topic, m.qos, m.retained, m.payload)
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handle for topic. The subscription is renewed on every
// reconnect.
func (p *RealPublisher) Subscribe(topic string, handle func(payload []byte)) error {
	p.mu.Lock()
	p.subs[topic] = handle
	connected := p.connected
	p.mu.Unlock()

	if !connected {
		return nil
	}
	return p.subscribe(topic, handle)
}

func (p *RealPublisher) subscribe(topic string, handle func([]byte)) error {
	token := p.client.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		handle(msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

package mqtt

import "fmt"

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// Reports contains all status reports that were published.
	Reports []StatusReport

	// Payloads contains the JSON payloads of the status reports.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishStatus.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	handlers map[string]func([]byte)
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{handlers: make(map[string]func([]byte))}
}

// PublishStatus records the report.
func (f *FakePublisher) PublishStatus(report StatusReport) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(report)
	if err != nil {
		return err
	}
	f.Reports = append(f.Reports, report)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Subscribe records handle for topic.
func (f *FakePublisher) Subscribe(topic string, handle func([]byte)) error {
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	if f.handlers == nil {
		f.handlers = make(map[string]func([]byte))
	}
	f.handlers[topic] = handle
	return nil
}

// Deliver passes payload to the handler subscribed to topic.
func (f *FakePublisher) Deliver(topic string, payload []byte) error {
	h, ok := f.handlers[topic]
	if !ok {
		return fmt.Errorf("no subscription to %s", topic)
	}
	h(payload)
	return nil
}

// Subscribed reports whether topic has a handler.
func (f *FakePublisher) Subscribed(topic string) bool {
	_, ok := f.handlers[topic]
	return ok
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages. Subscriptions are kept.
func (f *FakePublisher) Reset() {
	f.Reports = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.SubscribeError = nil
	f.Connected = false
}

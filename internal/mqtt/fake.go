package mqtt

import "sync"

// Message is a published message recorded by FakeConn
type Message struct {
	Topic   string
	Payload string
}

// FakeConn records broker traffic for test assertions.
type FakeConn struct {
	mu sync.Mutex

	// Connected controls the return value of IsConnected.
	Connected bool

	// Published contains every message accepted by Publish.
	Published []Message

	// Subscriptions contains every pattern passed to Subscribe, in order.
	Subscriptions []string

	// Unsubscriptions contains every pattern passed to Unsubscribe.
	Unsubscriptions []string

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Disconnected tracks if Disconnect was called.
	Disconnected bool
}

// NewFakeConn creates a connected FakeConn
func NewFakeConn() *FakeConn {
	return &FakeConn{Connected: true}
}

// IsConnected reports whether the fake is "connected".
func (f *FakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SetConnected flips the connection state
func (f *FakeConn) SetConnected(v bool) {
	f.mu.Lock()
	f.Connected = v
	f.mu.Unlock()
}

// Publish records the message.
func (f *FakeConn) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Published = append(f.Published, Message{Topic: topic, Payload: string(payload)})
	return nil
}

// Subscribe records the pattern.
func (f *FakeConn) Subscribe(pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subscriptions = append(f.Subscriptions, pattern)
	return nil
}

// Unsubscribe records the pattern.
func (f *FakeConn) Unsubscribe(pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unsubscriptions = append(f.Unsubscriptions, pattern)
	return nil
}

// Disconnect marks the fake as closed.
func (f *FakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connected = false
	f.Disconnected = true
}

// Messages returns a copy of the recorded publishes
func (f *FakeConn) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.Published...)
}

// RecordingPublisher is a Publisher that only records messages
type RecordingPublisher struct {
	mu       sync.Mutex
	messages []Message
}

// Publish records the message.
func (p *RecordingPublisher) Publish(topic, payload string) {
	p.mu.Lock()
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	p.mu.Unlock()
}

// Messages returns a copy of the recorded publishes
func (p *RecordingPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

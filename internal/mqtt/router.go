package mqtt

import (
	"log"
	"sync"

	"mosque/internal/events"
)

// DefaultQueueSize bounds the number of publishes held while disconnected
const DefaultQueueSize = 1000

// Handler receives an inbound message
type Handler func(topic string, payload []byte)

// Router dispatches inbound messages to every handler whose pattern
// matches and owns the outbound FIFO queue.
type Router struct {
	mu       sync.Mutex
	conn     Conn
	handlers map[string]Handler
	patterns []string // subscription order
	queue    *ringBuffer
	flushing bool
	bus      *events.Bus
}

// NewRouter creates a router without a connection; publishes are queued
// until Attach and OnConnect.
func NewRouter(bus *events.Bus, queueSize int) *Router {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Router{
		handlers: make(map[string]Handler),
		queue:    newRingBuffer(queueSize),
		bus:      bus,
	}
}

// Attach sets the broker connection
func (r *Router) Attach(conn Conn) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
}

// IsConnected reports whether the broker connection is up
func (r *Router) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connectedLocked()
}

func (r *Router) connectedLocked() bool {
	return r.conn != nil && r.conn.IsConnected()
}

// Queued returns the number of publishes waiting for a connection
func (r *Router) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.len()
}

// Subscribe registers handler for pattern, replacing any previous handler
// of the same pattern. The broker subscription is made now if connected,
// otherwise on the next OnConnect.
func (r *Router) Subscribe(pattern string, handler Handler) {
	r.mu.Lock()
	if _, exists := r.handlers[pattern]; !exists {
		r.patterns = append(r.patterns, pattern)
	}
	r.handlers[pattern] = handler
	conn := r.conn
	connected := r.connectedLocked()
	r.mu.Unlock()

	if !connected {
		log.Printf("MQTT: Not connected, subscription to %s deferred", pattern)
		return
	}
	if err := conn.Subscribe(pattern); err != nil {
		log.Printf("MQTT: Subscribe error for %s: %v", pattern, err)
		return
	}
	log.Printf("MQTT: Subscribing to %s", pattern)
}

// Unsubscribe removes the handler of pattern
func (r *Router) Unsubscribe(pattern string) {
	r.mu.Lock()
	if _, exists := r.handlers[pattern]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.handlers, pattern)
	for i, p := range r.patterns {
		if p == pattern {
			r.patterns = append(r.patterns[:i], r.patterns[i+1:]...)
			break
		}
	}
	conn := r.conn
	connected := r.connectedLocked()
	r.mu.Unlock()

	if connected {
		if err := conn.Unsubscribe(pattern); err != nil {
			log.Printf("MQTT: Unsubscribe error for %s: %v", pattern, err)
		}
	}
}

// Dispatch invokes every handler whose pattern matches topic, in
// subscription order
func (r *Router) Dispatch(topic string, payload []byte) {
	r.mu.Lock()
	var matched []Handler
	for _, p := range r.patterns {
		if Match(p, topic) {
			matched = append(matched, r.handlers[p])
		}
	}
	r.mu.Unlock()

	if len(matched) == 0 {
		log.Printf("MQTT: No handler for %s", topic)
		return
	}
	for _, h := range matched {
		h(topic, payload)
	}
}

// Publish sends payload to topic, queueing it in FIFO order while the
// broker is unreachable. It never blocks on acknowledgment.
func (r *Router) Publish(topic, payload string) {
	msg := bufferedMsg{topic: topic, payload: []byte(payload)}

	r.mu.Lock()
	connected := r.connectedLocked()
	if connected && !r.flushing && r.queue.len() == 0 {
		conn := r.conn
		r.mu.Unlock()
		if err := conn.Publish(topic, msg.payload); err != nil {
			log.Printf("MQTT: Publish to %s failed, queuing: %v", topic, err)
			r.mu.Lock()
			r.queue.push(msg)
			r.mu.Unlock()
			return
		}
		log.Printf("MQTT: Published to %s: %s", topic, payload)
		return
	}

	r.queue.push(msg)
	startFlush := connected && !r.flushing
	if startFlush {
		r.flushing = true
	}
	r.mu.Unlock()

	if startFlush {
		r.flush()
		return
	}
	if !connected {
		log.Printf("MQTT: Not connected, queued publish for %s", topic)
	}
}

// OnConnect restores subscriptions and flushes queued publishes. It is
// called by the connection on every (re)connect.
func (r *Router) OnConnect() {
	r.mu.Lock()
	conn := r.conn
	patterns := append([]string(nil), r.patterns...)
	r.mu.Unlock()
	if conn == nil {
		return
	}

	log.Printf("MQTT: Connected, restoring %d subscription(s)", len(patterns))
	for _, p := range patterns {
		if err := conn.Subscribe(p); err != nil {
			log.Printf("MQTT: Subscribe error for %s: %v", p, err)
		}
	}
	r.bus.Publish(events.Event{Type: events.ConnectionChanged, Key: "connected"})

	r.mu.Lock()
	if r.flushing {
		r.mu.Unlock()
		return
	}
	r.flushing = true
	r.mu.Unlock()
	r.flush()
}

// OnConnectionLost is called by the connection when the broker drops
func (r *Router) OnConnectionLost(err error) {
	log.Printf("MQTT: Connection lost: %v", err)
	r.bus.Publish(events.Event{Type: events.ConnectionChanged, Key: "disconnected"})
}

// flush publishes queued messages oldest first. Messages published while
// flushing are appended to the queue and sent by the same loop.
func (r *Router) flush() {
	for {
		r.mu.Lock()
		if !r.connectedLocked() {
			r.flushing = false
			r.mu.Unlock()
			return
		}
		batch := r.queue.drainAll()
		if len(batch) == 0 {
			r.flushing = false
			r.mu.Unlock()
			return
		}
		conn := r.conn
		r.mu.Unlock()

		log.Printf("MQTT: Flushing %d queued publish(es)", len(batch))
		for i, m := range batch {
			if err := conn.Publish(m.topic, m.payload); err != nil {
				log.Printf("MQTT: Flush of %s failed, keeping %d message(s) queued: %v", m.topic, len(batch)-i, err)
				r.mu.Lock()
				newer := r.queue.drainAll()
				for _, rest := range batch[i:] {
					r.queue.push(rest)
				}
				for _, n := range newer {
					r.queue.push(n)
				}
				r.flushing = false
				r.mu.Unlock()
				return
			}
		}
	}
}

// Close disconnects from the broker
func (r *Router) Close() {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

// Package events is an in-process publish/subscribe bus for state change
// notifications. Consumers subscribe explicitly and receive events on their
// own buffered channel.
package events

import (
	"log"
	"sync"
	"time"
)

// Type identifies what changed
type Type string

const (
	// KeyChanged is emitted after a persisted key was written or deleted
	KeyChanged Type = "key_changed"
	// DevicesChanged is emitted after any registry mutation
	DevicesChanged Type = "devices_changed"
	// ScheduleGenerated is emitted after the task queue was rebuilt
	ScheduleGenerated Type = "schedule_generated"
	// TaskExecuted is emitted after a scheduled task fired
	TaskExecuted Type = "task_executed"
	// TelemetryUpdated is emitted on new water/electricity/lights values
	TelemetryUpdated Type = "telemetry_updated"
	// ConnectionChanged is emitted when the broker connection goes up or down
	ConnectionChanged Type = "connection_changed"
)

// Event is a single notification
type Event struct {
	Type     Type      `json:"type"`
	Key      string    `json:"key,omitempty"`
	External bool      `json:"external,omitempty"` // change came from another process
	DeviceID string    `json:"deviceId,omitempty"`
	TaskID   string    `json:"taskId,omitempty"`
	Time     time.Time `json:"time"`
}

type subscriber struct {
	ch    chan Event
	types map[Type]bool
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
	now    func() time.Time
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]*subscriber),
		now:  time.Now,
	}
}

// Subscribe returns a channel receiving events of the given types (all
// types when none are given) and a function that cancels the subscription.
func (b *Bus) Subscribe(buffer int, types ...Type) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Printf("EVENTS: subscriber buffer full, dropping %s event", ev.Type)
		}
	}
}

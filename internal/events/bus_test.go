package events

import (
	"testing"
	"time"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Publish(Event{Type: DevicesChanged, DeviceID: "AABB"})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != DevicesChanged || ev.DeviceID != "AABB" {
				t.Errorf("subscriber %d: unexpected event %+v", i, ev)
			}
			if ev.Time.IsZero() {
				t.Errorf("subscriber %d: expected time to be stamped", i)
			}
		default:
			t.Errorf("subscriber %d: no event delivered", i)
		}
	}
}

func TestBusTypeFilter(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(4, KeyChanged)
	defer cancel()

	b.Publish(Event{Type: DevicesChanged})
	b.Publish(Event{Type: KeyChanged, Key: "k"})

	select {
	case ev := <-ch:
		if ev.Type != KeyChanged {
			t.Fatalf("expected KeyChanged, got %s", ev.Type)
		}
	default:
		t.Fatal("expected an event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
}

func TestBusFullBufferDoesNotBlock(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TaskExecuted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	b.Publish(Event{Type: TaskExecuted})
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: TaskExecuted})
}

package store

import (
	"context"
	"testing"
	"time"

	"mosque/internal/events"
	"mosque/internal/models"
)

func newTestRepository(t *testing.T) (*Repository, *MemoryStore, *events.Bus) {
	t.Helper()
	mem := NewMemoryStore()
	bus := events.NewBus()
	return NewRepository(mem, bus), mem, bus
}

func TestRepositoryCorruptDocumentIsAbsent(t *testing.T) {
	repo, mem, _ := newTestRepository(t)
	ctx := context.Background()

	mem.Put(ctx, KeyAutomation, []byte("{not json"))
	mem.Put(ctx, KeyPrayerTimes, []byte(`{"date":"yesterday"}`))
	mem.Put(ctx, KeyDevices, []byte(`[{"id":""},{"id":"AABB"}]`))
	mem.Put(ctx, KeyTestSchedule, []byte(`{"onActions":[]}`))
	mem.Put(ctx, KeyCustomizations, []byte(`[1,2]`))

	if _, ok := repo.AutomationSettings(ctx); ok {
		t.Error("corrupt settings should be absent")
	}
	if snap := repo.PrayerSnapshot(ctx); snap != nil {
		t.Error("snapshot with invalid date should be absent")
	}
	if ts := repo.TestSchedule(ctx); ts != nil {
		t.Error("test schedule without times should be absent")
	}
	devices := repo.Devices(ctx)
	if len(devices) != 1 || devices[0].ID != "AABB" {
		t.Errorf("expected only the device with an id, got %+v", devices)
	}
	if c := repo.Customizations(ctx); len(c) != 0 {
		t.Errorf("expected empty customizations, got %+v", c)
	}
}

func TestRepositorySavePublishesKeyChanged(t *testing.T) {
	repo, _, bus := newTestRepository(t)
	ctx := context.Background()
	ch, cancel := bus.Subscribe(8, events.KeyChanged)
	defer cancel()

	if err := repo.SaveAutomationSettings(ctx, models.AutomationSettings{Enabled: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.DeleteTestSchedule(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, want := range []string{KeyAutomation, KeyTestSchedule} {
		select {
		case ev := <-ch:
			if ev.Key != want || ev.External {
				t.Errorf("got %+v, want local change of %s", ev, want)
			}
		default:
			t.Fatalf("missing change event for %s", want)
		}
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	on := time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC)
	ts := models.TestSchedule{
		OnTime:     on,
		OffTime:    on.Add(time.Minute),
		OnActions:  []models.RelayAction{{Relay: "AABB/relay1", State: true}},
		OffActions: []models.RelayAction{{Relay: "AABB/relay1", State: false}},
	}
	if err := repo.SaveTestSchedule(ctx, ts); err != nil {
		t.Fatalf("save: %v", err)
	}
	got := repo.TestSchedule(ctx)
	if got == nil || !got.OnTime.Equal(on) || len(got.OffActions) != 1 {
		t.Fatalf("unexpected test schedule %+v", got)
	}

	if err := repo.SaveLocation(ctx, models.Location{City: "Manama", Latitude: 26.2, Longitude: 50.5}); err != nil {
		t.Fatalf("save location: %v", err)
	}
	if loc := repo.Location(ctx); loc == nil || loc.City != "Manama" {
		t.Fatalf("unexpected location %+v", loc)
	}
}

func TestRepositoryWatchPublishesExternal(t *testing.T) {
	repo, mem, bus := newTestRepository(t)
	ch, cancel := bus.Subscribe(8, events.KeyChanged)
	defer cancel()

	if err := repo.Watch(context.Background()); err != nil {
		t.Fatalf("watch: %v", err)
	}
	mem.PutExternal(KeyPrayerTimes, []byte(`{}`))

	select {
	case ev := <-ch:
		if ev.Key != KeyPrayerTimes || !ev.External {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected external change event")
	}
}

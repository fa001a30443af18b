package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"mosque/internal/events"
	"mosque/internal/models"
	"mosque/internal/mqtt"
	"mosque/internal/store"
)

func newTestRuleSet(t *testing.T) (*RuleSet, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	return NewRuleSet(store.NewRepository(store.NewMemoryStore(), bus)), bus
}

func TestDefaults(t *testing.T) {
	s := Defaults()
	if s.Enabled {
		t.Error("defaults must be disabled")
	}
	if len(s.Schedules) != len(models.Prayers) {
		t.Fatalf("expected %d schedules, got %d", len(models.Prayers), len(s.Schedules))
	}
	for i, sched := range s.Schedules {
		if sched.Prayer != models.Prayers[i] || sched.BeforeMinutes != 5 || sched.AfterMinutes != 30 {
			t.Errorf("unexpected default schedule %+v", sched)
		}
	}
}

func TestNormalize(t *testing.T) {
	in := models.AutomationSettings{
		Enabled: true,
		Schedules: []models.PrayerSchedule{
			{Prayer: "Isha", BeforeMinutes: 10},
			{Prayer: "Sunrise"},
			{Prayer: "Isha", BeforeMinutes: 99},
		},
	}
	out := Normalize(in)
	if !out.Enabled || len(out.Schedules) != 5 {
		t.Fatalf("unexpected normalized settings %+v", out)
	}
	if out.Schedules[4].Prayer != "Isha" || out.Schedules[4].BeforeMinutes != 10 {
		t.Errorf("expected first Isha schedule kept, got %+v", out.Schedules[4])
	}
	if out.Schedules[0].BeforeActions == nil {
		t.Error("action lists must not be nil")
	}
}

func TestRuleSetMutations(t *testing.T) {
	ctx := context.Background()
	r, bus := newTestRuleSet(t)
	ch, cancel := bus.Subscribe(8, events.KeyChanged)
	defer cancel()

	if err := r.AddAction(ctx, "Dhuhr", Before, models.RelayAction{Relay: "AABB/relay1", State: true}); err != nil {
		t.Fatal(err)
	}
	err := r.AddAction(ctx, "Dhuhr", Before, models.RelayAction{Relay: "AABB/relay1", State: false})
	if !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("expected ErrDuplicateAction, got %v", err)
	}
	if err := r.AddAction(ctx, "Dhuhr", After, models.RelayAction{Relay: "AABB/relay1"}); err != nil {
		t.Errorf("same relay in the other list must be allowed: %v", err)
	}
	if err := r.AddAction(ctx, "Dhuhr", After, models.RelayAction{Relay: "relay1"}); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("expected ErrInvalidAction, got %v", err)
	}
	if err := r.SetOffset(ctx, "Dhuhr", Before, 121); !errors.Is(err, ErrInvalidOffset) {
		t.Errorf("expected ErrInvalidOffset, got %v", err)
	}
	if err := r.SetOffset(ctx, "Dhuhr", Before, -1); !errors.Is(err, ErrInvalidOffset) {
		t.Errorf("expected ErrInvalidOffset, got %v", err)
	}
	if err := r.SetOffset(ctx, "Dhuhr", After, 120); err != nil {
		t.Errorf("120 must be accepted: %v", err)
	}
	if err := r.SetOffset(ctx, "Witr", After, 1); !errors.Is(err, ErrUnknownPrayer) {
		t.Errorf("expected ErrUnknownPrayer, got %v", err)
	}

	s := r.Settings(ctx)
	dhuhr := s.Schedules[1]
	if len(dhuhr.BeforeActions) != 1 || len(dhuhr.AfterActions) != 1 || dhuhr.AfterMinutes != 120 {
		t.Errorf("unexpected Dhuhr schedule %+v", dhuhr)
	}

	if err := r.RemoveAction(ctx, "Dhuhr", Before, "AABB/relay1"); err != nil {
		t.Fatal(err)
	}
	if got := r.Settings(ctx).Schedules[1].BeforeActions; len(got) != 0 {
		t.Errorf("expected action removed, got %+v", got)
	}

	if err := r.SetEnabled(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !r.Settings(ctx).Enabled {
		t.Error("expected enabled")
	}

	select {
	case ev := <-ch:
		if ev.Key != store.KeyAutomation {
			t.Errorf("unexpected key %s", ev.Key)
		}
	default:
		t.Error("expected change notification")
	}
}

func TestReplaceValidates(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRuleSet(t)

	bad := Defaults()
	bad.Schedules[0].BeforeActions = []models.RelayAction{{Relay: "A/relay1"}, {Relay: "A/relay1"}}
	if err := r.Replace(ctx, bad); !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("expected ErrDuplicateAction, got %v", err)
	}
	if r.Settings(ctx).Schedules[0].BeforeActions == nil || len(r.Settings(ctx).Schedules[0].BeforeActions) != 0 {
		t.Error("rejected settings must not be stored")
	}

	good := Defaults()
	good.Enabled = true
	if err := r.Replace(ctx, good); err != nil {
		t.Fatal(err)
	}
	if !r.Settings(ctx).Enabled {
		t.Error("expected stored settings")
	}
}

func TestExtractTasks(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	s := Defaults()
	s.Enabled = true
	s.Schedules[0].BeforeMinutes = 10
	s.Schedules[0].BeforeActions = []models.RelayAction{{Relay: "A/relay1", State: true}}
	s.Schedules[1].AfterActions = []models.RelayAction{{Relay: "A/relay2"}}
	s.Schedules[4].BeforeActions = []models.RelayAction{{Relay: "A/relay3", State: true}}

	times := []models.PrayerTime{
		{Name: "Fajr", Time: "00:05"},
		{Name: "Dhuhr", Time: "11:50"},
	}

	tasks := ExtractTasks(s, times, day)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d: %+v", len(tasks), tasks)
	}
	if want := time.Date(2026, 3, 1, 23, 55, 0, 0, time.UTC); !tasks[0].ExecutionTime.Equal(want) {
		t.Errorf("Fajr before: got %v, want %v", tasks[0].ExecutionTime, want)
	}
	if tasks[0].ID != "2026-03-02-Fajr-before" {
		t.Errorf("unexpected id %s", tasks[0].ID)
	}
	if want := time.Date(2026, 3, 2, 12, 20, 0, 0, time.UTC); !tasks[1].ExecutionTime.Equal(want) {
		t.Errorf("Dhuhr after: got %v, want %v", tasks[1].ExecutionTime, want)
	}
}

func TestCommandsExecuteActions(t *testing.T) {
	pub := &mqtt.RecordingPublisher{}
	c := NewCommands(pub)

	sent := c.ExecuteActions([]models.RelayAction{
		{Relay: "deviceX/relay1", State: true},
		{Relay: "broken"},
		{Relay: "deviceX/relay2", State: false},
	})

	if sent != 2 {
		t.Errorf("expected 2 sent, got %d", sent)
	}
	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %+v", msgs)
	}
	if msgs[0].Topic != "deviceX/relay1/set" || msgs[0].Payload != "ON" {
		t.Errorf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].Topic != "deviceX/relay2/set" || msgs[1].Payload != "OFF" {
		t.Errorf("unexpected second message %+v", msgs[1])
	}
}

type fakeTracker struct {
	states map[string]bool
	err    error
}

func (f *fakeTracker) SetOptimistic(_ context.Context, id, relay string, state bool) error {
	if f.err != nil {
		return f.err
	}
	f.states[id+"/"+relay] = state
	return nil
}

func TestCommandsUpdateTracker(t *testing.T) {
	pub := &mqtt.RecordingPublisher{}
	tracker := &fakeTracker{states: map[string]bool{}}
	c := NewCommands(pub)
	c.SetTracker(tracker)

	c.ExecuteActions([]models.RelayAction{
		{Relay: "deviceX/relay1", State: true},
		{Relay: "broken", State: true},
		{Relay: "deviceX/relay2", State: false},
	})

	if len(tracker.states) != 2 || !tracker.states["deviceX/relay1"] || tracker.states["deviceX/relay2"] {
		t.Errorf("unexpected tracked states %v", tracker.states)
	}

	tracker.err = errors.New("unknown device")
	if !c.Send(models.RelayAction{Relay: "other/relay1", State: true}) {
		t.Error("tracker errors must not fail the send")
	}
	if len(pub.Messages()) != 3 {
		t.Errorf("expected 3 publishes, got %+v", pub.Messages())
	}
}

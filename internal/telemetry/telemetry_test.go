package telemetry

import (
	"testing"

	"mosque/internal/events"
	"mosque/internal/mqtt"
)

func TestDefaults(t *testing.T) {
	s := NewTracker(nil).Snapshot()
	if s.WaterLevel != 75 || s.ElectricityUsage != 65 {
		t.Errorf("unexpected defaults %+v", s)
	}
	if s.Lights == nil || s.UpdatedAt != nil {
		t.Errorf("unexpected initial lights/update time %+v", s)
	}
}

func TestHandlers(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(8, events.TelemetryUpdated)
	defer cancel()
	tr := NewTracker(bus)

	tr.HandleWaterLevel(mqtt.TopicWaterLevel, []byte("42"))
	tr.HandleElectricity(mqtt.TopicElectricity, []byte(" 81\n"))
	tr.HandleLightsStatus(mqtt.TopicLightsStatus, []byte(`{"main":true,"hall":false}`))
	tr.HandleLightsStatus(mqtt.TopicLightsStatus, []byte(`{"hall":true}`))

	s := tr.Snapshot()
	if s.WaterLevel != 42 || s.ElectricityUsage != 81 {
		t.Errorf("unexpected readings %+v", s)
	}
	if !s.Lights["main"] || !s.Lights["hall"] {
		t.Errorf("expected merged light states, got %v", s.Lights)
	}
	if s.UpdatedAt == nil {
		t.Error("expected update time")
	}
	if len(ch) != 4 {
		t.Errorf("expected 4 update events, got %d", len(ch))
	}
}

func TestMalformedValuesIgnored(t *testing.T) {
	tr := NewTracker(nil)
	tr.HandleWaterLevel(mqtt.TopicWaterLevel, []byte("full"))
	tr.HandleElectricity(mqtt.TopicElectricity, []byte(""))
	tr.HandleLightsStatus(mqtt.TopicLightsStatus, []byte("not json"))

	s := tr.Snapshot()
	if s.WaterLevel != DefaultWaterLevel || s.ElectricityUsage != DefaultElectricityUsage || len(s.Lights) != 0 {
		t.Errorf("malformed values must not change the readings, got %+v", s)
	}
	if s.UpdatedAt != nil {
		t.Error("malformed values must not count as updates")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(nil)
	tr.HandleLightsStatus(mqtt.TopicLightsStatus, []byte(`{"main":true}`))

	lights := tr.Lights()
	lights["main"] = false
	if !tr.Lights()["main"] {
		t.Error("Lights must return a copy")
	}
}

// Package telemetry tracks the latest facility readings reported over MQTT.
package telemetry

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"mosque/internal/events"
)

// Initial readings shown before the first report
const (
	DefaultWaterLevel       = 75
	DefaultElectricityUsage = 65
)

// Snapshot is a point-in-time copy of the readings
type Snapshot struct {
	WaterLevel       int             `json:"waterLevel"`
	ElectricityUsage int             `json:"electricityUsage"`
	Lights           map[string]bool `json:"lights"`
	UpdatedAt        *time.Time      `json:"updatedAt,omitempty"`
}

// Tracker holds the readings behind an RWMutex
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	bus  *events.Bus
	now  func() time.Time
}

// NewTracker creates a tracker with the default readings; bus may be nil
func NewTracker(bus *events.Bus) *Tracker {
	return &Tracker{
		snap: Snapshot{
			WaterLevel:       DefaultWaterLevel,
			ElectricityUsage: DefaultElectricityUsage,
			Lights:           map[string]bool{},
		},
		bus: bus,
		now: time.Now,
	}
}

// Snapshot returns a copy of the readings
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	s.Lights = t.lightsLocked()
	return s
}

// Lights returns a copy of the legacy light zone states
func (t *Tracker) Lights() map[string]bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lightsLocked()
}

func (t *Tracker) lightsLocked() map[string]bool {
	out := make(map[string]bool, len(t.snap.Lights))
	for k, v := range t.snap.Lights {
		out[k] = v
	}
	return out
}

// HandleWaterLevel handles "mosque/water/level" integer percent reports
func (t *Tracker) HandleWaterLevel(topic string, payload []byte) {
	v, ok := parseInt(topic, payload)
	if !ok {
		return
	}
	t.update(func(s *Snapshot) { s.WaterLevel = v })
}

// HandleElectricity handles "mosque/electricity/usage" integer reports
func (t *Tracker) HandleElectricity(topic string, payload []byte) {
	v, ok := parseInt(topic, payload)
	if !ok {
		return
	}
	t.update(func(s *Snapshot) { s.ElectricityUsage = v })
}

// HandleLightsStatus handles "mosque/lights/status" zone maps. Reported
// zones are merged into the known ones.
func (t *Tracker) HandleLightsStatus(topic string, payload []byte) {
	var status map[string]bool
	if err := json.Unmarshal(payload, &status); err != nil {
		log.Printf("TELEMETRY: Failed to parse %s: %v", topic, err)
		return
	}
	t.update(func(s *Snapshot) {
		for k, v := range status {
			s.Lights[k] = v
		}
	})
}

func (t *Tracker) update(fn func(s *Snapshot)) {
	now := t.now()
	t.mu.Lock()
	fn(&t.snap)
	t.snap.UpdatedAt = &now
	t.mu.Unlock()
	if t.bus != nil {
		t.bus.Publish(events.Event{Type: events.TelemetryUpdated})
	}
}

func parseInt(topic string, payload []byte) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		log.Printf("TELEMETRY: Ignoring non-numeric value %q on %s", payload, topic)
		return 0, false
	}
	return v, true
}

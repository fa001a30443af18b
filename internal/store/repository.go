package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"mosque/internal/events"
	"mosque/internal/models"
	"mosque/internal/utils"
)

// Repository reads and writes the typed documents. Corrupt or missing
// documents are reported as absent, never as errors.
type Repository struct {
	store Store
	bus   *events.Bus
}

// NewRepository creates a repository over s publishing changes on bus
func NewRepository(s Store, bus *events.Bus) *Repository {
	return &Repository{store: s, bus: bus}
}

// Watch forwards changes made by other processes to the bus
func (r *Repository) Watch(ctx context.Context) error {
	return r.store.Watch(ctx, func(key string) {
		log.Printf("STORE: External change of %s", key)
		r.bus.Publish(events.Event{Type: events.KeyChanged, Key: key, External: true})
	})
}

func (r *Repository) load(ctx context.Context, key string, v interface{}) bool {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		log.Printf("STORE: Failed to read %s: %v", key, err)
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("STORE: Corrupt document %s, treating as absent: %v", key, err)
		return false
	}
	return true
}

func (r *Repository) save(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.store.Put(ctx, key, raw); err != nil {
		return err
	}
	r.bus.Publish(events.Event{Type: events.KeyChanged, Key: key})
	return nil
}

func (r *Repository) remove(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, key); err != nil {
		return err
	}
	r.bus.Publish(events.Event{Type: events.KeyChanged, Key: key})
	return nil
}

// Devices returns the persisted device registry
func (r *Repository) Devices(ctx context.Context) []models.Device {
	var devices []models.Device
	if !r.load(ctx, KeyDevices, &devices) {
		return nil
	}
	valid := devices[:0]
	for _, d := range devices {
		if d.ID == "" {
			log.Printf("STORE: Dropping stored device without id")
			continue
		}
		valid = append(valid, d)
	}
	return valid
}

// SaveDevices replaces the persisted device registry
func (r *Repository) SaveDevices(ctx context.Context, devices []models.Device) error {
	if devices == nil {
		devices = []models.Device{}
	}
	return r.save(ctx, KeyDevices, devices)
}

// PrayerSnapshot returns the stored prayer times, nil when absent or invalid
func (r *Repository) PrayerSnapshot(ctx context.Context) *models.PrayerSnapshot {
	var snap models.PrayerSnapshot
	if !r.load(ctx, KeyPrayerTimes, &snap) {
		return nil
	}
	if _, err := time.Parse(utils.DateLayout, snap.Date); err != nil {
		log.Printf("STORE: Prayer snapshot has invalid date %q, treating as absent", snap.Date)
		return nil
	}
	return &snap
}

// SavePrayerSnapshot stores the prayer times
func (r *Repository) SavePrayerSnapshot(ctx context.Context, snap models.PrayerSnapshot) error {
	return r.save(ctx, KeyPrayerTimes, snap)
}

// Location returns the selected location
func (r *Repository) Location(ctx context.Context) *models.Location {
	var loc models.Location
	if !r.load(ctx, KeyLocation, &loc) || loc.City == "" {
		return nil
	}
	return &loc
}

// SaveLocation stores the selected location
func (r *Repository) SaveLocation(ctx context.Context, loc models.Location) error {
	return r.save(ctx, KeyLocation, loc)
}

// AutomationSettings returns the stored settings and whether they existed
func (r *Repository) AutomationSettings(ctx context.Context) (models.AutomationSettings, bool) {
	var s models.AutomationSettings
	if !r.load(ctx, KeyAutomation, &s) {
		return models.AutomationSettings{}, false
	}
	return s, true
}

// SaveAutomationSettings stores the settings
func (r *Repository) SaveAutomationSettings(ctx context.Context, s models.AutomationSettings) error {
	return r.save(ctx, KeyAutomation, s)
}

// TestSchedule returns the pending ad-hoc test, nil when none
func (r *Repository) TestSchedule(ctx context.Context) *models.TestSchedule {
	var ts models.TestSchedule
	if !r.load(ctx, KeyTestSchedule, &ts) {
		return nil
	}
	if ts.OnTime.IsZero() || ts.OffTime.IsZero() {
		log.Printf("STORE: Test schedule without times, treating as absent")
		return nil
	}
	return &ts
}

// SaveTestSchedule stores the ad-hoc test
func (r *Repository) SaveTestSchedule(ctx context.Context, ts models.TestSchedule) error {
	return r.save(ctx, KeyTestSchedule, ts)
}

// DeleteTestSchedule removes the ad-hoc test
func (r *Repository) DeleteTestSchedule(ctx context.Context) error {
	return r.remove(ctx, KeyTestSchedule)
}

// Customizations returns display names keyed by device id
func (r *Repository) Customizations(ctx context.Context) map[string]models.DeviceCustomization {
	c := map[string]models.DeviceCustomization{}
	if !r.load(ctx, KeyCustomizations, &c) {
		return map[string]models.DeviceCustomization{}
	}
	return c
}

// SaveCustomizations stores display names
func (r *Repository) SaveCustomizations(ctx context.Context, c map[string]models.DeviceCustomization) error {
	return r.save(ctx, KeyCustomizations, c)
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mosque/internal/models"
	"mosque/internal/mqtt"
)

var legacyZonePattern = regexp.MustCompile(`mosque/lights/([^/]+)`)

// ErrInvalidZone is returned for a zone key that names no zone
var ErrInvalidZone = errors.New("invalid zone")

// legacyZone extracts the zone key of a device that is not a relay controller
func legacyZone(topic string) string {
	if m := legacyZonePattern.FindStringSubmatch(topic); m != nil {
		return m[1]
	}
	return topic
}

// Zones lists every controllable zone. Relay controllers contribute one
// zone per relay, other devices a single legacy zone whose state comes
// from the lights status report.
func (r *Registry) Zones(ctx context.Context, legacy map[string]bool) []models.Zone {
	custom := r.repo.Customizations(ctx)
	var zones []models.Zone
	for _, d := range r.Devices() {
		if !d.IsRelayController() {
			key := legacyZone(d.Topic)
			zones = append(zones, models.Zone{Key: key, Name: d.Name, State: legacy[key], Online: d.Online})
			continue
		}
		c := custom[d.MACAddress]
		deviceName := d.Name
		if c.DeviceName != "" {
			deviceName = c.DeviceName
		}
		for i := 1; i <= models.RelaysPerDevice; i++ {
			relay := fmt.Sprintf("relay%d", i)
			name := fmt.Sprintf("%s - Relay %d", deviceName, i)
			if n := c.RelayNames[relay]; n != "" {
				name = n
			}
			zones = append(zones, models.Zone{
				Key:    d.ID + "/" + relay,
				Name:   name,
				State:  d.RelayState(relay),
				Online: d.Online,
			})
		}
	}
	return zones
}

// ZoneCommand resolves the command of toggling a zone. Relay zones also
// get an optimistic pending state.
func (r *Registry) ZoneCommand(ctx context.Context, key string, legacy map[string]bool) (topic, payload string, err error) {
	if strings.Contains(key, "/relay") {
		id, relay, ok := models.SplitRelayKey(key)
		if !ok {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidZone, key)
		}
		state, err := r.ToggleTarget(id, relay)
		if err != nil {
			return "", "", err
		}
		if err := r.SetOptimistic(ctx, id, relay, state); err != nil {
			return "", "", err
		}
		return mqtt.RelayCommandTopic(id, relay), models.StateCommand(state), nil
	}
	if key == "" {
		return "", "", fmt.Errorf("%w: zone is required", ErrInvalidZone)
	}
	return mqtt.LightZoneCommandTopic(key), models.StateCommand(!legacy[key]), nil
}

// Customizations returns display names keyed by device MAC address
func (r *Registry) Customizations(ctx context.Context) map[string]models.DeviceCustomization {
	return r.repo.Customizations(ctx)
}

// SetCustomization stores display names of a device. Empty names are dropped.
func (r *Registry) SetCustomization(ctx context.Context, id string, c models.DeviceCustomization) error {
	d, ok := r.Device(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	all := r.repo.Customizations(ctx)
	entry := models.DeviceCustomization{DeviceName: strings.TrimSpace(c.DeviceName)}
	for relay, n := range c.RelayNames {
		if n = strings.TrimSpace(n); n != "" {
			if entry.RelayNames == nil {
				entry.RelayNames = map[string]string{}
			}
			entry.RelayNames[relay] = n
		}
	}
	if entry.DeviceName == "" && entry.RelayNames == nil {
		delete(all, d.MACAddress)
	} else {
		all[d.MACAddress] = entry
	}
	return r.repo.SaveCustomizations(ctx, all)
}

// Package registry tracks the relay controllers known to the system, their
// liveness and their relay states.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mosque/internal/events"
	"mosque/internal/models"
	"mosque/internal/mqtt"
	"mosque/internal/store"
	"mosque/internal/utils"
)

// DefaultTimeout marks a device offline when it has not reported for this long
const DefaultTimeout = 2 * time.Minute

// ErrUnknownDevice is returned for operations on a device id that is not registered
var ErrUnknownDevice = errors.New("unknown device")

// Subscriber registers topic handlers, satisfied by *mqtt.Router
type Subscriber interface {
	Subscribe(pattern string, handler mqtt.Handler)
}

// StateRecorder receives confirmed relay states for history
type StateRecorder interface {
	RecordDeviceState(deviceID string, relays map[string]bool)
}

// StatusReport is the discovery / heartbeat / LWT payload
type StatusReport struct {
	Device string          `json:"device"`
	Name   string          `json:"name"`
	MAC    string          `json:"mac"`
	Status string          `json:"status"`
	IP     string          `json:"ip"`
	RSSI   *int            `json:"rssi"`
	Relays map[string]bool `json:"relays"`
}

// Registry holds the device list. All mutations persist the list and emit
// a DevicesChanged event.
type Registry struct {
	mu         sync.Mutex
	devices    []models.Device
	subscribed map[string]bool

	repo     *store.Repository
	bus      *events.Bus
	sub      Subscriber
	recorder StateRecorder
	now      func() time.Time
}

// New creates a registry. sub may be nil when no broker is used.
func New(repo *store.Repository, bus *events.Bus, sub Subscriber) *Registry {
	return &Registry{
		subscribed: make(map[string]bool),
		repo:       repo,
		bus:        bus,
		sub:        sub,
		now:        time.Now,
	}
}

// SetRecorder attaches a history recorder for relay status reports
func (r *Registry) SetRecorder(rec StateRecorder) {
	r.mu.Lock()
	r.recorder = rec
	r.mu.Unlock()
}

// Load reads the persisted devices. Every device starts offline until it
// reports again.
func (r *Registry) Load(ctx context.Context) {
	devices := r.repo.Devices(ctx)
	for i := range devices {
		devices[i].Online = false
		devices[i].Pending = nil
	}

	r.mu.Lock()
	r.devices = devices
	ids := r.controllerIDsLocked()
	r.mu.Unlock()

	log.Printf("REGISTRY: Loaded %d device(s)", len(devices))
	for _, id := range ids {
		r.subscribeStatus(id)
	}
	r.bus.Publish(events.Event{Type: events.DevicesChanged})
}

// Reload re-reads the devices after another process changed them,
// keeping the unconfirmed relay states of this process.
func (r *Registry) Reload(ctx context.Context) {
	stored := r.repo.Devices(ctx)

	r.mu.Lock()
	current := make(map[string]models.Device, len(r.devices))
	for _, d := range r.devices {
		current[d.ID] = d
	}
	for i := range stored {
		if prev, ok := current[stored[i].ID]; ok {
			stored[i].Pending = prev.Pending
		}
	}
	r.devices = stored
	ids := r.controllerIDsLocked()
	r.mu.Unlock()

	log.Printf("REGISTRY: Reloaded %d device(s) after external change", len(stored))
	for _, id := range ids {
		r.subscribeStatus(id)
	}
	r.bus.Publish(events.Event{Type: events.DevicesChanged, External: true})
}

// Watch reloads the registry whenever another process writes the device key
func (r *Registry) Watch(ctx context.Context) {
	ch, cancel := r.bus.Subscribe(32, events.KeyChanged)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.External && ev.Key == store.KeyDevices {
					r.Reload(ctx)
				}
			}
		}
	}()
}

func (r *Registry) controllerIDsLocked() []string {
	var ids []string
	for _, d := range r.devices {
		if d.IsRelayController() && !r.subscribed[d.ID] {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func (r *Registry) subscribeStatus(id string) {
	if r.sub == nil {
		return
	}
	r.mu.Lock()
	if r.subscribed[id] {
		r.mu.Unlock()
		return
	}
	r.subscribed[id] = true
	r.mu.Unlock()

	r.sub.Subscribe(mqtt.RelayStatusTopic(id), r.HandleRelayStatus)
}

// HandleDeviceStatus processes "<MAC>/device/status" messages: discovery,
// heartbeats and last-will offline notices.
func (r *Registry) HandleDeviceStatus(topic string, payload []byte) {
	mac := utils.ParseDeviceID(topic)
	if mac == "" {
		log.Printf("REGISTRY: Ignoring device status on %s without device id", topic)
		return
	}
	var st StatusReport
	if err := json.Unmarshal(payload, &st); err != nil {
		log.Printf("REGISTRY: Failed to parse device status from %s: %v", mac, err)
		return
	}
	if err := r.Discover(context.Background(), mac, st); err != nil {
		log.Printf("REGISTRY: Failed to store device %s: %v", mac, err)
	}
}

// Discover applies a device status report
func (r *Registry) Discover(ctx context.Context, mac string, st StatusReport) error {
	now := r.now()
	isNew := false

	r.mu.Lock()
	idx := r.indexLocked(mac)
	if st.Status == "offline" {
		if idx < 0 {
			r.mu.Unlock()
			log.Printf("REGISTRY: Offline notice from unknown device %s ignored", mac)
			return nil
		}
		d := &r.devices[idx]
		d.Online = false
		d.LastSeen = &now
		if st.Relays != nil {
			d.Relays = copyRelays(st.Relays)
			d.Pending = nil
		}
		log.Printf("REGISTRY: Device %s went offline", mac)
	} else if idx >= 0 {
		d := &r.devices[idx]
		d.IPAddress = st.IP
		d.Online = st.Status == "online"
		d.RSSI = st.RSSI
		d.LastSeen = &now
		if st.Relays != nil {
			d.Relays = copyRelays(st.Relays)
			d.Pending = nil
		}
	} else {
		name := st.Name
		if name == "" {
			name = "ESP32 Device"
		}
		relays := copyRelays(st.Relays)
		if relays == nil {
			relays = map[string]bool{}
		}
		r.devices = append(r.devices, models.Device{
			ID:         mac,
			MACAddress: mac,
			Name:       name,
			Topic:      mac + "/relay",
			IPAddress:  st.IP,
			Online:     st.Status == "online",
			RSSI:       st.RSSI,
			LastSeen:   &now,
			Relays:     relays,
		})
		isNew = true
		log.Printf("REGISTRY: New device %s (%s) discovered", mac, name)
	}
	r.mu.Unlock()

	if isNew {
		r.subscribeStatus(mac)
	}
	return r.persist(ctx, mac)
}

// HandleRelayStatus processes "<MAC>/status" relay reports
func (r *Registry) HandleRelayStatus(topic string, payload []byte) {
	mac := utils.ParseDeviceID(topic)
	var relays map[string]bool
	if err := json.Unmarshal(payload, &relays); err != nil {
		log.Printf("REGISTRY: Failed to parse relay status from %s: %v", mac, err)
		return
	}
	if err := r.ApplyRelayStatus(context.Background(), mac, relays); err != nil {
		log.Printf("REGISTRY: Relay status from %s not applied: %v", mac, err)
	}
}

// ApplyRelayStatus replaces the confirmed relay states of a device and
// clears any optimistic state
func (r *Registry) ApplyRelayStatus(ctx context.Context, id string, relays map[string]bool) error {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	r.devices[idx].Relays = copyRelays(relays)
	r.devices[idx].Pending = nil
	rec := r.recorder
	r.mu.Unlock()

	if rec != nil {
		rec.RecordDeviceState(id, relays)
	}
	return r.persist(ctx, id)
}

// SetOptimistic records a commanded relay state that the device has not
// confirmed yet
func (r *Registry) SetOptimistic(ctx context.Context, id, relay string, state bool) error {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	d := &r.devices[idx]
	if d.Pending == nil {
		d.Pending = map[string]bool{}
	}
	d.Pending[relay] = state
	r.mu.Unlock()

	return r.persist(ctx, id)
}

// ToggleTarget returns the state a toggle of relay should command
func (r *Registry) ToggleTarget(id, relay string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return false, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return !r.devices[idx].RelayState(relay), nil
}

// SweepTimeouts marks online devices that have not reported within
// timeout as offline and returns the devices that changed
func (r *Registry) SweepTimeouts(ctx context.Context, timeout time.Duration) []models.Device {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := r.now()

	r.mu.Lock()
	var changed []models.Device
	for i := range r.devices {
		d := &r.devices[i]
		if !d.Online {
			continue
		}
		if d.LastSeen == nil || now.Sub(*d.LastSeen) > timeout {
			d.Online = false
			changed = append(changed, d.Clone())
			log.Printf("REGISTRY: Device %s marked offline (timeout)", d.MACAddress)
		}
	}
	r.mu.Unlock()

	if len(changed) > 0 {
		if err := r.persist(ctx, ""); err != nil {
			log.Printf("REGISTRY: Failed to store swept devices: %v", err)
		}
	}
	return changed
}

// Add registers a device manually. The topic doubles as the MAC address.
func (r *Registry) Add(ctx context.Context, name, topic, ip string) (models.Device, error) {
	name, topic = strings.TrimSpace(name), strings.TrimSpace(topic)
	if name == "" || topic == "" {
		return models.Device{}, errors.New("name and topic are required")
	}
	d := models.Device{
		ID:         uuid.NewString(),
		MACAddress: topic,
		Name:       name,
		Topic:      topic,
		IPAddress:  strings.TrimSpace(ip),
		Relays:     map[string]bool{},
	}

	r.mu.Lock()
	r.devices = append(r.devices, d)
	r.mu.Unlock()

	log.Printf("REGISTRY: Device %s added manually", d.ID)
	return d.Clone(), r.persist(ctx, d.ID)
}

// Remove deletes a device
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	r.devices = append(r.devices[:idx], r.devices[idx+1:]...)
	r.mu.Unlock()

	log.Printf("REGISTRY: Device %s removed", id)
	return r.persist(ctx, id)
}

// Devices returns a copy of all devices
func (r *Registry) Devices() []models.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Device, len(r.devices))
	for i, d := range r.devices {
		out[i] = d.Clone()
	}
	return out
}

// Device returns a copy of the device with the given id
func (r *Registry) Device(id string) (models.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return models.Device{}, false
	}
	return r.devices[idx].Clone(), true
}

// Online returns the number of online devices
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.devices {
		if d.Online {
			n++
		}
	}
	return n
}

func (r *Registry) indexLocked(id string) int {
	for i, d := range r.devices {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) persist(ctx context.Context, id string) error {
	devices := r.Devices()
	// the change event goes out even if the write fails, in-memory state already moved
	defer r.bus.Publish(events.Event{Type: events.DevicesChanged, DeviceID: id})
	if err := r.repo.SaveDevices(ctx, devices); err != nil {
		return fmt.Errorf("save devices: %w", err)
	}
	return nil
}

func copyRelays(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

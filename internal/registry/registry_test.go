package registry

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

type fakeSubscriber struct {
	handlers map[string]mqtt.Handler
}

func (f *fakeSubscriber) Subscribe(pattern string, h mqtt.Handler) {
	if f.handlers == nil {
		f.handlers = map[string]mqtt.Handler{}
	}
	f.handlers[pattern] = h
}

type fakeRecorder struct {
	calls []string
}

func (f *fakeRecorder) RecordDeviceState(id string, _ map[string]bool) {
	f.calls = append(f.calls, id)
}

func newTestRegistry(t *testing.T) (*Registry, *store.Repository, *fakeSubscriber, *time.Time) {
	t.Helper()
	bus := events.NewBus()
	repo := store.NewRepository(store.NewMemoryStore(), bus)
	sub := &fakeSubscriber{}
	r := New(repo, bus, sub)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, repo, sub, &now
}

const discovery = `{"device":"esp32","name":"Hall","mac":"AABBCC112233","status":"online","ip":"192.168.1.20","rssi":-60,"relays":{"relay1":true,"relay2":false}}`

func TestDiscoverNewDevice(t *testing.T) {
	r, repo, sub, _ := newTestRegistry(t)

	r.HandleDeviceStatus("AABBCC112233/device/status", []byte(discovery))

	d, ok := r.Device("AABBCC112233")
	if !ok {
		t.Fatal("device not registered")
	}
	if d.Name != "Hall" || d.Topic != "AABBCC112233/relay" || d.IPAddress != "192.168.1.20" {
		t.Errorf("unexpected device %+v", d)
	}
	if !d.Online || d.RSSI == nil || *d.RSSI != -60 || !d.Relays["relay1"] {
		t.Errorf("unexpected device state %+v", d)
	}
	if _, ok := sub.handlers["AABBCC112233/status"]; !ok {
		t.Error("expected relay status subscription for new device")
	}
	if stored := repo.Devices(context.Background()); len(stored) != 1 {
		t.Errorf("expected device to be persisted, got %d", len(stored))
	}
}

func TestDiscoverUnnamedDeviceGetsDefaultName(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	r.HandleDeviceStatus("AABB/device/status", []byte(`{"status":"online"}`))

	d, _ := r.Device("AABB")
	if d.Name != "ESP32 Device" {
		t.Errorf("expected default name, got %q", d.Name)
	}
	if d.Relays == nil {
		t.Error("expected empty relay map")
	}
}

func TestMalformedPayloadsAreDropped(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	r.HandleDeviceStatus("AABB/device/status", []byte("not json"))
	if len(r.Devices()) != 0 {
		t.Fatal("malformed discovery must not register a device")
	}

	r.HandleDeviceStatus("AABB/device/status", []byte(discovery))
	r.HandleRelayStatus("AABB/status", []byte("{broken"))
	d, _ := r.Device("AABB")
	if !d.Relays["relay1"] {
		t.Error("malformed relay status must not change state")
	}
}

func TestOfflineNoticeKeepsRelays(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	r.HandleDeviceStatus("AABB/device/status", []byte(discovery))

	r.HandleDeviceStatus("AABB/device/status", []byte(`{"status":"offline"}`))
	d, _ := r.Device("AABB")
	if d.Online {
		t.Error("expected device offline")
	}
	if !d.Relays["relay1"] {
		t.Error("offline notice without relays must keep relay states")
	}

	r.HandleDeviceStatus("AABB/device/status", []byte(`{"status":"offline","relays":{"relay1":false}}`))
	d, _ = r.Device("AABB")
	if d.Relays["relay1"] {
		t.Error("offline notice with relays must replace relay states")
	}
}

func TestOfflineNoticeFromUnknownDeviceIgnored(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	r.HandleDeviceStatus("FFFF/device/status", []byte(`{"status":"offline"}`))
	if len(r.Devices()) != 0 {
		t.Error("unknown offline device must not be registered")
	}
}

func TestOptimisticThenConfirmed(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	rec := &fakeRecorder{}
	r.SetRecorder(rec)
	r.HandleDeviceStatus("AABB/device/status", []byte(discovery))
	ctx := context.Background()

	target, err := r.ToggleTarget("AABB", "relay2")
	if err != nil || !target {
		t.Fatalf("expected toggle target true, got %v %v", target, err)
	}
	if err := r.SetOptimistic(ctx, "AABB", "relay2", target); err != nil {
		t.Fatal(err)
	}
	d, _ := r.Device("AABB")
	if !d.RelayState("relay2") || d.Relays["relay2"] {
		t.Fatalf("expected pending true over confirmed false, got %+v", d)
	}

	r.HandleRelayStatus("AABB/status", []byte(`{"relay1":false,"relay2":false,"relay3":false,"relay4":false}`))
	d, _ = r.Device("AABB")
	if d.Pending != nil {
		t.Error("confirmed status must clear pending state")
	}
	if d.RelayState("relay2") || d.RelayState("relay1") {
		t.Errorf("expected confirmed states to win, got %+v", d.Relays)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "AABB" {
		t.Errorf("expected one history record, got %v", rec.calls)
	}
}

func TestUnknownDeviceErrors(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.ApplyRelayStatus(ctx, "nope", nil); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("ApplyRelayStatus: expected ErrUnknownDevice, got %v", err)
	}
	if err := r.SetOptimistic(ctx, "nope", "relay1", true); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("SetOptimistic: expected ErrUnknownDevice, got %v", err)
	}
	if err := r.Remove(ctx, "nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Remove: expected ErrUnknownDevice, got %v", err)
	}
}

func TestSweepTimeouts(t *testing.T) {
	r, _, _, now := newTestRegistry(t)
	r.HandleDeviceStatus("OLD/device/status", []byte(`{"status":"online"}`))
	*now = now.Add(90 * time.Second)
	r.HandleDeviceStatus("NEW/device/status", []byte(`{"status":"online"}`))
	*now = now.Add(60 * time.Second)

	changed := r.SweepTimeouts(context.Background(), 2*time.Minute)

	if len(changed) != 1 || changed[0].ID != "OLD" {
		t.Fatalf("expected only OLD to time out, got %+v", changed)
	}
	if d, _ := r.Device("OLD"); d.Online {
		t.Error("OLD should be offline")
	}
	if d, _ := r.Device("NEW"); !d.Online {
		t.Error("NEW should still be online")
	}
	if again := r.SweepTimeouts(context.Background(), 2*time.Minute); len(again) != 0 {
		t.Errorf("second sweep should change nothing, got %+v", again)
	}
}

func TestLoadMarksDevicesOffline(t *testing.T) {
	bus := events.NewBus()
	repo := store.NewRepository(store.NewMemoryStore(), bus)
	ctx := context.Background()
	repo.SaveDevices(ctx, []models.Device{
		{ID: "AABB", MACAddress: "AABB", Topic: "AABB/relay", Online: true},
		{ID: "1", MACAddress: "mosque/lights/hall", Topic: "mosque/lights/hall", Online: true},
	})
	sub := &fakeSubscriber{}

	r := New(repo, bus, sub)
	r.Load(ctx)

	for _, d := range r.Devices() {
		if d.Online {
			t.Errorf("device %s should start offline", d.ID)
		}
	}
	if _, ok := sub.handlers["AABB/status"]; !ok {
		t.Error("expected status subscription for stored relay controller")
	}
	if len(sub.handlers) != 1 {
		t.Errorf("legacy devices have no status topic, got %v", sub.handlers)
	}
}

func TestAddAndRemove(t *testing.T) {
	r, repo, _, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Add(ctx, "", "x", ""); err == nil {
		t.Error("expected error for missing name")
	}
	d, err := r.Add(ctx, "Hall", "mosque/lights/hall", "10.0.0.2")
	if err != nil {
		t.Fatal(err)
	}
	if d.ID == "" || d.MACAddress != "mosque/lights/hall" || d.Online {
		t.Errorf("unexpected device %+v", d)
	}
	if err := r.Remove(ctx, d.ID); err != nil {
		t.Fatal(err)
	}
	if len(repo.Devices(ctx)) != 0 {
		t.Error("expected removal to be persisted")
	}
}

func TestReloadOnExternalChange(t *testing.T) {
	bus := events.NewBus()
	mem := store.NewMemoryStore()
	repo := store.NewRepository(mem, bus)
	r := New(repo, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed, stop := bus.Subscribe(8, events.DevicesChanged)
	defer stop()
	r.Watch(ctx)
	if err := repo.Watch(ctx); err != nil {
		t.Fatal(err)
	}

	mem.PutExternal(store.KeyDevices, []byte(`[{"id":"EXT","macAddress":"EXT","topic":"EXT/relay"}]`))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-changed:
			if ev.External {
				if _, ok := r.Device("EXT"); !ok {
					t.Fatal("expected externally written device")
				}
				return
			}
		case <-deadline:
			t.Fatal("registry did not reload")
		}
	}
}

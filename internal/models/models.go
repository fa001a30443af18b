package models

import (
	"strings"
	"time"
)

// Prayer names that can carry an automation schedule
var Prayers = []string{"Fajr", "Dhuhr", "Asr", "Maghrib", "Isha"}

// ManualTestPrayer is the sentinel event name of ad-hoc test tasks
const ManualTestPrayer = "Manual Test"

// RelaysPerDevice is the number of relay channels on a relay controller
const RelaysPerDevice = 4

// Device represents a remote relay controller
type Device struct {
	ID         string          `json:"id"`
	MACAddress string          `json:"macAddress"`
	Name       string          `json:"name"`
	Topic      string          `json:"topic"`
	IPAddress  string          `json:"ipAddress"`
	Online     bool            `json:"online"`
	RSSI       *int            `json:"rssi,omitempty"`
	LastSeen   *time.Time      `json:"lastSeen,omitempty"`
	Relays     map[string]bool `json:"relays"`            // confirmed by the device
	Pending    map[string]bool `json:"pending,omitempty"` // optimistic, not yet confirmed
}

// RelayState returns the effective state of a relay, pending first
func (d Device) RelayState(relay string) bool {
	if v, ok := d.Pending[relay]; ok {
		return v
	}
	return d.Relays[relay]
}

// IsRelayController reports whether the device exposes relayN channels
func (d Device) IsRelayController() bool {
	return strings.Contains(d.Topic, "/relay")
}

// Clone returns a deep copy of the device
func (d Device) Clone() Device {
	c := d
	c.Relays = copyStates(d.Relays)
	c.Pending = copyStates(d.Pending)
	if d.RSSI != nil {
		v := *d.RSSI
		c.RSSI = &v
	}
	if d.LastSeen != nil {
		v := *d.LastSeen
		c.LastSeen = &v
	}
	return c
}

func copyStates(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RelayAction is a single relay command, Relay has the form "<device>/relayN"
type RelayAction struct {
	Relay string `json:"relay"`
	State bool   `json:"state"`
}

// Split returns the device id and relay name of the action
func (a RelayAction) Split() (deviceID, relay string, ok bool) {
	return SplitRelayKey(a.Relay)
}

// Command returns the MQTT payload for the desired state
func (a RelayAction) Command() string {
	return StateCommand(a.State)
}

// SplitRelayKey splits "<device>/relayN" into its parts
func SplitRelayKey(key string) (deviceID, relay string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// StateCommand converts a boolean state to the ON/OFF wire value
func StateCommand(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// PrayerSchedule is the automation rule of a single prayer
type PrayerSchedule struct {
	Prayer        string        `json:"prayer"`
	BeforeMinutes int           `json:"beforeMinutes"`
	BeforeActions []RelayAction `json:"beforeActions"`
	AfterMinutes  int           `json:"afterMinutes"`
	AfterActions  []RelayAction `json:"afterActions"`
}

// AutomationSettings holds the global switch and all prayer schedules
type AutomationSettings struct {
	Enabled   bool             `json:"enabled"`
	Schedules []PrayerSchedule `json:"schedules"`
}

// PrayerTime is a single event time record; Time is the base HH:MM
type PrayerTime struct {
	Name       string `json:"name"`
	NameArabic string `json:"nameArabic"`
	Time       string `json:"time"`
	Adjustment int    `json:"adjustment"`
}

// Location is a city selectable for prayer time calculation
type Location struct {
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PrayerSnapshot is the stored set of prayer times for one date
type PrayerSnapshot struct {
	Location    Location     `json:"location"`
	Date        string       `json:"date"` // YYYY-MM-DD
	LastFetch   time.Time    `json:"lastFetch"`
	PrayerTimes []PrayerTime `json:"prayerTimes"`
}

// Find returns the record with the given name
func (s PrayerSnapshot) Find(name string) (PrayerTime, bool) {
	for _, p := range s.PrayerTimes {
		if p.Name == name {
			return p, true
		}
	}
	return PrayerTime{}, false
}

// ScheduledTask is a concrete action list due at ExecutionTime
type ScheduledTask struct {
	ID            string        `json:"id"`
	Prayer        string        `json:"prayer"`
	ExecutionTime time.Time     `json:"executionTime"`
	Actions       []RelayAction `json:"actions"`
	Executed      bool          `json:"executed"`
}

// TestSchedule is the persisted ad-hoc ON/OFF test
type TestSchedule struct {
	OnTime     time.Time     `json:"onTime"`
	OffTime    time.Time     `json:"offTime"`
	OnActions  []RelayAction `json:"onActions"`
	OffActions []RelayAction `json:"offActions"`
}

// DeviceCustomization holds user chosen display names
type DeviceCustomization struct {
	DeviceName string            `json:"deviceName,omitempty"`
	RelayNames map[string]string `json:"relayNames,omitempty"`
}

// Zone is a controllable light or actuator
type Zone struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	State  bool   `json:"state"`
	Online bool   `json:"online"`
}

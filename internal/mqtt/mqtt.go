// Package mqtt routes broker messages to handlers registered by topic
// pattern and queues outbound messages while the broker is unreachable.
package mqtt

import (
	"strings"
)

// Topics used by the dashboard daemon
const (
	TopicDeviceDiscovery = "+/device/status"
	TopicWaterLevel      = "mosque/water/level"
	TopicElectricity     = "mosque/electricity/usage"
	TopicLightsStatus    = "mosque/lights/status"
	TopicPrayerAdjust    = "mosque/prayer/adjust/+"
)

// RelayCommandTopic returns "<device>/<relay>/set"
func RelayCommandTopic(deviceID, relay string) string {
	return deviceID + "/" + relay + "/set"
}

// RelayStatusTopic returns "<device>/status"
func RelayStatusTopic(deviceID string) string {
	return deviceID + "/status"
}

// LightZoneCommandTopic returns "mosque/lights/<zone>/set"
func LightZoneCommandTopic(zone string) string {
	return "mosque/lights/" + zone + "/set"
}

// PrayerAdjustTopic returns "mosque/prayer/adjust/<prayer>"
func PrayerAdjustTopic(prayer string) string {
	return "mosque/prayer/adjust/" + prayer
}

// Conn is a broker connection. Publish must not wait for acknowledgment.
type Conn interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
	Subscribe(pattern string) error
	Unsubscribe(pattern string) error
	Disconnect()
}

// Publisher sends a message to the broker
type Publisher interface {
	Publish(topic, payload string)
}

// Match reports whether topic matches pattern. "+" matches exactly one
// non-empty level, "#" matches the remaining levels including none and is
// only valid as the last level.
func Match(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, seg := range p {
		if seg == "#" {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if seg == "+" {
			if t[i] == "" {
				return false
			}
			continue
		}
		if seg != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}

package mqtt

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"+/device/status", "AABBCC112233/device/status", true},
		{"+/device/status", "a/b/device/status", false},
		{"+/device/status", "/device/status", false},
		{"mosque/lights/#", "mosque/lights/zone1/set", true},
		{"mosque/lights/#", "mosque/lights/zone1", true},
		{"mosque/lights/#", "mosque/lights", true},
		{"mosque/lights/#", "mosque/water/level", false},
		{"mosque/prayer/adjust/+", "mosque/prayer/adjust/Fajr", true},
		{"mosque/prayer/adjust/+", "mosque/prayer/adjust", false},
		{"mosque/water/level", "mosque/water/level", true},
		{"mosque/water/level", "mosque/water/level/x", false},
		{"#", "anything/at/all", true},
		{"a/#/b", "a/x", false},
		{"a/#/b", "a/x/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			if got := Match(tt.pattern, tt.topic); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopicBuilders(t *testing.T) {
	if got := RelayCommandTopic("AABB", "relay2"); got != "AABB/relay2/set" {
		t.Errorf("RelayCommandTopic: got %s", got)
	}
	if got := RelayStatusTopic("AABB"); got != "AABB/status" {
		t.Errorf("RelayStatusTopic: got %s", got)
	}
	if got := LightZoneCommandTopic("hall"); got != "mosque/lights/hall/set" {
		t.Errorf("LightZoneCommandTopic: got %s", got)
	}
	if !Match(TopicPrayerAdjust, PrayerAdjustTopic("Isha")) {
		t.Error("adjust topic does not match its subscription")
	}
}

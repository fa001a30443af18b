package utils

import (
	"fmt"
	"strings"
	"time"
)

// MinutesPerDay is the length of a day in minutes
const MinutesPerDay = 24 * 60

// DateLayout is the calendar date format used for snapshots
const DateLayout = "2006-01-02"

// ParseClock parses an "HH:MM" time of day into minutes since midnight
func ParseClock(value string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid time of day %q: hour=%d, minute=%d", value, hour, minute)
	}
	return hour*60 + minute, nil
}

// WrapMinutes folds any minute offset into [0, MinutesPerDay)
func WrapMinutes(minutes int) int {
	m := minutes % MinutesPerDay
	if m < 0 {
		m += MinutesPerDay
	}
	return m
}

// FormatClock formats minutes since midnight as "HH:MM", wrapping at day boundaries
func FormatClock(minutes int) string {
	m := WrapMinutes(minutes)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// AddMinutes shifts an "HH:MM" value by delta minutes, wrapping around midnight
func AddMinutes(value string, delta int) (string, error) {
	base, err := ParseClock(value)
	if err != nil {
		return "", err
	}
	return FormatClock(base + delta), nil
}

// AtClock returns the instant on day's calendar date at minutes after midnight.
// Minutes outside [0, MinutesPerDay) roll into the neighbouring day.
func AtClock(day time.Time, minutes int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, minutes, 0, 0, day.Location())
}

// DateKey returns the calendar date of t as YYYY-MM-DD
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDeviceID returns the first topic segment, which is the device id
// for "<device>/status" and "<device>/device/status"
func ParseDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 1 {
		return parts[0]
	}
	return ""
}

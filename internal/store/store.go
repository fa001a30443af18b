// Package store is the typed persistence layer. A Store is a plain
// key/value capability set (get, put, delete, watch); Repository layers the
// dashboard's JSON documents on top and announces every change on the bus.
package store

import (
	"context"
	"errors"
)

// Keys of the persisted documents
const (
	KeyDevices        = "mosque_esp32_devices"
	KeyPrayerTimes    = "mosque_prayer_times"
	KeyLocation       = "mosque_selected_location"
	KeyAutomation     = "mosque_prayer_automation"
	KeyTestSchedule   = "mosque_test_schedule"
	KeyCustomizations = "mosque_device_customizations"
)

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = errors.New("store: key not found")

// Store is a key/value backend
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Watch calls fn with the key of every change made by another process.
	// It returns once watching has started; watching stops with ctx.
	Watch(ctx context.Context, fn func(key string)) error
	Close() error
}

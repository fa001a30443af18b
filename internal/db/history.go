package db

import (
	"context"
	"log"
	"sync"
	"time"

	"mosque/internal/models"
)

const writeTimeout = 5 * time.Second

// History writes execution and device state history in the background.
// Failures are logged only.
type History struct {
	db  *DB
	wg  sync.WaitGroup
	now func() time.Time
}

// NewHistory creates a history writer over d
func NewHistory(d *DB) *History {
	return &History{db: d, now: time.Now}
}

// RecordExecution logs every action of an executed task
func (h *History) RecordExecution(task models.ScheduledTask) {
	at := h.now()
	h.async("task "+task.ID, func(ctx context.Context) error {
		for _, a := range task.Actions {
			err := h.db.LogExecution(ctx, ExecutionRecord{
				TaskID:     task.ID,
				Prayer:     task.Prayer,
				Relay:      a.Relay,
				State:      a.State,
				ExecutedAt: at,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordDeviceState logs a relay status report
func (h *History) RecordDeviceState(deviceID string, relays map[string]bool) {
	at := h.now()
	copied := make(map[string]bool, len(relays))
	for k, v := range relays {
		copied[k] = v
	}
	h.async("device "+deviceID, func(ctx context.Context) error {
		return h.db.LogDeviceState(ctx, deviceID, copied, at)
	})
}

// Wait blocks until pending writes finished
func (h *History) Wait() {
	h.wg.Wait()
}

func (h *History) async(what string, fn func(ctx context.Context) error) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("DB: Failed to write history for %s: %v", what, err)
		}
	}()
}

package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"mosque/internal/models"
)

// TypePrayerRefresh fetches and stores today's prayer times
const TypePrayerRefresh = "prayertimes:refresh"

// RefreshTaskPayload for refresh tasks; an empty City uses the selected location
type RefreshTaskPayload struct {
	City string
}

// Refresher is implemented by the event time store
type Refresher interface {
	FetchAndStore(ctx context.Context, city string) (*models.PrayerSnapshot, error)
}

// NewRefreshTask creates a prayer time refresh task
func NewRefreshTask(city string) (*asynq.Task, error) {
	payload, err := json.Marshal(RefreshTaskPayload{City: city})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePrayerRefresh, payload), nil
}

// Handlers holds the task handlers
type Handlers struct {
	prayers Refresher
}

// NewHandlers creates the task handlers
func NewHandlers(prayers Refresher) *Handlers {
	return &Handlers{prayers: prayers}
}

// HandleRefresh handles a prayer time refresh. A failed fetch is returned
// so asynq retries it; the stored snapshot stays in place meanwhile.
func (h *Handlers) HandleRefresh(ctx context.Context, t *asynq.Task) error {
	log.Printf("TASKQUEUE: Processing task %s", t.Type())
	var payload RefreshTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Printf("TASKQUEUE: Failed to unmarshal task payload: %v", err)
		return fmt.Errorf("decode refresh payload: %v: %w", err, asynq.SkipRetry)
	}

	snap, err := h.prayers.FetchAndStore(ctx, payload.City)
	if err != nil {
		log.Printf("TASKQUEUE: Prayer time refresh failed: %v", err)
		return err
	}
	log.Printf("TASKQUEUE: Stored %d prayer times for %s (%s)",
		len(snap.PrayerTimes), snap.Location.City, snap.Date)
	return nil
}

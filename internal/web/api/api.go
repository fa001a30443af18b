package api

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"mosque/internal/automation"
	"mosque/internal/db"
	"mosque/internal/events"
	"mosque/internal/models"
	"mosque/internal/prayertimes"
	"mosque/internal/registry"
	"mosque/internal/scheduler"
	"mosque/internal/telemetry"
)

// Broker reports the state of the MQTT connection
type Broker interface {
	IsConnected() bool
	Queued() int
}

// LocationLister lists the cities of the prayer time service
type LocationLister interface {
	Locations(ctx context.Context) ([]models.Location, error)
}

// HistoryReader reads execution history
type HistoryReader interface {
	RecentExecutions(ctx context.Context, limit int) ([]db.ExecutionRecord, error)
}

// Dependencies are the components served by the API. Locations, History
// and RequestRefresh may be nil.
type Dependencies struct {
	Registry       *registry.Registry
	Rules          *automation.RuleSet
	Scheduler      *scheduler.Scheduler
	Commands       *automation.Commands
	Prayers        *prayertimes.Store
	Locations      LocationLister
	Telemetry      *telemetry.Tracker
	History        HistoryReader
	Broker         Broker
	Bus            *events.Bus
	RequestRefresh func(city string)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownDevice),
		errors.Is(err, prayertimes.ErrNoSnapshot):
		return http.StatusNotFound
	case errors.Is(err, automation.ErrInvalidOffset),
		errors.Is(err, automation.ErrDuplicateAction),
		errors.Is(err, automation.ErrInvalidAction),
		errors.Is(err, automation.ErrUnknownPrayer),
		errors.Is(err, scheduler.ErrInvalidTest),
		errors.Is(err, scheduler.ErrInvalidDuration),
		errors.Is(err, prayertimes.ErrUnknownPrayer),
		errors.Is(err, registry.ErrInvalidZone):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("WEB: %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

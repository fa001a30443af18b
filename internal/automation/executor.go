package automation

import (
	"context"
	"log"

	"mosque/internal/models"
	"mosque/internal/mqtt"
)

// StateTracker is told about every relay command that was published
type StateTracker interface {
	SetOptimistic(ctx context.Context, id, relay string, state bool) error
}

// Commands publishes relay actions as "<device>/<relay>/set" ON/OFF messages
type Commands struct {
	pub     mqtt.Publisher
	tracker StateTracker
}

// NewCommands creates a command publisher
func NewCommands(pub mqtt.Publisher) *Commands {
	return &Commands{pub: pub}
}

// SetTracker makes every sent action update tracker optimistically
func (c *Commands) SetTracker(tracker StateTracker) {
	c.tracker = tracker
}

// Send publishes a single relay action. Malformed relay keys are logged
// and skipped.
func (c *Commands) Send(action models.RelayAction) bool {
	device, relay, ok := action.Split()
	if !ok {
		log.Printf("AUTOMATION: Skipping action with malformed relay %q", action.Relay)
		return false
	}
	topic := mqtt.RelayCommandTopic(device, relay)
	log.Printf("AUTOMATION: Publishing %s to %s", action.Command(), topic)
	c.pub.Publish(topic, action.Command())
	if c.tracker != nil {
		if err := c.tracker.SetOptimistic(context.Background(), device, relay, action.State); err != nil {
			log.Printf("AUTOMATION: No optimistic update for %s: %v", action.Relay, err)
		}
	}
	return true
}

// ExecuteActions publishes actions in list order without waiting for
// acknowledgment and returns how many were sent
func (c *Commands) ExecuteActions(actions []models.RelayAction) int {
	log.Printf("AUTOMATION: Executing %d actions", len(actions))
	sent := 0
	for _, a := range actions {
		if c.Send(a) {
			sent++
		}
	}
	return sent
}

// Raw publishes an arbitrary command, used for legacy light zones
func (c *Commands) Raw(topic, payload string) {
	log.Printf("AUTOMATION: Publishing %s to %s", payload, topic)
	c.pub.Publish(topic, payload)
}

package automation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"mosque/internal/models"
	"mosque/internal/store"
)

// Offset limits and defaults in minutes
const (
	MaxOffsetMinutes     = 120
	DefaultBeforeMinutes = 5
	DefaultAfterMinutes  = 30
)

var (
	// ErrInvalidOffset is returned for an offset outside [0, MaxOffsetMinutes]
	ErrInvalidOffset = errors.New("offset must be between 0 and 120 minutes")
	// ErrDuplicateAction is returned when a relay already has an action in the list
	ErrDuplicateAction = errors.New("relay already has an action in this list")
	// ErrInvalidAction is returned for an action whose relay is not "<device>/relayN"
	ErrInvalidAction = errors.New("relay must have the form <device>/<relay>")
	// ErrUnknownPrayer is returned for a schedule of a prayer that cannot be automated
	ErrUnknownPrayer = errors.New("unknown prayer")
)

// Phase selects the before or after action list of a schedule
type Phase string

const (
	Before Phase = "before"
	After  Phase = "after"
)

// Defaults returns disabled settings with an empty schedule per prayer
func Defaults() models.AutomationSettings {
	s := models.AutomationSettings{Enabled: false}
	for _, p := range models.Prayers {
		s.Schedules = append(s.Schedules, defaultSchedule(p))
	}
	return s
}

func defaultSchedule(prayer string) models.PrayerSchedule {
	return models.PrayerSchedule{
		Prayer:        prayer,
		BeforeMinutes: DefaultBeforeMinutes,
		BeforeActions: []models.RelayAction{},
		AfterMinutes:  DefaultAfterMinutes,
		AfterActions:  []models.RelayAction{},
	}
}

// Normalize returns settings with exactly one schedule per prayer in
// prayer order. Missing schedules get defaults, unknown prayers are dropped
// and repeated schedules of a prayer keep the first.
func Normalize(s models.AutomationSettings) models.AutomationSettings {
	byPrayer := make(map[string]models.PrayerSchedule, len(s.Schedules))
	for _, sched := range s.Schedules {
		if _, seen := byPrayer[sched.Prayer]; !seen {
			byPrayer[sched.Prayer] = sched
		}
	}

	out := models.AutomationSettings{Enabled: s.Enabled}
	for _, p := range models.Prayers {
		sched, ok := byPrayer[p]
		if !ok {
			sched = defaultSchedule(p)
		}
		if sched.BeforeActions == nil {
			sched.BeforeActions = []models.RelayAction{}
		}
		if sched.AfterActions == nil {
			sched.AfterActions = []models.RelayAction{}
		}
		out.Schedules = append(out.Schedules, sched)
	}
	return out
}

// Validate checks offsets and action lists of every schedule
func Validate(s models.AutomationSettings) error {
	for _, sched := range s.Schedules {
		if !knownPrayer(sched.Prayer) {
			return fmt.Errorf("%w: %s", ErrUnknownPrayer, sched.Prayer)
		}
		if err := validateOffset(sched.BeforeMinutes); err != nil {
			return fmt.Errorf("%s before: %w", sched.Prayer, err)
		}
		if err := validateOffset(sched.AfterMinutes); err != nil {
			return fmt.Errorf("%s after: %w", sched.Prayer, err)
		}
		if err := validateActions(sched.BeforeActions); err != nil {
			return fmt.Errorf("%s before: %w", sched.Prayer, err)
		}
		if err := validateActions(sched.AfterActions); err != nil {
			return fmt.Errorf("%s after: %w", sched.Prayer, err)
		}
	}
	return nil
}

func knownPrayer(name string) bool {
	for _, p := range models.Prayers {
		if p == name {
			return true
		}
	}
	return false
}

func validateOffset(minutes int) error {
	if minutes < 0 || minutes > MaxOffsetMinutes {
		return fmt.Errorf("%w: got %d", ErrInvalidOffset, minutes)
	}
	return nil
}

func validateActions(actions []models.RelayAction) error {
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if _, _, ok := a.Split(); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidAction, a.Relay)
		}
		if seen[a.Relay] {
			return fmt.Errorf("%w: %s", ErrDuplicateAction, a.Relay)
		}
		seen[a.Relay] = true
	}
	return nil
}

// RuleSet is the persisted automation rule set. Every mutation is
// validated before it is stored.
type RuleSet struct {
	mu   sync.Mutex
	repo *store.Repository
}

// NewRuleSet creates a rule set stored in repo
func NewRuleSet(repo *store.Repository) *RuleSet {
	return &RuleSet{repo: repo}
}

// Settings returns the stored settings, or the defaults when none are stored
func (r *RuleSet) Settings(ctx context.Context) models.AutomationSettings {
	s, ok := r.repo.AutomationSettings(ctx)
	if !ok {
		return Defaults()
	}
	return Normalize(s)
}

// Replace validates and stores a complete settings document
func (r *RuleSet) Replace(ctx context.Context, s models.AutomationSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := Validate(s); err != nil {
		return err
	}
	return r.store(ctx, Normalize(s))
}

// SetEnabled flips the global switch
func (r *RuleSet) SetEnabled(ctx context.Context, enabled bool) error {
	return r.mutate(ctx, func(s *models.AutomationSettings) error {
		s.Enabled = enabled
		log.Printf("AUTOMATION: Automation enabled=%t", enabled)
		return nil
	})
}

// SetOffset sets the before or after offset of a prayer
func (r *RuleSet) SetOffset(ctx context.Context, prayer string, phase Phase, minutes int) error {
	if err := validateOffset(minutes); err != nil {
		return err
	}
	return r.mutate(ctx, func(s *models.AutomationSettings) error {
		sched, err := schedule(s, prayer)
		if err != nil {
			return err
		}
		if phase == Before {
			sched.BeforeMinutes = minutes
		} else {
			sched.AfterMinutes = minutes
		}
		return nil
	})
}

// AddAction appends an action; a relay may appear once per list
func (r *RuleSet) AddAction(ctx context.Context, prayer string, phase Phase, action models.RelayAction) error {
	if err := validateActions([]models.RelayAction{action}); err != nil {
		return err
	}
	return r.mutate(ctx, func(s *models.AutomationSettings) error {
		sched, err := schedule(s, prayer)
		if err != nil {
			return err
		}
		list := actionList(sched, phase)
		for _, a := range *list {
			if a.Relay == action.Relay {
				return fmt.Errorf("%w: %s", ErrDuplicateAction, action.Relay)
			}
		}
		*list = append(*list, action)
		return nil
	})
}

// RemoveAction removes the action of relay from a list
func (r *RuleSet) RemoveAction(ctx context.Context, prayer string, phase Phase, relay string) error {
	return r.mutate(ctx, func(s *models.AutomationSettings) error {
		sched, err := schedule(s, prayer)
		if err != nil {
			return err
		}
		list := actionList(sched, phase)
		kept := (*list)[:0]
		for _, a := range *list {
			if a.Relay != relay {
				kept = append(kept, a)
			}
		}
		*list = kept
		return nil
	})
}

func (r *RuleSet) mutate(ctx context.Context, fn func(s *models.AutomationSettings) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.Settings(ctx)
	if err := fn(&s); err != nil {
		return err
	}
	return r.store(ctx, s)
}

func (r *RuleSet) store(ctx context.Context, s models.AutomationSettings) error {
	if err := r.repo.SaveAutomationSettings(ctx, s); err != nil {
		return fmt.Errorf("save automation settings: %w", err)
	}
	return nil
}

func schedule(s *models.AutomationSettings, prayer string) (*models.PrayerSchedule, error) {
	for i := range s.Schedules {
		if s.Schedules[i].Prayer == prayer {
			return &s.Schedules[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPrayer, prayer)
}

func actionList(sched *models.PrayerSchedule, phase Phase) *[]models.RelayAction {
	if phase == Before {
		return &sched.BeforeActions
	}
	return &sched.AfterActions
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mosque/internal/automation"
	"mosque/internal/events"
	"mosque/internal/models"
	"mosque/internal/store"
	"mosque/internal/utils"
)

const (
	// DefaultTick is the period of the execution tick
	DefaultTick = 30 * time.Second
	// FireWindow is the tolerance on either side of a task's instant
	FireWindow = 30 * time.Second
	// Retention bounds how long executed tasks and ids are kept
	Retention = 24 * time.Hour
	// MaxPulseSeconds bounds a duration pulse
	MaxPulseSeconds = 300
)

var (
	// ErrInvalidTest is returned for an ad-hoc test that cannot be scheduled
	ErrInvalidTest = errors.New("invalid test schedule")
	// ErrInvalidDuration is returned for a pulse outside 1..300 seconds
	ErrInvalidDuration = errors.New("duration must be between 1 and 300 seconds")
)

// PrayerSource provides today's prayer times with adjustments applied
type PrayerSource interface {
	Adjusted(ctx context.Context) []models.PrayerTime
}

// HistoryRecorder receives fired tasks
type HistoryRecorder interface {
	RecordExecution(task models.ScheduledTask)
}

// Deps are the collaborators of the scheduler
type Deps struct {
	Rules    *automation.RuleSet
	Prayers  PrayerSource
	Repo     *store.Repository
	Commands *automation.Commands
	Bus      *events.Bus
	History  HistoryRecorder
}

// Scheduler owns the day's task queue and fires due tasks on a cron tick.
// Other periodic jobs of the daemon are registered on the same cron.
type Scheduler struct {
	cron      *cron.Cron
	jobMap    map[string]cron.EntryID // job name to cron entry
	jobMapMux sync.RWMutex            // protects jobMap

	mu           sync.Mutex // protects the queue state below
	tasks        []models.ScheduledTask
	generatedFor string
	fired        map[string]time.Time // executed task ids

	deps      Deps
	tick      time.Duration
	loc       *time.Location
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler; tick <= 0 uses DefaultTick
func NewScheduler(deps Deps, tick time.Duration, loc *time.Location) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(loc)),
		jobMap:    make(map[string]cron.EntryID),
		fired:     make(map[string]time.Time),
		deps:      deps,
		tick:      tick,
		loc:       loc,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Start generates today's schedule, runs a first check and starts the tick
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.Generate(ctx, false)
	s.Tick(ctx)

	spec := fmt.Sprintf("@every %s", s.tick)
	if _, err := s.AddJob("automation-tick", spec, func() {
		utils.Debugf("SCHEDULER: Running scheduled check")
		s.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("add tick job: %w", err)
	}

	s.watch(ctx)
	s.cron.Start()
	log.Println("SCHEDULER: Cron scheduler started")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("SCHEDULER: Cron scheduler stopped")
}

// AddJob adds a named cron job, replacing a job of the same name
func (s *Scheduler) AddJob(name, spec string, fn func()) (cron.EntryID, error) {
	s.RemoveJob(name)
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return 0, err
	}
	s.jobMapMux.Lock()
	s.jobMap[name] = id
	s.jobMapMux.Unlock()
	log.Printf("SCHEDULER: Added job %s with spec '%s' (entry ID: %d)", name, spec, id)
	return id, nil
}

// RemoveJob removes a named job
func (s *Scheduler) RemoveJob(name string) {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()
	if id, ok := s.jobMap[name]; ok {
		s.cron.Remove(id)
		delete(s.jobMap, name)
	}
}

// GetScheduledJobCount returns the number of registered cron jobs
func (s *Scheduler) GetScheduledJobCount() int {
	s.jobMapMux.RLock()
	defer s.jobMapMux.RUnlock()
	return len(s.jobMap)
}

// watch regenerates the schedule when settings, prayer times or the
// ad-hoc test change, in this process or another
func (s *Scheduler) watch(ctx context.Context) {
	ch, cancel := s.deps.Bus.Subscribe(32, events.KeyChanged)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				switch ev.Key {
				case store.KeyAutomation, store.KeyPrayerTimes, store.KeyTestSchedule:
					log.Printf("SCHEDULER: %s changed, regenerating schedule", ev.Key)
					s.Generate(ctx, true)
				}
			}
		}
	}()
}

// Generate rebuilds the day's task queue. Unless forced, an existing queue
// of today only gets the ad-hoc test merged in.
func (s *Scheduler) Generate(ctx context.Context, force bool) {
	now := s.now().In(s.loc)
	today := utils.DateKey(now)

	s.mu.Lock()
	skip := !force && s.generatedFor == today && len(s.tasks) > 0
	s.mu.Unlock()

	testTasks := s.testTasks(ctx, now)

	if skip {
		s.mu.Lock()
		s.mergeLocked(testTasks)
		s.mu.Unlock()
		return
	}

	var tasks []models.ScheduledTask
	settings := s.deps.Rules.Settings(ctx)
	if settings.Enabled {
		tasks = automation.ExtractTasks(settings, s.deps.Prayers.Adjusted(ctx), now)
	} else {
		log.Printf("SCHEDULER: Automation disabled, skipping prayer tasks")
	}

	s.mu.Lock()
	// On a new day, pending tasks of the previous queue that are not due
	// yet (offsets past midnight) are kept.
	var carried []models.ScheduledTask
	if s.generatedFor != "" && s.generatedFor != today {
		for _, t := range s.tasks {
			if !t.Executed && t.ExecutionTime.Sub(now) > -FireWindow {
				carried = append(carried, t)
			}
		}
	}
	s.tasks = nil
	s.generatedFor = today
	s.mergeLocked(carried)
	s.mergeLocked(tasks)
	s.mergeLocked(testTasks)
	count := len(s.tasks)
	snapshot := append([]models.ScheduledTask(nil), s.tasks...)
	s.mu.Unlock()

	log.Printf("SCHEDULER: Generated %d tasks for %s", count, today)
	for _, t := range snapshot {
		utils.Debugf("SCHEDULER:   - %s at %s: %d action(s), executed=%t",
			t.Prayer, t.ExecutionTime.Format("15:04:05"), len(t.Actions), t.Executed)
	}
	s.deps.Bus.Publish(events.Event{Type: events.ScheduleGenerated})
}

// mergeLocked adds tasks whose id is not queued yet and keeps the queue
// sorted. Tasks that already fired are added as executed.
func (s *Scheduler) mergeLocked(tasks []models.ScheduledTask) {
	queued := make(map[string]bool, len(s.tasks))
	for _, t := range s.tasks {
		queued[t.ID] = true
	}
	for _, t := range tasks {
		if queued[t.ID] {
			continue
		}
		if _, done := s.fired[t.ID]; done {
			t.Executed = true
		}
		s.tasks = append(s.tasks, t)
		queued[t.ID] = true
	}
	sort.SliceStable(s.tasks, func(i, j int) bool {
		return s.tasks[i].ExecutionTime.Before(s.tasks[j].ExecutionTime)
	})
}

// testTasks loads the ad-hoc test and returns its future halves. A test
// that is entirely in the past is deleted.
func (s *Scheduler) testTasks(ctx context.Context, now time.Time) []models.ScheduledTask {
	ts := s.deps.Repo.TestSchedule(ctx)
	if ts == nil {
		return nil
	}

	var tasks []models.ScheduledTask
	if ts.OnTime.After(now) {
		tasks = append(tasks, models.ScheduledTask{
			ID:            fmt.Sprintf("test-on-%d", ts.OnTime.Unix()),
			Prayer:        models.ManualTestPrayer,
			ExecutionTime: ts.OnTime.In(s.loc),
			Actions:       ts.OnActions,
		})
	}
	if ts.OffTime.After(now) {
		tasks = append(tasks, models.ScheduledTask{
			ID:            fmt.Sprintf("test-off-%d", ts.OffTime.Unix()),
			Prayer:        models.ManualTestPrayer,
			ExecutionTime: ts.OffTime.In(s.loc),
			Actions:       ts.OffActions,
		})
	}
	if len(tasks) == 0 {
		log.Printf("SCHEDULER: Test schedule expired, removing")
		if err := s.deps.Repo.DeleteTestSchedule(ctx); err != nil {
			log.Printf("SCHEDULER: Failed to remove expired test schedule: %v", err)
		}
	}
	return tasks
}

// Tick fires every pending task due within the fire window and purges
// tasks that executed more than a day ago. Due tasks are claimed under
// the queue lock, so overlapping ticks fire a task at most once.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().In(s.loc)

	s.mu.Lock()
	stale := s.generatedFor != utils.DateKey(now)
	s.mu.Unlock()
	if stale {
		log.Printf("SCHEDULER: New day detected, regenerating schedule")
		s.Generate(ctx, true)
	}

	s.mu.Lock()
	var due []models.ScheduledTask
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.Executed {
			continue
		}
		delta := t.ExecutionTime.Sub(now)
		utils.Debugf("SCHEDULER:   Task %s at %s, time diff: %.0fs",
			t.Prayer, t.ExecutionTime.Format("15:04:05"), delta.Seconds())
		if delta > -FireWindow && delta <= FireWindow {
			t.Executed = true
			s.fired[t.ID] = t.ExecutionTime
			due = append(due, *t)
		}
	}

	cutoff := now.Add(-Retention)
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.Executed && t.ExecutionTime.Before(cutoff) {
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
	for id, at := range s.fired {
		if at.Before(cutoff) {
			delete(s.fired, id)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		log.Printf("SCHEDULER: Executing task for %s (%d actions)", t.Prayer, len(t.Actions))
		s.deps.Commands.ExecuteActions(t.Actions)
		if s.deps.History != nil {
			s.deps.History.RecordExecution(t)
		}
		s.deps.Bus.Publish(events.Event{Type: events.TaskExecuted, TaskID: t.ID})
	}
	if len(due) > 0 {
		log.Printf("SCHEDULER: Executed %d task(s)", len(due))
	}
}

// ScheduleTest stores an ad-hoc test switching relays ON at on and OFF at off
func (s *Scheduler) ScheduleTest(ctx context.Context, on, off time.Time, relays []string) error {
	now := s.now()
	if len(relays) == 0 {
		return fmt.Errorf("%w: select at least one relay", ErrInvalidTest)
	}
	if !on.After(now) {
		return fmt.Errorf("%w: ON time must be in the future", ErrInvalidTest)
	}
	if !off.After(on) {
		return fmt.Errorf("%w: OFF time must be after ON time", ErrInvalidTest)
	}

	ts := models.TestSchedule{OnTime: on, OffTime: off}
	seen := make(map[string]bool, len(relays))
	for _, relay := range relays {
		if _, _, ok := models.SplitRelayKey(relay); !ok {
			return fmt.Errorf("%w: invalid relay %q", ErrInvalidTest, relay)
		}
		if seen[relay] {
			continue
		}
		seen[relay] = true
		ts.OnActions = append(ts.OnActions, models.RelayAction{Relay: relay, State: true})
		ts.OffActions = append(ts.OffActions, models.RelayAction{Relay: relay, State: false})
	}

	if err := s.deps.Repo.SaveTestSchedule(ctx, ts); err != nil {
		return fmt.Errorf("save test schedule: %w", err)
	}
	log.Printf("SCHEDULER: Test scheduled: ON at %s, OFF at %s", on.Format(time.RFC3339), off.Format(time.RFC3339))
	s.Generate(ctx, true)
	return nil
}

// CancelTest deletes the ad-hoc test. Tasks that already fired stay executed.
func (s *Scheduler) CancelTest(ctx context.Context) error {
	if err := s.deps.Repo.DeleteTestSchedule(ctx); err != nil {
		return fmt.Errorf("delete test schedule: %w", err)
	}
	log.Printf("SCHEDULER: Test cancelled")
	s.Generate(ctx, true)
	return nil
}

// DurationPulse switches relay ON now and OFF after seconds. The pulse is
// not queued or persisted.
func (s *Scheduler) DurationPulse(relay string, seconds int) error {
	if seconds < 1 || seconds > MaxPulseSeconds {
		return fmt.Errorf("%w: got %d", ErrInvalidDuration, seconds)
	}
	if _, _, ok := models.SplitRelayKey(relay); !ok {
		return fmt.Errorf("%w: %q", automation.ErrInvalidAction, relay)
	}

	log.Printf("SCHEDULER: Starting duration test for %s - %ds", relay, seconds)
	s.deps.Commands.Send(models.RelayAction{Relay: relay, State: true})
	s.afterFunc(time.Duration(seconds)*time.Second, func() {
		log.Printf("SCHEDULER: Duration test complete, turning OFF %s", relay)
		s.deps.Commands.Send(models.RelayAction{Relay: relay, State: false})
	})
	return nil
}

// Upcoming returns up to n pending tasks that are still in the future
func (s *Scheduler) Upcoming(n int) []models.ScheduledTask {
	if n <= 0 {
		n = 5
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledTask
	for _, t := range s.tasks {
		if len(out) == n {
			break
		}
		if !t.Executed && t.ExecutionTime.After(now) {
			out = append(out, cloneTask(t))
		}
	}
	return out
}

// Executed returns the tasks that fired
func (s *Scheduler) Executed() []models.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ScheduledTask
	for _, t := range s.tasks {
		if t.Executed {
			out = append(out, cloneTask(t))
		}
	}
	return out
}

// Today returns the whole queue
func (s *Scheduler) Today() []models.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScheduledTask, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = cloneTask(t)
	}
	return out
}

func cloneTask(t models.ScheduledTask) models.ScheduledTask {
	t.Actions = append([]models.RelayAction(nil), t.Actions...)
	return t
}

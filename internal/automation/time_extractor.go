package automation

import (
	"fmt"
	"log"
	"time"

	"mosque/internal/models"
	"mosque/internal/utils"
)

// TaskID returns the deterministic id of a rule derived task
func TaskID(day time.Time, prayer string, phase Phase) string {
	return fmt.Sprintf("%s-%s-%s", utils.DateKey(day), prayer, phase)
}

// ExtractTasks derives the day's tasks from the schedules and the
// (adjusted) prayer times. A schedule whose prayer has no time record is
// skipped. Before and after tasks are created only for non-empty lists.
func ExtractTasks(s models.AutomationSettings, times []models.PrayerTime, day time.Time) []models.ScheduledTask {
	byName := make(map[string]string, len(times))
	for _, p := range times {
		byName[p.Name] = p.Time
	}

	var tasks []models.ScheduledTask
	for _, sched := range s.Schedules {
		clock, ok := byName[sched.Prayer]
		if !ok {
			log.Printf("TIME_EXTRACTOR: Prayer time not found for %s", sched.Prayer)
			continue
		}
		minutes, err := utils.ParseClock(clock)
		if err != nil {
			log.Printf("TIME_EXTRACTOR: Failed to parse time of %s: %v", sched.Prayer, err)
			continue
		}

		if len(sched.BeforeActions) > 0 {
			tasks = append(tasks, models.ScheduledTask{
				ID:            TaskID(day, sched.Prayer, Before),
				Prayer:        sched.Prayer,
				ExecutionTime: utils.AtClock(day, minutes-sched.BeforeMinutes),
				Actions:       append([]models.RelayAction(nil), sched.BeforeActions...),
			})
		}
		if len(sched.AfterActions) > 0 {
			tasks = append(tasks, models.ScheduledTask{
				ID:            TaskID(day, sched.Prayer, After),
				Prayer:        sched.Prayer,
				ExecutionTime: utils.AtClock(day, minutes+sched.AfterMinutes),
				Actions:       append([]models.RelayAction(nil), sched.AfterActions...),
			})
		}
	}
	return tasks
}

// Package prayertimes keeps the daily prayer time snapshot, its manual
// adjustments and its refresh from the calculation service.
package prayertimes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"mosque/internal/models"
	"mosque/internal/store"
	"mosque/internal/utils"
)

// PrimaryPrayer marks the start of a new prayer day
const PrimaryPrayer = "Fajr"

var (
	// ErrNoSnapshot is returned when no prayer times have been stored yet
	ErrNoSnapshot = errors.New("no prayer times stored")
	// ErrUnknownPrayer is returned for a prayer name missing from the snapshot
	ErrUnknownPrayer = errors.New("unknown prayer")
)

// Fetcher retrieves base prayer times for a city
type Fetcher interface {
	PrayerTimes(ctx context.Context, city string) ([]models.PrayerTime, error)
}

// Store is the event time store
type Store struct {
	mu          sync.Mutex // serializes read-modify-write of the snapshot
	repo        *store.Repository
	fetcher     Fetcher
	defaultCity string
	loc         *time.Location
	now         func() time.Time
}

// NewStore creates a store. fetcher may be nil when no calculation
// service is configured.
func NewStore(repo *store.Repository, fetcher Fetcher, defaultCity string, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		repo:        repo,
		fetcher:     fetcher,
		defaultCity: defaultCity,
		loc:         loc,
		now:         time.Now,
	}
}

// Get returns the stored snapshot with base times, nil when none
func (s *Store) Get(ctx context.Context) *models.PrayerSnapshot {
	return s.repo.PrayerSnapshot(ctx)
}

// Save stores a snapshot
func (s *Store) Save(ctx context.Context, snap models.PrayerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.SavePrayerSnapshot(ctx, snap)
}

// NeedsRefresh reports whether the snapshot is missing, or is from another
// date while today's Fajr has already passed.
func (s *Store) NeedsRefresh(ctx context.Context, now time.Time) bool {
	snap := s.repo.PrayerSnapshot(ctx)
	if snap == nil {
		log.Printf("PRAYER: No stored prayer times, refresh needed")
		return true
	}
	now = now.In(s.loc)
	if snap.Date == utils.DateKey(now) {
		return false
	}
	primary, ok := snap.Find(PrimaryPrayer)
	if !ok {
		return false
	}
	minutes, err := utils.ParseClock(primary.Time)
	if err != nil {
		log.Printf("PRAYER: Stored %s time unusable: %v", PrimaryPrayer, err)
		return false
	}
	if now.After(utils.AtClock(now, minutes)) {
		log.Printf("PRAYER: New day and after %s, refresh needed", PrimaryPrayer)
		return true
	}
	return false
}

// ApplyAdjustments returns base with the stored adjustment of each prayer
// added to its time. The base records are not modified.
func (s *Store) ApplyAdjustments(ctx context.Context, base []models.PrayerTime) []models.PrayerTime {
	adjustments := map[string]int{}
	if snap := s.repo.PrayerSnapshot(ctx); snap != nil {
		for _, p := range snap.PrayerTimes {
			adjustments[p.Name] = p.Adjustment
		}
	}

	out := make([]models.PrayerTime, len(base))
	for i, p := range base {
		out[i] = p
		out[i].Adjustment = 0
		adj := adjustments[p.Name]
		if adj == 0 {
			continue
		}
		t, err := utils.AddMinutes(p.Time, adj)
		if err != nil {
			log.Printf("PRAYER: Cannot adjust %s: %v", p.Name, err)
			continue
		}
		out[i].Time = t
		out[i].Adjustment = adj
	}
	return out
}

// Adjusted returns the stored prayer times with adjustments applied
func (s *Store) Adjusted(ctx context.Context) []models.PrayerTime {
	snap := s.repo.PrayerSnapshot(ctx)
	if snap == nil {
		return nil
	}
	return s.ApplyAdjustments(ctx, snap.PrayerTimes)
}

// UpdateAdjustment adds delta minutes to the adjustment of one prayer.
// The base time is left untouched.
func (s *Store) UpdateAdjustment(ctx context.Context, name string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.repo.PrayerSnapshot(ctx)
	if snap == nil {
		return ErrNoSnapshot
	}
	found := false
	for i := range snap.PrayerTimes {
		if snap.PrayerTimes[i].Name == name {
			snap.PrayerTimes[i].Adjustment += delta
			found = true
			log.Printf("PRAYER: Adjusted %s by %d minutes, total adjustment %d",
				name, delta, snap.PrayerTimes[i].Adjustment)
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownPrayer, name)
	}
	return s.repo.SavePrayerSnapshot(ctx, *snap)
}

// HandleAdjust processes "mosque/prayer/adjust/<prayer>" messages whose
// payload is a signed number of minutes
func (s *Store) HandleAdjust(topic string, payload []byte) {
	name := topic[strings.LastIndex(topic, "/")+1:]
	delta, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		log.Printf("PRAYER: Invalid adjustment %q for %s", payload, name)
		return
	}
	if err := s.UpdateAdjustment(context.Background(), name, delta); err != nil {
		log.Printf("PRAYER: Adjustment of %s dropped: %v", name, err)
	}
}

// Location returns the selected location, falling back to the default city
func (s *Store) Location(ctx context.Context) models.Location {
	if loc := s.repo.Location(ctx); loc != nil {
		return *loc
	}
	return models.Location{City: s.defaultCity}
}

// SetLocation stores the selected location
func (s *Store) SetLocation(ctx context.Context, loc models.Location) error {
	loc.City = strings.TrimSpace(loc.City)
	if loc.City == "" {
		return errors.New("city is required")
	}
	return s.repo.SaveLocation(ctx, loc)
}

// FetchAndStore fetches today's times for city (the selected location when
// empty), keeps the existing adjustments and stores the new snapshot. On
// failure the stored snapshot stays in place.
func (s *Store) FetchAndStore(ctx context.Context, city string) (*models.PrayerSnapshot, error) {
	if s.fetcher == nil {
		return nil, errors.New("no prayer time service configured")
	}
	loc := s.Location(ctx)
	if city != "" && !strings.EqualFold(city, loc.City) {
		loc = models.Location{City: city}
	}
	if loc.City == "" {
		return nil, errors.New("no location selected")
	}

	log.Printf("PRAYER: Fetching prayer times for %s", loc.City)
	fetched, err := s.fetcher.PrayerTimes(ctx, loc.City)
	if err != nil {
		return nil, fmt.Errorf("fetch prayer times for %s: %w", loc.City, err)
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("fetch prayer times for %s: empty response", loc.City)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := map[string]int{}
	if prev := s.repo.PrayerSnapshot(ctx); prev != nil {
		for _, p := range prev.PrayerTimes {
			existing[p.Name] = p.Adjustment
		}
	}
	for i := range fetched {
		fetched[i].Adjustment = existing[fetched[i].Name]
	}

	now := s.now().In(s.loc)
	snap := models.PrayerSnapshot{
		Location:    loc,
		Date:        utils.DateKey(now),
		LastFetch:   now,
		PrayerTimes: fetched,
	}
	if err := s.repo.SavePrayerSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	log.Printf("PRAYER: Stored %d prayer times for %s on %s", len(fetched), loc.City, snap.Date)
	return &snap, nil
}

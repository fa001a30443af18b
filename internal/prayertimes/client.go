package prayertimes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mosque/internal/models"
	"mosque/internal/utils"
)

// Client talks to the prayer time calculation service
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type prayerTimesResponse struct {
	PrayerTimes []struct {
		Name       string `json:"name"`
		NameArabic string `json:"nameArabic"`
		Time       string `json:"time"`
	} `json:"prayerTimes"`
}

type locationsResponse struct {
	Locations []struct {
		City        string  `json:"city"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Coordinates *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"coordinates"`
	} `json:"locations"`
}

// PrayerTimes returns today's base times for city. Times are normalized
// to HH:MM; records with an unparseable time are skipped.
func (c *Client) PrayerTimes(ctx context.Context, city string) ([]models.PrayerTime, error) {
	var resp prayerTimesResponse
	if err := c.get(ctx, "/api/prayer-times?city="+url.QueryEscape(city), &resp); err != nil {
		return nil, err
	}

	out := make([]models.PrayerTime, 0, len(resp.PrayerTimes))
	for _, p := range resp.PrayerTimes {
		minutes, err := utils.ParseClock(p.Time)
		if err != nil {
			log.Printf("PRAYER: Skipping %s from service: %v", p.Name, err)
			continue
		}
		out = append(out, models.PrayerTime{
			Name:       p.Name,
			NameArabic: p.NameArabic,
			Time:       utils.FormatClock(minutes),
		})
	}
	return out, nil
}

// Locations lists the cities offered by the service
func (c *Client) Locations(ctx context.Context) ([]models.Location, error) {
	var resp locationsResponse
	if err := c.get(ctx, "/api/locations", &resp); err != nil {
		return nil, err
	}
	out := make([]models.Location, 0, len(resp.Locations))
	for _, l := range resp.Locations {
		loc := models.Location{City: l.City, Latitude: l.Latitude, Longitude: l.Longitude}
		if l.Coordinates != nil {
			loc.Latitude, loc.Longitude = l.Coordinates.Latitude, l.Coordinates.Longitude
		}
		out = append(out, loc)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("request %s: status %d: %s", path, res.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

package models

import "time"

type AddDeviceRequest struct {
	Name      string `json:"name" binding:"required"`
	Topic     string `json:"topic" binding:"required"`
	IPAddress string `json:"ipAddress"`
}

type ToggleZoneRequest struct {
	Key string `json:"key" binding:"required"`
}

type EnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type OffsetRequest struct {
	Minutes *int `json:"minutes" binding:"required"`
}

type ActionRequest struct {
	Relay string `json:"relay" binding:"required"`
	State bool   `json:"state"`
}

type TestRequest struct {
	OnTime  time.Time `json:"onTime" binding:"required"`
	OffTime time.Time `json:"offTime" binding:"required"`
	Relays  []string  `json:"relays"`
}

type PulseRequest struct {
	Relay   string `json:"relay" binding:"required"`
	Seconds int    `json:"seconds"`
}

type RefreshRequest struct {
	City string `json:"city"`
}

type AdjustRequest struct {
	Delta *int `json:"delta" binding:"required"`
}

type LocationRequest struct {
	City      string  `json:"city" binding:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

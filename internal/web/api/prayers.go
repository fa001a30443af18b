package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"mosque/internal/models"
	"mosque/internal/prayertimes"
	webModels "mosque/internal/web/models"
)

func RegisterPrayerRoutes(r *gin.Engine, deps Dependencies) {
	r.GET("/prayer-times", func(c *gin.Context) {
		snap := deps.Prayers.Get(c)
		if snap == nil {
			respondError(c, prayertimes.ErrNoSnapshot)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"location":    snap.Location,
			"date":        snap.Date,
			"lastFetch":   snap.LastFetch,
			"prayerTimes": snap.PrayerTimes,
			"adjusted":    deps.Prayers.Adjusted(c),
		})
	})

	r.POST("/prayer-times/refresh", func(c *gin.Context) {
		var req webModels.RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}
		snap, err := deps.Prayers.FetchAndStore(c, req.City)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	r.POST("/prayer-times/:name/adjust", func(c *gin.Context) {
		var req webModels.AdjustRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := deps.Prayers.UpdateAdjustment(c, c.Param("name"), *req.Delta); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, deps.Prayers.Adjusted(c))
	})

	r.GET("/locations", func(c *gin.Context) {
		if deps.Locations == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no prayer time service configured"})
			return
		}
		locations, err := deps.Locations.Locations(c)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"selected": deps.Prayers.Location(c), "locations": nonNil(locations)})
	})

	r.PUT("/location", func(c *gin.Context) {
		var req webModels.LocationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		loc := models.Location{City: req.City, Latitude: req.Latitude, Longitude: req.Longitude}
		if err := deps.Prayers.SetLocation(c, loc); err != nil {
			badRequest(c, err)
			return
		}
		if deps.RequestRefresh != nil {
			deps.RequestRefresh(req.City)
		}
		c.JSON(http.StatusOK, deps.Prayers.Location(c))
	})
}

package api

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	"mosque/internal/models"
	webModels "mosque/internal/web/models"
)

var relayName = regexp.MustCompile(`^relay[1-4]$`)

func RegisterDeviceRoutes(r *gin.Engine, deps Dependencies) {
	devices := r.Group("/devices")
	{
		devices.GET("", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Registry.Devices())
		})

		devices.POST("", func(c *gin.Context) {
			var req webModels.AddDeviceRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			d, err := deps.Registry.Add(c, req.Name, req.Topic, req.IPAddress)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, d)
		})

		devices.DELETE("/:id", func(c *gin.Context) {
			if err := deps.Registry.Remove(c, c.Param("id")); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "Device removed"})
		})

		devices.POST("/:id/relays/:relay/toggle", func(c *gin.Context) {
			id, relay := c.Param("id"), c.Param("relay")
			if !relayName.MatchString(relay) {
				badRequest(c, fmt.Errorf("unknown relay %q", relay))
				return
			}
			topic, payload, err := deps.Registry.ZoneCommand(c, id+"/"+relay, nil)
			if err != nil {
				respondError(c, err)
				return
			}
			deps.Commands.Raw(topic, payload)
			c.JSON(http.StatusOK, gin.H{"relay": id + "/" + relay, "state": payload == "ON"})
		})

		devices.PUT("/:id/customization", func(c *gin.Context) {
			var req models.DeviceCustomization
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := deps.Registry.SetCustomization(c, c.Param("id"), req); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "Customization saved"})
		})
	}

	r.GET("/zones", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Registry.Zones(c, deps.Telemetry.Lights()))
	})

	r.POST("/zones/toggle", func(c *gin.Context) {
		var req webModels.ToggleZoneRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		topic, payload, err := deps.Registry.ZoneCommand(c, req.Key, deps.Telemetry.Lights())
		if err != nil {
			respondError(c, err)
			return
		}
		deps.Commands.Raw(topic, payload)
		c.JSON(http.StatusOK, gin.H{"key": req.Key, "state": payload == "ON"})
	})
}

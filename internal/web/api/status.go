package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterStatusRoutes(r *gin.Engine, deps Dependencies) {
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":        "ok",
			"devices":       len(deps.Registry.Devices()),
			"devicesOnline": deps.Registry.Online(),
		}
		if deps.Broker != nil {
			body["mqttConnected"] = deps.Broker.IsConnected()
			body["queuedMessages"] = deps.Broker.Queued()
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/telemetry", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Telemetry.Snapshot())
	})
}

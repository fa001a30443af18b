package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mosque/internal/automation"
	"mosque/internal/models"
	webModels "mosque/internal/web/models"
)

func phaseParam(c *gin.Context) (automation.Phase, bool) {
	switch p := automation.Phase(c.Param("phase")); p {
	case automation.Before, automation.After:
		return p, true
	}
	badRequest(c, fmt.Errorf("phase must be %q or %q", automation.Before, automation.After))
	return "", false
}

func RegisterAutomationRoutes(r *gin.Engine, deps Dependencies) {
	auto := r.Group("/automation")
	{
		auto.GET("/settings", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Rules.Settings(c))
		})

		auto.PUT("/settings", func(c *gin.Context) {
			var req models.AutomationSettings
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := deps.Rules.Replace(c, req); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, deps.Rules.Settings(c))
		})

		auto.POST("/enabled", func(c *gin.Context) {
			var req webModels.EnabledRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := deps.Rules.SetEnabled(c, *req.Enabled); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
		})

		auto.PUT("/schedules/:prayer/:phase/offset", func(c *gin.Context) {
			phase, ok := phaseParam(c)
			if !ok {
				return
			}
			var req webModels.OffsetRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := deps.Rules.SetOffset(c, c.Param("prayer"), phase, *req.Minutes); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, deps.Rules.Settings(c))
		})

		auto.POST("/schedules/:prayer/:phase/actions", func(c *gin.Context) {
			phase, ok := phaseParam(c)
			if !ok {
				return
			}
			var req webModels.ActionRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			action := models.RelayAction{Relay: req.Relay, State: req.State}
			if err := deps.Rules.AddAction(c, c.Param("prayer"), phase, action); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, deps.Rules.Settings(c))
		})

		auto.DELETE("/schedules/:prayer/:phase/actions/:device/:relay", func(c *gin.Context) {
			phase, ok := phaseParam(c)
			if !ok {
				return
			}
			relay := c.Param("device") + "/" + c.Param("relay")
			if err := deps.Rules.RemoveAction(c, c.Param("prayer"), phase, relay); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, deps.Rules.Settings(c))
		})

		auto.GET("/tasks", func(c *gin.Context) {
			switch view := c.DefaultQuery("view", "upcoming"); view {
			case "upcoming":
				n, _ := strconv.Atoi(c.Query("limit"))
				c.JSON(http.StatusOK, nonNil(deps.Scheduler.Upcoming(n)))
			case "executed":
				c.JSON(http.StatusOK, nonNil(deps.Scheduler.Executed()))
			case "today":
				c.JSON(http.StatusOK, nonNil(deps.Scheduler.Today()))
			default:
				badRequest(c, fmt.Errorf("unknown view %q", view))
			}
		})

		auto.POST("/test", func(c *gin.Context) {
			var req webModels.TestRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := deps.Scheduler.ScheduleTest(c, req.OnTime, req.OffTime, req.Relays); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"status": "Test scheduled", "onTime": req.OnTime, "offTime": req.OffTime})
		})

		auto.DELETE("/test", func(c *gin.Context) {
			if err := deps.Scheduler.CancelTest(c); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "Test cancelled"})
		})

		auto.POST("/pulse", func(c *gin.Context) {
			var req webModels.PulseRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := deps.Scheduler.DurationPulse(req.Relay, req.Seconds); err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "Pulse started", "relay": req.Relay, "seconds": req.Seconds})
		})

		auto.GET("/history", func(c *gin.Context) {
			if deps.History == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
				return
			}
			limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
			if err != nil || limit < 1 || limit > 500 {
				badRequest(c, fmt.Errorf("limit must be between 1 and 500"))
				return
			}
			records, err := deps.History.RecentExecutions(c, limit)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, nonNil(records))
		})
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

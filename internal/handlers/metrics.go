package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shanehokw/ranker/internal/services"
)

// HandleMetrics returns WebSocket server metrics
func HandleMetrics(hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.GetMetrics())
	}
}

// HandleHealth returns server health status
func HandleHealth(hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := hub.GetMetrics()

		status := http.StatusOK
		if snapshot.HealthStatus == "critical" {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"status":             snapshot.HealthStatus,
			"active_connections": snapshot.ActiveConnections,
			"active_polls":       snapshot.ActivePolls,
			"uptime_seconds":     snapshot.UptimeSeconds,
		})
	}
}

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dermaglow/resolve/internal/models"
	"github.com/dermaglow/resolve/internal/monitoring"
)

type MetricsHandler struct {
	hub *monitoring.Hub
}

func NewMetricsHandler(hub *monitoring.Hub) *MetricsHandler {
	return &MetricsHandler{hub: hub}
}

// ServiceMetrics returns the rolling aggregate for one service type. The
// snapshot may lag real time by one aggregation cycle.
func (h *MetricsHandler) ServiceMetrics(c *gin.Context) {
	serviceType := c.Param("serviceType")

	metrics, ok := h.hub.MetricsFor(serviceType)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "no metrics recorded for service type " + serviceType,
		})
		return
	}

	c.JSON(http.StatusOK, metrics)
}

// RecentEvents returns the most recent timeout events across all services
func (h *MetricsHandler) RecentEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, gin.H{"events": h.hub.RecentEvents(limit)})
}

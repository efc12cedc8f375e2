package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker defines an interface for health check dependencies
type HealthChecker interface {
	CheckHealth() (status string, err error)
}

// HealthCheckerFunc adapts a function to the HealthChecker interface
type HealthCheckerFunc func() (string, error)

func (f HealthCheckerFunc) CheckHealth() (string, error) { return f() }

type HealthHandler struct {
	startTime    time.Time
	healthChecks map[string]HealthChecker
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		startTime:    time.Now(),
		healthChecks: make(map[string]HealthChecker),
	}
}

// AddHealthCheck adds a health check for a specific dependency
func (h *HealthHandler) AddHealthCheck(name string, checker HealthChecker) {
	h.healthChecks[name] = checker
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Service   string    `json:"service"`
}

type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

// Health performs a basic liveness check
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).String(),
		Service:   "resolve-api",
	})
}

// Readiness reports whether the service and its dependencies can take traffic
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := map[string]string{"server": "ready"}

	allHealthy := true
	for name, checker := range h.healthChecks {
		status, err := checker.CheckHealth()
		if err != nil || status != "ready" {
			checks[name] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[name] = status
	}

	response := ReadinessResponse{
		Status:    "ready",
		Checks:    checks,
		Timestamp: time.Now(),
	}

	if !allHealthy {
		response.Status = "not ready"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

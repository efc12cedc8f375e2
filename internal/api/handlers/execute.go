// Package handlers implements the HTTP surface of the resolution service.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dermaglow/resolve/internal/models"
	"github.com/dermaglow/resolve/internal/timeout"
	"github.com/dermaglow/resolve/pkg/logger"
)

type ExecuteHandler struct {
	manager *timeout.Manager
	logger  *logger.Logger
}

func NewExecuteHandler(manager *timeout.Manager, log *logger.Logger) *ExecuteHandler {
	return &ExecuteHandler{manager: manager, logger: log}
}

// Execute runs one wrapped service call under its timeout policy. The
// response always arrives within the service's async limit: immediate and
// degraded results as 200, deferred handles as 202, failures as the status
// their error kind maps to.
func (h *ExecuteHandler) Execute(c *gin.Context) {
	var req models.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Details: err.Error(),
		})
		return
	}

	outcome := h.manager.Execute(c.Request.Context(), req.ServiceType, req.Payload)

	switch outcome.Kind {
	case models.OutcomeImmediate, models.OutcomeDegraded:
		c.JSON(http.StatusOK, outcome)
	case models.OutcomeDeferred:
		c.JSON(http.StatusAccepted, outcome)
	case models.OutcomeFailed:
		c.JSON(statusForError(outcome.ErrorKind), outcome)
	default:
		h.logger.WithServiceType(req.ServiceType).Error("unrecognized outcome kind", "kind", outcome.Kind)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal server error"})
	}
}

func statusForError(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindUnknownServiceType:
		return http.StatusBadRequest
	case models.ErrKindPrimaryCallError:
		return http.StatusBadGateway
	case models.ErrKindAllFallbacksExhausted:
		return http.StatusServiceUnavailable
	case models.ErrKindCancelled:
		// Matches what nginx logs for a client that went away
		return 499
	default:
		return http.StatusInternalServerError
	}
}

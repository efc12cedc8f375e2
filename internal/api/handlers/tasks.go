package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dermaglow/resolve/internal/models"
	"github.com/dermaglow/resolve/internal/taskqueue"
	"github.com/dermaglow/resolve/pkg/logger"
)

type TaskHandler struct {
	queue  *taskqueue.Queue
	logger *logger.Logger
}

func NewTaskHandler(queue *taskqueue.Queue, log *logger.Logger) *TaskHandler {
	return &TaskHandler{queue: queue, logger: log}
}

// Get returns the polling view of a deferred task
func (h *TaskHandler) Get(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	task, err := h.queue.StatusOf(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "task not found"})
			return
		}
		h.logger.WithTaskID(taskID.String()).WithError(err).Error("task lookup failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, task.ToResponse())
}

// Cancel requests best-effort cancellation of a deferred task. Terminal
// tasks conflict; a queued or processing task is cancelled or interrupted.
func (h *TaskHandler) Cancel(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	err := h.queue.Cancel(c.Request.Context(), taskID)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
	case errors.Is(err, taskqueue.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "task not found"})
	case errors.Is(err, taskqueue.ErrTaskTerminal):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "task already finished"})
	default:
		h.logger.WithTaskID(taskID.String()).WithError(err).Error("task cancellation failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal server error"})
	}
}

// Stats reports a snapshot of queue activity
func (h *TaskHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

func (h *TaskHandler) taskIDParam(c *gin.Context) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid task id",
			Details: err.Error(),
		})
		return uuid.Nil, false
	}
	return taskID, true
}

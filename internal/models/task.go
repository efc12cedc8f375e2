package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the status of a processing task
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal returns true for statuses with no outgoing transitions
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ValidateTaskStatus validates the task status value
func ValidateTaskStatus(status TaskStatus) error {
	switch status {
	case TaskStatusQueued, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid task status: %s", status)
	}
}

// CanTransitionTo reports whether the queued -> processing -> {completed|failed}
// state machine permits moving from s to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusProcessing || next == TaskStatusFailed
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// ProcessingTask is the state of a long-running operation moved off the
// critical path. It is mutated only by the worker that owns it; any number
// of pollers may read it concurrently.
type ProcessingTask struct {
	TaskID              uuid.UUID          `json:"task_id"`
	ServiceType         string             `json:"service_type"`
	Payload             json.RawMessage    `json:"payload,omitempty"`
	Status              TaskStatus         `json:"status"`
	Progress            int                `json:"progress"`
	EstimatedCompletion time.Time          `json:"estimated_completion"`
	CreatedAt           time.Time          `json:"created_at"`
	StartedAt           *time.Time         `json:"started_at,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	Result              json.RawMessage    `json:"result,omitempty"`
	Degraded            bool               `json:"degraded"`
	FallbackType        FallbackStrategyID `json:"fallback_type,omitempty"`
	ErrorMessage        string             `json:"error_message,omitempty"`
}

// NewProcessingTask creates a task in the queued state
func NewProcessingTask(serviceType string, payload json.RawMessage, estimatedCompletion time.Time) *ProcessingTask {
	return &ProcessingTask{
		TaskID:              NewID(),
		ServiceType:         serviceType,
		Payload:             payload,
		Status:              TaskStatusQueued,
		Progress:            0,
		EstimatedCompletion: estimatedCompletion,
		CreatedAt:           time.Now(),
	}
}

// TaskResponse is the polling payload for a processing task
type TaskResponse struct {
	TaskID              uuid.UUID       `json:"task_id"`
	ServiceType         string          `json:"service_type"`
	Status              TaskStatus      `json:"status"`
	Progress            int             `json:"progress"`
	EstimatedCompletion string          `json:"estimated_completion"`
	CreatedAt           string          `json:"created_at"`
	StartedAt           *string         `json:"started_at,omitempty"`
	CompletedAt         *string         `json:"completed_at,omitempty"`
	Result              json.RawMessage `json:"result,omitempty"`
	Degraded            bool            `json:"degraded"`
	ErrorMessage        string          `json:"error_message,omitempty"`
}

// ToResponse converts a ProcessingTask to its polling representation
func (t *ProcessingTask) ToResponse() TaskResponse {
	resp := TaskResponse{
		TaskID:              t.TaskID,
		ServiceType:         t.ServiceType,
		Status:              t.Status,
		Progress:            t.Progress,
		EstimatedCompletion: t.EstimatedCompletion.Format(time.RFC3339),
		CreatedAt:           t.CreatedAt.Format(time.RFC3339),
		Result:              t.Result,
		Degraded:            t.Degraded,
		ErrorMessage:        t.ErrorMessage,
	}
	if t.StartedAt != nil {
		s := t.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

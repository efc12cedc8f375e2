package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionRequest is one invocation of a wrapped service call. It is owned
// by the timeout manager for its lifetime and never persisted beyond
// completion unless it becomes a ProcessingTask.
type ExecutionRequest struct {
	RequestID   uuid.UUID       `json:"request_id"`
	ServiceType string          `json:"service_type"`
	Payload     json.RawMessage `json:"payload"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// NewExecutionRequest creates a request with a fresh id and submission time
func NewExecutionRequest(serviceType string, payload json.RawMessage) ExecutionRequest {
	return ExecutionRequest{
		RequestID:   NewID(),
		ServiceType: serviceType,
		Payload:     payload,
		SubmittedAt: time.Now(),
	}
}

// ExecuteRequest is the HTTP body accepted by the execute endpoint
type ExecuteRequest struct {
	ServiceType string          `json:"service_type" binding:"required,min=1,max=128"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
}

// ErrorResponse is the standard HTTP error envelope
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

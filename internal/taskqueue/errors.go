package taskqueue

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound is returned when a task id is unknown or has been
	// garbage-collected past its retention TTL
	ErrTaskNotFound = errors.New("task not found")

	// ErrQueueFull is returned when the dispatch buffer cannot accept
	// another task
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned when enqueueing after shutdown
	ErrQueueClosed = errors.New("queue is closed")

	// ErrProgressDecreased is returned for out-of-order progress updates
	ErrProgressDecreased = errors.New("progress must not decrease")

	// ErrTaskTerminal is returned when an operation targets a task already
	// in a terminal state
	ErrTaskTerminal = errors.New("task is in a terminal state")

	// ErrInvalidTransition is returned for a status change the task state
	// machine does not permit
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// TaskOperationError wraps a failed queue operation with its context
type TaskOperationError struct {
	Operation string
	TaskID    uuid.UUID
	Err       error
}

func (e *TaskOperationError) Error() string {
	return fmt.Sprintf("task operation '%s' failed for task '%s': %v", e.Operation, e.TaskID, e.Err)
}

func (e *TaskOperationError) Unwrap() error {
	return e.Err
}

// NewTaskOperationError creates a wrapped task operation error
func NewTaskOperationError(operation string, taskID uuid.UUID, err error) *TaskOperationError {
	return &TaskOperationError{
		Operation: operation,
		TaskID:    taskID,
		Err:       err,
	}
}

package taskqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dermaglow/resolve/internal/models"
)

// TaskStore persists ProcessingTask records. Tasks are single-writer (the
// owning worker) and multi-reader (pollers), so implementations only need
// last-write-wins semantics per task.
type TaskStore interface {
	// Create persists a new task
	Create(ctx context.Context, task *models.ProcessingTask) error

	// Get returns the task by id, or ErrTaskNotFound
	Get(ctx context.Context, taskID uuid.UUID) (*models.ProcessingTask, error)

	// Update overwrites the stored task state, or ErrTaskNotFound.
	// retention applies once the task is terminal.
	Update(ctx context.Context, task *models.ProcessingTask, retention time.Duration) error

	// DeleteExpired removes terminal tasks whose retention has lapsed.
	// Backends with native TTL support may make this a no-op.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Ping checks backend availability
	Ping(ctx context.Context) error
}

// Invoker executes a wrapped service call. Implementations are the opaque
// backend collaborators (ML inference, vision API, vector search).
type Invoker interface {
	Invoke(ctx context.Context, serviceType string, payload json.RawMessage) (json.RawMessage, error)
}

// ProgressInvoker is optionally implemented by invokers that can report
// completion percentage while the call runs
type ProgressInvoker interface {
	InvokeWithProgress(ctx context.Context, serviceType string, payload json.RawMessage, report func(progress int)) (json.RawMessage, error)
}

// PolicyResolver supplies the timeout policy for a service type
type PolicyResolver interface {
	PolicyFor(serviceType string) (models.ServiceTimeoutPolicy, error)
}

// FallbackExecutor produces a degraded result when a task's own execution
// times out
type FallbackExecutor interface {
	Execute(ctx context.Context, req models.ExecutionRequest, policy models.ServiceTimeoutPolicy) (models.FallbackResult, error)
}

// OutcomeRecorder receives timing and outcome facts; calls must never block
type OutcomeRecorder interface {
	RecordOutcome(serviceType string, duration time.Duration, outcome models.OutcomeKind, fallbackUsed bool)
	RecordTimeoutEvent(event models.TimeoutEvent)
}

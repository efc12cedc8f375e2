// Package taskqueue executes long-running service calls off the request
// path and exposes pollable task state.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dermaglow/resolve/internal/models"
)

// Config controls the queue's worker pool and retention behavior
type Config struct {
	// Workers is the number of concurrent task processors
	Workers int
	// QueueCapacity bounds the dispatch buffer
	QueueCapacity int
	// RetentionTTL keeps terminal tasks pollable after completion
	RetentionTTL time.Duration
	// GCInterval is how often expired terminal tasks are collected
	GCInterval time.Duration
	// FallbackBudget bounds the fallback attempt after a processing timeout
	FallbackBudget time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueCapacity:  256,
		RetentionTTL:   30 * time.Minute,
		GCInterval:     time.Minute,
		FallbackBudget: 2 * time.Second,
	}
}

// CallResult is the terminal product of an in-flight primary call
type CallResult struct {
	Payload json.RawMessage
	Err     error
}

// InFlightCall hands a still-running primary call to the queue. Ownership
// transfers with it: the queue's worker awaits the result and the original
// caller-facing context is released.
type InFlightCall struct {
	Result <-chan CallResult
	Cancel context.CancelFunc
}

type dispatchItem struct {
	taskID  uuid.UUID
	adopted *InFlightCall
}

// Stats is a point-in-time snapshot of queue activity
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Adopted   int64 `json:"adopted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Pending   int   `json:"pending"`
	Workers   int   `json:"workers"`
}

// Queue is the async processing queue. Tasks are dispatched FIFO; each task
// is mutated only by the worker that owns it.
type Queue struct {
	store     TaskStore
	invoker   Invoker
	policies  PolicyResolver
	fallbacks FallbackExecutor
	recorder  OutcomeRecorder
	cfg       Config
	logger    *slog.Logger

	dispatch chan dispatchItem
	active   sync.Map // uuid.UUID -> context.CancelFunc

	runMu     sync.Mutex
	isRunning bool
	closed    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	enqueued  atomic.Int64
	adopted   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}

// New creates a queue. fallbacks and recorder may be nil.
func New(store TaskStore, invoker Invoker, policies PolicyResolver, fallbacks FallbackExecutor, recorder OutcomeRecorder, cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaults.QueueCapacity
	}
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = defaults.RetentionTTL
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = defaults.GCInterval
	}
	if cfg.FallbackBudget <= 0 {
		cfg.FallbackBudget = defaults.FallbackBudget
	}

	return &Queue{
		store:     store,
		invoker:   invoker,
		policies:  policies,
		fallbacks: fallbacks,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.With("component", "task_queue"),
		dispatch:  make(chan dispatchItem, cfg.QueueCapacity),
	}
}

// Start launches the worker pool and the retention collector
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.isRunning {
		return fmt.Errorf("task queue is already running")
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	q.isRunning = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.workerLoop(i)
	}

	q.wg.Add(1)
	go q.gcLoop()

	q.logger.Info("task queue started",
		"workers", q.cfg.Workers,
		"capacity", q.cfg.QueueCapacity,
		"retention_ttl", q.cfg.RetentionTTL,
	)
	return nil
}

// Stop drains the workers. Tasks still processing when ctx expires are
// abandoned and marked failed by their workers on the next store write.
func (q *Queue) Stop(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if !q.isRunning {
		return fmt.Errorf("task queue is not running")
	}

	q.closed.Store(true)
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		q.logger.Warn("task queue stop timed out waiting for workers")
		return ctx.Err()
	}

	q.isRunning = false
	q.logger.Info("task queue stopped")
	return nil
}

// Enqueue creates a task in the queued state and returns without waiting
// for execution
func (q *Queue) Enqueue(ctx context.Context, serviceType string, payload json.RawMessage) (*models.ProcessingTask, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	policy, err := q.policies.PolicyFor(serviceType)
	if err != nil {
		return nil, err
	}

	task := models.NewProcessingTask(serviceType, payload, time.Now().Add(policy.AsyncLimit))
	if err := q.store.Create(ctx, task); err != nil {
		return nil, err
	}

	select {
	case q.dispatch <- dispatchItem{taskID: task.TaskID}:
	default:
		q.failTask(ctx, task, "queue full")
		return nil, ErrQueueFull
	}

	q.enqueued.Add(1)
	q.logger.Debug("task enqueued", "task_id", task.TaskID, "service_type", serviceType)
	return task, nil
}

// Adopt takes ownership of a primary call that is already running. The
// worker that picks the task up finalizes it from the call's result channel
// instead of re-invoking the backend.
func (q *Queue) Adopt(ctx context.Context, req models.ExecutionRequest, call InFlightCall) (*models.ProcessingTask, error) {
	if q.closed.Load() {
		call.Cancel()
		return nil, ErrQueueClosed
	}

	policy, err := q.policies.PolicyFor(req.ServiceType)
	if err != nil {
		call.Cancel()
		return nil, err
	}

	task := models.NewProcessingTask(req.ServiceType, req.Payload, time.Now().Add(policy.AsyncLimit))
	if err := q.store.Create(ctx, task); err != nil {
		call.Cancel()
		return nil, err
	}

	select {
	case q.dispatch <- dispatchItem{taskID: task.TaskID, adopted: &call}:
	default:
		call.Cancel()
		q.failTask(ctx, task, "queue full")
		return nil, ErrQueueFull
	}

	q.adopted.Add(1)
	q.logger.Debug("in-flight call adopted",
		"task_id", task.TaskID,
		"request_id", req.RequestID,
		"service_type", req.ServiceType,
	)
	return task, nil
}

// StatusOf returns the current task state without blocking on execution
func (q *Queue) StatusOf(ctx context.Context, taskID uuid.UUID) (*models.ProcessingTask, error) {
	return q.store.Get(ctx, taskID)
}

// UpdateProgress records forward progress for a processing task. Only the
// owning worker calls this; decreasing values are rejected.
func (q *Queue) UpdateProgress(ctx context.Context, taskID uuid.UUID, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress must be within [0,100], got %d", progress)
	}

	task, err := q.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusProcessing {
		return fmt.Errorf("%w: cannot report progress in status %s", ErrInvalidTransition, task.Status)
	}
	if progress < task.Progress {
		return fmt.Errorf("%w: %d < %d", ErrProgressDecreased, progress, task.Progress)
	}

	task.Progress = progress
	return q.store.Update(ctx, task, q.cfg.RetentionTTL)
}

// Cancel requests best-effort cancellation. A call already past a safe
// cancellation point may still complete; its result is then discarded.
func (q *Queue) Cancel(ctx context.Context, taskID uuid.UUID) error {
	task, err := q.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return ErrTaskTerminal
	}

	if cancel, ok := q.active.Load(taskID); ok {
		cancel.(context.CancelFunc)()
		return nil
	}

	if task.Status == models.TaskStatusQueued {
		q.cancelled.Add(1)
		q.failTask(ctx, task, "cancelled before processing")
		return nil
	}

	// Processing on another instance: nothing to signal from here
	q.logger.Debug("cancellation requested for task not owned by this instance", "task_id", taskID)
	return nil
}

// Stats returns a snapshot of queue activity
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Adopted:   q.adopted.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Cancelled: q.cancelled.Load(),
		Pending:   len(q.dispatch),
		Workers:   q.cfg.Workers,
	}
}

// IsHealthy checks the queue and its store
func (q *Queue) IsHealthy(ctx context.Context) error {
	q.runMu.Lock()
	running := q.isRunning
	q.runMu.Unlock()

	if !running {
		return fmt.Errorf("task queue is not running")
	}
	return q.store.Ping(ctx)
}

func (q *Queue) workerLoop(id int) {
	defer q.wg.Done()

	logger := q.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-q.ctx.Done():
			logger.Debug("worker stopped")
			return
		case item := <-q.dispatch:
			q.process(item, logger)
		}
	}
}

func (q *Queue) process(item dispatchItem, logger *slog.Logger) {
	// Store writes use a background context so terminal states are still
	// persisted while the queue itself is shutting down
	ctx := context.Background()

	task, err := q.store.Get(ctx, item.taskID)
	if err != nil {
		logger.Error("dispatched task not found", "task_id", item.taskID, "error", err)
		return
	}
	if task.Status != models.TaskStatusQueued {
		// Cancelled while waiting for a worker
		logger.Debug("skipping task no longer queued", "task_id", task.TaskID, "status", task.Status)
		return
	}

	policy, err := q.policies.PolicyFor(task.ServiceType)
	if err != nil {
		q.failTask(ctx, task, fmt.Sprintf("no policy for service type %s", task.ServiceType))
		return
	}

	start := time.Now()
	task.Status = models.TaskStatusProcessing
	if task.StartedAt == nil {
		task.StartedAt = &start
	}
	if err := q.store.Update(ctx, task, q.cfg.RetentionTTL); err != nil {
		logger.Error("failed to mark task processing", "task_id", task.TaskID, "error", err)
		return
	}

	runCtx, cancel := context.WithDeadline(q.ctx, start.Add(policy.AsyncLimit))
	q.active.Store(task.TaskID, cancel)
	defer func() {
		q.active.Delete(task.TaskID)
		cancel()
	}()

	payload, runErr := q.runTask(runCtx, task, item.adopted)
	duration := time.Since(start)

	switch {
	case runErr == nil:
		q.completeTask(ctx, task, payload, models.FallbackResult{}, false)
		q.record(task.ServiceType, duration, models.OutcomeImmediate, false)

	case errors.Is(runErr, context.DeadlineExceeded):
		q.resolveTimedOutTask(ctx, task, policy, duration, logger)

	case errors.Is(runErr, context.Canceled) && q.ctx.Err() != nil:
		q.failTask(ctx, task, "aborted by shutdown")
		q.record(task.ServiceType, duration, models.OutcomeFailed, false)

	case errors.Is(runErr, context.Canceled):
		q.cancelled.Add(1)
		q.failTask(ctx, task, "cancelled by caller")
		q.record(task.ServiceType, duration, models.OutcomeFailed, false)

	default:
		q.failTask(ctx, task, runErr.Error())
		q.record(task.ServiceType, duration, models.OutcomeFailed, false)
	}
}

// runTask either awaits an adopted in-flight call or invokes the backend
func (q *Queue) runTask(ctx context.Context, task *models.ProcessingTask, adopted *InFlightCall) (json.RawMessage, error) {
	if adopted != nil {
		select {
		case res := <-adopted.Result:
			return res.Payload, res.Err
		case <-ctx.Done():
			adopted.Cancel()
			return nil, ctx.Err()
		}
	}

	if pi, ok := q.invoker.(ProgressInvoker); ok {
		report := func(progress int) {
			if err := q.UpdateProgress(ctx, task.TaskID, progress); err != nil {
				q.logger.Debug("progress update rejected",
					"task_id", task.TaskID,
					"progress", progress,
					"error", err,
				)
			}
		}
		return pi.InvokeWithProgress(ctx, task.ServiceType, task.Payload, report)
	}

	return q.invoker.Invoke(ctx, task.ServiceType, task.Payload)
}

// resolveTimedOutTask consults the fallback engine after a processing
// timeout; a usable fallback completes the task degraded, otherwise it fails.
func (q *Queue) resolveTimedOutTask(ctx context.Context, task *models.ProcessingTask, policy models.ServiceTimeoutPolicy, duration time.Duration, logger *slog.Logger) {
	if q.fallbacks != nil {
		fbCtx, fbCancel := context.WithTimeout(context.Background(), q.cfg.FallbackBudget)
		defer fbCancel()

		req := models.ExecutionRequest{
			RequestID:   task.TaskID,
			ServiceType: task.ServiceType,
			Payload:     task.Payload,
			SubmittedAt: task.CreatedAt,
		}
		if fb, err := q.fallbacks.Execute(fbCtx, req, policy); err == nil {
			logger.Info("timed-out task completed via fallback",
				"task_id", task.TaskID,
				"strategy", fb.Strategy,
			)
			q.completeTask(ctx, task, fb.Payload, fb, true)
			q.record(task.ServiceType, duration, models.OutcomeDegraded, true)
			return
		}
	}

	q.failTask(ctx, task, fmt.Sprintf("processing exceeded async limit of %s: all fallbacks exhausted", policy.AsyncLimit))
	q.record(task.ServiceType, duration, models.OutcomeFailed, false)
}

func (q *Queue) completeTask(ctx context.Context, task *models.ProcessingTask, result json.RawMessage, fb models.FallbackResult, degraded bool) {
	now := time.Now()
	task.Status = models.TaskStatusCompleted
	task.Progress = 100
	task.Result = result
	task.Degraded = degraded
	if degraded {
		task.FallbackType = fb.Strategy
	}
	if task.CompletedAt == nil {
		task.CompletedAt = &now
	}

	if err := q.store.Update(ctx, task, q.cfg.RetentionTTL); err != nil {
		q.logger.Error("failed to persist completed task", "task_id", task.TaskID, "error", err)
		return
	}
	q.completed.Add(1)
	q.logger.Info("task completed",
		"task_id", task.TaskID,
		"service_type", task.ServiceType,
		"degraded", degraded,
	)
}

func (q *Queue) failTask(ctx context.Context, task *models.ProcessingTask, message string) {
	// Progress may have advanced through the store since this copy was read;
	// the terminal write must never roll it back
	if stored, err := q.store.Get(ctx, task.TaskID); err == nil && stored.Progress > task.Progress {
		task.Progress = stored.Progress
	}

	now := time.Now()
	task.Status = models.TaskStatusFailed
	task.ErrorMessage = message
	if task.CompletedAt == nil {
		task.CompletedAt = &now
	}

	if err := q.store.Update(ctx, task, q.cfg.RetentionTTL); err != nil {
		q.logger.Error("failed to persist failed task", "task_id", task.TaskID, "error", err)
		return
	}
	q.failed.Add(1)
	q.logger.Warn("task failed",
		"task_id", task.TaskID,
		"service_type", task.ServiceType,
		"error", message,
	)
}

func (q *Queue) record(serviceType string, duration time.Duration, outcome models.OutcomeKind, fallbackUsed bool) {
	if q.recorder != nil {
		q.recorder.RecordOutcome(serviceType, duration, outcome, fallbackUsed)
	}
}

func (q *Queue) gcLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := q.store.DeleteExpired(q.ctx, now)
			if err != nil {
				q.logger.Warn("task retention sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				q.logger.Debug("expired tasks collected", "removed", removed)
			}
		}
	}
}

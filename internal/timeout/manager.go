// Package timeout orchestrates bounded-time execution of wrapped service
// calls: synchronous completion, soft-timeout fallback racing, and
// hard-timeout handoff to the async queue.
package timeout

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dermaglow/resolve/internal/fallback"
	"github.com/dermaglow/resolve/internal/models"
	"github.com/dermaglow/resolve/internal/taskqueue"
)

// Invoker executes a wrapped service call
type Invoker interface {
	Invoke(ctx context.Context, serviceType string, payload json.RawMessage) (json.RawMessage, error)
}

// PolicyResolver supplies the timeout policy for a service type
type PolicyResolver interface {
	PolicyFor(serviceType string) (models.ServiceTimeoutPolicy, error)
}

// FallbackEngine produces degraded results and caches primary ones
type FallbackEngine interface {
	Execute(ctx context.Context, req models.ExecutionRequest, policy models.ServiceTimeoutPolicy) (models.FallbackResult, error)
	CacheResult(ctx context.Context, serviceType, inputHash string, result json.RawMessage, ttl time.Duration)
}

// Deferrer accepts ownership of a still-running call at the hard timeout
type Deferrer interface {
	Adopt(ctx context.Context, req models.ExecutionRequest, call taskqueue.InFlightCall) (*models.ProcessingTask, error)
}

// Recorder receives outcome and timeout facts; calls never block
type Recorder interface {
	RecordOutcome(serviceType string, duration time.Duration, outcome models.OutcomeKind, fallbackUsed bool)
	RecordTimeoutEvent(event models.TimeoutEvent)
}

// Config controls manager behavior
type Config struct {
	// CacheTTL is how long primary results stay usable as cached fallbacks
	CacheTTL time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{CacheTTL: 10 * time.Minute}
}

// Manager is the orchestrator every caller talks to. It is the only
// component that races multiple execution paths.
type Manager struct {
	policies  PolicyResolver
	invoker   Invoker
	fallbacks FallbackEngine
	queue     Deferrer
	recorder  Recorder
	cfg       Config
	logger    *slog.Logger
}

// New creates a manager. recorder may be nil.
func New(policies PolicyResolver, invoker Invoker, fallbacks FallbackEngine, queue Deferrer, recorder Recorder, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	return &Manager{
		policies:  policies,
		invoker:   invoker,
		fallbacks: fallbacks,
		queue:     queue,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.With("component", "timeout_manager"),
	}
}

// Execute runs one wrapped call under its timeout policy and always returns
// exactly one terminal outcome. Errors never escape the envelope.
func (m *Manager) Execute(ctx context.Context, serviceType string, payload json.RawMessage) models.ExecutionOutcome {
	policy, err := m.policies.PolicyFor(serviceType)
	if err != nil {
		m.record(serviceType, 0, models.OutcomeFailed, false)
		return models.FailedOutcome(models.ErrKindUnknownServiceType, err.Error())
	}

	req := models.NewExecutionRequest(serviceType, payload)
	logger := m.logger.With("request_id", req.RequestID, "service_type", serviceType)

	// The primary call is detached from the caller's cancellation so it can
	// outlive the request: on a degraded return it keeps running to populate
	// the cache, and on a hard timeout it is reparented to an async worker.
	primaryCtx, primaryCancel := context.WithCancel(context.WithoutCancel(ctx))
	resultCh := make(chan taskqueue.CallResult, 1)
	go func() {
		result, invokeErr := m.invoker.Invoke(primaryCtx, serviceType, payload)
		resultCh <- taskqueue.CallResult{Payload: result, Err: invokeErr}
	}()

	softTimer := time.NewTimer(policy.SyncLimit)
	defer softTimer.Stop()

	select {
	case res := <-resultCh:
		primaryCancel()
		return m.finishSync(ctx, req, res, time.Since(req.SubmittedAt), logger)

	case <-ctx.Done():
		primaryCancel()
		m.record(serviceType, time.Since(req.SubmittedAt), models.OutcomeFailed, false)
		return models.FailedOutcome(models.ErrKindCancelled, "caller abandoned the request")

	case <-softTimer.C:
	}

	// Soft timeout: no response has been sent, so no user impact yet. The
	// fallback starts now and races the still-running primary call.
	m.recordEvent(models.NewTimeoutEvent(req, models.ThresholdSoft, policy.SyncLimit, models.ImpactNone))
	logger.Debug("soft timeout crossed, racing fallback against primary", "sync_limit", policy.SyncLimit)

	return m.raceFallback(ctx, req, policy, resultCh, primaryCancel, logger)
}

// finishSync resolves a call that completed before its soft timeout
func (m *Manager) finishSync(ctx context.Context, req models.ExecutionRequest, res taskqueue.CallResult, elapsed time.Duration, logger *slog.Logger) models.ExecutionOutcome {
	if res.Err != nil {
		logger.Warn("primary call failed", "error", res.Err, "elapsed", elapsed)
		m.record(req.ServiceType, elapsed, models.OutcomeFailed, false)
		return models.FailedOutcome(models.ErrKindPrimaryCallError, res.Err.Error())
	}

	m.cachePrimary(ctx, req, res.Payload)
	m.record(req.ServiceType, elapsed, models.OutcomeImmediate, false)
	return models.ImmediateOutcome(res.Payload)
}

type fallbackAttempt struct {
	result models.FallbackResult
	err    error
}

// raceFallback runs the window between the soft and hard timeouts: first of
// primary completion, fallback availability, or the hard deadline wins.
func (m *Manager) raceFallback(ctx context.Context, req models.ExecutionRequest, policy models.ServiceTimeoutPolicy, resultCh chan taskqueue.CallResult, primaryCancel context.CancelFunc, logger *slog.Logger) models.ExecutionOutcome {
	remaining := policy.AsyncLimit - time.Since(req.SubmittedAt)

	fbCtx, fbCancel := context.WithTimeout(context.WithoutCancel(ctx), remaining)
	defer fbCancel()

	fbCh := make(chan fallbackAttempt, 1)
	go func() {
		result, err := m.fallbacks.Execute(fbCtx, req, policy)
		fbCh <- fallbackAttempt{result: result, err: err}
	}()

	hardTimer := time.NewTimer(remaining)
	defer hardTimer.Stop()

	fallbackExhausted := false
	for {
		select {
		case res := <-resultCh:
			primaryCancel()
			elapsed := time.Since(req.SubmittedAt)
			if res.Err != nil {
				logger.Warn("primary call failed after soft timeout", "error", res.Err, "elapsed", elapsed)
				m.record(req.ServiceType, elapsed, models.OutcomeFailed, false)
				return models.FailedOutcome(models.ErrKindPrimaryCallError, res.Err.Error())
			}
			m.cachePrimary(ctx, req, res.Payload)
			m.record(req.ServiceType, elapsed, models.OutcomeImmediate, false)
			return models.ImmediateOutcome(res.Payload)

		case attempt := <-fbCh:
			if attempt.err != nil {
				// No fallback available; keep waiting for the primary call
				// or the hard deadline
				logger.Debug("fallback unavailable, awaiting primary", "error", attempt.err)
				fallbackExhausted = true
				fbCh = nil
				continue
			}
			// The primary call continues in the background purely to
			// populate the cache; its result is discarded for this request.
			go m.harvestPrimary(req, policy, resultCh, primaryCancel)
			elapsed := time.Since(req.SubmittedAt)
			logger.Info("degraded result returned",
				"strategy", attempt.result.Strategy,
				"from_cache", attempt.result.FromCache,
				"elapsed", elapsed,
			)
			m.record(req.ServiceType, elapsed, models.OutcomeDegraded, true)
			return models.DegradedOutcome(attempt.result)

		case <-hardTimer.C:
			return m.deferToQueue(req, policy, resultCh, primaryCancel, fallbackExhausted, logger)

		case <-ctx.Done():
			primaryCancel()
			m.record(req.ServiceType, time.Since(req.SubmittedAt), models.OutcomeFailed, false)
			return models.FailedOutcome(models.ErrKindCancelled, "caller abandoned the request")
		}
	}
}

// deferToQueue transfers ownership of the still-running call at the hard
// timeout and returns a trackable handle
func (m *Manager) deferToQueue(req models.ExecutionRequest, policy models.ServiceTimeoutPolicy, resultCh chan taskqueue.CallResult, primaryCancel context.CancelFunc, fallbackExhausted bool, logger *slog.Logger) models.ExecutionOutcome {
	event := models.NewTimeoutEvent(req, models.ThresholdHard, policy.AsyncLimit, models.ImpactDegraded)
	m.recordEvent(event)

	task, err := m.queue.Adopt(context.Background(), req, taskqueue.InFlightCall{
		Result: resultCh,
		Cancel: primaryCancel,
	})
	if err != nil {
		primaryCancel()
		logger.Error("failed to defer call to async queue", "error", err)
		m.record(req.ServiceType, time.Since(req.SubmittedAt), models.OutcomeFailed, false)
		if fallbackExhausted {
			return models.FailedOutcome(models.ErrKindAllFallbacksExhausted, "no fallback available and could not defer execution: "+err.Error())
		}
		return models.FailedOutcome(models.ErrKindInternal, "could not defer execution: "+err.Error())
	}

	logger.Info("execution deferred to async queue",
		"task_id", task.TaskID,
		"estimated_completion", task.EstimatedCompletion,
	)
	m.record(req.ServiceType, time.Since(req.SubmittedAt), models.OutcomeDeferred, false)
	return models.DeferredOutcome(task.TaskID, task.EstimatedCompletion)
}

// harvestPrimary waits out a primary call whose result the caller no longer
// needs, caching it for future structurally identical requests. The wait is
// bounded by the policy's async limit so a hung backend cannot pin the
// invoker goroutine forever.
func (m *Manager) harvestPrimary(req models.ExecutionRequest, policy models.ServiceTimeoutPolicy, resultCh chan taskqueue.CallResult, primaryCancel context.CancelFunc) {
	defer primaryCancel()

	budget := time.Until(req.SubmittedAt.Add(policy.AsyncLimit))
	if budget <= 0 {
		return
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.Err != nil {
			return
		}
		m.cachePrimary(context.Background(), req, res.Payload)
	case <-timer.C:
	}
}

func (m *Manager) cachePrimary(ctx context.Context, req models.ExecutionRequest, result json.RawMessage) {
	m.fallbacks.CacheResult(ctx, req.ServiceType, fallback.InputHash(req.Payload), result, m.cfg.CacheTTL)
}

func (m *Manager) record(serviceType string, duration time.Duration, outcome models.OutcomeKind, fallbackUsed bool) {
	if m.recorder != nil {
		m.recorder.RecordOutcome(serviceType, duration, outcome, fallbackUsed)
	}
}

func (m *Manager) recordEvent(event models.TimeoutEvent) {
	if m.recorder != nil {
		m.recorder.RecordTimeoutEvent(event)
	}
}

package timeout

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermaglow/resolve/internal/classifier"
	"github.com/dermaglow/resolve/internal/fallback"
	"github.com/dermaglow/resolve/internal/models"
	"github.com/dermaglow/resolve/internal/taskqueue"
)

// slowBackend stands in for the wrapped ML service
type slowBackend struct {
	delay  time.Duration
	calls  atomic.Int64
	result json.RawMessage
}

func (b *slowBackend) Invoke(ctx context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
	b.calls.Add(1)
	select {
	case <-time.After(b.delay):
		return b.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// harness wires the real classifier, fallback engine, and task queue around
// a manager, the way the service binary does
type harness struct {
	manager *Manager
	queue   *taskqueue.Queue
	engine  *fallback.Engine
	backend *slowBackend
}

func newHarness(t *testing.T, backendDelay time.Duration) *harness {
	t.Helper()

	cls := classifier.New(nil)
	require.NoError(t, cls.RegisterPolicy(models.ServiceTimeoutPolicy{
		ServiceType:      "skin-analysis",
		SyncLimit:        50 * time.Millisecond,
		AsyncLimit:       250 * time.Millisecond,
		FallbackStrategy: models.FallbackCachedResult,
	}))

	engine := fallback.NewEngine(fallback.NewMemoryCache(), fallback.Providers{}, nil)
	backend := &slowBackend{delay: backendDelay, result: json.RawMessage(`{"score":0.91}`)}

	queue := taskqueue.New(taskqueue.NewMemoryStore(), backend, cls, engine, nil, taskqueue.Config{
		Workers:        2,
		QueueCapacity:  16,
		RetentionTTL:   time.Minute,
		GCInterval:     time.Second,
		FallbackBudget: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, queue.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = queue.Stop(stopCtx)
	})

	manager := New(cls, backend, engine, queue, nil, Config{CacheTTL: time.Minute}, nil)
	return &harness{manager: manager, queue: queue, engine: engine, backend: backend}
}

func TestFastCallCompletesSynchronously(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)

	outcome := h.manager.Execute(context.Background(), "skin-analysis", json.RawMessage(`{"image_id":"a"}`))

	assert.Equal(t, models.OutcomeImmediate, outcome.Kind)
	assert.JSONEq(t, `{"score":0.91}`, string(outcome.Result))
}

func TestSlowCallServedFromCacheAfterSoftTimeout(t *testing.T) {
	h := newHarness(t, 150*time.Millisecond)
	payload := json.RawMessage(`{"image_id":"repeat"}`)

	// First request is slow enough to cross the soft timeout with an empty
	// cache, but the primary result lands before the hard timeout
	first := h.manager.Execute(context.Background(), "skin-analysis", payload)
	require.Equal(t, models.OutcomeImmediate, first.Kind)

	// A structurally identical request now degrades from the cache at the
	// soft timeout instead of waiting out the primary call again
	start := time.Now()
	second := h.manager.Execute(context.Background(), "skin-analysis", payload)
	elapsed := time.Since(start)

	assert.Equal(t, models.OutcomeDegraded, second.Kind)
	assert.True(t, second.Degraded)
	assert.Equal(t, models.FallbackCachedResult, second.FallbackType)
	assert.JSONEq(t, `{"score":0.91}`, string(second.Result))
	assert.Less(t, elapsed, 120*time.Millisecond, "cache hit resolves near the soft timeout, not the primary duration")
}

func TestVerySlowCallIsDeferredAndEventuallyCompletes(t *testing.T) {
	h := newHarness(t, 400*time.Millisecond)

	start := time.Now()
	outcome := h.manager.Execute(context.Background(), "skin-analysis", json.RawMessage(`{"image_id":"slow"}`))
	elapsed := time.Since(start)

	require.Equal(t, models.OutcomeDeferred, outcome.Kind)
	require.NotNil(t, outcome.TaskID)
	assert.InDelta(t, 250, elapsed.Milliseconds(), 120, "deferral returns at the hard timeout")

	task, err := h.queue.StatusOf(context.Background(), *outcome.TaskID)
	require.NoError(t, err)
	assert.Contains(t, []models.TaskStatus{models.TaskStatusQueued, models.TaskStatusProcessing}, task.Status,
		"the deferred task is live immediately after the handle is returned")

	// The adopted call is not re-invoked: one backend call end to end
	require.Eventually(t, func() bool {
		final, err := h.queue.StatusOf(context.Background(), *outcome.TaskID)
		return err == nil && final.Status == models.TaskStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	final, err := h.queue.StatusOf(context.Background(), *outcome.TaskID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":0.91}`, string(final.Result))
	assert.False(t, final.Degraded)
	assert.EqualValues(t, 1, h.backend.calls.Load(), "ownership transfer must not duplicate the call")
}

func TestDeferredTaskFallsBackWhenCallOutlivesItsBudget(t *testing.T) {
	h := newHarness(t, 2*time.Second)
	payload := json.RawMessage(`{"image_id":"budget"}`)

	// Seed the cache so the worker's timeout path has a fallback to use
	h.engine.CacheResult(context.Background(), "skin-analysis", fallback.InputHash(payload), json.RawMessage(`{"score":0.5}`), time.Minute)

	outcome := h.manager.Execute(context.Background(), "skin-analysis", payload)

	// The cache is seeded, so the soft timeout resolves this degraded
	// before the hard timeout; force the deferral path with a fresh payload
	assert.Equal(t, models.OutcomeDegraded, outcome.Kind)

	fresh := json.RawMessage(`{"image_id":"no-cache"}`)
	deferred := h.manager.Execute(context.Background(), "skin-analysis", fresh)
	require.Equal(t, models.OutcomeDeferred, deferred.Kind)

	require.Eventually(t, func() bool {
		final, err := h.queue.StatusOf(context.Background(), *deferred.TaskID)
		return err == nil && final.Status == models.TaskStatusFailed
	}, 3*time.Second, 10*time.Millisecond, "no cache entry and no providers: the timed-out task fails")
}

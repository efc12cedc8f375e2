package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dermaglow/resolve/internal/models"
)

// stubPolicies resolves every service type to one fixed policy
type stubPolicies struct {
	policy models.ServiceTimeoutPolicy
	known  map[string]bool
}

func (s *stubPolicies) PolicyFor(serviceType string) (models.ServiceTimeoutPolicy, error) {
	if s.known != nil && !s.known[serviceType] {
		return models.ServiceTimeoutPolicy{}, fmt.Errorf("unknown service type: %s", serviceType)
	}
	p := s.policy
	p.ServiceType = serviceType
	return p, nil
}

// stubInvoker executes after a configurable delay
type stubInvoker struct {
	delay   time.Duration
	result  json.RawMessage
	err     error
	reports []int
}

func (s *stubInvoker) Invoke(ctx context.Context, _ string, _ json.RawMessage) (json.RawMessage, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// progressInvoker reports staged progress before finishing
type progressInvoker struct {
	stubInvoker
}

func (s *progressInvoker) InvokeWithProgress(ctx context.Context, serviceType string, payload json.RawMessage, report func(int)) (json.RawMessage, error) {
	for _, p := range s.reports {
		report(p)
	}
	return s.Invoke(ctx, serviceType, payload)
}

// stubFallbacks returns a fixed fallback result or error
type stubFallbacks struct {
	mu     sync.Mutex
	result models.FallbackResult
	err    error
	calls  int
}

func (s *stubFallbacks) Execute(_ context.Context, _ models.ExecutionRequest, _ models.ServiceTimeoutPolicy) (models.FallbackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return models.FallbackResult{}, s.err
	}
	return s.result, nil
}

// nopRecorder satisfies OutcomeRecorder
type nopRecorder struct{}

func (nopRecorder) RecordOutcome(string, time.Duration, models.OutcomeKind, bool) {}
func (nopRecorder) RecordTimeoutEvent(models.TimeoutEvent) {}

func testQueueConfig() Config {
	return Config{
		Workers:        2,
		QueueCapacity:  16,
		RetentionTTL:   time.Minute,
		GCInterval:     10 * time.Millisecond,
		FallbackBudget: 100 * time.Millisecond,
	}
}

func fastPolicy() models.ServiceTimeoutPolicy {
	return models.ServiceTimeoutPolicy{
		SyncLimit:        50 * time.Millisecond,
		AsyncLimit:       200 * time.Millisecond,
		FallbackStrategy: models.FallbackCachedResult,
	}
}

func startQueue(t *testing.T, invoker Invoker, fallbacks FallbackExecutor) (*Queue, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	q := New(store, invoker, &stubPolicies{policy: fastPolicy()}, fallbacks, nopRecorder{}, testQueueConfig(), nil)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(stopCtx)
	})
	return q, store
}

func waitForStatus(t *testing.T, q *Queue, taskID uuid.UUID, want models.TaskStatus) *models.ProcessingTask {
	t.Helper()

	var task *models.ProcessingTask
	require.Eventually(t, func() bool {
		got, err := q.StatusOf(context.Background(), taskID)
		if err != nil {
			return false
		}
		task = got
		return got.Status == want
	}, 3*time.Second, 5*time.Millisecond, "task never reached status %s", want)
	return task
}

func TestEnqueueRunsToCompletion(t *testing.T) {
	invoker := &stubInvoker{delay: 10 * time.Millisecond, result: json.RawMessage(`{"ok":true}`)}
	q, _ := startQueue(t, invoker, nil)

	task, err := q.Enqueue(context.Background(), "skin-analysis", json.RawMessage(`{"image_id":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, task.Status)

	final := waitForStatus(t, q, task.TaskID, models.TaskStatusCompleted)
	assert.JSONEq(t, `{"ok":true}`, string(final.Result))
	assert.Equal(t, 100, final.Progress)
	assert.False(t, final.Degraded)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)
	assert.False(t, final.CompletedAt.Before(*final.StartedAt))
}

func TestEnqueueUnknownServiceType(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, &stubInvoker{}, &stubPolicies{policy: fastPolicy(), known: map[string]bool{"known": true}}, nil, nil, testQueueConfig(), nil)

	_, err := q.Enqueue(context.Background(), "foo", nil)

	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestStatusOfUnknownTask(t *testing.T) {
	q, _ := startQueue(t, &stubInvoker{}, nil)

	_, err := q.StatusOf(context.Background(), models.NewID())

	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestInvokerErrorFailsTask(t *testing.T) {
	invoker := &stubInvoker{err: errors.New("vision api returned 500")}
	q, _ := startQueue(t, invoker, nil)

	task, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)

	final := waitForStatus(t, q, task.TaskID, models.TaskStatusFailed)
	assert.Contains(t, final.ErrorMessage, "vision api returned 500")
	assert.Nil(t, final.Result)
}

func TestProcessingTimeoutWithFallbackCompletesDegraded(t *testing.T) {
	invoker := &stubInvoker{delay: time.Second} // well past the 200ms async limit
	fallbacks := &stubFallbacks{result: models.FallbackResult{
		Payload:  json.RawMessage(`{"approx":true}`),
		Degraded: true,
		Strategy: models.FallbackCachedResult,
	}}
	q, _ := startQueue(t, invoker, fallbacks)

	task, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)

	final := waitForStatus(t, q, task.TaskID, models.TaskStatusCompleted)
	assert.True(t, final.Degraded)
	assert.Equal(t, models.FallbackCachedResult, final.FallbackType)
	assert.JSONEq(t, `{"approx":true}`, string(final.Result))
}

func TestProcessingTimeoutWithoutFallbackFails(t *testing.T) {
	invoker := &stubInvoker{delay: time.Second}
	fallbacks := &stubFallbacks{err: errors.New("all fallbacks exhausted")}
	q, _ := startQueue(t, invoker, fallbacks)

	task, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)

	final := waitForStatus(t, q, task.TaskID, models.TaskStatusFailed)
	assert.Contains(t, final.ErrorMessage, "exceeded async limit")
}

func TestProgressReportsAreMonotonic(t *testing.T) {
	invoker := &progressInvoker{stubInvoker: stubInvoker{
		delay:   10 * time.Millisecond,
		result:  json.RawMessage(`{}`),
		reports: []int{10, 60, 30, 90}, // 30 must be rejected
	}}
	q, _ := startQueue(t, invoker, nil)

	task, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)

	observed := make(map[int]bool)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			got, err := q.StatusOf(context.Background(), task.TaskID)
			if err == nil {
				observed[got.Progress] = true
				if got.Status.IsTerminal() {
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	final := waitForStatus(t, q, task.TaskID, models.TaskStatusCompleted)
	<-done

	assert.Equal(t, 100, final.Progress)
	assert.False(t, observed[30], "a decreasing progress report must never be visible")
}

func TestFailedTaskKeepsReportedProgress(t *testing.T) {
	invoker := &progressInvoker{stubInvoker: stubInvoker{
		err:     errors.New("model crashed"),
		reports: []int{25, 50},
	}}
	q, _ := startQueue(t, invoker, nil)

	task, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)

	final := waitForStatus(t, q, task.TaskID, models.TaskStatusFailed)
	assert.Equal(t, 50, final.Progress, "failure must not roll reported progress back")
	assert.Contains(t, final.ErrorMessage, "model crashed")
}

func TestUpdateProgressRejectsDecrease(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, &stubInvoker{}, &stubPolicies{policy: fastPolicy()}, nil, nil, testQueueConfig(), nil)

	task := models.NewProcessingTask("skin-analysis", nil, time.Now().Add(time.Second))
	task.Status = models.TaskStatusProcessing
	task.Progress = 50
	require.NoError(t, store.Create(context.Background(), task))

	err := q.UpdateProgress(context.Background(), task.TaskID, 40)
	assert.ErrorIs(t, err, ErrProgressDecreased)

	err = q.UpdateProgress(context.Background(), task.TaskID, 50)
	assert.NoError(t, err, "equal progress is not a decrease")

	err = q.UpdateProgress(context.Background(), task.TaskID, 120)
	assert.Error(t, err)
}

func TestUpdateProgressRequiresProcessingStatus(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, &stubInvoker{}, &stubPolicies{policy: fastPolicy()}, nil, nil, testQueueConfig(), nil)

	task := models.NewProcessingTask("skin-analysis", nil, time.Now().Add(time.Second))
	require.NoError(t, store.Create(context.Background(), task))

	err := q.UpdateProgress(context.Background(), task.TaskID, 10)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelQueuedTask(t *testing.T) {
	// A single slow worker keeps the second task waiting in the buffer
	cfg := testQueueConfig()
	cfg.Workers = 1
	store := NewMemoryStore()
	invoker := &stubInvoker{delay: 150 * time.Millisecond, result: json.RawMessage(`{}`)}
	q := New(store, invoker, &stubPolicies{policy: fastPolicy()}, nil, nil, cfg, nil)
	require.NoError(t, q.Start(context.Background()))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(stopCtx)
	}()

	first, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)
	waitForStatus(t, q, first.TaskID, models.TaskStatusProcessing)

	second, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)

	require.NoError(t, q.Cancel(context.Background(), second.TaskID))

	final := waitForStatus(t, q, second.TaskID, models.TaskStatusFailed)
	assert.Contains(t, final.ErrorMessage, "cancelled")
}

func TestCancelProcessingTask(t *testing.T) {
	invoker := &stubInvoker{delay: 5 * time.Second}
	q, _ := startQueue(t, invoker, nil)

	task, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)
	waitForStatus(t, q, task.TaskID, models.TaskStatusProcessing)

	require.NoError(t, q.Cancel(context.Background(), task.TaskID))

	final := waitForStatus(t, q, task.TaskID, models.TaskStatusFailed)
	assert.Contains(t, final.ErrorMessage, "cancelled")
}

func TestCancelTerminalTaskRejected(t *testing.T) {
	invoker := &stubInvoker{delay: time.Millisecond, result: json.RawMessage(`{}`)}
	q, _ := startQueue(t, invoker, nil)

	task, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)
	waitForStatus(t, q, task.TaskID, models.TaskStatusCompleted)

	err = q.Cancel(context.Background(), task.TaskID)
	assert.ErrorIs(t, err, ErrTaskTerminal)
}

func TestAdoptCompletesFromInFlightResult(t *testing.T) {
	q, _ := startQueue(t, &stubInvoker{}, nil)

	resultCh := make(chan CallResult, 1)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := models.NewExecutionRequest("skin-analysis", json.RawMessage(`{"image_id":"x"}`))
	task, err := q.Adopt(context.Background(), req, InFlightCall{Result: resultCh, Cancel: cancel})
	require.NoError(t, err)

	resultCh <- CallResult{Payload: json.RawMessage(`{"late":true}`)}

	final := waitForStatus(t, q, task.TaskID, models.TaskStatusCompleted)
	assert.JSONEq(t, `{"late":true}`, string(final.Result))
	assert.False(t, final.Degraded)
}

func TestAdoptTimesOutAndCancelsPrimary(t *testing.T) {
	fallbacks := &stubFallbacks{err: errors.New("nothing available")}
	q, _ := startQueue(t, &stubInvoker{}, fallbacks)

	resultCh := make(chan CallResult) // never delivers
	primaryCtx, cancel := context.WithCancel(context.Background())

	req := models.NewExecutionRequest("skin-analysis", nil)
	task, err := q.Adopt(context.Background(), req, InFlightCall{Result: resultCh, Cancel: cancel})
	require.NoError(t, err)

	final := waitForStatus(t, q, task.TaskID, models.TaskStatusFailed)
	assert.Contains(t, final.ErrorMessage, "exceeded async limit")

	select {
	case <-primaryCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("adopted call was not cancelled after its deadline")
	}
}

func TestQueueFull(t *testing.T) {
	cfg := testQueueConfig()
	cfg.Workers = 1
	cfg.QueueCapacity = 1
	store := NewMemoryStore()
	invoker := &stubInvoker{delay: 500 * time.Millisecond, result: json.RawMessage(`{}`)}
	q := New(store, invoker, &stubPolicies{policy: fastPolicy()}, nil, nil, cfg, nil)
	require.NoError(t, q.Start(context.Background()))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Stop(stopCtx)
	}()

	// One task occupies the worker, one fills the buffer
	first, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)
	waitForStatus(t, q, first.TaskID, models.TaskStatusProcessing)
	_, err = q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)

	over, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Nil(t, over)
}

func TestEnqueueAfterStop(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, &stubInvoker{}, &stubPolicies{policy: fastPolicy()}, nil, nil, testQueueConfig(), nil)
	require.NoError(t, q.Start(context.Background()))

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Stop(stopCtx))

	_, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueStats(t *testing.T) {
	invoker := &stubInvoker{delay: time.Millisecond, result: json.RawMessage(`{}`)}
	q, _ := startQueue(t, invoker, nil)

	task, err := q.Enqueue(context.Background(), "skin-analysis", nil)
	require.NoError(t, err)
	waitForStatus(t, q, task.TaskID, models.TaskStatusCompleted)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Enqueued)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, 2, stats.Workers)
}

func TestMemoryStoreRetention(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := models.NewProcessingTask("skin-analysis", nil, time.Now())
	require.NoError(t, store.Create(ctx, task))

	task.Status = models.TaskStatusCompleted
	require.NoError(t, store.Update(ctx, task, 10*time.Millisecond))

	removed, err := store.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "retention has not lapsed yet")

	removed, err = store.DeleteExpired(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, task.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := models.NewProcessingTask("skin-analysis", nil, time.Now())
	require.NoError(t, store.Create(ctx, task))

	read, err := store.Get(ctx, task.TaskID)
	require.NoError(t, err)
	read.Progress = 99

	again, err := store.Get(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Progress, "mutating a read copy must not affect the store")
}

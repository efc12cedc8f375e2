// Package monitoring records timing, outcome, and fallback-usage events and
// computes rolling per-service performance metrics off the hot path.
package monitoring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dermaglow/resolve/internal/models"
)

// Config controls the hub's buffering and aggregation behavior
type Config struct {
	// BufferSize bounds the ingestion channels; oldest entries are dropped
	// under backpressure
	BufferSize int
	// WindowSize bounds the sliding window by sample count
	WindowSize int
	// WindowAge bounds the sliding window by sample age
	WindowAge time.Duration
	// AggregationInterval is the recomputation tick
	AggregationInterval time.Duration
	// AlertThreshold is the timeout rate at which an alert is pushed
	AlertThreshold float64
	// TrendDelta is the timeout-rate change classifying a trend as
	// improving or degrading
	TrendDelta float64
	// EventLogSize bounds the retained timeout event log
	EventLogSize int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		BufferSize:          4096,
		WindowSize:          1000,
		WindowAge:           5 * time.Minute,
		AggregationInterval: 10 * time.Second,
		AlertThreshold:      0.25,
		TrendDelta:          0.05,
		EventLogSize:        2048,
	}
}

// Hub ingests outcomes and timeout events without ever blocking or failing
// the caller, and recomputes ServiceMetrics snapshots on a fixed tick.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	notifier AlertNotifier
	prom     *PromMetrics

	samples chan outcomeRecord
	events  chan models.TimeoutEvent

	// aggregation goroutine state, not shared
	windows      map[string]*window
	alertedAbove map[string]bool

	mu        sync.RWMutex
	snapshots map[string]models.ServiceMetrics
	eventLog  []models.TimeoutEvent

	runMu     sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

type outcomeRecord struct {
	serviceType  string
	at           time.Time
	duration     time.Duration
	outcome      models.OutcomeKind
	fallbackUsed bool
}

// NewHub creates a hub. notifier and prom may be nil.
func NewHub(cfg Config, notifier AlertNotifier, prom *PromMetrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.WindowAge <= 0 {
		cfg.WindowAge = DefaultConfig().WindowAge
	}
	if cfg.AggregationInterval <= 0 {
		cfg.AggregationInterval = DefaultConfig().AggregationInterval
	}
	if cfg.EventLogSize <= 0 {
		cfg.EventLogSize = DefaultConfig().EventLogSize
	}

	return &Hub{
		cfg:          cfg,
		logger:       logger.With("component", "monitoring_hub"),
		notifier:     notifier,
		prom:         prom,
		samples:      make(chan outcomeRecord, cfg.BufferSize),
		events:       make(chan models.TimeoutEvent, cfg.BufferSize),
		windows:      make(map[string]*window),
		alertedAbove: make(map[string]bool),
		snapshots:    make(map[string]models.ServiceMetrics),
	}
}

// Start launches the aggregation loop
func (h *Hub) Start(ctx context.Context) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.isRunning {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.isRunning = true

	go h.run(loopCtx)

	h.logger.Info("monitoring hub started",
		"aggregation_interval", h.cfg.AggregationInterval,
		"window_size", h.cfg.WindowSize,
		"window_age", h.cfg.WindowAge,
	)
	return nil
}

// Stop terminates the aggregation loop after a final drain
func (h *Hub) Stop() {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if !h.isRunning {
		return
	}
	h.cancel()
	<-h.done
	h.isRunning = false
	h.logger.Info("monitoring hub stopped")
}

// RecordOutcome records a completed execution. Fire-and-forget: it never
// blocks and never fails; under backpressure the oldest buffered record is
// dropped instead.
func (h *Hub) RecordOutcome(serviceType string, duration time.Duration, outcome models.OutcomeKind, fallbackUsed bool) {
	rec := outcomeRecord{
		serviceType:  serviceType,
		at:           time.Now(),
		duration:     duration,
		outcome:      outcome,
		fallbackUsed: fallbackUsed,
	}

	select {
	case h.samples <- rec:
		return
	default:
	}

	// Buffer full: shed the oldest record and retry once
	select {
	case <-h.samples:
	default:
	}
	select {
	case h.samples <- rec:
	default:
		if h.prom != nil {
			h.prom.DroppedSamples.Inc()
		}
	}
}

// RecordTimeoutEvent appends a timeout event to the event log. Same
// fire-and-forget contract as RecordOutcome.
func (h *Hub) RecordTimeoutEvent(event models.TimeoutEvent) {
	select {
	case h.events <- event:
		return
	default:
	}

	select {
	case <-h.events:
	default:
	}
	select {
	case h.events <- event:
	default:
		if h.prom != nil {
			h.prom.DroppedSamples.Inc()
		}
	}
}

// MetricsFor returns the latest computed snapshot for serviceType. The
// snapshot may lag real time by one aggregation cycle.
func (h *Hub) MetricsFor(serviceType string) (models.ServiceMetrics, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.snapshots[serviceType]
	return m, ok
}

// RecentEvents returns up to limit of the most recent timeout events
func (h *Hub) RecentEvents(limit int) []models.TimeoutEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.eventLog) {
		limit = len(h.eventLog)
	}
	out := make([]models.TimeoutEvent, limit)
	copy(out, h.eventLog[len(h.eventLog)-limit:])
	return out
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.AggregationInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-h.samples:
			h.ingestSample(rec)
		case ev := <-h.events:
			h.ingestEvent(ev)
		case now := <-ticker.C:
			h.aggregate(ctx, now)
		case <-ctx.Done():
			h.drain()
			h.aggregate(context.Background(), time.Now())
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case rec := <-h.samples:
			h.ingestSample(rec)
		case ev := <-h.events:
			h.ingestEvent(ev)
		default:
			return
		}
	}
}

func (h *Hub) ingestSample(rec outcomeRecord) {
	h.windowFor(rec.serviceType).addSample(outcomeSample{
		at:           rec.at,
		duration:     rec.duration,
		kind:         rec.outcome,
		fallbackUsed: rec.fallbackUsed,
	})

	if h.prom != nil {
		h.prom.OutcomesTotal.WithLabelValues(rec.serviceType, string(rec.outcome)).Inc()
		h.prom.ExecutionDuration.WithLabelValues(rec.serviceType).Observe(rec.duration.Seconds())
		if rec.fallbackUsed {
			h.prom.FallbacksTotal.WithLabelValues(rec.serviceType).Inc()
		}
	}
}

func (h *Hub) ingestEvent(ev models.TimeoutEvent) {
	// Only soft crossings count toward the timeout rate; a hard crossing
	// for the same request was already counted at its soft threshold.
	if ev.Threshold == models.ThresholdSoft {
		h.windowFor(ev.ServiceType).addTimeout(ev.Timestamp)
	}

	if h.prom != nil {
		h.prom.TimeoutEventsTotal.WithLabelValues(ev.ServiceType, string(ev.Threshold)).Inc()
	}

	h.mu.Lock()
	h.eventLog = append(h.eventLog, ev)
	if len(h.eventLog) > h.cfg.EventLogSize {
		h.eventLog = h.eventLog[len(h.eventLog)-h.cfg.EventLogSize:]
	}
	h.mu.Unlock()
}

func (h *Hub) windowFor(serviceType string) *window {
	w, ok := h.windows[serviceType]
	if !ok {
		w = newWindow(h.cfg.WindowSize, h.cfg.WindowAge)
		h.windows[serviceType] = w
	}
	return w
}

func (h *Hub) aggregate(ctx context.Context, now time.Time) {
	fresh := make(map[string]models.ServiceMetrics, len(h.windows))
	for serviceType, w := range h.windows {
		m := w.aggregate(serviceType, h.cfg.TrendDelta, now)
		fresh[serviceType] = m

		if h.prom != nil {
			h.prom.TimeoutRate.WithLabelValues(serviceType).Set(m.TimeoutRate)
		}

		h.checkAlert(ctx, m)
	}

	h.mu.Lock()
	for serviceType, m := range fresh {
		h.snapshots[serviceType] = m
	}
	h.mu.Unlock()
}

// checkAlert pushes one alert per threshold crossing; re-arming requires
// the rate to fall back below the threshold first.
func (h *Hub) checkAlert(ctx context.Context, m models.ServiceMetrics) {
	if h.cfg.AlertThreshold <= 0 || m.SampleCount == 0 {
		return
	}

	above := m.TimeoutRate >= h.cfg.AlertThreshold
	wasAbove := h.alertedAbove[m.ServiceType]
	h.alertedAbove[m.ServiceType] = above

	if !above || wasAbove {
		return
	}

	if h.prom != nil {
		h.prom.AlertsTotal.WithLabelValues(m.ServiceType).Inc()
	}
	if h.notifier != nil {
		h.notifier.Notify(ctx, Alert{
			ServiceType: m.ServiceType,
			TimeoutRate: m.TimeoutRate,
			WindowStart: m.WindowStart,
			WindowEnd:   m.WindowEnd,
		})
	}
}

package monitoring

import (
	"time"

	"github.com/dermaglow/resolve/internal/models"
)

// outcomeSample is one recorded execution outcome
type outcomeSample struct {
	at           time.Time
	duration     time.Duration
	kind         models.OutcomeKind
	fallbackUsed bool
}

// window holds the bounded sliding window of recent outcomes and soft
// timeout events for a single service type. It is owned by the hub's
// aggregation goroutine and is never accessed concurrently.
type window struct {
	maxSamples int
	maxAge     time.Duration

	samples  []outcomeSample
	timeouts []time.Time

	prevTimeoutRate float64
	hasPrev         bool
}

func newWindow(maxSamples int, maxAge time.Duration) *window {
	return &window{
		maxSamples: maxSamples,
		maxAge:     maxAge,
	}
}

func (w *window) addSample(s outcomeSample) {
	w.samples = append(w.samples, s)
	if len(w.samples) > w.maxSamples {
		w.samples = w.samples[len(w.samples)-w.maxSamples:]
	}
}

func (w *window) addTimeout(at time.Time) {
	w.timeouts = append(w.timeouts, at)
	if len(w.timeouts) > w.maxSamples {
		w.timeouts = w.timeouts[len(w.timeouts)-w.maxSamples:]
	}
}

// prune drops samples older than maxAge
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.maxAge)

	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	w.samples = w.samples[i:]

	i = 0
	for i < len(w.timeouts) && w.timeouts[i].Before(cutoff) {
		i++
	}
	w.timeouts = w.timeouts[i:]
}

// aggregate recomputes the metrics snapshot for the current window contents
// and classifies the trend against the previous window's timeout rate.
func (w *window) aggregate(serviceType string, trendDelta float64, now time.Time) models.ServiceMetrics {
	w.prune(now)

	m := models.ServiceMetrics{
		ServiceType:      serviceType,
		SampleCount:      len(w.samples),
		PerformanceTrend: models.TrendStable,
		WindowStart:      now.Add(-w.maxAge),
		WindowEnd:        now,
		LastUpdated:      now,
	}

	if len(w.samples) == 0 {
		w.prevTimeoutRate = 0
		w.hasPrev = false
		return m
	}

	var total time.Duration
	var failed, fallbacks int
	for _, s := range w.samples {
		total += s.duration
		if s.kind == models.OutcomeFailed {
			failed++
		}
		if s.fallbackUsed {
			fallbacks++
		}
	}

	n := float64(len(w.samples))
	m.AvgExecutionTime = total / time.Duration(len(w.samples))
	m.TimeoutRate = float64(len(w.timeouts)) / n
	m.SuccessRate = 1 - float64(failed)/n
	m.FallbackRate = float64(fallbacks) / n

	if w.hasPrev {
		switch {
		case w.prevTimeoutRate-m.TimeoutRate > trendDelta:
			m.PerformanceTrend = models.TrendImproving
		case m.TimeoutRate-w.prevTimeoutRate > trendDelta:
			m.PerformanceTrend = models.TrendDegrading
		}
	}
	w.prevTimeoutRate = m.TimeoutRate
	w.hasPrev = true

	return m
}

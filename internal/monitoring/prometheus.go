package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics exports hub activity to Prometheus
type PromMetrics struct {
	OutcomesTotal      *prometheus.CounterVec
	TimeoutEventsTotal *prometheus.CounterVec
	FallbacksTotal     *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	TimeoutRate        *prometheus.GaugeVec
	AlertsTotal        *prometheus.CounterVec
	DroppedSamples     prometheus.Counter
}

// NewPromMetrics registers the hub's collectors with reg
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	factory := promauto.With(reg)

	return &PromMetrics{
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resolve_outcomes_total",
			Help: "Total execution outcomes by service type and kind",
		}, []string{"service_type", "kind"}),
		TimeoutEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resolve_timeout_events_total",
			Help: "Total timeout threshold crossings by service type and threshold",
		}, []string{"service_type", "threshold"}),
		FallbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resolve_fallbacks_total",
			Help: "Total outcomes served by a fallback strategy",
		}, []string{"service_type"}),
		ExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resolve_execution_duration_seconds",
			Help:    "Wrapped call execution time by service type",
			Buckets: prometheus.DefBuckets,
		}, []string{"service_type"}),
		TimeoutRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "resolve_timeout_rate",
			Help: "Timeout rate over the trailing aggregation window",
		}, []string{"service_type"}),
		AlertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "resolve_alerts_total",
			Help: "Total timeout-rate alerts pushed to the notification channel",
		}, []string{"service_type"}),
		DroppedSamples: factory.NewCounter(prometheus.CounterOpts{
			Name: "resolve_monitoring_dropped_samples_total",
			Help: "Samples dropped by the hub under backpressure",
		}),
	}
}

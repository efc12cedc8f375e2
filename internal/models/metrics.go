package models

import "time"

// PerformanceTrend classifies how a service's timeout rate is moving
// between consecutive aggregation windows
type PerformanceTrend string

const (
	TrendImproving PerformanceTrend = "improving"
	TrendStable    PerformanceTrend = "stable"
	TrendDegrading PerformanceTrend = "degrading"
)

// ServiceMetrics is the rolling per-service-type aggregate computed by the
// monitoring hub. Snapshots are eventually consistent: they may lag real
// time by one aggregation cycle.
type ServiceMetrics struct {
	ServiceType      string           `json:"service_type"`
	AvgExecutionTime time.Duration    `json:"avg_execution_time"`
	TimeoutRate      float64          `json:"timeout_rate"`
	SuccessRate      float64          `json:"success_rate"`
	FallbackRate     float64          `json:"fallback_rate"`
	SampleCount      int              `json:"sample_count"`
	PerformanceTrend PerformanceTrend `json:"performance_trend"`
	WindowStart      time.Time        `json:"window_start"`
	WindowEnd        time.Time        `json:"window_end"`
	LastUpdated      time.Time        `json:"last_updated"`
}

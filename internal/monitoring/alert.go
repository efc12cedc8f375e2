package monitoring

import (
	"context"
	"log/slog"
	"time"
)

// Alert is pushed to the ops notification channel when a service's timeout
// rate crosses the configured threshold over the trailing window.
type Alert struct {
	ServiceType string    `json:"service_type"`
	TimeoutRate float64   `json:"timeout_rate"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// AlertNotifier delivers alerts to an external notification channel.
// Implementations must not block the caller for long; delivery is
// best-effort.
type AlertNotifier interface {
	Notify(ctx context.Context, alert Alert)
}

// LogNotifier writes alerts to the structured log. It stands in for the
// ops notification channel when none is wired.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs alerts at warn level
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "alert_notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) {
	n.logger.Warn("timeout rate threshold crossed",
		"service_type", alert.ServiceType,
		"timeout_rate", alert.TimeoutRate,
		"window_start", alert.WindowStart,
		"window_end", alert.WindowEnd,
	)
}

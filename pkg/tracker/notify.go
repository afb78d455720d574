package tracker

import (
	"context"
	"log/slog"

	"github.com/ogulcanaydogan/cuemeter/internal/metrics"
	"github.com/ogulcanaydogan/cuemeter/pkg/alerts"
)

// Alerter fans operator alerts out to every configured notifier.
type Alerter struct {
	notifiers []alerts.Notifier
	logger    *slog.Logger
}

// NewAlerter creates an alerter.
func NewAlerter(notifiers []alerts.Notifier, logger *slog.Logger) *Alerter {
	return &Alerter{notifiers: notifiers, logger: logger}
}

// Dispatch logs the alert and sends it to every notifier. Delivery
// failures are logged and never returned.
func (a *Alerter) Dispatch(ctx context.Context, alert alerts.Alert) {
	level := slog.LevelWarn
	if alert.Level == alerts.AlertCritical {
		level = slog.LevelError
	}
	a.logger.Log(ctx, level, "operator alert",
		"event", alert.Event,
		"level", alert.Level,
		"table", alert.TableID,
		"pending", alert.Pending,
		"message", alert.Message,
	)

	for _, notifier := range a.notifiers {
		if err := notifier.Send(ctx, alert); err != nil {
			a.logger.Error("send alert failed",
				"notifier", notifier.Name(),
				"event", alert.Event,
				"error", err,
			)
			continue
		}
		metrics.AlertsSent.WithLabelValues(string(alert.Event), notifier.Name()).Inc()
	}
}

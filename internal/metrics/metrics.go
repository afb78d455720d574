package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	SessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cuemeter_sessions_completed_total",
			Help: "Total billing sessions closed",
		},
		[]string{"table"},
	)

	Revenue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cuemeter_revenue_total",
			Help: "Total amount billed by closed sessions",
		},
		[]string{"table"},
	)

	SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cuemeter_session_duration_seconds",
			Help:    "Elapsed billed time of closed sessions",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)

	// Timer metrics
	TablesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cuemeter_tables_running",
			Help: "Number of tables with a running session",
		},
	)

	RateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cuemeter_rate_changes_total",
			Help: "Rate changes applied to running sessions",
		},
		[]string{"table"},
	)

	// Persistence metrics
	HistoryWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cuemeter_history_write_failures_total",
			Help: "Failed attempts to persist session history",
		},
	)

	HistoryPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cuemeter_history_pending",
			Help: "Session records held in memory awaiting persistence",
		},
	)

	AlertsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cuemeter_alerts_sent_total",
			Help: "Operator alerts dispatched",
		},
		[]string{"event", "notifier"},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsCompleted,
		Revenue,
		SessionDuration,
		TablesRunning,
		RateChanges,
		HistoryWriteFailures,
		HistoryPending,
		AlertsSent,
	)
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal tracks inbound requests per route and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_http_requests_total",
			Help: "Total number of inbound HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks inbound request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgate_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// WebhookAttemptsTotal tracks outbound attempts by classified outcome
	WebhookAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_webhook_attempts_total",
			Help: "Total number of outbound webhook attempts",
		},
		[]string{"operation", "outcome"},
	)

	// WebhookRetriesTotal tracks retries scheduled after a retryable failure
	WebhookRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_webhook_retries_total",
			Help: "Total number of outbound webhook retries",
		},
		[]string{"operation"},
	)

	// WebhookAttemptLatency tracks per-attempt latency
	WebhookAttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgate_webhook_attempt_latency_seconds",
			Help:    "Outbound webhook attempt latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	// RecoveryResetTotal tracks stuck imports reset to pending at startup
	RecoveryResetTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowgate_recovery_reset_total",
			Help: "Total number of stuck imports reset by startup recovery",
		},
	)

	// ImportsTotal tracks imports reaching a final status
	ImportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_imports_total",
			Help: "Total number of imports by final status",
		},
		[]string{"status"},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowgate_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)

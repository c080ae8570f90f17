// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - The rate-limited gateway to the learning platform
// - Reconciliation runs and membership changes
// - Webhook processing
// - Grade passback
// - Credential refreshes
// - Database query performance (DuckDB)
// - API endpoint latency and throughput

var (
	// Gateway Metrics
	GatewayQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_queue_depth",
			Help: "Current number of calls waiting in the gateway dispatch queue",
		},
	)

	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of calls dispatched through the gateway",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	GatewayRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total number of gateway-level retries by error code",
		},
		[]string{"code"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Reconciliation Metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roster_sync_duration_seconds",
			Help:    "Duration of full course roster syncs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"trigger"}, // "scheduled", "manual"
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_sync_runs_total",
			Help: "Total number of course roster sync runs",
		},
		[]string{"trigger", "result"}, // result: "success", "failure"
	)

	MembershipChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_membership_changes_total",
			Help: "Total membership changes applied by reconciliation",
		},
		[]string{"role", "change"}, // change: "added", "removed", "updated"
	)

	CoursesQuarantined = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roster_courses_quarantined",
			Help: "Courses excluded from automatic sync by the failure threshold",
		},
	)

	// Webhook Metrics
	WebhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_notifications_total",
			Help: "Total push notifications received",
		},
		[]string{"collection", "event_type", "result"}, // result: "applied", "ignored", "dropped", "failure"
	)

	WebhookProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_processing_duration_seconds",
			Help:    "Duration of single-notification processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WebhookRegistrationsRenewed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_registrations_renewed_total",
			Help: "Total webhook registrations superseded before expiry",
		},
	)

	// Grade Passback Metrics
	GradePassbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grade_passbacks_total",
			Help: "Total grade passback attempts",
		},
		[]string{"result"}, // "success", "failure"
	)

	GradePassbackPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grade_passback_pending",
			Help: "Completed submissions whose grade has not been written back",
		},
	)

	// Credential Metrics
	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_refreshes_total",
			Help: "Total OAuth token refreshes",
		},
		[]string{"result"}, // "success", "failure", "terminal"
	)

	CredentialsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credentials_connected",
			Help: "Current number of connected learning platform accounts",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Domain Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_published_total",
			Help: "Total domain events published",
		},
		[]string{"topic", "result"}, // result: "success", "failure"
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSyncRun records the outcome of one course roster sync.
func RecordSyncRun(trigger string, duration time.Duration, err error) {
	SyncDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	result := "success"
	if err != nil {
		result = "failure"
	}
	SyncRuns.WithLabelValues(trigger, result).Inc()
}

// RecordMembershipChanges records reconciliation deltas for one role.
func RecordMembershipChanges(role string, added, removed, updated int) {
	if added > 0 {
		MembershipChanges.WithLabelValues(role, "added").Add(float64(added))
	}
	if removed > 0 {
		MembershipChanges.WithLabelValues(role, "removed").Add(float64(removed))
	}
	if updated > 0 {
		MembershipChanges.WithLabelValues(role, "updated").Add(float64(updated))
	}
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

/*
Package metrics provides Prometheus metrics collection and export for observability.

This package instruments the sync engine with the Prometheus client
library, exposing metrics for monitoring performance, errors, and system
health.

# Overview

The package provides metrics for:
  - The rate-limited gateway to the learning platform
  - Circuit breaker state transitions
  - Roster sync runs and membership changes
  - Webhook notification processing
  - Grade passback
  - Credential refreshes and connected accounts
  - Database query performance (DuckDB)
  - API endpoint latency and throughput
  - Domain event publishing

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8431/metrics

# Available Metrics

Gateway Metrics:
  - gateway_queue_depth: Calls waiting for dispatch (gauge)
  - gateway_requests_total: Dispatched calls (counter)
    Labels: result (success, failure, rejected)
  - gateway_retries_total: Gateway-level retries (counter)
    Labels: code

Sync Metrics:
  - roster_sync_duration_seconds: Full course sync duration (histogram)
    Labels: trigger (scheduled, manual)
    Buckets: 1, 5, 10, 30, 60, 120, 300, 600
  - roster_sync_runs_total: Sync runs (counter)
    Labels: trigger, result
  - roster_membership_changes_total: Applied membership deltas (counter)
    Labels: role, change (added, removed, updated)
  - roster_courses_quarantined: Courses excluded by the failure threshold (gauge)

Webhook Metrics:
  - webhook_notifications_total: Push notifications received (counter)
    Labels: collection, event_type, result
  - webhook_processing_duration_seconds: Per-notification latency (histogram)
  - webhook_registrations_renewed_total: Registrations superseded before expiry (counter)

Passback and Credential Metrics:
  - grade_passbacks_total: Grade passback attempts (counter)
    Labels: result
  - grade_passback_pending: Grades awaiting write-back (gauge)
  - credential_refreshes_total: OAuth token refreshes (counter)
    Labels: result (success, failure, terminal)
  - credentials_connected: Connected platform accounts (gauge)

Database Metrics:
  - duckdb_query_duration_seconds: Query execution time (histogram)
    Labels: operation, table
  - duckdb_query_errors_total: Failed queries (counter)
    Labels: operation, table, error_type

API Metrics:
  - api_requests_total: API requests (counter)
    Labels: method, endpoint, status_code
  - api_request_duration_seconds: Request latency (histogram)
    Labels: method, endpoint
  - api_active_requests: Active requests (gauge)
  - api_rate_limit_hits_total: Rate limit rejections (counter)
    Labels: endpoint

# Usage Example

Basic setup in main.go:

	import (
	    "github.com/classward/classward/internal/metrics"
	    "github.com/prometheus/client_golang/prometheus/promhttp"
	)

	func main() {
	    http.Handle("/metrics", promhttp.Handler())

	    metrics.RecordAPIRequest("GET", "/api/v1/sync/status", "200", 23*time.Millisecond)
	    metrics.RecordDBQuery("select", "memberships", 5*time.Millisecond, nil)
	    metrics.RecordSyncRun("scheduled", 42*time.Second, nil)
	}

# Cardinality

Label values are bounded: endpoints are route patterns, not raw paths,
and database error types are truncated. Never use unbounded values
(user IDs, course IDs) as label values.

# See Also

  - internal/middleware: HTTP middleware recording API metrics
  - internal/classroom: gateway and circuit breaker instrumentation
  - internal/reconcile: sync run instrumentation
*/
package metrics

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package api

import (
	"context"
	"time"

	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/middleware"
	"github.com/classward/classward/internal/models"
	"github.com/classward/classward/internal/store"
	"github.com/classward/classward/internal/webhook"
)

// defaultSyncLogLimit caps sync log listings when the client does not
// ask for a specific page size.
const defaultSyncLogLimit = 50

// maxSyncLogLimit bounds client-requested page sizes.
const maxSyncLogLimit = 500

// oauthStateTTL bounds how long an issued OAuth state token stays valid.
const oauthStateTTL = 10 * time.Minute

// SyncService triggers roster reconciliation. Implemented by
// reconcile.Reconciler.
type SyncService interface {
	SyncCourseRoster(ctx context.Context, remoteCourseID, trigger string) (*models.SyncLog, error)
	ResetSyncState(ctx context.Context, remoteCourseID string) error
}

// NotificationProcessor applies platform push notifications. Implemented
// by webhook.Processor.
type NotificationProcessor interface {
	Process(ctx context.Context, n *webhook.Notification) error
}

// CredentialService manages per-user platform credentials. Implemented
// by credentials.Manager.
type CredentialService interface {
	Connect(ctx context.Context, userID, tenantID, code string) (*models.Credential, error)
	Connected(ctx context.Context, userID string) (bool, error)
	RevokeAccess(ctx context.Context, userID string) error
}

// ServerConfig carries the HTTP-surface configuration.
type ServerConfig struct {
	// WebhookSecret is the shared secret for webhook bearer tokens and
	// body signatures. Empty disables webhook authentication
	// (development only; production validation rejects it).
	WebhookSecret string

	// StateSecret signs OAuth state tokens. Usually the platform client
	// secret.
	StateSecret string

	// AdminToken protects the sync and credential admin endpoints.
	// Empty disables admin auth (development only).
	AdminToken string

	// FailureThreshold mirrors the orchestrator's circuit breaker so the
	// status endpoint can report quarantined courses.
	FailureThreshold int

	// CORS and rate limiting, from the security config section.
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// Server is the HTTP surface of the sync engine.
type Server struct {
	cfg         ServerConfig
	store       store.RosterStore
	syncer      SyncService
	webhooks    NotificationProcessor
	credentials CredentialService

	// authorizeURL builds the platform OAuth authorize URL for a state
	// token. Wired to classroom.Client.AuthorizeURL.
	authorizeURL func(state string) string

	chiMiddleware *ChiMiddleware
	perfMon       *middleware.PerformanceMonitor
	secLog        *logging.SecurityLogger

	// ready reports readiness for the readyz probe. Nil means always
	// ready.
	ready func(ctx context.Context) error

	// now is replaced in tests.
	now func() time.Time
}

// NewServer wires the HTTP surface. authorizeURL and ready may be nil.
func NewServer(
	cfg ServerConfig,
	st store.RosterStore,
	syncer SyncService,
	webhooks NotificationProcessor,
	creds CredentialService,
	authorizeURL func(state string) string,
	ready func(ctx context.Context) error,
) *Server {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 100
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	return &Server{
		cfg:         cfg,
		store:       st,
		syncer:      syncer,
		webhooks:    webhooks,
		credentials: creds,

		authorizeURL: authorizeURL,

		chiMiddleware: NewChiMiddlewareFromSecurity(
			cfg.CORSOrigins, cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.RateLimitDisabled),
		perfMon: middleware.NewPerformanceMonitor(1000),
		secLog:  logging.NewSecurityLogger(),

		ready: ready,
		now:   time.Now,
	}
}

// PerformanceStats exposes the rolling latency stats for the status
// endpoint.
func (s *Server) PerformanceStats() []middleware.EndpointStats {
	return s.perfMon.GetStats()
}

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classward/classward/internal/middleware"
)

// chiMiddleware adapts http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler so it can be used with r.Use().
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Routes assembles the full route tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.chiMiddleware.CORS()) // CORS must be global to handle OPTIONS preflight
	r.Use(s.perfMon.Middleware)

	// Webhook intake. Authenticated by shared secret inside the handler,
	// not by the admin token; the platform delivers bursts after bulk
	// roster changes, so the limit is permissive.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(s.chiMiddleware.RateLimitCustom(RateLimitWebhook))
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Post("/platform", s.handlePlatformWebhook)
	})

	// OAuth connect flow. Connect and callback are reached by browsers
	// mid-flow and stay outside admin auth; disconnect is an admin
	// operation.
	r.Route("/api/v1/oauth", func(r chi.Router) {
		r.Use(s.chiMiddleware.RateLimitCustom(RateLimitOAuth))
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Get("/connect", s.handleOAuthConnect)
		r.Get("/callback", s.handleOAuthCallback)
		r.Get("/status", s.handleOAuthStatus)
		r.With(AdminAuth(s.cfg.AdminToken)).Post("/disconnect", s.handleOAuthDisconnect)
	})

	// Course sync administration.
	r.Route("/api/v1/courses", func(r chi.Router) {
		r.Use(s.chiMiddleware.RateLimitCustom(RateLimitRead))
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(AdminAuth(s.cfg.AdminToken))

		r.Get("/", s.handleListCourseStates)

		r.Route("/{courseID}", func(r chi.Router) {
			r.Get("/state", s.handleCourseState)
			r.With(s.chiMiddleware.RateLimitCustom(RateLimitSync)).Post("/sync", s.handleTriggerSync)
			r.Post("/reset", s.handleResetSync)
		})
	})

	// Sync audit trail. Log listings can run large, so responses are
	// gzip-compressed when the client accepts it.
	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(s.chiMiddleware.RateLimitCustom(RateLimitRead))
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(middleware.Compression))
		r.Use(AdminAuth(s.cfg.AdminToken))

		r.Get("/logs", s.handleSyncLogs)
		r.Get("/status", s.handleSyncStatus)
	})

	// Health and observability.
	r.Group(func(r chi.Router) {
		r.Use(s.chiMiddleware.RateLimitCustom(RateLimitHealth))

		r.Get("/healthz", s.handleHealthz)
		r.Get("/readyz", s.handleReadyz)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

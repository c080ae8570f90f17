// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/middleware"
	"github.com/classward/classward/internal/models"
	"github.com/classward/classward/internal/reconcile"
	"github.com/classward/classward/internal/store"
)

// handleTriggerSync runs an immediate roster reconciliation for one
// course. A sync already running for the course returns 409 without
// starting a second one.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	courseID := chi.URLParam(r, "courseID")
	if courseID == "" {
		rw.BadRequest("Course ID is required")
		return
	}

	log, err := s.syncer.SyncCourseRoster(r.Context(), courseID, models.TriggerManual)
	switch {
	case errors.Is(err, reconcile.ErrSyncInProgress):
		rw.Conflict("A sync is already in progress for this course")
		return
	case errors.Is(err, store.ErrNotFound):
		rw.NotFound("Course is not onboarded for sync")
		return
	case err != nil:
		// The reconciler already persisted the failed sync log and
		// bumped the failure counter; surface the outcome to the caller.
		logging.Warn().Err(err).Str("course_id", courseID).Msg("Manual sync failed")
		if log != nil {
			rw.ErrorWithDetails(http.StatusBadGateway, ErrCodeExternalServiceFail, "Sync failed", log)
			return
		}
		rw.InternalError("Sync failed")
		return
	}

	rw.Success(log)
}

// handleResetSync clears the consecutive failure counter and any stuck
// in-progress marker, re-admitting the course to scheduled syncs.
func (s *Server) handleResetSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	courseID := chi.URLParam(r, "courseID")
	if courseID == "" {
		rw.BadRequest("Course ID is required")
		return
	}

	err := s.syncer.ResetSyncState(r.Context(), courseID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rw.NotFound("Course is not onboarded for sync")
		return
	case err != nil:
		rw.DatabaseError(err)
		return
	}

	state, err := s.store.GetSyncState(r.Context(), courseID)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(state)
}

// handleCourseState returns the sync bookkeeping for one course.
func (s *Server) handleCourseState(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	courseID := chi.URLParam(r, "courseID")
	if courseID == "" {
		rw.BadRequest("Course ID is required")
		return
	}

	state, err := s.store.GetSyncState(r.Context(), courseID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rw.NotFound("Course is not onboarded for sync")
		return
	case err != nil:
		rw.DatabaseError(err)
		return
	}

	rw.Success(state)
}

// handleListCourseStates returns the sync state of every onboarded
// course.
func (s *Server) handleListCourseStates(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	states, err := s.store.ListSyncStates(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.SuccessWithPagination(states, &PaginationMeta{Count: len(states)})
}

// handleSyncLogs returns the sync audit trail for one course, newest
// first.
func (s *Server) handleSyncLogs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	courseID := r.URL.Query().Get("course")
	if courseID == "" {
		rw.BadRequest("Query parameter 'course' is required")
		return
	}

	limit := defaultSyncLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			rw.BadRequest("Query parameter 'limit' must be a positive integer")
			return
		}
		limit = parsed
		if limit > maxSyncLogLimit {
			limit = maxSyncLogLimit
		}
	}

	logs, err := s.store.ListSyncLogs(r.Context(), courseID, limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.SuccessWithPagination(logs, &PaginationMeta{
		Count:   len(logs),
		Limit:   limit,
		HasMore: len(logs) == limit,
	})
}

// syncStatusResponse summarizes the deployment's sync posture for the
// status endpoint.
type syncStatusResponse struct {
	Courses     int                        `json:"courses"`
	AutoSync    int                        `json:"auto_sync_enabled"`
	InProgress  int                        `json:"in_progress"`
	Quarantined int                        `json:"quarantined"`
	Performance []middleware.EndpointStats `json:"performance,omitempty"`
}

// handleSyncStatus returns an aggregate view across all courses plus
// rolling HTTP latency stats.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	states, err := s.store.ListSyncStates(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	resp := syncStatusResponse{Courses: len(states)}
	for _, st := range states {
		if st.AutoSyncEnabled {
			resp.AutoSync++
		}
		if st.SyncInProgress {
			resp.InProgress++
		}
		if st.ConsecutiveFailures >= s.cfg.FailureThreshold {
			resp.Quarantined++
		}
	}
	resp.Performance = s.perfMon.GetStats()

	rw.Success(resp)
}

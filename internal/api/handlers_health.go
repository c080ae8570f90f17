// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package api

import (
	"net/http"
)

// handleHealthz is the liveness probe. Reachability is the check.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]string{"status": "ok"})
}

// handleReadyz is the readiness probe. A configured readiness check
// (usually a store ping) gates the answer.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			rw.ServiceUnavailable("Not ready: " + err.Error())
			return
		}
	}

	rw.Success(map[string]string{"status": "ready"})
}

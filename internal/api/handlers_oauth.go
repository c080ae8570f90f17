// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package api

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/classward/classward/internal/credentials"
	"github.com/classward/classward/internal/logging"
)

// oauthStateClaims is the signed state round-tripped through the
// provider's authorize redirect. Carrying the user inside the state
// means the callback needs no session lookup.
type oauthStateClaims struct {
	TenantID string `json:"tid,omitempty"`
	jwt.RegisteredClaims
}

// signOAuthState issues a short-lived HS256 state token binding the
// authorize redirect to one user.
func (s *Server) signOAuthState(userID, tenantID string) (string, error) {
	now := s.now()
	claims := oauthStateClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(oauthStateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.StateSecret))
}

// parseOAuthState verifies a state token and returns the bound user.
func (s *Server) parseOAuthState(state string) (*oauthStateClaims, error) {
	claims := &oauthStateClaims{}
	_, err := jwt.ParseWithClaims(state, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(s.cfg.StateSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("state token missing subject")
	}
	return claims, nil
}

// handleOAuthConnect starts the connect flow: it returns the provider
// authorize URL carrying a signed state for the given user.
func (s *Server) handleOAuthConnect(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		rw.BadRequest("Query parameter 'user_id' is required")
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")

	if s.authorizeURL == nil {
		rw.ServiceUnavailable("OAuth connect flow is not configured")
		return
	}

	state, err := s.signOAuthState(userID, tenantID)
	if err != nil {
		rw.InternalError("Failed to issue state token")
		return
	}

	rw.Success(map[string]string{
		"authorize_url": s.authorizeURL(state),
		"state":         state,
	})
}

// handleOAuthCallback finishes the connect flow: it verifies the state,
// exchanges the authorization code, and stores the credential.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		logging.Warn().Str("error", errCode).Msg("OAuth callback returned provider error")
		rw.BadRequest("Authorization was denied by the provider")
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		rw.BadRequest("Query parameters 'code' and 'state' are required")
		return
	}

	claims, err := s.parseOAuthState(state)
	if err != nil {
		s.secLog.LogOAuthStateMismatch(clientIP(r), r.UserAgent())
		rw.BadRequest("Invalid or expired state token")
		return
	}

	cred, err := s.credentials.Connect(r.Context(), claims.Subject, claims.TenantID, code)
	if err != nil {
		rw.ExternalServiceError("platform token exchange", err)
		return
	}

	s.secLog.LogCredentialConnected(cred.UserID, cred.RemoteEmail, clientIP(r), r.UserAgent())

	rw.Success(map[string]interface{}{
		"user_id":      cred.UserID,
		"remote_email": logging.SanitizeEmail(cred.RemoteEmail),
		"scopes":       cred.Scopes,
		"expires_at":   cred.ExpiresAt,
	})
}

// handleOAuthStatus reports whether a user has a connected credential.
func (s *Server) handleOAuthStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		rw.BadRequest("Query parameter 'user_id' is required")
		return
	}

	connected, err := s.credentials.Connected(r.Context(), userID)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(map[string]interface{}{
		"user_id":   userID,
		"connected": connected,
	})
}

// handleOAuthDisconnect revokes and deletes a user's stored credential.
func (s *Server) handleOAuthDisconnect(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		rw.BadRequest("Query parameter 'user_id' is required")
		return
	}

	err := s.credentials.RevokeAccess(r.Context(), userID)
	switch {
	case errors.Is(err, credentials.ErrNotConnected):
		rw.NotFound("User has no connected account")
		return
	case err != nil:
		rw.ExternalServiceError("platform token revocation", err)
		return
	}

	s.secLog.LogCredentialRevoked(userID, clientIP(r))
	rw.Success(map[string]interface{}{
		"user_id":   userID,
		"connected": false,
	})
}

// clientIP returns the request's remote address. RealIP middleware has
// already folded in X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	return r.RemoteAddr
}

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/webhook"
)

// maxWebhookBody bounds notification payloads. Platform notifications
// are a few hundred bytes; anything near this limit is garbage.
const maxWebhookBody = 1 << 20

// webhookSignatureHeader carries the optional hex HMAC-SHA256 of the
// request body, keyed with the shared webhook secret.
const webhookSignatureHeader = "X-Webhook-Signature"

// handlePlatformWebhook receives push notifications from the learning
// platform.
//
// Authentication is a bearer JWT signed HS256 with the shared webhook
// secret; when the signature header is present the body HMAC must match
// too. Malformed payloads are acknowledged with 200 and dropped so the
// platform stops redelivering them; transient processing failures
// return 500 so it retries.
func (s *Server) handlePlatformWebhook(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		rw.BadRequest("Failed to read request body")
		return
	}

	if s.cfg.WebhookSecret != "" {
		if reason, ok := s.authenticateWebhook(r, body); !ok {
			s.secLog.LogWebhookAuthFailure(clientIP(r), r.UserAgent(), reason)
			rw.Unauthorized("Webhook authentication failed")
			return
		}
	}

	n, err := webhook.ParseNotification(body)
	if err != nil {
		logging.Warn().Err(err).
			Int("body_bytes", len(body)).
			Msg("Dropping malformed webhook notification")
		rw.Success(map[string]bool{"dropped": true})
		return
	}

	if err := s.webhooks.Process(r.Context(), n); err != nil {
		logging.Error().Err(err).
			Str("collection", n.Collection).
			Str("event_type", n.EventType).
			Str("course_id", n.ResourceID.CourseID).
			Msg("Webhook notification processing failed")
		rw.InternalError("Notification processing failed")
		return
	}

	rw.Success(map[string]bool{"processed": true})
}

// authenticateWebhook validates the bearer token and, when present, the
// body signature. Returns a reason string on failure for the security
// log.
func (s *Server) authenticateWebhook(r *http.Request, body []byte) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		return "missing bearer token", false
	}

	_, err := jwt.Parse(token,
		func(*jwt.Token) (interface{}, error) { return []byte(s.cfg.WebhookSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "invalid bearer token", false
	}

	if sig := r.Header.Get(webhookSignatureHeader); sig != "" {
		mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
		mac.Write(body)
		want := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(sig), []byte(want)) {
			return "body signature mismatch", false
		}
	}

	return "", true
}

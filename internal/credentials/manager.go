// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/classward/classward/internal/classroom"
	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/metrics"
	"github.com/classward/classward/internal/models"
	"github.com/classward/classward/internal/store"
)

// defaultRefreshBuffer is how far ahead of expiry a token is refreshed.
// Five minutes covers clock skew against the provider plus the worst
// case queueing delay of a long sync batch ahead of the refresh call.
const defaultRefreshBuffer = 5 * time.Minute

// ErrNotConnected is returned when the user has no stored credential.
var ErrNotConnected = errors.New("credentials: user has no connected account")

// Store is the credential persistence surface the manager consumes.
type Store interface {
	GetCredential(ctx context.Context, userID string) (*models.Credential, error)
	PutCredential(ctx context.Context, cred *models.Credential) error
	DeleteCredential(ctx context.Context, userID string) error
}

// TokenSource is the subset of the roster provider covering the OAuth
// token endpoints.
type TokenSource interface {
	ExchangeCodeForTokens(ctx context.Context, code string) (*classroom.TokenResponse, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*classroom.TokenResponse, error)
	RevokeToken(ctx context.Context, token string) error
}

// Publisher emits account lifecycle events. May be nil.
type Publisher interface {
	AccountConnected(ctx context.Context, userID, tenantID string)
	AccountDisconnected(ctx context.Context, userID, tenantID string)
}

// Manager owns Credential records: it creates them on connect, refreshes
// access tokens transparently, and deletes them on disconnect. Exactly
// zero or one credential exists per local user.
type Manager struct {
	store  Store
	tokens TokenSource
	events Publisher

	refreshBuffer time.Duration

	// now is replaced in tests.
	now func() time.Time

	// mu serializes refreshes so two concurrent callers for the same
	// user do not both spend a gateway slot on the same refresh.
	mu sync.Mutex
}

// NewManager wires a credential manager. events may be nil.
func NewManager(credStore Store, tokens TokenSource, events Publisher) *Manager {
	return &Manager{
		store:         credStore,
		tokens:        tokens,
		events:        events,
		refreshBuffer: defaultRefreshBuffer,
		now:           time.Now,
	}
}

// Connect exchanges an authorization code for tokens and stores the
// resulting credential, replacing any previous one for the user.
func (m *Manager) Connect(ctx context.Context, userID, tenantID, code string) (*models.Credential, error) {
	resp, err := m.tokens.ExchangeCodeForTokens(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	now := m.now()
	cred := &models.Credential{
		UserID:       userID,
		TenantID:     tenantID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if resp.Scope != "" {
		cred.Scopes = strings.Fields(resp.Scope)
	}

	if err := m.store.PutCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	metrics.CredentialsConnected.Inc()
	logging.Info().Str("user_id", userID).Msg("Learning platform account connected")

	if m.events != nil {
		m.events.AccountConnected(ctx, userID, tenantID)
	}
	return cred, nil
}

// GetValidAccessToken returns an access token guaranteed to live past
// the refresh buffer. A token expiring within the buffer is refreshed
// through the gateway first; the stored refresh token is only replaced
// when the provider rotated it, because providers do not always return
// a new one.
//
// A refresh failing with invalid_grant surfaces as a non-retryable
// token-expired error: the end user must reconnect, and callers must
// not retry.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", fmt.Errorf("load credential: %w", err)
	}

	now := m.now()
	if now.Before(cred.ExpiresAt.Add(-m.refreshBuffer)) {
		return cred.AccessToken, nil
	}

	resp, err := m.tokens.RefreshAccessToken(ctx, cred.RefreshToken)
	if err != nil {
		classified := classroom.Classify(err)
		switch classified.Code {
		case classroom.CodeTokenExpired, classroom.CodeTokenRevoked:
			metrics.CredentialRefreshes.WithLabelValues("terminal").Inc()
			logging.Warn().Str("user_id", userID).Str("code", string(classified.Code)).
				Msg("Token refresh rejected; user must reconnect")
		default:
			metrics.CredentialRefreshes.WithLabelValues("failure").Inc()
			logging.Error().Err(err).Str("user_id", userID).Msg("Token refresh failed")
		}
		return "", classified
	}

	cred.AccessToken = resp.AccessToken
	cred.ExpiresAt = m.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.RefreshToken != "" {
		cred.RefreshToken = resp.RefreshToken
	}
	cred.UpdatedAt = m.now()

	if err := m.store.PutCredential(ctx, cred); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}

	metrics.CredentialRefreshes.WithLabelValues("success").Inc()
	logging.Debug().Str("user_id", userID).Time("expires_at", cred.ExpiresAt).Msg("Access token refreshed")
	return cred.AccessToken, nil
}

// Connected reports whether the user has a stored credential.
func (m *Manager) Connected(ctx context.Context, userID string) (bool, error) {
	_, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RevokeAccess disconnects the user: best-effort remote revocation
// followed by unconditional local deletion. Remote failures are
// swallowed; a token already dead on the provider side must not block
// local cleanup.
func (m *Manager) RevokeAccess(ctx context.Context, userID string) error {
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load credential: %w", err)
	}

	token := cred.RefreshToken
	if token == "" {
		token = cred.AccessToken
	}
	if token != "" {
		if err := m.tokens.RevokeToken(ctx, token); err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Msg("Remote token revocation failed; continuing local cleanup")
		}
	}

	if err := m.store.DeleteCredential(ctx, userID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	metrics.CredentialsConnected.Dec()
	logging.Info().Str("user_id", userID).Msg("Learning platform account disconnected")

	if m.events != nil {
		m.events.AccountDisconnected(ctx, userID, cred.TenantID)
	}
	return nil
}

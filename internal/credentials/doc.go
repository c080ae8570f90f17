// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

// Package credentials owns the OAuth token lifecycle for connected
// learning platform accounts: first connect, transparent refresh with a
// safety buffer, and disconnect with best-effort remote revocation.
//
// All token endpoint traffic flows through the classroom gateway, so
// refreshes compete with roster calls for the shared rate budget. A
// refresh rejected with invalid_grant is terminal: it surfaces as a
// non-retryable token-expired error telling the end user to reconnect.
//
// Tokens are encrypted at rest by TokenCipher (AES-256-GCM, key derived
// from the configured secret via HKDF-SHA256); the persistence layer
// stores only ciphertext.
package credentials

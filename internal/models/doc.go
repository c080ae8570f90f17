// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

/*
Package models defines data structures shared across the Classward service.

This package contains the domain records mirrored from the learning
platform (courses, memberships, coursework, submissions), the operational
records owned by the sync engine (credentials, sync state, webhook
registrations, sync logs), and the optional-field patch type used to
express partial updates without ambiguity between "leave unchanged" and
"set to null".

Key Components:

  - Credential: per-user OAuth token record, owned by internal/credentials
  - SyncState: per-course sync bookkeeping, owned by internal/orchestrator
    and internal/reconcile
  - Membership: teacher/student/guardian enrollment, soft-deleted via
    status=REMOVED rather than hard-deleted
  - WebhookRegistration: push-notification subscription, superseded on
    renewal rather than updated in place
  - SyncLog: append-only audit record of one sync attempt
  - Field[T]: three-state patch field (unset / null / value)

Thread Safety:

All models are plain value structs with no internal synchronization.
They are safe for concurrent reads; ownership of writes is documented
per type above.

See Also:

  - internal/store: persistence for these models
  - internal/classroom: remote API types these are reconciled against
  - internal/reconcile: the diff engine that mutates memberships
*/
package models

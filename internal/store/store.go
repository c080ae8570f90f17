// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

// Package store persists Classward's local system of record.
//
// Three implementations exist:
//
//   - MemoryStore: mutex-guarded maps, for tests and development
//   - DuckDBStore: the production store for rosters, sync state, sync
//     logs, webhook registrations, coursework, and submissions
//   - BadgerCredentialStore: encrypted OAuth credentials in BadgerDB,
//     kept separate from roster data so tokens never share a file with
//     exportable records
//
// Consumers depend on the narrow per-concern interfaces below, not on a
// concrete store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/classward/classward/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Cipher encrypts credential material at rest. Implemented by
// credentials.TokenCipher.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// CredentialStore persists per-user OAuth credentials.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*models.Credential, error)
	PutCredential(ctx context.Context, cred *models.Credential) error
	DeleteCredential(ctx context.Context, userID string) error
}

// DueCourseQuery selects courses eligible for a scheduled sync.
type DueCourseQuery struct {
	// Now anchors staleness checks.
	Now time.Time

	// StaleAfter is the minimum age of LastSyncAt before a course is
	// due again. Courses never synced are always due.
	StaleAfter time.Duration

	// FailureThreshold excludes courses with this many or more
	// consecutive failures (the scheduler-level circuit breaker).
	FailureThreshold int

	// Limit caps the number of returned courses. Zero means no cap.
	Limit int
}

// SyncStateStore persists per-course sync bookkeeping.
type SyncStateStore interface {
	GetSyncState(ctx context.Context, remoteCourseID string) (*models.SyncState, error)
	PutSyncState(ctx context.Context, state *models.SyncState) error

	// UpdateSyncState applies a partial update. Unset patch fields leave
	// the stored record untouched.
	UpdateSyncState(ctx context.Context, remoteCourseID string, patch models.SyncStatePatch) error

	// ListDueCourses returns states with autoSyncEnabled, not currently
	// syncing, under the failure threshold, and stale per the query,
	// ordered least-recently-synced first and least-failing first.
	ListDueCourses(ctx context.Context, q DueCourseQuery) ([]models.SyncState, error)

	ListSyncStates(ctx context.Context) ([]models.SyncState, error)
}

// MembershipStore persists course memberships. Removal is a soft
// delete: status flips to REMOVED, the row survives.
type MembershipStore interface {
	// ListActiveMemberships returns ACTIVE memberships for one course
	// and role.
	ListActiveMemberships(ctx context.Context, courseID string, role models.Role) ([]models.Membership, error)

	// GetMembershipByRemoteUser returns the membership (any status) for
	// one remote user in one course and role.
	GetMembershipByRemoteUser(ctx context.Context, courseID string, role models.Role, remoteUserID string) (*models.Membership, error)

	CreateMembership(ctx context.Context, m *models.Membership) error
	UpdateMembership(ctx context.Context, id string, patch models.MembershipPatch) error
}

// CourseStore persists the local course mirror.
type CourseStore interface {
	GetCourseByRemoteID(ctx context.Context, remoteCourseID string) (*models.Course, error)
	PutCourse(ctx context.Context, course *models.Course) error
	MarkCourseDeleted(ctx context.Context, localID string) error
}

// AssignmentStore persists the local coursework mirror.
type AssignmentStore interface {
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	GetAssignmentByRemoteID(ctx context.Context, courseID, remoteCourseWorkID string) (*models.Assignment, error)
	PutAssignment(ctx context.Context, a *models.Assignment) error
	MarkAssignmentDeleted(ctx context.Context, id string) error
}

// SubmissionStore persists student submissions and the pending-grade
// marker that drives passback.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	PutSubmission(ctx context.Context, s *models.Submission) error

	// ListPendingGradeSubmissions returns submissions with a completed
	// grade not yet written back, oldest first.
	ListPendingGradeSubmissions(ctx context.Context, limit int) ([]models.Submission, error)

	MarkGradeSynced(ctx context.Context, id string, at time.Time) error
}

// RegistrationStore persists webhook registrations. Renewal supersedes:
// the old row is deactivated and a new row created, never updated in
// place.
type RegistrationStore interface {
	PutRegistration(ctx context.Context, reg *models.WebhookRegistration) error
	DeactivateRegistration(ctx context.Context, registrationID string) error
	ListActiveRegistrations(ctx context.Context) ([]models.WebhookRegistration, error)

	// ListExpiringRegistrations returns active registrations whose
	// expiry falls before the given time.
	ListExpiringRegistrations(ctx context.Context, before time.Time) ([]models.WebhookRegistration, error)
}

// SyncLogStore persists the append-only sync audit trail.
type SyncLogStore interface {
	AppendSyncLog(ctx context.Context, log *models.SyncLog) error
	ListSyncLogs(ctx context.Context, courseID string, limit int) ([]models.SyncLog, error)
	PurgeSyncLogs(ctx context.Context, olderThan time.Time) (int64, error)
}

// PersonStore maps remote users to local person records, creating the
// local record on first sight.
type PersonStore interface {
	ResolvePerson(ctx context.Context, remoteUserID, displayName, email string) (localPersonID string, err error)
}

// LearnerStore persists the dependent learner-model records created for
// newly enrolled students.
type LearnerStore interface {
	// EnsureLearnerProgress creates the record if absent; existing
	// records are left untouched.
	EnsureLearnerProgress(ctx context.Context, localPersonID, courseID string) error
}

// RosterStore is the full persistence surface for the sync engine.
type RosterStore interface {
	SyncStateStore
	MembershipStore
	CourseStore
	AssignmentStore
	SubmissionStore
	RegistrationStore
	SyncLogStore
	PersonStore
	LearnerStore
}

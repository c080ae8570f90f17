// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package models

import "time"

// Role identifies a membership role within a course.
type Role string

const (
	RoleTeacher  Role = "teacher"
	RoleStudent  Role = "student"
	RoleGuardian Role = "guardian"
)

// MembershipStatus is the lifecycle state of a membership.
// Memberships are soft-deleted: removal flips the status to REMOVED and
// records when and why, preserving enrollment history.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "ACTIVE"
	MembershipRemoved MembershipStatus = "REMOVED"
)

// Removal reasons recorded on soft-deleted memberships.
const (
	RemovedReasonSync    = "sync"
	RemovedReasonWebhook = "webhook"
	RemovedReasonManual  = "manual"
)

// Credential is the per-user OAuth token record for the learning platform.
// Exactly zero or one credential exists per local user; it is created on
// first connect, rewritten on every refresh, and deleted on disconnect.
type Credential struct {
	UserID       string    `json:"user_id"`
	TenantID     string    `json:"tenant_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
	RemoteUserID string    `json:"remote_user_id,omitempty"`
	RemoteEmail  string    `json:"remote_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SyncState is the per-course sync bookkeeping record.
//
// SyncInProgress is the mutual-exclusion flag for full course syncs: it is
// set at sync entry and must be cleared on every exit path, success or
// failure. A stuck flag permanently starves the course from scheduling.
type SyncState struct {
	RemoteCourseID      string     `json:"remote_course_id"`
	LocalCourseID       string     `json:"local_course_id"`
	CredentialUserID    string     `json:"credential_user_id"`
	AutoSyncEnabled     bool       `json:"auto_sync_enabled"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	SyncInProgress      bool       `json:"sync_in_progress"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Membership is one person's enrollment in one course under one role.
// At most one ACTIVE membership exists per (LocalPersonID, CourseID, Role).
//
// For guardians, StudentRemoteID identifies the student the guardian is
// attached to; it is empty for teacher and student memberships.
type Membership struct {
	ID              string           `json:"id"`
	LocalPersonID   string           `json:"local_person_id"`
	RemoteUserID    string           `json:"remote_user_id"`
	CourseID        string           `json:"course_id"`
	Role            Role             `json:"role"`
	Status          MembershipStatus `json:"status"`
	DisplayName     string           `json:"display_name,omitempty"`
	Email           string           `json:"email,omitempty"`
	PhotoURL        string           `json:"photo_url,omitempty"`
	StudentRemoteID string           `json:"student_remote_id,omitempty"`
	RemovedAt       *time.Time       `json:"removed_at,omitempty"`
	RemovedReason   string           `json:"removed_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// WebhookRegistration records one push-notification subscription with the
// learning platform. Registrations are never updated in place: renewal
// creates a new registration and deactivates the old one, so in-flight
// notifications keep correlating to the registration that produced them.
type WebhookRegistration struct {
	RegistrationID string    `json:"registration_id"`
	RemoteCourseID string    `json:"remote_course_id"`
	FeedType       string    `json:"feed_type"`
	ExpiresAt      time.Time `json:"expires_at"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// RoleCounts tallies membership changes for one role in one sync run.
type RoleCounts struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Updated int `json:"updated"`
}

// Total returns the number of changes across all three categories.
func (c RoleCounts) Total() int {
	return c.Added + c.Removed + c.Updated
}

// SyncLog is an immutable, append-only audit record of one sync attempt.
// Rows are purged by age; they are never updated.
type SyncLog struct {
	ID          string     `json:"id"`
	CourseID    string     `json:"course_id"`
	TriggeredBy string     `json:"triggered_by"`
	Success     bool       `json:"success"`
	Teachers    RoleCounts `json:"teachers"`
	Students    RoleCounts `json:"students"`
	Guardians   RoleCounts `json:"guardians"`
	Errors      []string   `json:"errors,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	DurationMs  int64      `json:"duration_ms"`
}

// Triggers recorded on SyncLog rows.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerWebhook   = "webhook"
)

// Course is the local mirror of a remote course.
type Course struct {
	LocalID        string    `json:"local_id"`
	RemoteCourseID string    `json:"remote_course_id"`
	Name           string    `json:"name"`
	Section        string    `json:"section,omitempty"`
	Description    string    `json:"description,omitempty"`
	Room           string    `json:"room,omitempty"`
	State          string    `json:"state,omitempty"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Assignment is the local mirror of remote coursework.
type Assignment struct {
	ID                 string     `json:"id"`
	CourseID           string     `json:"course_id"`
	RemoteCourseWorkID string     `json:"remote_coursework_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	MaxPoints          float64    `json:"max_points"`
	State              string     `json:"state,omitempty"`
	Deleted            bool       `json:"deleted"`
	DueAt              *time.Time `json:"due_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Submission is one student's work on one assignment. GradeSyncedAt nil
// with a non-nil Grade and CompletedAt marks the grade as pending passback.
type Submission struct {
	ID                 string     `json:"id"`
	AssignmentID       string     `json:"assignment_id"`
	CourseID           string     `json:"course_id"`
	LocalPersonID      string     `json:"local_person_id"`
	RemoteSubmissionID string     `json:"remote_submission_id,omitempty"`
	RemoteUserID       string     `json:"remote_user_id,omitempty"`
	Grade              *float64   `json:"grade,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	GradeSyncedAt      *time.Time `json:"grade_synced_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// PendingGrade reports whether the submission has a completed grade that
// has not yet been written back to the remote gradebook.
func (s *Submission) PendingGrade() bool {
	return s.Grade != nil && s.CompletedAt != nil && s.GradeSyncedAt == nil
}

// GradePassback is a transient request to push one grade to the remote
// gradebook. It is not persisted; pending work is derived from the
// GradeSyncedAt marker on submissions.
type GradePassback struct {
	CourseID     string  `json:"course_id"`
	AssignmentID string  `json:"assignment_id"`
	SubmissionID string  `json:"submission_id"`
	Grade        float64 `json:"grade"`
}

// LearnerProgress is the dependent learner-model record created when a
// student membership first appears. Other subsystems attach mastery and
// intervention data to it; the sync engine only guarantees existence.
type LearnerProgress struct {
	ID            string    `json:"id"`
	LocalPersonID string    `json:"local_person_id"`
	CourseID      string    `json:"course_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/metrics"
	"github.com/classward/classward/internal/models"
)

// DuckDBStore implements RosterStore using DuckDB for persistent storage.
// This is the production store for rosters, sync state, coursework, and
// the sync audit trail.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore creates a DuckDB-backed roster store. The caller is
// responsible for calling CreateTables during initialization.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTables creates the roster schema if it doesn't exist.
// This should be called during database initialization.
func (s *DuckDBStore) CreateTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS sync_states (
			remote_course_id TEXT PRIMARY KEY,
			local_course_id TEXT NOT NULL,
			credential_user_id TEXT NOT NULL,
			auto_sync_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_sync_at TIMESTAMPTZ,
			sync_in_progress BOOLEAN NOT NULL DEFAULT FALSE,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS memberships (
			id TEXT PRIMARY KEY,
			local_person_id TEXT NOT NULL,
			remote_user_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			display_name TEXT,
			email TEXT,
			photo_url TEXT,
			student_remote_id TEXT,
			removed_at TIMESTAMPTZ,
			removed_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memberships_course_role ON memberships(course_id, role);
		CREATE INDEX IF NOT EXISTS idx_memberships_remote_user ON memberships(remote_user_id);

		CREATE TABLE IF NOT EXISTS courses (
			local_id TEXT PRIMARY KEY,
			remote_course_id TEXT NOT NULL,
			name TEXT NOT NULL,
			section TEXT,
			description TEXT,
			room TEXT,
			state TEXT,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_courses_remote_id ON courses(remote_course_id);

		CREATE TABLE IF NOT EXISTS assignments (
			id TEXT PRIMARY KEY,
			course_id TEXT NOT NULL,
			remote_coursework_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			max_points DOUBLE,
			due_at TIMESTAMPTZ,
			state TEXT,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_assignments_course ON assignments(course_id, remote_coursework_id);

		CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			assignment_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			local_person_id TEXT NOT NULL,
			remote_submission_id TEXT,
			remote_user_id TEXT,
			grade DOUBLE,
			completed_at TIMESTAMPTZ,
			grade_synced_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_submissions_pending ON submissions(grade_synced_at, completed_at);

		CREATE TABLE IF NOT EXISTS webhook_registrations (
			registration_id TEXT PRIMARY KEY,
			remote_course_id TEXT NOT NULL,
			feed_type TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_registrations_expiry ON webhook_registrations(active, expires_at);

		CREATE TABLE IF NOT EXISTS sync_logs (
			id TEXT PRIMARY KEY,
			course_id TEXT NOT NULL,
			triggered_by TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			teacher_counts JSON,
			student_counts JSON,
			guardian_counts JSON,
			errors JSON,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sync_logs_course ON sync_logs(course_id, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_sync_logs_started ON sync_logs(started_at DESC);

		CREATE TABLE IF NOT EXISTS persons (
			remote_user_id TEXT PRIMARY KEY,
			local_person_id TEXT NOT NULL,
			display_name TEXT,
			email TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS learner_progress (
			local_person_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (local_person_id, course_id)
		);
	`

	// Split and execute each statement
	statements := strings.Split(query, ";")
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Roster tables created/verified")
	return nil
}

// --- sync states ---

const syncStateColumns = `remote_course_id, local_course_id, credential_user_id, auto_sync_enabled,
	last_sync_at, sync_in_progress, consecutive_failures, last_error, created_at, updated_at`

// GetSyncState returns the sync state for a remote course.
func (s *DuckDBStore) GetSyncState(ctx context.Context, remoteCourseID string) (*models.SyncState, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		"SELECT "+syncStateColumns+" FROM sync_states WHERE remote_course_id = ?", remoteCourseID)
	state, err := scanSyncState(row)
	recordQuery("get_sync_state", "sync_states", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return state, nil
}

// PutSyncState stores or replaces a sync state.
func (s *DuckDBStore) PutSyncState(ctx context.Context, state *models.SyncState) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_states (`+syncStateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.RemoteCourseID, state.LocalCourseID, state.CredentialUserID, state.AutoSyncEnabled,
		nullTime(state.LastSyncAt), state.SyncInProgress, state.ConsecutiveFailures,
		nullString(state.LastError), state.CreatedAt, state.UpdatedAt)
	recordQuery("put_sync_state", "sync_states", start, err)
	if err != nil {
		return fmt.Errorf("failed to put sync state: %w", err)
	}
	return nil
}

// UpdateSyncState applies a partial update to a sync state. Unset patch
// fields leave the stored row untouched.
func (s *DuckDBStore) UpdateSyncState(ctx context.Context, remoteCourseID string, patch models.SyncStatePatch) error {
	var sets []string
	var args []interface{}

	appendSet := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if patch.AutoSyncEnabled.IsSet() {
		v, _ := patch.AutoSyncEnabled.Value()
		appendSet("auto_sync_enabled", v)
	}
	if patch.CredentialUserID.IsSet() {
		v, _ := patch.CredentialUserID.Value()
		appendSet("credential_user_id", v)
	}
	if patch.LastSyncAt.IsSet() {
		if v, ok := patch.LastSyncAt.Value(); ok {
			appendSet("last_sync_at", v)
		} else {
			appendSet("last_sync_at", nil)
		}
	}
	if patch.SyncInProgress.IsSet() {
		v, _ := patch.SyncInProgress.Value()
		appendSet("sync_in_progress", v)
	}
	if patch.ConsecutiveFailures.IsSet() {
		v, _ := patch.ConsecutiveFailures.Value()
		appendSet("consecutive_failures", v)
	}
	if patch.LastError.IsSet() {
		if v, ok := patch.LastError.Value(); ok {
			appendSet("last_error", v)
		} else {
			appendSet("last_error", nil)
		}
	}
	if len(sets) == 0 {
		return nil
	}
	appendSet("updated_at", time.Now().UTC())
	args = append(args, remoteCourseID)

	start := time.Now()
	result, err := s.db.ExecContext(ctx,
		"UPDATE sync_states SET "+strings.Join(sets, ", ")+" WHERE remote_course_id = ?", args...)
	recordQuery("update_sync_state", "sync_states", start, err)
	if err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueCourses returns sync states eligible for a scheduled sync,
// least-recently-synced first. Never-synced courses sort before all
// others.
func (s *DuckDBStore) ListDueCourses(ctx context.Context, q DueCourseQuery) ([]models.SyncState, error) {
	query := "SELECT " + syncStateColumns + ` FROM sync_states
		WHERE auto_sync_enabled AND NOT sync_in_progress
		AND (last_sync_at IS NULL OR last_sync_at <= ?)`
	args := []interface{}{q.Now.Add(-q.StaleAfter)}

	if q.FailureThreshold > 0 {
		query += " AND consecutive_failures < ?"
		args = append(args, q.FailureThreshold)
	}
	query += " ORDER BY last_sync_at ASC NULLS FIRST, consecutive_failures ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	return s.querySyncStates(ctx, "list_due_courses", query, args...)
}

// ListSyncStates returns all sync states.
func (s *DuckDBStore) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	return s.querySyncStates(ctx, "list_sync_states",
		"SELECT "+syncStateColumns+" FROM sync_states ORDER BY remote_course_id")
}

func (s *DuckDBStore) querySyncStates(ctx context.Context, op, query string, args ...interface{}) ([]models.SyncState, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	recordQuery(op, "sync_states", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer rows.Close()

	var states []models.SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync states: %w", err)
	}
	return states, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSyncState(row rowScanner) (*models.SyncState, error) {
	var state models.SyncState
	var lastSyncAt sql.NullTime
	var lastError sql.NullString
	err := row.Scan(&state.RemoteCourseID, &state.LocalCourseID, &state.CredentialUserID,
		&state.AutoSyncEnabled, &lastSyncAt, &state.SyncInProgress,
		&state.ConsecutiveFailures, &lastError, &state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		state.LastSyncAt = &t
	}
	state.LastError = lastError.String
	return &state, nil
}

// --- memberships ---

const membershipColumns = `id, local_person_id, remote_user_id, course_id, role, status,
	display_name, email, photo_url, student_remote_id, removed_at, removed_reason,
	created_at, updated_at`

// ListActiveMemberships returns ACTIVE memberships for a course role.
func (s *DuckDBStore) ListActiveMemberships(ctx context.Context, courseID string, role models.Role) ([]models.Membership, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE course_id = ? AND role = ? AND status = ? ORDER BY remote_user_id",
		courseID, string(role), string(models.MembershipActive))
	recordQuery("list_active_memberships", "memberships", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var out []models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}
	return out, nil
}

// GetMembershipByRemoteUser returns the membership for a remote user in
// a course role, regardless of status.
func (s *DuckDBStore) GetMembershipByRemoteUser(ctx context.Context, courseID string, role models.Role, remoteUserID string) (*models.Membership, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		"SELECT "+membershipColumns+" FROM memberships WHERE course_id = ? AND role = ? AND remote_user_id = ?",
		courseID, string(role), remoteUserID)
	m, err := scanMembership(row)
	recordQuery("get_membership", "memberships", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// CreateMembership inserts a membership, assigning an ID if empty.
func (s *DuckDBStore) CreateMembership(ctx context.Context, m *models.Membership) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.LocalPersonID, m.RemoteUserID, m.CourseID, string(m.Role), string(m.Status),
		nullString(m.DisplayName), nullString(m.Email), nullString(m.PhotoURL),
		nullString(m.StudentRemoteID), nullTime(m.RemovedAt), nullString(m.RemovedReason),
		m.CreatedAt, m.UpdatedAt)
	recordQuery("create_membership", "memberships", start, err)
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

// UpdateMembership applies a partial update to a membership.
func (s *DuckDBStore) UpdateMembership(ctx context.Context, id string, patch models.MembershipPatch) error {
	var sets []string
	var args []interface{}

	appendSet := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if patch.Status.IsSet() {
		v, _ := patch.Status.Value()
		appendSet("status", string(v))
	}
	if patch.DisplayName.IsSet() {
		appendSet("display_name", fieldValueOrNil(patch.DisplayName))
	}
	if patch.Email.IsSet() {
		appendSet("email", fieldValueOrNil(patch.Email))
	}
	if patch.PhotoURL.IsSet() {
		appendSet("photo_url", fieldValueOrNil(patch.PhotoURL))
	}
	if patch.RemovedAt.IsSet() {
		if v, ok := patch.RemovedAt.Value(); ok {
			appendSet("removed_at", v)
		} else {
			appendSet("removed_at", nil)
		}
	}
	if patch.RemovedReason.IsSet() {
		appendSet("removed_reason", fieldValueOrNil(patch.RemovedReason))
	}
	if len(sets) == 0 {
		return nil
	}
	appendSet("updated_at", time.Now().UTC())
	args = append(args, id)

	start := time.Now()
	result, err := s.db.ExecContext(ctx,
		"UPDATE memberships SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	recordQuery("update_membership", "memberships", start, err)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMembership(row rowScanner) (*models.Membership, error) {
	var m models.Membership
	var role, status string
	var displayName, email, photoURL, studentRemoteID, removedReason sql.NullString
	var removedAt sql.NullTime
	err := row.Scan(&m.ID, &m.LocalPersonID, &m.RemoteUserID, &m.CourseID, &role, &status,
		&displayName, &email, &photoURL, &studentRemoteID, &removedAt, &removedReason,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	m.Status = models.MembershipStatus(status)
	m.DisplayName = displayName.String
	m.Email = email.String
	m.PhotoURL = photoURL.String
	m.StudentRemoteID = studentRemoteID.String
	m.RemovedReason = removedReason.String
	if removedAt.Valid {
		t := removedAt.Time
		m.RemovedAt = &t
	}
	return &m, nil
}

// --- courses ---

const courseColumns = `local_id, remote_course_id, name, section, description, room, state,
	deleted, created_at, updated_at`

// GetCourseByRemoteID returns the local course mirroring a remote one.
func (s *DuckDBStore) GetCourseByRemoteID(ctx context.Context, remoteCourseID string) (*models.Course, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		"SELECT "+courseColumns+" FROM courses WHERE remote_course_id = ?", remoteCourseID)

	var c models.Course
	var section, description, room, state sql.NullString
	err := row.Scan(&c.LocalID, &c.RemoteCourseID, &c.Name, &section, &description, &room,
		&state, &c.Deleted, &c.CreatedAt, &c.UpdatedAt)
	recordQuery("get_course", "courses", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	c.Section = section.String
	c.Description = description.String
	c.Room = room.String
	c.State = state.String
	return &c, nil
}

// PutCourse stores or replaces a course, assigning a local ID if empty.
func (s *DuckDBStore) PutCourse(ctx context.Context, course *models.Course) error {
	if course.LocalID == "" {
		course.LocalID = uuid.NewString()
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO courses (`+courseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		course.LocalID, course.RemoteCourseID, course.Name, nullString(course.Section),
		nullString(course.Description), nullString(course.Room), nullString(course.State),
		course.Deleted, course.CreatedAt, course.UpdatedAt)
	recordQuery("put_course", "courses", start, err)
	if err != nil {
		return fmt.Errorf("failed to put course: %w", err)
	}
	return nil
}

// MarkCourseDeleted flags a course deleted.
func (s *DuckDBStore) MarkCourseDeleted(ctx context.Context, localID string) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx,
		"UPDATE courses SET deleted = TRUE, updated_at = ? WHERE local_id = ?",
		time.Now().UTC(), localID)
	recordQuery("mark_course_deleted", "courses", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark course deleted: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- assignments ---

const assignmentColumns = `id, course_id, remote_coursework_id, title, description, max_points,
	due_at, state, deleted, created_at, updated_at`

// GetAssignment returns one assignment.
func (s *DuckDBStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		"SELECT "+assignmentColumns+" FROM assignments WHERE id = ?", id)
	a, err := scanAssignment(row)
	recordQuery("get_assignment", "assignments", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// GetAssignmentByRemoteID returns the assignment mirroring remote coursework.
func (s *DuckDBStore) GetAssignmentByRemoteID(ctx context.Context, courseID, remoteCourseWorkID string) (*models.Assignment, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		"SELECT "+assignmentColumns+" FROM assignments WHERE course_id = ? AND remote_coursework_id = ?",
		courseID, remoteCourseWorkID)
	a, err := scanAssignment(row)
	recordQuery("get_assignment", "assignments", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// PutAssignment stores or replaces an assignment, assigning an ID if empty.
func (s *DuckDBStore) PutAssignment(ctx context.Context, a *models.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO assignments (`+assignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CourseID, a.RemoteCourseWorkID, a.Title, nullString(a.Description),
		a.MaxPoints, nullTime(a.DueAt), nullString(a.State), a.Deleted,
		a.CreatedAt, a.UpdatedAt)
	recordQuery("put_assignment", "assignments", start, err)
	if err != nil {
		return fmt.Errorf("failed to put assignment: %w", err)
	}
	return nil
}

// MarkAssignmentDeleted flags an assignment deleted.
func (s *DuckDBStore) MarkAssignmentDeleted(ctx context.Context, id string) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx,
		"UPDATE assignments SET deleted = TRUE, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	recordQuery("mark_assignment_deleted", "assignments", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark assignment deleted: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAssignment(row rowScanner) (*models.Assignment, error) {
	var a models.Assignment
	var description, state sql.NullString
	var dueAt sql.NullTime
	err := row.Scan(&a.ID, &a.CourseID, &a.RemoteCourseWorkID, &a.Title, &description,
		&a.MaxPoints, &dueAt, &state, &a.Deleted, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Description = description.String
	a.State = state.String
	if dueAt.Valid {
		t := dueAt.Time
		a.DueAt = &t
	}
	return &a, nil
}

// --- submissions ---

const submissionColumns = `id, assignment_id, course_id, local_person_id, remote_submission_id,
	remote_user_id, grade, completed_at, grade_synced_at, created_at, updated_at`

// GetSubmission returns one submission.
func (s *DuckDBStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)
	sub, err := scanSubmission(row)
	recordQuery("get_submission", "submissions", start, err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

// PutSubmission stores or replaces a submission, assigning an ID if empty.
func (s *DuckDBStore) PutSubmission(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.AssignmentID, sub.CourseID, sub.LocalPersonID,
		nullString(sub.RemoteSubmissionID), nullString(sub.RemoteUserID),
		nullFloat(sub.Grade), nullTime(sub.CompletedAt), nullTime(sub.GradeSyncedAt),
		sub.CreatedAt, sub.UpdatedAt)
	recordQuery("put_submission", "submissions", start, err)
	if err != nil {
		return fmt.Errorf("failed to put submission: %w", err)
	}
	return nil
}

// ListPendingGradeSubmissions returns submissions with a completed grade
// not yet written back, oldest completion first.
func (s *DuckDBStore) ListPendingGradeSubmissions(ctx context.Context, limit int) ([]models.Submission, error) {
	query := "SELECT " + submissionColumns + ` FROM submissions
		WHERE grade IS NOT NULL AND completed_at IS NOT NULL AND grade_synced_at IS NULL
		ORDER BY completed_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query)
	recordQuery("list_pending_grades", "submissions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending submissions: %w", err)
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submissions: %w", err)
	}
	return out, nil
}

// MarkGradeSynced stamps a submission's grade as written back.
func (s *DuckDBStore) MarkGradeSynced(ctx context.Context, id string, at time.Time) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx,
		"UPDATE submissions SET grade_synced_at = ?, updated_at = ? WHERE id = ?",
		at, time.Now().UTC(), id)
	recordQuery("mark_grade_synced", "submissions", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark grade synced: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var sub models.Submission
	var remoteSubmissionID, remoteUserID sql.NullString
	var grade sql.NullFloat64
	var completedAt, gradeSyncedAt sql.NullTime
	err := row.Scan(&sub.ID, &sub.AssignmentID, &sub.CourseID, &sub.LocalPersonID,
		&remoteSubmissionID, &remoteUserID, &grade, &completedAt, &gradeSyncedAt,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.RemoteSubmissionID = remoteSubmissionID.String
	sub.RemoteUserID = remoteUserID.String
	if grade.Valid {
		v := grade.Float64
		sub.Grade = &v
	}
	if completedAt.Valid {
		t := completedAt.Time
		sub.CompletedAt = &t
	}
	if gradeSyncedAt.Valid {
		t := gradeSyncedAt.Time
		sub.GradeSyncedAt = &t
	}
	return &sub, nil
}

// --- webhook registrations ---

const registrationColumns = `registration_id, remote_course_id, feed_type, expires_at, active, created_at`

// PutRegistration inserts a webhook registration.
func (s *DuckDBStore) PutRegistration(ctx context.Context, reg *models.WebhookRegistration) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO webhook_registrations (`+registrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		reg.RegistrationID, reg.RemoteCourseID, reg.FeedType, reg.ExpiresAt, reg.Active, reg.CreatedAt)
	recordQuery("put_registration", "webhook_registrations", start, err)
	if err != nil {
		return fmt.Errorf("failed to put registration: %w", err)
	}
	return nil
}

// DeactivateRegistration marks a registration inactive.
func (s *DuckDBStore) DeactivateRegistration(ctx context.Context, registrationID string) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx,
		"UPDATE webhook_registrations SET active = FALSE WHERE registration_id = ?", registrationID)
	recordQuery("deactivate_registration", "webhook_registrations", start, err)
	if err != nil {
		return fmt.Errorf("failed to deactivate registration: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveRegistrations returns all active registrations, soonest
// expiry first.
func (s *DuckDBStore) ListActiveRegistrations(ctx context.Context) ([]models.WebhookRegistration, error) {
	return s.queryRegistrations(ctx, "list_active_registrations",
		"SELECT "+registrationColumns+" FROM webhook_registrations WHERE active ORDER BY expires_at ASC")
}

// ListExpiringRegistrations returns active registrations expiring before
// the given time.
func (s *DuckDBStore) ListExpiringRegistrations(ctx context.Context, before time.Time) ([]models.WebhookRegistration, error) {
	return s.queryRegistrations(ctx, "list_expiring_registrations",
		"SELECT "+registrationColumns+" FROM webhook_registrations WHERE active AND expires_at < ? ORDER BY expires_at ASC",
		before)
}

func (s *DuckDBStore) queryRegistrations(ctx context.Context, op, query string, args ...interface{}) ([]models.WebhookRegistration, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	recordQuery(op, "webhook_registrations", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var out []models.WebhookRegistration
	for rows.Next() {
		var reg models.WebhookRegistration
		if err := rows.Scan(&reg.RegistrationID, &reg.RemoteCourseID, &reg.FeedType,
			&reg.ExpiresAt, &reg.Active, &reg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registrations: %w", err)
	}
	return out, nil
}

// --- sync logs ---

// AppendSyncLog appends a sync audit record, assigning an ID if empty.
func (s *DuckDBStore) AppendSyncLog(ctx context.Context, log *models.SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, course_id, triggered_by, success,
			teacher_counts, student_counts, guardian_counts, errors, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.CourseID, log.TriggeredBy, log.Success,
		marshalJSON(log.Teachers), marshalJSON(log.Students), marshalJSON(log.Guardians),
		marshalJSON(log.Errors), log.StartedAt, log.DurationMs)
	recordQuery("append_sync_log", "sync_logs", start, err)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns recent sync logs, newest first, optionally
// filtered by course.
func (s *DuckDBStore) ListSyncLogs(ctx context.Context, courseID string, limit int) ([]models.SyncLog, error) {
	query := `SELECT id, course_id, triggered_by, success,
		CAST(teacher_counts AS VARCHAR), CAST(student_counts AS VARCHAR),
		CAST(guardian_counts AS VARCHAR), CAST(errors AS VARCHAR),
		started_at, duration_ms FROM sync_logs`
	var args []interface{}
	if courseID != "" {
		query += " WHERE course_id = ?"
		args = append(args, courseID)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	recordQuery("list_sync_logs", "sync_logs", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncLog
	for rows.Next() {
		var log models.SyncLog
		var teachers, students, guardians, errJSON sql.NullString
		if err := rows.Scan(&log.ID, &log.CourseID, &log.TriggeredBy, &log.Success,
			&teachers, &students, &guardians, &errJSON, &log.StartedAt, &log.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		unmarshalJSON(teachers, &log.Teachers)
		unmarshalJSON(students, &log.Students)
		unmarshalJSON(guardians, &log.Guardians)
		unmarshalJSON(errJSON, &log.Errors)
		out = append(out, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync logs: %w", err)
	}
	return out, nil
}

// PurgeSyncLogs deletes logs started before the cutoff.
func (s *DuckDBStore) PurgeSyncLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, "DELETE FROM sync_logs WHERE started_at < ?", olderThan)
	recordQuery("purge_sync_logs", "sync_logs", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sync logs: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get purged count: %w", err)
	}
	if count > 0 {
		logging.Info().Int64("deleted", count).Time("older_than", olderThan).Msg("Purged old sync logs")
	}
	return count, nil
}

// --- persons and learners ---

// ResolvePerson returns the local person for a remote user, creating the
// mapping on first sight.
func (s *DuckDBStore) ResolvePerson(ctx context.Context, remoteUserID, displayName, email string) (string, error) {
	start := time.Now()
	var localID string
	err := s.db.QueryRowContext(ctx,
		"SELECT local_person_id FROM persons WHERE remote_user_id = ?", remoteUserID).Scan(&localID)
	if err == nil {
		recordQuery("resolve_person", "persons", start, nil)
		return localID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		recordQuery("resolve_person", "persons", start, err)
		return "", fmt.Errorf("failed to resolve person: %w", err)
	}

	localID = uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO persons (remote_user_id, local_person_id, display_name, email, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		remoteUserID, localID, nullString(displayName), nullString(email), time.Now().UTC())
	recordQuery("resolve_person", "persons", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to create person: %w", err)
	}
	return localID, nil
}

// EnsureLearnerProgress creates the learner record if absent.
func (s *DuckDBStore) EnsureLearnerProgress(ctx context.Context, localPersonID, courseID string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO learner_progress (local_person_id, course_id, created_at)
		VALUES (?, ?, ?)`,
		localPersonID, courseID, time.Now().UTC())
	recordQuery("ensure_learner_progress", "learner_progress", start, err)
	if err != nil {
		return fmt.Errorf("failed to ensure learner progress: %w", err)
	}
	return nil
}

// --- helpers ---

// recordQuery feeds the query metrics, treating sql.ErrNoRows as a
// normal outcome rather than an error.
func recordQuery(operation, table string, start time.Time, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	metrics.RecordDBQuery(operation, table, time.Since(start), err)
}

func fieldValueOrNil(f models.Field[string]) interface{} {
	if v, ok := f.Value(); ok {
		return v
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func marshalJSON(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

func unmarshalJSON(src sql.NullString, dst interface{}) {
	if !src.Valid || src.String == "" {
		return
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		logging.Debug().Err(err).Msg("Failed to parse sync log JSON column")
	}
}

// Compile-time interface check.
var _ RosterStore = (*DuckDBStore)(nil)

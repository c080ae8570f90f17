// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

// Package reconcile implements full course roster synchronization: it
// fetches the remote roster, diffs it against the local mirror, and
// applies additions, soft removals, and profile updates.
//
// Roles sync in a fixed order (teachers, students, guardians) so that a
// partial failure leaves the most authoritative data in place. Every
// run, success or failure, appends a SyncLog row and clears the
// SyncInProgress flag.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/classward/classward/internal/classroom"
	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/metrics"
	"github.com/classward/classward/internal/models"
	"github.com/classward/classward/internal/store"
)

// maxRosterPages caps pagination loops against a misbehaving remote.
const maxRosterPages = 1000

// ErrSyncInProgress is returned when a sync is requested for a course
// that is already syncing.
var ErrSyncInProgress = errors.New("reconcile: sync already in progress for course")

// RosterReader is the subset of the platform client the reconciler
// consumes.
type RosterReader interface {
	ListTeachers(ctx context.Context, accessToken, courseID, pageToken string) (*classroom.MemberPage, error)
	ListStudents(ctx context.Context, accessToken, courseID, pageToken string) (*classroom.MemberPage, error)
	ListGuardians(ctx context.Context, accessToken, studentRemoteID, pageToken string) (*classroom.MemberPage, error)
}

// TokenProvider yields valid access tokens for stored credentials.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// EventSink receives roster change notifications. May be nil.
type EventSink interface {
	MembershipAdded(ctx context.Context, courseID string, role models.Role, remoteUserID, trigger string)
	MembershipRemoved(ctx context.Context, courseID string, role models.Role, remoteUserID, reason, trigger string)
	MembershipUpdated(ctx context.Context, courseID string, role models.Role, remoteUserID, trigger string)
	CourseSynced(ctx context.Context, courseID, trigger string)
	CourseSyncFailed(ctx context.Context, courseID, trigger, reason string)
}

// Reconciler drives full roster syncs for individual courses.
type Reconciler struct {
	store    store.RosterStore
	provider RosterReader
	tokens   TokenProvider
	events   EventSink

	// now is replaced in tests.
	now func() time.Time
}

// NewReconciler wires a reconciler. events may be nil.
func NewReconciler(st store.RosterStore, provider RosterReader, tokens TokenProvider, events EventSink) *Reconciler {
	return &Reconciler{
		store:    st,
		provider: provider,
		tokens:   tokens,
		events:   events,
		now:      time.Now,
	}
}

// SyncCourseRoster performs a full roster sync for one course. The
// returned SyncLog is already persisted; it describes the run whether
// it succeeded or failed.
//
// SyncInProgress is set on entry and cleared on every exit path. A
// course already syncing returns ErrSyncInProgress without touching
// state.
func (r *Reconciler) SyncCourseRoster(ctx context.Context, remoteCourseID, trigger string) (*models.SyncLog, error) {
	state, err := r.store.GetSyncState(ctx, remoteCourseID)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	if state.SyncInProgress {
		return nil, ErrSyncInProgress
	}

	if err := r.store.UpdateSyncState(ctx, remoteCourseID, models.SyncStatePatch{
		SyncInProgress: models.Set(true),
	}); err != nil {
		return nil, fmt.Errorf("mark sync in progress: %w", err)
	}

	started := r.now()
	log := &models.SyncLog{
		CourseID:    remoteCourseID,
		TriggeredBy: trigger,
		StartedAt:   started,
	}

	syncErr := r.runSync(ctx, state, log)

	log.DurationMs = r.now().Sub(started).Milliseconds()
	log.Success = syncErr == nil

	if syncErr != nil {
		log.Errors = append(log.Errors, syncErr.Error())
		r.recordFailure(ctx, state, syncErr)
	} else {
		r.recordSuccess(ctx, state)
	}

	if err := r.store.AppendSyncLog(ctx, log); err != nil {
		logging.Error().Err(err).Str("course_id", remoteCourseID).Msg("Failed to append sync log")
	}

	metrics.RecordSyncRun(trigger, time.Duration(log.DurationMs)*time.Millisecond, syncErr)

	if syncErr != nil {
		if r.events != nil {
			r.events.CourseSyncFailed(ctx, remoteCourseID, trigger, syncErr.Error())
		}
		return log, syncErr
	}

	logging.Info().
		Str("course_id", remoteCourseID).
		Str("trigger", trigger).
		Int("teachers_changed", log.Teachers.Total()).
		Int("students_changed", log.Students.Total()).
		Int("guardians_changed", log.Guardians.Total()).
		Int64("duration_ms", log.DurationMs).
		Msg("Course roster synced")

	if r.events != nil {
		r.events.CourseSynced(ctx, remoteCourseID, trigger)
	}
	return log, nil
}

// runSync executes the role passes in order. state is read-only here;
// bookkeeping happens in recordSuccess/recordFailure.
func (r *Reconciler) runSync(ctx context.Context, state *models.SyncState, log *models.SyncLog) error {
	token, err := r.tokens.GetValidAccessToken(ctx, state.CredentialUserID)
	if err != nil {
		return fmt.Errorf("acquire access token: %w", err)
	}

	courseID := state.RemoteCourseID

	teachers, err := r.fetchAllMembers(ctx, func(pageToken string) (*classroom.MemberPage, error) {
		return r.provider.ListTeachers(ctx, token, courseID, pageToken)
	})
	if err != nil {
		return fmt.Errorf("list teachers: %w", err)
	}
	log.Teachers, err = r.syncRole(ctx, courseID, models.RoleTeacher, teachers, log.TriggeredBy)
	if err != nil {
		return fmt.Errorf("sync teachers: %w", err)
	}

	students, err := r.fetchAllMembers(ctx, func(pageToken string) (*classroom.MemberPage, error) {
		return r.provider.ListStudents(ctx, token, courseID, pageToken)
	})
	if err != nil {
		return fmt.Errorf("list students: %w", err)
	}
	log.Students, err = r.syncRole(ctx, courseID, models.RoleStudent, students, log.TriggeredBy)
	if err != nil {
		return fmt.Errorf("sync students: %w", err)
	}

	guardians, err := r.fetchGuardians(ctx, token, courseID, students)
	if err != nil {
		return fmt.Errorf("list guardians: %w", err)
	}
	log.Guardians, err = r.syncRole(ctx, courseID, models.RoleGuardian, guardians, log.TriggeredBy)
	if err != nil {
		return fmt.Errorf("sync guardians: %w", err)
	}

	return nil
}

// fetchAllMembers drains a paginated roster listing.
func (r *Reconciler) fetchAllMembers(ctx context.Context, list func(pageToken string) (*classroom.MemberPage, error)) ([]classroom.Member, error) {
	var members []classroom.Member
	pageToken := ""
	for page := 0; page < maxRosterPages; page++ {
		result, err := list(pageToken)
		if err != nil {
			return nil, err
		}
		members = append(members, result.Members...)
		if result.NextPageToken == "" {
			return members, nil
		}
		pageToken = result.NextPageToken
	}
	return nil, fmt.Errorf("pagination exceeded %d pages", maxRosterPages)
}

// guardianMember pairs a guardian with the student it is attached to.
type guardianMember struct {
	classroom.Member
	studentRemoteID string
}

// fetchGuardians collects guardians for every remote student. Courses
// or domains where guardian access is forbidden or the feature is
// disabled report as having no guardians instead of failing the sync.
func (r *Reconciler) fetchGuardians(ctx context.Context, token, courseID string, students []classroom.Member) ([]guardianMember, error) {
	var guardians []guardianMember
	seen := make(map[string]bool)

	for _, student := range students {
		studentID := student.RemoteUserID
		members, err := r.fetchAllMembers(ctx, func(pageToken string) (*classroom.MemberPage, error) {
			return r.provider.ListGuardians(ctx, token, studentID, pageToken)
		})
		if err != nil {
			if guardianAccessUnavailable(err) {
				logging.Debug().
					Str("course_id", courseID).
					Str("student_remote_id", studentID).
					Msg("Guardian access unavailable; treating as no guardians")
				continue
			}
			return nil, err
		}
		for _, g := range members {
			if seen[g.RemoteUserID] {
				continue
			}
			seen[g.RemoteUserID] = true
			guardians = append(guardians, guardianMember{Member: g, studentRemoteID: studentID})
		}
	}
	return guardians, nil
}

// guardianAccessUnavailable reports whether a guardian listing error
// means "no guardians" rather than a real failure.
func guardianAccessUnavailable(err error) bool {
	var classified *classroom.ClassifiedError
	if !errors.As(err, &classified) {
		return false
	}
	switch classified.Code {
	case classroom.CodePermissionDenied, classroom.CodeGuardiansDisabled,
		classroom.CodeStudentNotFound, classroom.CodeNotFound:
		return true
	default:
		return false
	}
}

// syncRole diffs one role's remote roster against local ACTIVE
// memberships and applies additions, soft removals, and updates.
func (r *Reconciler) syncRole(ctx context.Context, courseID string, role models.Role, remote interface{}, trigger string) (models.RoleCounts, error) {
	var counts models.RoleCounts

	type remoteEntry struct {
		m               classroom.Member
		studentRemoteID string
	}
	var entries []remoteEntry
	switch members := remote.(type) {
	case []classroom.Member:
		for _, m := range members {
			entries = append(entries, remoteEntry{m: m})
		}
	case []guardianMember:
		for _, g := range members {
			entries = append(entries, remoteEntry{m: g.Member, studentRemoteID: g.studentRemoteID})
		}
	default:
		return counts, fmt.Errorf("unsupported roster type %T", remote)
	}

	remoteSet := make(map[string]bool, len(entries))
	for _, e := range entries {
		remoteSet[e.m.RemoteUserID] = true
	}

	local, err := r.store.ListActiveMemberships(ctx, courseID, role)
	if err != nil {
		return counts, fmt.Errorf("list local memberships: %w", err)
	}
	localByRemote := make(map[string]models.Membership, len(local))
	for _, m := range local {
		localByRemote[m.RemoteUserID] = m
	}

	for _, e := range entries {
		changed, added, err := r.upsertMembership(ctx, courseID, role, e.m, e.studentRemoteID, trigger)
		if err != nil {
			return counts, err
		}
		switch {
		case added:
			counts.Added++
		case changed:
			counts.Updated++
		}
	}

	// Locals absent from the remote roster are soft-deleted.
	for remoteUserID, m := range localByRemote {
		if remoteSet[remoteUserID] {
			continue
		}
		removedAt := r.now()
		err := r.store.UpdateMembership(ctx, m.ID, models.MembershipPatch{
			Status:        models.Set(models.MembershipRemoved),
			RemovedAt:     models.Set(removedAt),
			RemovedReason: models.Set(models.RemovedReasonSync),
		})
		if err != nil {
			return counts, fmt.Errorf("remove membership %s: %w", m.ID, err)
		}
		counts.Removed++
		metrics.MembershipChanges.WithLabelValues(string(role), "removed").Inc()
		if r.events != nil {
			r.events.MembershipRemoved(ctx, courseID, role, remoteUserID, models.RemovedReasonSync, trigger)
		}
	}

	return counts, nil
}

// upsertMembership creates, reactivates, or updates one membership from
// its remote view. Returns (changed, added).
func (r *Reconciler) upsertMembership(ctx context.Context, courseID string, role models.Role, m classroom.Member, studentRemoteID, trigger string) (bool, bool, error) {
	existing, err := r.store.GetMembershipByRemoteUser(ctx, courseID, role, m.RemoteUserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, false, fmt.Errorf("lookup membership: %w", err)
	}

	if errors.Is(err, store.ErrNotFound) {
		localPersonID, err := r.store.ResolvePerson(ctx, m.RemoteUserID, m.DisplayName, m.Email)
		if err != nil {
			return false, false, fmt.Errorf("resolve person: %w", err)
		}

		now := r.now()
		membership := &models.Membership{
			LocalPersonID:   localPersonID,
			RemoteUserID:    m.RemoteUserID,
			CourseID:        courseID,
			Role:            role,
			Status:          models.MembershipActive,
			DisplayName:     m.DisplayName,
			Email:           m.Email,
			PhotoURL:        m.PhotoURL,
			StudentRemoteID: studentRemoteID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := r.store.CreateMembership(ctx, membership); err != nil {
			return false, false, fmt.Errorf("create membership: %w", err)
		}

		// Student enrollments get their dependent learner record.
		if role == models.RoleStudent {
			if err := r.store.EnsureLearnerProgress(ctx, localPersonID, courseID); err != nil {
				return false, false, fmt.Errorf("ensure learner progress: %w", err)
			}
		}

		metrics.MembershipChanges.WithLabelValues(string(role), "added").Inc()
		if r.events != nil {
			r.events.MembershipAdded(ctx, courseID, role, m.RemoteUserID, trigger)
		}
		return false, true, nil
	}

	if existing.Status == models.MembershipRemoved {
		// Re-enrollment reactivates the historical row.
		err := r.store.UpdateMembership(ctx, existing.ID, models.MembershipPatch{
			Status:        models.Set(models.MembershipActive),
			DisplayName:   models.Set(m.DisplayName),
			Email:         models.Set(m.Email),
			PhotoURL:      models.Set(m.PhotoURL),
			RemovedAt:     models.Null[time.Time](),
			RemovedReason: models.Null[string](),
		})
		if err != nil {
			return false, false, fmt.Errorf("reactivate membership: %w", err)
		}
		metrics.MembershipChanges.WithLabelValues(string(role), "added").Inc()
		if r.events != nil {
			r.events.MembershipAdded(ctx, courseID, role, m.RemoteUserID, trigger)
		}
		return false, true, nil
	}

	patch := models.MembershipPatch{}
	dirty := false
	if existing.DisplayName != m.DisplayName {
		patch.DisplayName = models.Set(m.DisplayName)
		dirty = true
	}
	if existing.Email != m.Email {
		patch.Email = models.Set(m.Email)
		dirty = true
	}
	if existing.PhotoURL != m.PhotoURL {
		patch.PhotoURL = models.Set(m.PhotoURL)
		dirty = true
	}
	if !dirty {
		return false, false, nil
	}

	if err := r.store.UpdateMembership(ctx, existing.ID, patch); err != nil {
		return false, false, fmt.Errorf("update membership: %w", err)
	}
	metrics.MembershipChanges.WithLabelValues(string(role), "updated").Inc()
	if r.events != nil {
		r.events.MembershipUpdated(ctx, courseID, role, m.RemoteUserID, trigger)
	}
	return true, false, nil
}

// recordSuccess stamps the sync state after a clean run.
func (r *Reconciler) recordSuccess(ctx context.Context, state *models.SyncState) {
	err := r.store.UpdateSyncState(ctx, state.RemoteCourseID, models.SyncStatePatch{
		SyncInProgress:      models.Set(false),
		LastSyncAt:          models.Set(r.now()),
		ConsecutiveFailures: models.Set(0),
		LastError:           models.Null[string](),
	})
	if err != nil {
		logging.Error().Err(err).Str("course_id", state.RemoteCourseID).Msg("Failed to record sync success")
	}
}

// recordFailure stamps the sync state after a failed run. SyncInProgress
// must clear even here; a stuck flag starves the course permanently.
func (r *Reconciler) recordFailure(ctx context.Context, state *models.SyncState, syncErr error) {
	err := r.store.UpdateSyncState(ctx, state.RemoteCourseID, models.SyncStatePatch{
		SyncInProgress:      models.Set(false),
		ConsecutiveFailures: models.Set(state.ConsecutiveFailures + 1),
		LastError:           models.Set(syncErr.Error()),
	})
	if err != nil {
		logging.Error().Err(err).Str("course_id", state.RemoteCourseID).Msg("Failed to record sync failure")
	}
	logging.Warn().
		Err(syncErr).
		Str("course_id", state.RemoteCourseID).
		Int("consecutive_failures", state.ConsecutiveFailures+1).
		Msg("Course roster sync failed")
}

// ResetSyncState clears a course's failure bookkeeping and any stuck
// in-progress flag, returning it to the scheduler's rotation.
func (r *Reconciler) ResetSyncState(ctx context.Context, remoteCourseID string) error {
	err := r.store.UpdateSyncState(ctx, remoteCourseID, models.SyncStatePatch{
		SyncInProgress:      models.Set(false),
		ConsecutiveFailures: models.Set(0),
		LastError:           models.Null[string](),
	})
	if err != nil {
		return fmt.Errorf("reset sync state: %w", err)
	}
	logging.Info().Str("course_id", remoteCourseID).Msg("Sync state reset")
	return nil
}

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classward/classward/internal/models"
)

// MemoryStore implements RosterStore and CredentialStore using in-memory
// maps. Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	credentials   map[string]models.Credential          // userID
	syncStates    map[string]models.SyncState           // remoteCourseID
	memberships   map[string]models.Membership          // membership ID
	courses       map[string]models.Course              // localID
	assignments   map[string]models.Assignment          // assignment ID
	submissions   map[string]models.Submission          // submission ID
	registrations map[string]models.WebhookRegistration // registrationID
	syncLogs      []models.SyncLog
	persons       map[string]string   // remoteUserID -> localPersonID
	learners      map[string]struct{} // localPersonID + "/" + courseID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials:   make(map[string]models.Credential),
		syncStates:    make(map[string]models.SyncState),
		memberships:   make(map[string]models.Membership),
		courses:       make(map[string]models.Course),
		assignments:   make(map[string]models.Assignment),
		submissions:   make(map[string]models.Submission),
		registrations: make(map[string]models.WebhookRegistration),
		persons:       make(map[string]string),
		learners:      make(map[string]struct{}),
	}
}

// GetCredential returns the credential for a user.
func (s *MemoryStore) GetCredential(ctx context.Context, userID string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cred
	return &out, nil
}

// PutCredential stores or replaces a user's credential.
func (s *MemoryStore) PutCredential(ctx context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[cred.UserID] = *cred
	return nil
}

// DeleteCredential removes a user's credential. Deleting an absent
// credential is not an error.
func (s *MemoryStore) DeleteCredential(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, userID)
	return nil
}

// GetSyncState returns the sync state for a remote course.
func (s *MemoryStore) GetSyncState(ctx context.Context, remoteCourseID string) (*models.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.syncStates[remoteCourseID]
	if !ok {
		return nil, ErrNotFound
	}
	out := state
	return &out, nil
}

// PutSyncState stores or replaces a sync state.
func (s *MemoryStore) PutSyncState(ctx context.Context, state *models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncStates[state.RemoteCourseID] = *state
	return nil
}

// UpdateSyncState applies a partial update to a sync state.
func (s *MemoryStore) UpdateSyncState(ctx context.Context, remoteCourseID string, patch models.SyncStatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.syncStates[remoteCourseID]
	if !ok {
		return ErrNotFound
	}
	models.ApplySyncStatePatch(&state, patch)
	state.UpdatedAt = time.Now()
	s.syncStates[remoteCourseID] = state
	return nil
}

// ListDueCourses returns sync states eligible for a scheduled sync.
func (s *MemoryStore) ListDueCourses(ctx context.Context, q DueCourseQuery) ([]models.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []models.SyncState
	for _, state := range s.syncStates {
		if !state.AutoSyncEnabled || state.SyncInProgress {
			continue
		}
		if q.FailureThreshold > 0 && state.ConsecutiveFailures >= q.FailureThreshold {
			continue
		}
		if state.LastSyncAt != nil && state.LastSyncAt.After(q.Now.Add(-q.StaleAfter)) {
			continue
		}
		due = append(due, state)
	}

	// Least-recently-synced first (never-synced before everything),
	// then least-failing first.
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		switch {
		case a.LastSyncAt == nil && b.LastSyncAt != nil:
			return true
		case a.LastSyncAt != nil && b.LastSyncAt == nil:
			return false
		case a.LastSyncAt != nil && b.LastSyncAt != nil && !a.LastSyncAt.Equal(*b.LastSyncAt):
			return a.LastSyncAt.Before(*b.LastSyncAt)
		default:
			return a.ConsecutiveFailures < b.ConsecutiveFailures
		}
	})

	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}
	return due, nil
}

// ListSyncStates returns all sync states.
func (s *MemoryStore) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SyncState, 0, len(s.syncStates))
	for _, state := range s.syncStates {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteCourseID < out[j].RemoteCourseID })
	return out, nil
}

// ListActiveMemberships returns ACTIVE memberships for a course role.
func (s *MemoryStore) ListActiveMemberships(ctx context.Context, courseID string, role models.Role) ([]models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Membership
	for _, m := range s.memberships {
		if m.CourseID == courseID && m.Role == role && m.Status == models.MembershipActive {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteUserID < out[j].RemoteUserID })
	return out, nil
}

// GetMembershipByRemoteUser returns the membership for a remote user in
// a course role, regardless of status.
func (s *MemoryStore) GetMembershipByRemoteUser(ctx context.Context, courseID string, role models.Role, remoteUserID string) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.memberships {
		if m.CourseID == courseID && m.Role == role && m.RemoteUserID == remoteUserID {
			out := m
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// CreateMembership inserts a membership, assigning an ID if empty.
func (s *MemoryStore) CreateMembership(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.memberships[m.ID] = *m
	return nil
}

// UpdateMembership applies a partial update to a membership.
func (s *MemoryStore) UpdateMembership(ctx context.Context, id string, patch models.MembershipPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[id]
	if !ok {
		return ErrNotFound
	}
	models.ApplyMembershipPatch(&m, patch)
	m.UpdatedAt = time.Now()
	s.memberships[id] = m
	return nil
}

// GetCourseByRemoteID returns the local course mirroring a remote one.
func (s *MemoryStore) GetCourseByRemoteID(ctx context.Context, remoteCourseID string) (*models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.courses {
		if c.RemoteCourseID == remoteCourseID {
			out := c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// PutCourse stores or replaces a course, assigning a local ID if empty.
func (s *MemoryStore) PutCourse(ctx context.Context, course *models.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if course.LocalID == "" {
		course.LocalID = uuid.NewString()
	}
	s.courses[course.LocalID] = *course
	return nil
}

// MarkCourseDeleted flags a course deleted.
func (s *MemoryStore) MarkCourseDeleted(ctx context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.courses[localID]
	if !ok {
		return ErrNotFound
	}
	c.Deleted = true
	c.UpdatedAt = time.Now()
	s.courses[localID] = c
	return nil
}

// GetAssignment returns one assignment.
func (s *MemoryStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := a
	return &out, nil
}

// GetAssignmentByRemoteID returns the assignment mirroring remote coursework.
func (s *MemoryStore) GetAssignmentByRemoteID(ctx context.Context, courseID, remoteCourseWorkID string) (*models.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assignments {
		if a.CourseID == courseID && a.RemoteCourseWorkID == remoteCourseWorkID {
			out := a
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// PutAssignment stores or replaces an assignment, assigning an ID if empty.
func (s *MemoryStore) PutAssignment(ctx context.Context, a *models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.assignments[a.ID] = *a
	return nil
}

// MarkAssignmentDeleted flags an assignment deleted.
func (s *MemoryStore) MarkAssignmentDeleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return ErrNotFound
	}
	a.Deleted = true
	a.UpdatedAt = time.Now()
	s.assignments[id] = a
	return nil
}

// GetSubmission returns one submission.
func (s *MemoryStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := sub
	return &out, nil
}

// PutSubmission stores or replaces a submission, assigning an ID if empty.
func (s *MemoryStore) PutSubmission(ctx context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	s.submissions[sub.ID] = *sub
	return nil
}

// ListPendingGradeSubmissions returns submissions awaiting passback,
// oldest completion first.
func (s *MemoryStore) ListPendingGradeSubmissions(ctx context.Context, limit int) ([]models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Submission
	for _, sub := range s.submissions {
		pending := sub
		if pending.PendingGrade() {
			out = append(out, pending)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkGradeSynced stamps a submission's grade as written back.
func (s *MemoryStore) MarkGradeSynced(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	sub.GradeSyncedAt = &t
	sub.UpdatedAt = time.Now()
	s.submissions[id] = sub
	return nil
}

// PutRegistration inserts a webhook registration.
func (s *MemoryStore) PutRegistration(ctx context.Context, reg *models.WebhookRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[reg.RegistrationID] = *reg
	return nil
}

// DeactivateRegistration marks a registration inactive.
func (s *MemoryStore) DeactivateRegistration(ctx context.Context, registrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[registrationID]
	if !ok {
		return ErrNotFound
	}
	reg.Active = false
	s.registrations[registrationID] = reg
	return nil
}

// ListActiveRegistrations returns all active registrations.
func (s *MemoryStore) ListActiveRegistrations(ctx context.Context) ([]models.WebhookRegistration, error) {
	return s.listRegistrations(func(reg *models.WebhookRegistration) bool {
		return reg.Active
	})
}

// ListExpiringRegistrations returns active registrations expiring before
// the given time.
func (s *MemoryStore) ListExpiringRegistrations(ctx context.Context, before time.Time) ([]models.WebhookRegistration, error) {
	return s.listRegistrations(func(reg *models.WebhookRegistration) bool {
		return reg.Active && reg.ExpiresAt.Before(before)
	})
}

func (s *MemoryStore) listRegistrations(keep func(*models.WebhookRegistration) bool) ([]models.WebhookRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WebhookRegistration
	for _, reg := range s.registrations {
		r := reg
		if keep(&r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// AppendSyncLog appends a sync audit record, assigning an ID if empty.
func (s *MemoryStore) AppendSyncLog(ctx context.Context, log *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	s.syncLogs = append(s.syncLogs, *log)
	return nil
}

// ListSyncLogs returns recent sync logs, newest first, optionally
// filtered by course.
func (s *MemoryStore) ListSyncLogs(ctx context.Context, courseID string, limit int) ([]models.SyncLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SyncLog
	for i := len(s.syncLogs) - 1; i >= 0; i-- {
		if courseID != "" && s.syncLogs[i].CourseID != courseID {
			continue
		}
		out = append(out, s.syncLogs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PurgeSyncLogs deletes logs started before the cutoff.
func (s *MemoryStore) PurgeSyncLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []models.SyncLog
	var deleted int64
	for i := range s.syncLogs {
		if s.syncLogs[i].StartedAt.Before(olderThan) {
			deleted++
		} else {
			kept = append(kept, s.syncLogs[i])
		}
	}
	s.syncLogs = kept
	return deleted, nil
}

// ResolvePerson returns the local person for a remote user, creating
// the mapping on first sight.
func (s *MemoryStore) ResolvePerson(ctx context.Context, remoteUserID, displayName, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.persons[remoteUserID]; ok {
		return id, nil
	}
	id := uuid.NewString()
	s.persons[remoteUserID] = id
	return id, nil
}

// EnsureLearnerProgress creates the learner record if absent.
func (s *MemoryStore) EnsureLearnerProgress(ctx context.Context, localPersonID, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learners[localPersonID+"/"+courseID] = struct{}{}
	return nil
}

// HasLearnerProgress reports whether the learner record exists (test helper).
func (s *MemoryStore) HasLearnerProgress(localPersonID, courseID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.learners[localPersonID+"/"+courseID]
	return ok
}

// Compile-time interface checks.
var (
	_ RosterStore     = (*MemoryStore)(nil)
	_ CredentialStore = (*MemoryStore)(nil)
)

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/classward/classward/internal/classroom"
	"github.com/classward/classward/internal/models"
	"github.com/classward/classward/internal/store"
)

// mockProvider is a function-field roster reader for tests.
type mockProvider struct {
	listTeachersFunc  func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error)
	listStudentsFunc  func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error)
	listGuardiansFunc func(ctx context.Context, token, studentRemoteID, pageToken string) (*classroom.MemberPage, error)
}

func (m *mockProvider) ListTeachers(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
	if m.listTeachersFunc != nil {
		return m.listTeachersFunc(ctx, token, courseID, pageToken)
	}
	return &classroom.MemberPage{}, nil
}

func (m *mockProvider) ListStudents(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
	if m.listStudentsFunc != nil {
		return m.listStudentsFunc(ctx, token, courseID, pageToken)
	}
	return &classroom.MemberPage{}, nil
}

func (m *mockProvider) ListGuardians(ctx context.Context, token, studentRemoteID, pageToken string) (*classroom.MemberPage, error) {
	if m.listGuardiansFunc != nil {
		return m.listGuardiansFunc(ctx, token, studentRemoteID, pageToken)
	}
	return &classroom.MemberPage{}, nil
}

// staticTokens always returns the same access token.
type staticTokens struct{}

func (staticTokens) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	return "test-token", nil
}

func members(ids ...string) []classroom.Member {
	out := make([]classroom.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, classroom.Member{RemoteUserID: id, DisplayName: "Name " + id})
	}
	return out
}

func singlePage(ms []classroom.Member) *classroom.MemberPage {
	return &classroom.MemberPage{Members: ms}
}

func seedSyncState(t *testing.T, st *store.MemoryStore, courseID string) {
	t.Helper()
	if err := st.PutSyncState(context.Background(), &models.SyncState{
		RemoteCourseID:   courseID,
		LocalCourseID:    "local-" + courseID,
		CredentialUserID: "user-1",
		AutoSyncEnabled:  true,
	}); err != nil {
		t.Fatalf("seed sync state: %v", err)
	}
}

func TestSyncCourseRosterInitialPopulation(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedSyncState(t, st, "c1")

	provider := &mockProvider{
		listTeachersFunc: func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
			if token != "test-token" {
				t.Errorf("teacher listing used token %q", token)
			}
			return singlePage(members("t1")), nil
		},
		listStudentsFunc: func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
			return singlePage(members("s1", "s2")), nil
		},
		listGuardiansFunc: func(ctx context.Context, token, studentRemoteID, pageToken string) (*classroom.MemberPage, error) {
			if studentRemoteID == "s1" {
				return singlePage(members("g1")), nil
			}
			return singlePage(nil), nil
		},
	}

	r := NewReconciler(st, provider, staticTokens{}, nil)
	log, err := r.SyncCourseRoster(context.Background(), "c1", models.TriggerManual)
	if err != nil {
		t.Fatalf("SyncCourseRoster: %v", err)
	}

	if !log.Success {
		t.Error("log.Success = false for a clean run")
	}
	if log.Teachers.Added != 1 || log.Students.Added != 2 || log.Guardians.Added != 1 {
		t.Errorf("counts = teachers %+v students %+v guardians %+v", log.Teachers, log.Students, log.Guardians)
	}

	state, err := st.GetSyncState(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if state.SyncInProgress {
		t.Error("SyncInProgress not cleared after success")
	}
	if state.LastSyncAt == nil {
		t.Error("LastSyncAt not stamped")
	}
	if state.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d", state.ConsecutiveFailures)
	}

	// Student enrollments get learner records; teachers do not.
	students, err := st.ListActiveMemberships(context.Background(), "c1", models.RoleStudent)
	if err != nil {
		t.Fatalf("ListActiveMemberships: %v", err)
	}
	for _, s := range students {
		if !st.HasLearnerProgress(s.LocalPersonID, "c1") {
			t.Errorf("student %s has no learner progress record", s.RemoteUserID)
		}
	}
	teachers, err := st.ListActiveMemberships(context.Background(), "c1", models.RoleTeacher)
	if err != nil {
		t.Fatalf("ListActiveMemberships: %v", err)
	}
	if len(teachers) != 1 {
		t.Fatalf("got %d teachers, want 1", len(teachers))
	}
	if st.HasLearnerProgress(teachers[0].LocalPersonID, "c1") {
		t.Error("teacher received a learner progress record")
	}

	logs, err := st.ListSyncLogs(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("ListSyncLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].TriggeredBy != models.TriggerManual {
		t.Errorf("sync logs = %+v", logs)
	}
}

func TestSyncCourseRosterDiff(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedSyncState(t, st, "c1")
	ctx := context.Background()

	// Local roster: students A, B, C.
	for _, id := range []string{"A", "B", "C"} {
		personID, err := st.ResolvePerson(ctx, id, "Name "+id, "")
		if err != nil {
			t.Fatalf("ResolvePerson: %v", err)
		}
		if err := st.CreateMembership(ctx, &models.Membership{
			LocalPersonID: personID,
			RemoteUserID:  id,
			CourseID:      "c1",
			Role:          models.RoleStudent,
			Status:        models.MembershipActive,
			DisplayName:   "Name " + id,
		}); err != nil {
			t.Fatalf("CreateMembership: %v", err)
		}
	}

	// Remote roster: A unchanged, B renamed, C gone, D new.
	remote := []classroom.Member{
		{RemoteUserID: "A", DisplayName: "Name A"},
		{RemoteUserID: "B", DisplayName: "Renamed B"},
		{RemoteUserID: "D", DisplayName: "Name D"},
	}
	provider := &mockProvider{
		listStudentsFunc: func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
			return singlePage(remote), nil
		},
	}

	r := NewReconciler(st, provider, staticTokens{}, nil)
	log, err := r.SyncCourseRoster(ctx, "c1", models.TriggerScheduled)
	if err != nil {
		t.Fatalf("SyncCourseRoster: %v", err)
	}

	if log.Students.Added != 1 || log.Students.Removed != 1 || log.Students.Updated != 1 {
		t.Errorf("student counts = %+v, want added/removed/updated 1/1/1", log.Students)
	}

	// C is soft-deleted with reason "sync".
	c, err := st.GetMembershipByRemoteUser(ctx, "c1", models.RoleStudent, "C")
	if err != nil {
		t.Fatalf("GetMembershipByRemoteUser(C): %v", err)
	}
	if c.Status != models.MembershipRemoved {
		t.Errorf("C status = %s, want REMOVED", c.Status)
	}
	if c.RemovedReason != models.RemovedReasonSync {
		t.Errorf("C removed reason = %q, want %q", c.RemovedReason, models.RemovedReasonSync)
	}
	if c.RemovedAt == nil {
		t.Error("C has no removal timestamp")
	}

	// B picked up the profile update.
	b, err := st.GetMembershipByRemoteUser(ctx, "c1", models.RoleStudent, "B")
	if err != nil {
		t.Fatalf("GetMembershipByRemoteUser(B): %v", err)
	}
	if b.DisplayName != "Renamed B" {
		t.Errorf("B display name = %q, want updated", b.DisplayName)
	}
	if b.Status != models.MembershipActive {
		t.Errorf("B status = %s", b.Status)
	}
}

func TestSyncCourseRosterReactivation(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedSyncState(t, st, "c1")
	ctx := context.Background()

	removedAt := time.Now().Add(-24 * time.Hour)
	if err := st.CreateMembership(ctx, &models.Membership{
		ID:            "m1",
		LocalPersonID: "p1",
		RemoteUserID:  "A",
		CourseID:      "c1",
		Role:          models.RoleStudent,
		Status:        models.MembershipRemoved,
		RemovedAt:     &removedAt,
		RemovedReason: models.RemovedReasonSync,
	}); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}

	provider := &mockProvider{
		listStudentsFunc: func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
			return singlePage(members("A")), nil
		},
	}

	r := NewReconciler(st, provider, staticTokens{}, nil)
	log, err := r.SyncCourseRoster(ctx, "c1", models.TriggerScheduled)
	if err != nil {
		t.Fatalf("SyncCourseRoster: %v", err)
	}
	if log.Students.Added != 1 {
		t.Errorf("Added = %d, want re-enrollment counted as added", log.Students.Added)
	}

	got, err := st.GetMembershipByRemoteUser(ctx, "c1", models.RoleStudent, "A")
	if err != nil {
		t.Fatalf("GetMembershipByRemoteUser: %v", err)
	}
	if got.ID != "m1" {
		t.Errorf("reactivation created a new row %s instead of reusing m1", got.ID)
	}
	if got.Status != models.MembershipActive {
		t.Errorf("status = %s, want ACTIVE", got.Status)
	}
	if got.RemovedAt != nil || got.RemovedReason != "" {
		t.Errorf("removal history not cleared: at=%v reason=%q", got.RemovedAt, got.RemovedReason)
	}
}

func TestSyncCourseRosterClearsInProgressOnFailure(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedSyncState(t, st, "c1")
	ctx := context.Background()

	provider := &mockProvider{
		listTeachersFunc: func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
			return singlePage(members("t1")), nil
		},
		listStudentsFunc: func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
			return nil, classroom.NewError(classroom.CodeUnavailable, errors.New("backend down"))
		},
	}

	r := NewReconciler(st, provider, staticTokens{}, nil)
	log, err := r.SyncCourseRoster(ctx, "c1", models.TriggerScheduled)
	if err == nil {
		t.Fatal("expected sync failure")
	}
	if log == nil || log.Success {
		t.Fatalf("log = %+v, want persisted failure record", log)
	}
	if len(log.Errors) == 0 {
		t.Error("failure log has no errors recorded")
	}

	state, err := st.GetSyncState(ctx, "c1")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if state.SyncInProgress {
		t.Error("SyncInProgress stuck after failure")
	}
	if state.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", state.ConsecutiveFailures)
	}
	if state.LastError == "" {
		t.Error("LastError not recorded")
	}
	if state.LastSyncAt != nil {
		t.Error("LastSyncAt stamped despite failure")
	}

	// The teacher pass ran before the failure and its changes stand.
	teachers, err := st.ListActiveMemberships(ctx, "c1", models.RoleTeacher)
	if err != nil {
		t.Fatalf("ListActiveMemberships: %v", err)
	}
	if len(teachers) != 1 {
		t.Errorf("got %d teachers, want the pre-failure pass applied", len(teachers))
	}
}

func TestSyncCourseRosterMutualExclusion(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.PutSyncState(ctx, &models.SyncState{
		RemoteCourseID:   "c1",
		CredentialUserID: "user-1",
		AutoSyncEnabled:  true,
		SyncInProgress:   true,
	}); err != nil {
		t.Fatalf("PutSyncState: %v", err)
	}

	r := NewReconciler(st, &mockProvider{}, staticTokens{}, nil)
	if _, err := r.SyncCourseRoster(ctx, "c1", models.TriggerManual); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("error = %v, want ErrSyncInProgress", err)
	}
}

func TestSyncCourseRosterGuardianAccessUnavailable(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedSyncState(t, st, "c1")
	ctx := context.Background()

	provider := &mockProvider{
		listStudentsFunc: func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
			return singlePage(members("s1")), nil
		},
		listGuardiansFunc: func(ctx context.Context, token, studentRemoteID, pageToken string) (*classroom.MemberPage, error) {
			return nil, classroom.ClassifyResponse(403, "guardians are not enabled for this domain")
		},
	}

	r := NewReconciler(st, provider, staticTokens{}, nil)
	log, err := r.SyncCourseRoster(ctx, "c1", models.TriggerScheduled)
	if err != nil {
		t.Fatalf("SyncCourseRoster: %v", err)
	}
	if log.Guardians.Total() != 0 {
		t.Errorf("guardian counts = %+v, want zero", log.Guardians)
	}
	if !log.Success {
		t.Error("guardian unavailability must not fail the sync")
	}
}

func TestSyncCourseRosterPaginatesRoster(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedSyncState(t, st, "c1")
	ctx := context.Background()

	provider := &mockProvider{
		listStudentsFunc: func(ctx context.Context, token, courseID, pageToken string) (*classroom.MemberPage, error) {
			switch pageToken {
			case "":
				return &classroom.MemberPage{Members: members("s1", "s2"), NextPageToken: "page-2"}, nil
			case "page-2":
				return &classroom.MemberPage{Members: members("s3")}, nil
			default:
				t.Errorf("unexpected page token %q", pageToken)
				return &classroom.MemberPage{}, nil
			}
		},
	}

	r := NewReconciler(st, provider, staticTokens{}, nil)
	log, err := r.SyncCourseRoster(ctx, "c1", models.TriggerScheduled)
	if err != nil {
		t.Fatalf("SyncCourseRoster: %v", err)
	}
	if log.Students.Added != 3 {
		t.Errorf("Added = %d, want all pages merged", log.Students.Added)
	}
}

func TestResetSyncState(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.PutSyncState(ctx, &models.SyncState{
		RemoteCourseID:      "c1",
		SyncInProgress:      true,
		ConsecutiveFailures: 7,
		LastError:           "stuck",
	}); err != nil {
		t.Fatalf("PutSyncState: %v", err)
	}

	r := NewReconciler(st, &mockProvider{}, staticTokens{}, nil)
	if err := r.ResetSyncState(ctx, "c1"); err != nil {
		t.Fatalf("ResetSyncState: %v", err)
	}

	state, err := st.GetSyncState(ctx, "c1")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if state.SyncInProgress || state.ConsecutiveFailures != 0 || state.LastError != "" {
		t.Errorf("state after reset = %+v", state)
	}
}

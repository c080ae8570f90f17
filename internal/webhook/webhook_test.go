// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/classward/classward/internal/classroom"
	"github.com/classward/classward/internal/models"
	"github.com/classward/classward/internal/store"
)

// mockFetcher is a function-field member fetcher for tests.
type mockFetcher struct {
	getTeacherFunc func(ctx context.Context, token, courseID, remoteUserID string) (*classroom.Member, error)
	getStudentFunc func(ctx context.Context, token, courseID, remoteUserID string) (*classroom.Member, error)
}

func (m *mockFetcher) GetTeacher(ctx context.Context, token, courseID, remoteUserID string) (*classroom.Member, error) {
	return m.getTeacherFunc(ctx, token, courseID, remoteUserID)
}

func (m *mockFetcher) GetStudent(ctx context.Context, token, courseID, remoteUserID string) (*classroom.Member, error) {
	return m.getStudentFunc(ctx, token, courseID, remoteUserID)
}

type staticTokens struct{}

func (staticTokens) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	return "test-token", nil
}

func seedState(t *testing.T, st *store.MemoryStore, courseID string) {
	t.Helper()
	if err := st.PutSyncState(context.Background(), &models.SyncState{
		RemoteCourseID:   courseID,
		CredentialUserID: "user-1",
		AutoSyncEnabled:  true,
	}); err != nil {
		t.Fatalf("seed sync state: %v", err)
	}
}

func TestParseNotification(t *testing.T) {
	t.Parallel()

	n, err := ParseNotification([]byte(`{
		"collection": "courses.students",
		"eventType": "CREATED",
		"resourceId": {"courseId": "c1", "userId": "s1"}
	}`))
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if n.Collection != CollectionStudents || n.ResourceID.UserID != "s1" {
		t.Errorf("parsed = %+v", n)
	}

	if _, err := ParseNotification([]byte(`{invalid`)); err == nil {
		t.Error("malformed payload parsed successfully")
	}
	if _, err := ParseNotification([]byte(`{"eventType":"CREATED"}`)); err == nil {
		t.Error("payload without collection/course parsed successfully")
	}
}

func TestProcessStudentCreatedIsIdempotent(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedState(t, st, "c1")
	ctx := context.Background()

	fetcher := &mockFetcher{
		getStudentFunc: func(ctx context.Context, token, courseID, remoteUserID string) (*classroom.Member, error) {
			return &classroom.Member{RemoteUserID: remoteUserID, DisplayName: "Ada", Email: "ada@example.edu"}, nil
		},
	}
	p := NewProcessor(st, fetcher, staticTokens{}, nil)

	n := &Notification{
		Collection: CollectionStudents,
		EventType:  EventCreated,
		ResourceID: ResourceID{CourseID: "c1", UserID: "s1"},
	}

	// Redelivered notifications converge to the same single row.
	for i := 0; i < 3; i++ {
		if err := p.Process(ctx, n); err != nil {
			t.Fatalf("Process (attempt %d): %v", i+1, err)
		}
	}

	active, err := st.ListActiveMemberships(ctx, "c1", models.RoleStudent)
	if err != nil {
		t.Fatalf("ListActiveMemberships: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d memberships after 3 deliveries, want 1", len(active))
	}
	if active[0].DisplayName != "Ada" {
		t.Errorf("DisplayName = %q", active[0].DisplayName)
	}
	if !st.HasLearnerProgress(active[0].LocalPersonID, "c1") {
		t.Error("student has no learner progress record")
	}
}

func TestProcessMemberDeleted(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedState(t, st, "c1")
	ctx := context.Background()

	if err := st.CreateMembership(ctx, &models.Membership{
		ID:            "m1",
		LocalPersonID: "p1",
		RemoteUserID:  "s1",
		CourseID:      "c1",
		Role:          models.RoleStudent,
		Status:        models.MembershipActive,
	}); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}

	p := NewProcessor(st, &mockFetcher{}, staticTokens{}, nil)
	n := &Notification{
		Collection: CollectionStudents,
		EventType:  EventDeleted,
		ResourceID: ResourceID{CourseID: "c1", UserID: "s1"},
	}

	if err := p.Process(ctx, n); err != nil {
		t.Fatalf("Process: %v", err)
	}
	// Redelivery of the deletion is a no-op.
	if err := p.Process(ctx, n); err != nil {
		t.Fatalf("Process (redelivery): %v", err)
	}

	got, err := st.GetMembershipByRemoteUser(ctx, "c1", models.RoleStudent, "s1")
	if err != nil {
		t.Fatalf("GetMembershipByRemoteUser: %v", err)
	}
	if got.Status != models.MembershipRemoved {
		t.Errorf("Status = %s, want REMOVED", got.Status)
	}
	if got.RemovedReason != models.RemovedReasonWebhook {
		t.Errorf("RemovedReason = %q, want %q", got.RemovedReason, models.RemovedReasonWebhook)
	}
}

func TestProcessModifiedFetchFindsMemberGone(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedState(t, st, "c1")
	ctx := context.Background()

	if err := st.CreateMembership(ctx, &models.Membership{
		ID:            "m1",
		LocalPersonID: "p1",
		RemoteUserID:  "t1",
		CourseID:      "c1",
		Role:          models.RoleTeacher,
		Status:        models.MembershipActive,
	}); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}

	fetcher := &mockFetcher{
		getTeacherFunc: func(ctx context.Context, token, courseID, remoteUserID string) (*classroom.Member, error) {
			return nil, classroom.ClassifyResponse(404, "teacher not found in course")
		},
	}
	p := NewProcessor(st, fetcher, staticTokens{}, nil)

	n := &Notification{
		Collection: CollectionTeachers,
		EventType:  EventModified,
		ResourceID: ResourceID{CourseID: "c1", UserID: "t1"},
	}
	if err := p.Process(ctx, n); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := st.GetMembershipByRemoteUser(ctx, "c1", models.RoleTeacher, "t1")
	if err != nil {
		t.Fatalf("GetMembershipByRemoteUser: %v", err)
	}
	if got.Status != models.MembershipRemoved {
		t.Errorf("Status = %s, want removal when the fetch 404s", got.Status)
	}
}

func TestProcessUnknownCourseIgnored(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	p := NewProcessor(st, &mockFetcher{}, staticTokens{}, nil)

	n := &Notification{
		Collection: CollectionStudents,
		EventType:  EventCreated,
		ResourceID: ResourceID{CourseID: "never-onboarded", UserID: "s1"},
	}
	if err := p.Process(context.Background(), n); err != nil {
		t.Errorf("Process for unknown course = %v, want nil", err)
	}
}

func TestProcessCourseDeletedDisablesAutoSync(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedState(t, st, "c1")
	ctx := context.Background()

	if err := st.PutCourse(ctx, &models.Course{
		LocalID:        "local-1",
		RemoteCourseID: "c1",
		Name:           "Algebra",
	}); err != nil {
		t.Fatalf("PutCourse: %v", err)
	}

	p := NewProcessor(st, &mockFetcher{}, staticTokens{}, nil)
	n := &Notification{
		Collection: CollectionCourses,
		EventType:  EventDeleted,
		ResourceID: ResourceID{CourseID: "c1"},
	}
	if err := p.Process(ctx, n); err != nil {
		t.Fatalf("Process: %v", err)
	}

	course, err := st.GetCourseByRemoteID(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCourseByRemoteID: %v", err)
	}
	if !course.Deleted {
		t.Error("course not marked deleted")
	}

	state, err := st.GetSyncState(ctx, "c1")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if state.AutoSyncEnabled {
		t.Error("auto sync still enabled for a deleted course")
	}
}

func TestProcessCourseWorkDeleted(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedState(t, st, "c1")
	ctx := context.Background()

	a := &models.Assignment{
		CourseID:           "c1",
		RemoteCourseWorkID: "cw1",
		Title:              "Homework 3",
	}
	if err := st.PutAssignment(ctx, a); err != nil {
		t.Fatalf("PutAssignment: %v", err)
	}

	p := NewProcessor(st, &mockFetcher{}, staticTokens{}, nil)
	n := &Notification{
		Collection: CollectionCourseWork,
		EventType:  EventDeleted,
		ResourceID: ResourceID{CourseID: "c1", CourseWorkID: "cw1"},
	}
	if err := p.Process(ctx, n); err != nil {
		t.Fatalf("Process: %v", err)
	}
	// Redelivery after deletion is a no-op.
	if err := p.Process(ctx, n); err != nil {
		t.Fatalf("Process (redelivery): %v", err)
	}

	got, err := st.GetAssignmentByRemoteID(ctx, "c1", "cw1")
	if err != nil {
		t.Fatalf("GetAssignmentByRemoteID: %v", err)
	}
	if !got.Deleted {
		t.Error("assignment not marked deleted")
	}
}

func TestProcessReactivatesRemovedMembership(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	seedState(t, st, "c1")
	ctx := context.Background()

	removedAt := time.Now().Add(-time.Hour)
	if err := st.CreateMembership(ctx, &models.Membership{
		ID:            "m1",
		LocalPersonID: "p1",
		RemoteUserID:  "s1",
		CourseID:      "c1",
		Role:          models.RoleStudent,
		Status:        models.MembershipRemoved,
		RemovedAt:     &removedAt,
		RemovedReason: models.RemovedReasonSync,
	}); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}

	fetcher := &mockFetcher{
		getStudentFunc: func(ctx context.Context, token, courseID, remoteUserID string) (*classroom.Member, error) {
			return &classroom.Member{RemoteUserID: remoteUserID, DisplayName: "Ada"}, nil
		},
	}
	p := NewProcessor(st, fetcher, staticTokens{}, nil)

	n := &Notification{
		Collection: CollectionStudents,
		EventType:  EventCreated,
		ResourceID: ResourceID{CourseID: "c1", UserID: "s1"},
	}
	if err := p.Process(ctx, n); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := st.GetMembershipByRemoteUser(ctx, "c1", models.RoleStudent, "s1")
	if err != nil {
		t.Fatalf("GetMembershipByRemoteUser: %v", err)
	}
	if got.ID != "m1" || got.Status != models.MembershipActive {
		t.Errorf("membership = %+v, want m1 reactivated", got)
	}
	if got.RemovedAt != nil || got.RemovedReason != "" {
		t.Error("removal history not cleared on reactivation")
	}
}

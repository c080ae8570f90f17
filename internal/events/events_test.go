// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package events

import (
	"context"
	"testing"
	"time"

	"github.com/classward/classward/internal/models"
)

func TestRosterEventTopic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entity string
		action string
		want   string
	}{
		{EntityMembership, ActionAdded, "roster.membership.added"},
		{EntityMembership, ActionRemoved, "roster.membership.removed"},
		{EntityAccount, ActionConnected, "roster.account.connected"},
		{EntityCourse, ActionSynced, "roster.course.synced"},
		{EntityCourse, ActionSyncFailed, "roster.course.sync_failed"},
		{EntityAssignment, ActionDeleted, "roster.assignment.deleted"},
		{EntityGrade, ActionUpdated, "roster.grade.updated"},
	}
	for _, tt := range tests {
		e := NewRosterEvent(tt.entity, tt.action)
		if got := e.Topic(); got != tt.want {
			t.Errorf("Topic(%s, %s) = %q, want %q", tt.entity, tt.action, got, tt.want)
		}
	}
}

func TestNewRosterEventDefaults(t *testing.T) {
	t.Parallel()

	e := NewRosterEvent(EntityMembership, ActionAdded)
	if e.EventID == "" {
		t.Error("EventID not assigned")
	}
	if e.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", e.SchemaVersion, SchemaVersion)
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	e := NewRosterEvent(EntityMembership, ActionRemoved)
	e.CourseID = "course-1"
	e.Role = models.RoleStudent
	e.Reason = models.RemovedReasonSync

	data, err := Serialize(e)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.EventID != e.EventID || got.CourseID != "course-1" || got.Reason != models.RemovedReasonSync {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestDeserializeLegacySchemaVersion(t *testing.T) {
	t.Parallel()

	got, err := Deserialize([]byte(`{"event_id":"e1","entity":"membership","action":"added"}`))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want defaulted to %d", got.SchemaVersion, SchemaVersion)
	}
}

func TestGoChannelPublisherDelivers(t *testing.T) {
	t.Parallel()

	pub, sub := NewGoChannelPublisher(nil)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := sub.Subscribe(ctx, "roster.membership.added")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub.MembershipAdded(ctx, "course-1", models.RoleStudent, "remote-1", models.TriggerScheduled)

	select {
	case msg := <-msgs:
		msg.Ack()
		got, err := Deserialize(msg.Payload)
		if err != nil {
			t.Fatalf("Deserialize: %v", err)
		}
		if got.CourseID != "course-1" || got.Role != models.RoleStudent {
			t.Errorf("delivered event = %+v", got)
		}
		if msg.Metadata.Get("entity") != EntityMembership {
			t.Errorf("entity metadata = %q", msg.Metadata.Get("entity"))
		}
	case <-ctx.Done():
		t.Fatal("no event delivered before timeout")
	}
}

func TestGradeUpdatedCarriesIdentifiers(t *testing.T) {
	t.Parallel()

	pub, sub := NewGoChannelPublisher(nil)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := sub.Subscribe(ctx, "roster.grade.updated")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub.GradeUpdated(ctx, "course-1", "assignment-1", "submission-1")

	select {
	case msg := <-msgs:
		msg.Ack()
		got, err := Deserialize(msg.Payload)
		if err != nil {
			t.Fatalf("Deserialize: %v", err)
		}
		if got.CourseID != "course-1" || got.AssignmentID != "assignment-1" || got.SubmissionID != "submission-1" {
			t.Errorf("delivered event = %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("no event delivered before timeout")
	}
}

func TestCourseSyncFailedCarriesReason(t *testing.T) {
	t.Parallel()

	pub, sub := NewGoChannelPublisher(nil)
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := sub.Subscribe(ctx, "roster.course.sync_failed")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pub.CourseSyncFailed(ctx, "course-1", models.TriggerScheduled, "credential expired")

	select {
	case msg := <-msgs:
		msg.Ack()
		got, err := Deserialize(msg.Payload)
		if err != nil {
			t.Fatalf("Deserialize: %v", err)
		}
		if got.CourseID != "course-1" || got.Reason != "credential expired" || got.TriggeredBy != models.TriggerScheduled {
			t.Errorf("delivered event = %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("no event delivered before timeout")
	}
}

func TestPublisherClosedRejectsPublish(t *testing.T) {
	t.Parallel()

	pub, _ := NewGoChannelPublisher(nil)
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent close.
	if err := pub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := pub.Publish(context.Background(), NewRosterEvent(EntityCourse, ActionSynced)); err == nil {
		t.Error("Publish after Close succeeded")
	}
}

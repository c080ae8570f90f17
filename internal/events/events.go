// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

// Package events publishes roster lifecycle events to the internal
// message bus. Downstream subsystems (notifications, analytics, the
// learner model) consume these instead of polling the store.
//
// The default transport is Watermill's in-process gochannel; deployments
// running more than one consumer process switch to NATS JetStream via
// NewNATSPublisher.
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/classward/classward/internal/models"
)

// SchemaVersion is the current event schema version. Increment on
// breaking changes to RosterEvent.
const SchemaVersion = 1

// Event actions.
const (
	ActionAdded        = "added"
	ActionRemoved      = "removed"
	ActionUpdated      = "updated"
	ActionCreated      = "created"
	ActionDeleted      = "deleted"
	ActionConnected    = "connected"
	ActionDisconnected = "disconnected"
	ActionSynced       = "synced"
	ActionSyncFailed   = "sync_failed"
)

// Event entities.
const (
	EntityMembership = "membership"
	EntityAccount    = "account"
	EntityCourse     = "course"
	EntityAssignment = "assignment"
	EntityGrade      = "grade"
)

// RosterEvent is the canonical event format for roster changes.
type RosterEvent struct {
	SchemaVersion int       `json:"schema_version,omitempty"`
	EventID       string    `json:"event_id"`
	Entity        string    `json:"entity"`
	Action        string    `json:"action"`
	Timestamp     time.Time `json:"timestamp"`

	CourseID     string      `json:"course_id,omitempty"`
	UserID       string      `json:"user_id,omitempty"`
	TenantID     string      `json:"tenant_id,omitempty"`
	Role         models.Role `json:"role,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	TriggeredBy  string      `json:"triggered_by,omitempty"`
	RemoteUserID string      `json:"remote_user_id,omitempty"`
	AssignmentID string      `json:"assignment_id,omitempty"`
	SubmissionID string      `json:"submission_id,omitempty"`
}

// NewRosterEvent creates an event with a unique ID, timestamp, and
// schema version.
func NewRosterEvent(entity, action string) *RosterEvent {
	return &RosterEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.NewString(),
		Entity:        entity,
		Action:        action,
		Timestamp:     time.Now().UTC(),
	}
}

// Topic returns the publish subject for this event, of the form
// "roster.<entity>.<action>".
func (e *RosterEvent) Topic() string {
	return fmt.Sprintf("roster.%s.%s", e.Entity, e.Action)
}

// Serialize encodes the event for the wire.
func Serialize(e *RosterEvent) ([]byte, error) {
	return json.Marshal(e)
}

// Deserialize decodes a wire payload back into an event, defaulting the
// schema version for legacy payloads.
func Deserialize(data []byte) (*RosterEvent, error) {
	var e RosterEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal roster event: %w", err)
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = SchemaVersion
	}
	return &e, nil
}

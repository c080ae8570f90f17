// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

// Package webhook processes push notifications from the learning
// platform. Notifications are hints, not deltas: processing re-fetches
// the affected member and converges local state, so replays and
// out-of-order delivery are harmless.
//
// Notifications for courses with no SyncState are logged and ignored;
// the platform keeps sending events for courses this deployment never
// onboarded.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/classward/classward/internal/classroom"
	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/metrics"
	"github.com/classward/classward/internal/models"
	"github.com/classward/classward/internal/store"
)

// Collections carried by platform notifications.
const (
	CollectionCourses    = "courses"
	CollectionTeachers   = "courses.teachers"
	CollectionStudents   = "courses.students"
	CollectionCourseWork = "courses.courseWork"
)

// Event types carried by platform notifications.
const (
	EventCreated  = "CREATED"
	EventModified = "MODIFIED"
	EventDeleted  = "DELETED"
)

// ResourceID identifies the resource a notification refers to.
type ResourceID struct {
	CourseID     string `json:"courseId"`
	UserID       string `json:"userId,omitempty"`
	CourseWorkID string `json:"courseWorkId,omitempty"`
}

// Notification is one push notification in the platform's shape.
type Notification struct {
	Collection string     `json:"collection"`
	EventType  string     `json:"eventType"`
	ResourceID ResourceID `json:"resourceId"`
}

// ParseNotification decodes a notification payload.
func ParseNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	if n.Collection == "" || n.ResourceID.CourseID == "" {
		return nil, errors.New("notification missing collection or course id")
	}
	return &n, nil
}

// MemberFetcher is the subset of the platform client the processor
// consumes.
type MemberFetcher interface {
	GetTeacher(ctx context.Context, accessToken, courseID, remoteUserID string) (*classroom.Member, error)
	GetStudent(ctx context.Context, accessToken, courseID, remoteUserID string) (*classroom.Member, error)
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
	AssignmentDeleted(ctx context.Context, courseID, assignmentID string)
}

// Processor applies individual push notifications to the local mirror.
type Processor struct {
	store    store.RosterStore
	provider MemberFetcher
	tokens   TokenProvider
	events   EventSink

	// now is replaced in tests.
	now func() time.Time
}

// NewProcessor wires a webhook processor. events may be nil.
func NewProcessor(st store.RosterStore, provider MemberFetcher, tokens TokenProvider, events EventSink) *Processor {
	return &Processor{
		store:    st,
		provider: provider,
		tokens:   tokens,
		events:   events,
		now:      time.Now,
	}
}

// Process applies one notification. Unknown courses and unknown
// collections are ignored, not errors; only transient failures (store,
// token, remote fetch) return an error so the caller can redeliver.
func (p *Processor) Process(ctx context.Context, n *Notification) error {
	started := time.Now()
	result, err := p.dispatch(ctx, n)
	metrics.WebhookProcessingDuration.Observe(time.Since(started).Seconds())
	metrics.WebhookNotifications.WithLabelValues(n.Collection, n.EventType, result).Inc()
	return err
}

func (p *Processor) dispatch(ctx context.Context, n *Notification) (string, error) {
	state, err := p.store.GetSyncState(ctx, n.ResourceID.CourseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logging.Debug().
				Str("course_id", n.ResourceID.CourseID).
				Str("collection", n.Collection).
				Msg("Notification for unknown course ignored")
			return "ignored", nil
		}
		return "failure", fmt.Errorf("load sync state: %w", err)
	}

	switch n.Collection {
	case CollectionTeachers:
		return p.processMember(ctx, state, models.RoleTeacher, n)
	case CollectionStudents:
		return p.processMember(ctx, state, models.RoleStudent, n)
	case CollectionCourses:
		return p.processCourse(ctx, state, n)
	case CollectionCourseWork:
		return p.processCourseWork(ctx, n)
	default:
		logging.Debug().Str("collection", n.Collection).Msg("Unknown notification collection ignored")
		return "ignored", nil
	}
}

// processMember converges one teacher or student membership.
func (p *Processor) processMember(ctx context.Context, state *models.SyncState, role models.Role, n *Notification) (string, error) {
	courseID := n.ResourceID.CourseID
	remoteUserID := n.ResourceID.UserID
	if remoteUserID == "" {
		logging.Warn().Str("course_id", courseID).Str("collection", n.Collection).
			Msg("Member notification missing user id; dropped")
		return "dropped", nil
	}

	if n.EventType == EventDeleted {
		return p.removeMember(ctx, courseID, role, remoteUserID)
	}

	token, err := p.tokens.GetValidAccessToken(ctx, state.CredentialUserID)
	if err != nil {
		return "failure", fmt.Errorf("acquire access token: %w", err)
	}

	var member *classroom.Member
	if role == models.RoleTeacher {
		member, err = p.provider.GetTeacher(ctx, token, courseID, remoteUserID)
	} else {
		member, err = p.provider.GetStudent(ctx, token, courseID, remoteUserID)
	}
	if err != nil {
		// A member gone by the time we look is a removal, not a failure.
		if memberGone(err) {
			return p.removeMember(ctx, courseID, role, remoteUserID)
		}
		return "failure", fmt.Errorf("fetch %s %s: %w", role, remoteUserID, err)
	}

	return p.upsertMember(ctx, courseID, role, member)
}

// memberGone reports whether a member fetch error means the membership
// no longer exists remotely.
func memberGone(err error) bool {
	var classified *classroom.ClassifiedError
	if !errors.As(err, &classified) {
		return false
	}
	switch classified.Code {
	case classroom.CodeNotFound, classroom.CodeStudentNotFound, classroom.CodeNotAMember:
		return true
	default:
		return false
	}
}

// upsertMember creates, reactivates, or updates a membership from its
// fresh remote view. Reprocessing the same notification converges to
// the same row.
func (p *Processor) upsertMember(ctx context.Context, courseID string, role models.Role, m *classroom.Member) (string, error) {
	existing, err := p.store.GetMembershipByRemoteUser(ctx, courseID, role, m.RemoteUserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "failure", fmt.Errorf("lookup membership: %w", err)
	}

	if errors.Is(err, store.ErrNotFound) {
		localPersonID, err := p.store.ResolvePerson(ctx, m.RemoteUserID, m.DisplayName, m.Email)
		if err != nil {
			return "failure", fmt.Errorf("resolve person: %w", err)
		}
		now := p.now()
		if err := p.store.CreateMembership(ctx, &models.Membership{
			LocalPersonID: localPersonID,
			RemoteUserID:  m.RemoteUserID,
			CourseID:      courseID,
			Role:          role,
			Status:        models.MembershipActive,
			DisplayName:   m.DisplayName,
			Email:         m.Email,
			PhotoURL:      m.PhotoURL,
			CreatedAt:     now,
			UpdatedAt:     now,
		}); err != nil {
			return "failure", fmt.Errorf("create membership: %w", err)
		}
		if role == models.RoleStudent {
			if err := p.store.EnsureLearnerProgress(ctx, localPersonID, courseID); err != nil {
				return "failure", fmt.Errorf("ensure learner progress: %w", err)
			}
		}
		metrics.MembershipChanges.WithLabelValues(string(role), "added").Inc()
		if p.events != nil {
			p.events.MembershipAdded(ctx, courseID, role, m.RemoteUserID, models.TriggerWebhook)
		}
		return "applied", nil
	}

	if existing.Status == models.MembershipRemoved {
		if err := p.store.UpdateMembership(ctx, existing.ID, models.MembershipPatch{
			Status:        models.Set(models.MembershipActive),
			DisplayName:   models.Set(m.DisplayName),
			Email:         models.Set(m.Email),
			PhotoURL:      models.Set(m.PhotoURL),
			RemovedAt:     models.Null[time.Time](),
			RemovedReason: models.Null[string](),
		}); err != nil {
			return "failure", fmt.Errorf("reactivate membership: %w", err)
		}
		metrics.MembershipChanges.WithLabelValues(string(role), "added").Inc()
		if p.events != nil {
			p.events.MembershipAdded(ctx, courseID, role, m.RemoteUserID, models.TriggerWebhook)
		}
		return "applied", nil
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
		return "ignored", nil
	}
	if err := p.store.UpdateMembership(ctx, existing.ID, patch); err != nil {
		return "failure", fmt.Errorf("update membership: %w", err)
	}
	metrics.MembershipChanges.WithLabelValues(string(role), "updated").Inc()
	if p.events != nil {
		p.events.MembershipUpdated(ctx, courseID, role, m.RemoteUserID, models.TriggerWebhook)
	}
	return "applied", nil
}

// removeMember soft-deletes a membership with reason "webhook". Absent
// or already-removed memberships are no-ops.
func (p *Processor) removeMember(ctx context.Context, courseID string, role models.Role, remoteUserID string) (string, error) {
	existing, err := p.store.GetMembershipByRemoteUser(ctx, courseID, role, remoteUserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "ignored", nil
		}
		return "failure", fmt.Errorf("lookup membership: %w", err)
	}
	if existing.Status == models.MembershipRemoved {
		return "ignored", nil
	}

	if err := p.store.UpdateMembership(ctx, existing.ID, models.MembershipPatch{
		Status:        models.Set(models.MembershipRemoved),
		RemovedAt:     models.Set(p.now()),
		RemovedReason: models.Set(models.RemovedReasonWebhook),
	}); err != nil {
		return "failure", fmt.Errorf("remove membership: %w", err)
	}
	metrics.MembershipChanges.WithLabelValues(string(role), "removed").Inc()
	if p.events != nil {
		p.events.MembershipRemoved(ctx, courseID, role, remoteUserID, models.RemovedReasonWebhook, models.TriggerWebhook)
	}
	return "applied", nil
}

// processCourse handles course lifecycle notifications. Deletion marks
// the local mirror deleted and stops automatic syncing; create and
// modify events are left to the next full sync, which fetches complete
// course details anyway.
func (p *Processor) processCourse(ctx context.Context, state *models.SyncState, n *Notification) (string, error) {
	if n.EventType != EventDeleted {
		logging.Debug().
			Str("course_id", n.ResourceID.CourseID).
			Str("event_type", n.EventType).
			Msg("Course notification deferred to next full sync")
		return "ignored", nil
	}

	course, err := p.store.GetCourseByRemoteID(ctx, n.ResourceID.CourseID)
	if err == nil {
		if err := p.store.MarkCourseDeleted(ctx, course.LocalID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return "failure", fmt.Errorf("mark course deleted: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "failure", fmt.Errorf("lookup course: %w", err)
	}

	if err := p.store.UpdateSyncState(ctx, n.ResourceID.CourseID, models.SyncStatePatch{
		AutoSyncEnabled: models.Set(false),
	}); err != nil {
		return "failure", fmt.Errorf("disable auto sync: %w", err)
	}

	logging.Info().Str("course_id", n.ResourceID.CourseID).Msg("Remote course deleted; auto sync disabled")
	return "applied", nil
}

// processCourseWork handles coursework notifications. Only deletions
// act immediately; created and modified coursework is picked up by the
// coursework sync.
func (p *Processor) processCourseWork(ctx context.Context, n *Notification) (string, error) {
	if n.EventType != EventDeleted || n.ResourceID.CourseWorkID == "" {
		return "ignored", nil
	}

	a, err := p.store.GetAssignmentByRemoteID(ctx, n.ResourceID.CourseID, n.ResourceID.CourseWorkID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "ignored", nil
		}
		return "failure", fmt.Errorf("lookup assignment: %w", err)
	}
	if a.Deleted {
		return "ignored", nil
	}
	if err := p.store.MarkAssignmentDeleted(ctx, a.ID); err != nil {
		return "failure", fmt.Errorf("mark assignment deleted: %w", err)
	}
	if p.events != nil {
		p.events.AssignmentDeleted(ctx, n.ResourceID.CourseID, a.ID)
	}
	return "applied", nil
}

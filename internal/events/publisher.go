// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/metrics"
	"github.com/classward/classward/internal/models"
)

// NATSConfig configures the optional NATS JetStream transport.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Publisher wraps a Watermill publisher with circuit breaker protection
// and publish metrics. Publish failures never fail the operation that
// produced the event; the bus is observability, not source of truth.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[any]
	mu             sync.RWMutex
	closed         bool
}

// NewGoChannelPublisher creates an in-process publisher. The returned
// subscriber side is exposed for consumers in the same process.
func NewGoChannelPublisher(logger watermill.LoggerAdapter) (*Publisher, message.Subscriber) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
	return &Publisher{publisher: pubsub}, pubsub
}

// NewNATSPublisher creates a NATS JetStream publisher with reconnection
// handling and message ID deduplication.
func NewNATSPublisher(cfg NATSConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:   false,
			TrackMsgId: true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &Publisher{publisher: pub}, nil
}

// SetCircuitBreaker configures the circuit breaker for publish operations.
func (p *Publisher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[any]) {
	p.circuitBreaker = cb
}

// Publish serializes and publishes a roster event. Errors are returned
// for callers that care, but most call sites log and move on.
func (p *Publisher) Publish(ctx context.Context, event *RosterEvent) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	data, err := Serialize(event)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(event.EventID, data)
	msg.Metadata.Set("entity", event.Entity)
	msg.Metadata.Set("action", event.Action)
	if event.CourseID != "" {
		msg.Metadata.Set("course_id", event.CourseID)
	}

	topic := event.Topic()
	if p.circuitBreaker != nil {
		_, err = p.circuitBreaker.Execute(func() (any, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
	} else {
		err = p.publisher.Publish(topic, msg)
	}

	if err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "failure").Inc()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.EventsPublished.WithLabelValues(topic, "success").Inc()
	return nil
}

// publishBestEffort publishes and logs failures instead of returning them.
func (p *Publisher) publishBestEffort(ctx context.Context, event *RosterEvent) {
	if err := p.Publish(ctx, event); err != nil {
		logging.Warn().Err(err).Str("topic", event.Topic()).Msg("Event publish failed")
	}
}

// MembershipAdded publishes a roster.membership.added event.
func (p *Publisher) MembershipAdded(ctx context.Context, courseID string, role models.Role, remoteUserID, trigger string) {
	e := NewRosterEvent(EntityMembership, ActionAdded)
	e.CourseID = courseID
	e.Role = role
	e.RemoteUserID = remoteUserID
	e.TriggeredBy = trigger
	p.publishBestEffort(ctx, e)
}

// MembershipRemoved publishes a roster.membership.removed event.
func (p *Publisher) MembershipRemoved(ctx context.Context, courseID string, role models.Role, remoteUserID, reason, trigger string) {
	e := NewRosterEvent(EntityMembership, ActionRemoved)
	e.CourseID = courseID
	e.Role = role
	e.RemoteUserID = remoteUserID
	e.Reason = reason
	e.TriggeredBy = trigger
	p.publishBestEffort(ctx, e)
}

// MembershipUpdated publishes a roster.membership.updated event.
func (p *Publisher) MembershipUpdated(ctx context.Context, courseID string, role models.Role, remoteUserID, trigger string) {
	e := NewRosterEvent(EntityMembership, ActionUpdated)
	e.CourseID = courseID
	e.Role = role
	e.RemoteUserID = remoteUserID
	e.TriggeredBy = trigger
	p.publishBestEffort(ctx, e)
}

// CourseSynced publishes a roster.course.synced event after a completed
// sync run.
func (p *Publisher) CourseSynced(ctx context.Context, courseID, trigger string) {
	e := NewRosterEvent(EntityCourse, ActionSynced)
	e.CourseID = courseID
	e.TriggeredBy = trigger
	p.publishBestEffort(ctx, e)
}

// AccountConnected publishes a roster.account.connected event.
func (p *Publisher) AccountConnected(ctx context.Context, userID, tenantID string) {
	e := NewRosterEvent(EntityAccount, ActionConnected)
	e.UserID = userID
	e.TenantID = tenantID
	p.publishBestEffort(ctx, e)
}

// AccountDisconnected publishes a roster.account.disconnected event.
func (p *Publisher) AccountDisconnected(ctx context.Context, userID, tenantID string) {
	e := NewRosterEvent(EntityAccount, ActionDisconnected)
	e.UserID = userID
	e.TenantID = tenantID
	p.publishBestEffort(ctx, e)
}

// CourseSyncFailed publishes a roster.course.sync_failed event with the
// failure reason.
func (p *Publisher) CourseSyncFailed(ctx context.Context, courseID, trigger, reason string) {
	e := NewRosterEvent(EntityCourse, ActionSyncFailed)
	e.CourseID = courseID
	e.TriggeredBy = trigger
	e.Reason = reason
	p.publishBestEffort(ctx, e)
}

// AssignmentCreated publishes a roster.assignment.created event.
func (p *Publisher) AssignmentCreated(ctx context.Context, courseID, assignmentID string) {
	e := NewRosterEvent(EntityAssignment, ActionCreated)
	e.CourseID = courseID
	e.AssignmentID = assignmentID
	p.publishBestEffort(ctx, e)
}

// AssignmentDeleted publishes a roster.assignment.deleted event.
func (p *Publisher) AssignmentDeleted(ctx context.Context, courseID, assignmentID string) {
	e := NewRosterEvent(EntityAssignment, ActionDeleted)
	e.CourseID = courseID
	e.AssignmentID = assignmentID
	p.publishBestEffort(ctx, e)
}

// GradeUpdated publishes a roster.grade.updated event after a successful
// passback.
func (p *Publisher) GradeUpdated(ctx context.Context, courseID, assignmentID, submissionID string) {
	e := NewRosterEvent(EntityGrade, ActionUpdated)
	e.CourseID = courseID
	e.AssignmentID = assignmentID
	e.SubmissionID = submissionID
	p.publishBestEffort(ctx, e)
}

// Close gracefully shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

// Package orchestrator schedules the background work of the sync
// engine: periodic full roster syncs, webhook registration renewal,
// grade passback, and sync log retention.
//
// Courses sync sequentially with a small delay between them. The
// remote API budget is shared by webhooks, manual syncs, and token
// refreshes; a parallel fan-out would starve all of them behind the
// gateway queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/classward/classward/internal/classroom"
	"github.com/classward/classward/internal/credentials"
	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/metrics"
	"github.com/classward/classward/internal/models"
	"github.com/classward/classward/internal/reconcile"
	"github.com/classward/classward/internal/store"
)

// Config controls the orchestrator's cadence and batch sizes.
type Config struct {
	// SyncInterval is the full sync cycle period.
	SyncInterval time.Duration

	// PassbackInterval is the grade passback loop period.
	PassbackInterval time.Duration

	// StaleAfter is the minimum age of a course's last sync before it
	// becomes due again.
	StaleAfter time.Duration

	// FailureThreshold quarantines courses at this many consecutive
	// failures.
	FailureThreshold int

	// BatchSize caps courses synced per cycle.
	BatchSize int

	// InterCourseDelay spaces sequential course syncs.
	InterCourseDelay time.Duration

	// RenewalWindow renews registrations expiring within this window.
	RenewalWindow time.Duration

	// LogRetention is how long sync logs are kept.
	LogRetention time.Duration

	// PassbackBatchSize caps grades pushed per passback run.
	PassbackBatchSize int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:      6 * time.Hour,
		PassbackInterval:  15 * time.Minute,
		StaleAfter:        time.Hour,
		FailureThreshold:  5,
		BatchSize:         50,
		InterCourseDelay:  5 * time.Second,
		RenewalWindow:     24 * time.Hour,
		LogRetention:      90 * 24 * time.Hour,
		PassbackBatchSize: 100,
	}
}

// Syncer runs one full course sync. Implemented by reconcile.Reconciler.
type Syncer interface {
	SyncCourseRoster(ctx context.Context, remoteCourseID, trigger string) (*models.SyncLog, error)
}

// PlatformOps is the subset of the platform client the orchestrator
// consumes.
type PlatformOps interface {
	RegisterPushNotifications(ctx context.Context, accessToken, remoteCourseID, feedType string) (*classroom.Registration, error)
	UpdateGrade(ctx context.Context, accessToken, courseID, courseWorkID, submissionID string, grade float64) error
	ReturnSubmission(ctx context.Context, accessToken, courseID, courseWorkID, submissionID string) error
}

// TokenProvider yields valid access tokens for stored credentials.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// EventSink receives passback notifications. May be nil.
type EventSink interface {
	GradeUpdated(ctx context.Context, courseID, assignmentID, submissionID string)
}

// Orchestrator owns the background loops.
type Orchestrator struct {
	cfg      Config
	store    store.RosterStore
	provider PlatformOps
	tokens   TokenProvider
	syncer   Syncer
	events   EventSink

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// now and sleep are replaced in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New wires an orchestrator.
func New(cfg Config, st store.RosterStore, provider PlatformOps, tokens TokenProvider, syncer Syncer) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		provider: provider,
		tokens:   tokens,
		syncer:   syncer,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// SetEventPublisher wires the domain event sink. Call before Start.
func (o *Orchestrator) SetEventPublisher(events EventSink) {
	o.events = events
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the sync and passback loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.New("orchestrator already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})

	o.wg.Add(2)
	go o.syncLoop(ctx)
	go o.passbackLoop(ctx)

	logging.Info().
		Dur("sync_interval", o.cfg.SyncInterval).
		Dur("passback_interval", o.cfg.PassbackInterval).
		Msg("Sync orchestrator started")
	return nil
}

// Stop halts the loops and waits for in-flight work to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()
	logging.Info().Msg("Sync orchestrator stopped")
}

func (o *Orchestrator) syncLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.SyncInterval)
	defer ticker.Stop()

	// First cycle runs at startup, not one interval later.
	o.RunCycle(ctx)

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunCycle(ctx)
		}
	}
}

func (o *Orchestrator) passbackLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.PassbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RunPassback(ctx)
		}
	}
}

// RunCycle executes one full orchestration cycle: registration renewal,
// due-course syncs, grade passback, and log retention. Each stage
// failing is logged and the cycle continues; one broken course must not
// block the rest.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	started := o.now()
	logging.Info().Msg("Sync cycle starting")

	o.renewRegistrations(ctx)
	o.syncDueCourses(ctx)
	o.RunPassback(ctx)
	o.purgeSyncLogs(ctx)
	o.updateQuarantineGauge(ctx)

	logging.Info().Dur("elapsed", o.now().Sub(started)).Msg("Sync cycle finished")
}

// renewRegistrations supersedes registrations expiring within the
// renewal window: register anew first, deactivate the old row after.
// Registrations whose credential is gone are deactivated outright.
func (o *Orchestrator) renewRegistrations(ctx context.Context) {
	expiring, err := o.store.ListExpiringRegistrations(ctx, o.now().Add(o.cfg.RenewalWindow))
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list expiring registrations")
		return
	}

	for _, reg := range expiring {
		if err := o.renewRegistration(ctx, reg); err != nil {
			logging.Warn().Err(err).
				Str("registration_id", reg.RegistrationID).
				Str("course_id", reg.RemoteCourseID).
				Msg("Registration renewal failed")
		}
	}
}

func (o *Orchestrator) renewRegistration(ctx context.Context, reg models.WebhookRegistration) error {
	state, err := o.store.GetSyncState(ctx, reg.RemoteCourseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Course no longer tracked; let the registration lapse.
			return o.store.DeactivateRegistration(ctx, reg.RegistrationID)
		}
		return fmt.Errorf("load sync state: %w", err)
	}

	token, err := o.tokens.GetValidAccessToken(ctx, state.CredentialUserID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotConnected) {
			logging.Info().
				Str("course_id", reg.RemoteCourseID).
				Msg("Credential gone; deactivating webhook registration")
			return o.store.DeactivateRegistration(ctx, reg.RegistrationID)
		}
		return fmt.Errorf("acquire access token: %w", err)
	}

	renewed, err := o.provider.RegisterPushNotifications(ctx, token, reg.RemoteCourseID, reg.FeedType)
	if err != nil {
		return fmt.Errorf("register push notifications: %w", err)
	}

	if err := o.store.PutRegistration(ctx, &models.WebhookRegistration{
		RegistrationID: renewed.RegistrationID,
		RemoteCourseID: reg.RemoteCourseID,
		FeedType:       reg.FeedType,
		ExpiresAt:      renewed.ExpiresAt,
		Active:         true,
		CreatedAt:      o.now(),
	}); err != nil {
		return fmt.Errorf("store renewed registration: %w", err)
	}
	if err := o.store.DeactivateRegistration(ctx, reg.RegistrationID); err != nil {
		return fmt.Errorf("deactivate superseded registration: %w", err)
	}

	metrics.WebhookRegistrationsRenewed.Inc()
	logging.Debug().
		Str("course_id", reg.RemoteCourseID).
		Str("old", reg.RegistrationID).
		Str("new", renewed.RegistrationID).
		Msg("Webhook registration renewed")
	return nil
}

// syncDueCourses runs the due-course batch sequentially, least recently
// synced first.
func (o *Orchestrator) syncDueCourses(ctx context.Context) {
	due, err := o.store.ListDueCourses(ctx, store.DueCourseQuery{
		Now:              o.now(),
		StaleAfter:       o.cfg.StaleAfter,
		FailureThreshold: o.cfg.FailureThreshold,
		Limit:            o.cfg.BatchSize,
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list due courses")
		return
	}
	if len(due) == 0 {
		logging.Debug().Msg("No courses due for sync")
		return
	}

	logging.Info().Int("courses", len(due)).Msg("Syncing due courses")
	for i, state := range due {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.InterCourseDelay); err != nil {
				return
			}
		}

		_, err := o.syncer.SyncCourseRoster(ctx, state.RemoteCourseID, models.TriggerScheduled)
		if err != nil {
			if errors.Is(err, reconcile.ErrSyncInProgress) {
				continue
			}
			// Failure bookkeeping is the reconciler's; just keep going.
			logging.Warn().Err(err).
				Str("course_id", state.RemoteCourseID).
				Msg("Scheduled sync failed; continuing with remaining courses")
		}
	}
}

// RunPassback pushes pending grades to the remote gradebook, oldest
// completion first. Each grade is marked synced only after both the
// grade write and the return succeed.
func (o *Orchestrator) RunPassback(ctx context.Context) {
	pending, err := o.store.ListPendingGradeSubmissions(ctx, o.cfg.PassbackBatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list pending grade submissions")
		return
	}
	metrics.GradePassbackPending.Set(float64(len(pending)))
	if len(pending) == 0 {
		return
	}

	logging.Info().Int("pending", len(pending)).Msg("Running grade passback")
	for _, sub := range pending {
		if err := o.passBackGrade(ctx, sub); err != nil {
			metrics.GradePassbacks.WithLabelValues("failure").Inc()
			logging.Warn().Err(err).
				Str("submission_id", sub.ID).
				Str("course_id", sub.CourseID).
				Msg("Grade passback failed; will retry next run")
			continue
		}
		metrics.GradePassbacks.WithLabelValues("success").Inc()
	}
}

func (o *Orchestrator) passBackGrade(ctx context.Context, sub models.Submission) error {
	if sub.Grade == nil {
		return errors.New("submission has no grade")
	}

	assignment, err := o.store.GetAssignment(ctx, sub.AssignmentID)
	if err != nil {
		return fmt.Errorf("load assignment: %w", err)
	}

	state, err := o.store.GetSyncState(ctx, sub.CourseID)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	token, err := o.tokens.GetValidAccessToken(ctx, state.CredentialUserID)
	if err != nil {
		return fmt.Errorf("acquire access token: %w", err)
	}

	err = o.provider.UpdateGrade(ctx, token, sub.CourseID, assignment.RemoteCourseWorkID, sub.RemoteSubmissionID, *sub.Grade)
	if err != nil {
		return fmt.Errorf("update grade: %w", err)
	}
	err = o.provider.ReturnSubmission(ctx, token, sub.CourseID, assignment.RemoteCourseWorkID, sub.RemoteSubmissionID)
	if err != nil {
		return fmt.Errorf("return submission: %w", err)
	}

	if err := o.store.MarkGradeSynced(ctx, sub.ID, o.now()); err != nil {
		return fmt.Errorf("mark grade synced: %w", err)
	}
	if o.events != nil {
		o.events.GradeUpdated(ctx, sub.CourseID, sub.AssignmentID, sub.ID)
	}
	return nil
}

func (o *Orchestrator) purgeSyncLogs(ctx context.Context) {
	if o.cfg.LogRetention <= 0 {
		return
	}
	if _, err := o.store.PurgeSyncLogs(ctx, o.now().Add(-o.cfg.LogRetention)); err != nil {
		logging.Error().Err(err).Msg("Failed to purge old sync logs")
	}
}

func (o *Orchestrator) updateQuarantineGauge(ctx context.Context) {
	states, err := o.store.ListSyncStates(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list sync states for quarantine gauge")
		return
	}
	quarantined := 0
	for _, s := range states {
		if o.cfg.FailureThreshold > 0 && s.ConsecutiveFailures >= o.cfg.FailureThreshold {
			quarantined++
		}
	}
	metrics.CoursesQuarantined.Set(float64(quarantined))
}

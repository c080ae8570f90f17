// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/classward/classward/internal/models"
	"github.com/classward/classward/internal/reconcile"
	"github.com/classward/classward/internal/store"
	"github.com/classward/classward/internal/webhook"
)

const (
	testAdminToken    = "test-admin-token"
	testWebhookSecret = "test-webhook-secret"
	testStateSecret   = "test-state-secret"
)

// mockSyncer implements SyncService with overridable behavior.
type mockSyncer struct {
	syncFunc  func(ctx context.Context, courseID, trigger string) (*models.SyncLog, error)
	resetFunc func(ctx context.Context, courseID string) error
}

func (m *mockSyncer) SyncCourseRoster(ctx context.Context, courseID, trigger string) (*models.SyncLog, error) {
	if m.syncFunc != nil {
		return m.syncFunc(ctx, courseID, trigger)
	}
	return &models.SyncLog{CourseID: courseID, TriggeredBy: trigger, Success: true}, nil
}

func (m *mockSyncer) ResetSyncState(ctx context.Context, courseID string) error {
	if m.resetFunc != nil {
		return m.resetFunc(ctx, courseID)
	}
	return nil
}

// mockProcessor implements NotificationProcessor and records what it saw.
type mockProcessor struct {
	processFunc func(ctx context.Context, n *webhook.Notification) error
	seen        []*webhook.Notification
}

func (m *mockProcessor) Process(ctx context.Context, n *webhook.Notification) error {
	m.seen = append(m.seen, n)
	if m.processFunc != nil {
		return m.processFunc(ctx, n)
	}
	return nil
}

// mockCredentials implements CredentialService with overridable behavior.
type mockCredentials struct {
	connectFunc   func(ctx context.Context, userID, tenantID, code string) (*models.Credential, error)
	connectedFunc func(ctx context.Context, userID string) (bool, error)
	revokeFunc    func(ctx context.Context, userID string) error
}

func (m *mockCredentials) Connect(ctx context.Context, userID, tenantID, code string) (*models.Credential, error) {
	if m.connectFunc != nil {
		return m.connectFunc(ctx, userID, tenantID, code)
	}
	return &models.Credential{UserID: userID, TenantID: tenantID, RemoteEmail: "teacher@school.edu"}, nil
}

func (m *mockCredentials) Connected(ctx context.Context, userID string) (bool, error) {
	if m.connectedFunc != nil {
		return m.connectedFunc(ctx, userID)
	}
	return false, nil
}

func (m *mockCredentials) RevokeAccess(ctx context.Context, userID string) error {
	if m.revokeFunc != nil {
		return m.revokeFunc(ctx, userID)
	}
	return nil
}

// testServer bundles a Server with its mocks for assertions.
type testServer struct {
	server      *Server
	store       *store.MemoryStore
	syncer      *mockSyncer
	processor   *mockProcessor
	credentials *mockCredentials
	handler     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.NewMemoryStore()
	syncer := &mockSyncer{}
	processor := &mockProcessor{}
	creds := &mockCredentials{}

	srv := NewServer(ServerConfig{
		WebhookSecret:     testWebhookSecret,
		StateSecret:       testStateSecret,
		AdminToken:        testAdminToken,
		FailureThreshold:  5,
		RateLimitDisabled: true,
	}, st, syncer, processor, creds,
		func(state string) string { return "https://platform.example.com/oauth/authorize?state=" + state },
		nil)

	return &testServer{
		server:      srv,
		store:       st,
		syncer:      syncer,
		processor:   processor,
		credentials: creds,
		handler:     srv.Routes(),
	}
}

// doRequest runs one request through the full route tree.
func (ts *testServer) doRequest(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func adminRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	return req
}

// decodeEnvelope unmarshals the standard response wrapper.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response envelope: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func seedSyncState(t *testing.T, st *store.MemoryStore, courseID string, mutate func(*models.SyncState)) {
	t.Helper()
	state := &models.SyncState{
		RemoteCourseID:   courseID,
		LocalCourseID:    "local-" + courseID,
		CredentialUserID: "u1",
		AutoSyncEnabled:  true,
	}
	if mutate != nil {
		mutate(state)
	}
	if err := st.PutSyncState(context.Background(), state); err != nil {
		t.Fatalf("seed sync state: %v", err)
	}
}

func TestTriggerSyncSuccess(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	var gotTrigger string
	ts.syncer.syncFunc = func(ctx context.Context, courseID, trigger string) (*models.SyncLog, error) {
		gotTrigger = trigger
		return &models.SyncLog{CourseID: courseID, TriggeredBy: trigger, Success: true}, nil
	}

	rec := ts.doRequest(adminRequest(http.MethodPost, "/api/v1/courses/c1/sync"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if gotTrigger != models.TriggerManual {
		t.Errorf("trigger = %q, want %q", gotTrigger, models.TriggerManual)
	}
	resp := decodeEnvelope(t, rec)
	if !resp.Success {
		t.Error("envelope success = false, want true")
	}
}

func TestTriggerSyncConflict(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.syncer.syncFunc = func(context.Context, string, string) (*models.SyncLog, error) {
		return nil, reconcile.ErrSyncInProgress
	}

	rec := ts.doRequest(adminRequest(http.MethodPost, "/api/v1/courses/c1/sync"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeConflict {
		t.Errorf("error = %+v, want code %s", resp.Error, ErrCodeConflict)
	}
}

func TestTriggerSyncUnknownCourse(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.syncer.syncFunc = func(context.Context, string, string) (*models.SyncLog, error) {
		return nil, fmt.Errorf("load sync state: %w", store.ErrNotFound)
	}

	rec := ts.doRequest(adminRequest(http.MethodPost, "/api/v1/courses/ghost/sync"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTriggerSyncRequiresAdminToken(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	called := false
	ts.syncer.syncFunc = func(context.Context, string, string) (*models.SyncLog, error) {
		called = true
		return nil, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/courses/c1/sync", nil)
	rec := ts.doRequest(req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Error("syncer was called despite missing admin token")
	}
}

func TestResetSyncReturnsUpdatedState(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	seedSyncState(t, ts.store, "c1", func(s *models.SyncState) {
		s.ConsecutiveFailures = 7
	})
	ts.syncer.resetFunc = func(ctx context.Context, courseID string) error {
		return ts.store.UpdateSyncState(ctx, courseID, models.SyncStatePatch{
			ConsecutiveFailures: models.Set(0),
		})
	}

	rec := ts.doRequest(adminRequest(http.MethodPost, "/api/v1/courses/c1/reset"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	state, err := ts.store.GetSyncState(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if state.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", state.ConsecutiveFailures)
	}
}

func TestCourseState(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	seedSyncState(t, ts.store, "c1", nil)

	rec := ts.doRequest(adminRequest(http.MethodGet, "/api/v1/courses/c1/state"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = ts.doRequest(adminRequest(http.MethodGet, "/api/v1/courses/ghost/state"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown course status = %d, want 404", rec.Code)
	}
}

func TestSyncLogsRequiresCourseParam(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.doRequest(adminRequest(http.MethodGet, "/api/v1/sync/logs"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSyncLogsListsCourseHistory(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := ts.store.AppendSyncLog(ctx, &models.SyncLog{
			CourseID:    "c1",
			TriggeredBy: models.TriggerScheduled,
			Success:     true,
			StartedAt:   time.Now().Add(time.Duration(-i) * time.Hour),
		}); err != nil {
			t.Fatalf("AppendSyncLog: %v", err)
		}
	}

	rec := ts.doRequest(adminRequest(http.MethodGet, "/api/v1/sync/logs?course=c1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	if resp.Meta == nil || resp.Meta.Pagination == nil || resp.Meta.Pagination.Count != 3 {
		t.Errorf("pagination = %+v, want count 3", resp.Meta)
	}
}

func TestSyncLogsRejectsBadLimit(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.doRequest(adminRequest(http.MethodGet, "/api/v1/sync/logs?course=c1&limit=zero"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSyncStatusAggregates(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	seedSyncState(t, ts.store, "c1", nil)
	seedSyncState(t, ts.store, "c2", func(s *models.SyncState) {
		s.SyncInProgress = true
	})
	seedSyncState(t, ts.store, "c3", func(s *models.SyncState) {
		s.AutoSyncEnabled = false
		s.ConsecutiveFailures = 6
	})

	rec := ts.doRequest(adminRequest(http.MethodGet, "/api/v1/sync/status"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("re-marshal data: %v", err)
	}
	var status syncStatusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}

	if status.Courses != 3 {
		t.Errorf("Courses = %d, want 3", status.Courses)
	}
	if status.AutoSync != 2 {
		t.Errorf("AutoSync = %d, want 2", status.AutoSync)
	}
	if status.InProgress != 1 {
		t.Errorf("InProgress = %d, want 1", status.InProgress)
	}
	if status.Quarantined != 1 {
		t.Errorf("Quarantined = %d, want 1", status.Quarantined)
	}
}

func TestListCourseStates(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	seedSyncState(t, ts.store, "c1", nil)
	seedSyncState(t, ts.store, "c2", nil)

	rec := ts.doRequest(adminRequest(http.MethodGet, "/api/v1/courses/"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	if resp.Meta == nil || resp.Meta.Pagination == nil || resp.Meta.Pagination.Count != 2 {
		t.Errorf("pagination = %+v, want count 2", resp.Meta)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.doRequest(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyzUsesCheck(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.server.ready = func(context.Context) error { return fmt.Errorf("store offline") }

	rec := ts.doRequest(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockOrchestrator is a test double for the Orchestrator interface.
type mockOrchestrator struct {
	startErr   error
	startCount atomic.Int32
	stopCount  atomic.Int32
}

func (m *mockOrchestrator) Start(ctx context.Context) error {
	m.startCount.Add(1)
	return m.startErr
}

func (m *mockOrchestrator) Stop() {
	m.stopCount.Add(1)
}

func TestOrchestratorServiceLifecycle(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{}
	svc := NewOrchestratorService(orch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Give Serve time to start the orchestrator, then shut down.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if orch.startCount.Load() != 1 {
		t.Errorf("Start called %d times, want 1", orch.startCount.Load())
	}
	if orch.stopCount.Load() != 1 {
		t.Errorf("Stop called %d times, want 1", orch.stopCount.Load())
	}
}

func TestOrchestratorServiceStartFailure(t *testing.T) {
	t.Parallel()

	orch := &mockOrchestrator{startErr: errors.New("already started")}
	svc := NewOrchestratorService(orch)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("Serve = nil, want start error")
	}
	if orch.stopCount.Load() != 0 {
		t.Error("Stop was called after a failed start")
	}
}

func TestOrchestratorServiceString(t *testing.T) {
	t.Parallel()

	if got := NewOrchestratorService(&mockOrchestrator{}).String(); got != "sync-orchestrator" {
		t.Errorf("String() = %q, want sync-orchestrator", got)
	}
}

// mockGateway is a test double for the Gateway interface.
type mockGateway struct {
	startErr   error
	startCount atomic.Int32
	stopCount  atomic.Int32
}

func (m *mockGateway) Start() error {
	m.startCount.Add(1)
	return m.startErr
}

func (m *mockGateway) Stop() {
	m.stopCount.Add(1)
}

func TestGatewayServiceLifecycle(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{}
	svc := NewGatewayService(gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if gw.startCount.Load() != 1 || gw.stopCount.Load() != 1 {
		t.Errorf("start/stop = %d/%d, want 1/1", gw.startCount.Load(), gw.stopCount.Load())
	}
}

func TestGatewayServiceStartFailure(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{startErr: errors.New("workers already running")}
	svc := NewGatewayService(gw)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("Serve = nil, want start error")
	}
}

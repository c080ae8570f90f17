// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package services

import (
	"context"
	"fmt"
)

// Orchestrator matches orchestrator.Orchestrator's lifecycle methods.
type Orchestrator interface {
	Start(ctx context.Context) error
	Stop()
}

// OrchestratorService wraps the sync orchestrator as a supervised
// service. The orchestrator runs its own loops; this wrapper translates
// its Start/Stop lifecycle into suture's blocking Serve pattern.
type OrchestratorService struct {
	orch Orchestrator
	name string
}

// NewOrchestratorService creates the wrapper.
func NewOrchestratorService(orch Orchestrator) *OrchestratorService {
	return &OrchestratorService{
		orch: orch,
		name: "sync-orchestrator",
	}
}

// Serve implements suture.Service. Starts the orchestrator, blocks
// until the context is canceled, then stops it.
func (s *OrchestratorService) Serve(ctx context.Context) error {
	if err := s.orch.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator start: %w", err)
	}

	<-ctx.Done()
	s.orch.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *OrchestratorService) String() string {
	return s.name
}

// Gateway matches classroom.Gateway's lifecycle methods.
type Gateway interface {
	Start() error
	Stop()
}

// GatewayService wraps the outbound request gateway as a supervised
// service.
type GatewayService struct {
	gateway Gateway
	name    string
}

// NewGatewayService creates the wrapper.
func NewGatewayService(gateway Gateway) *GatewayService {
	return &GatewayService{
		gateway: gateway,
		name:    "request-gateway",
	}
}

// Serve implements suture.Service.
func (s *GatewayService) Serve(ctx context.Context) error {
	if err := s.gateway.Start(); err != nil {
		return fmt.Errorf("gateway start: %w", err)
	}

	<-ctx.Done()
	s.gateway.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *GatewayService) String() string {
	return s.name
}

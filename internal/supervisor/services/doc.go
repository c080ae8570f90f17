// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

/*
Package services provides suture.Service wrappers for Classward's
long-running components.

Each wrapper translates a component's native lifecycle into suture's
blocking Serve(ctx) pattern:

  - HTTPServerService: wraps *http.Server, graceful Shutdown on cancel
  - OrchestratorService: wraps the sync orchestrator's Start/Stop
  - GatewayService: wraps the outbound request gateway's Start/Stop

Wrappers hold interfaces, not concrete types, so tests can substitute
doubles without network or store dependencies.
*/
package services

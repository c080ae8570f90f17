// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

/*
Package supervisor provides process supervision for Classward using suture v4.

This package implements a hierarchical supervisor tree that manages the
lifecycle of all long-running services in the application. It provides
Erlang/OTP-style supervision with automatic restart, failure isolation,
and graceful shutdown.

# Overview

The supervisor tree organizes services into three layers for failure
isolation:

	RootSupervisor ("classward")
	├── DataSupervisor ("data-layer")
	│   └── store maintenance services
	├── SyncSupervisor ("sync-layer")
	│   ├── GatewayService (outbound request gateway)
	│   └── OrchestratorService (sync cycles, passback, renewals)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

This hierarchy ensures that:
  - A crash in the orchestrator doesn't take down the webhook receiver
  - Gateway failures don't impact state inspection endpoints
  - Each layer can restart independently

# Key Features

Automatic Restart:
  - Crashed services are automatically restarted
  - Exponential backoff prevents restart storms
  - Configurable failure thresholds and decay rates

Graceful Shutdown:
  - Context cancellation triggers orderly shutdown
  - Configurable shutdown timeout per service
  - UnstoppedServiceReport for debugging hangs

Structured Logging:
  - Integration with slog for structured events
  - Logs service starts, stops, failures, and restarts
  - Event hooks via the sutureslog adapter

# Usage Example

Basic setup in main.go:

	logger := slog.New(logging.NewSlogHandler())
	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}

	tree.AddSyncService(services.NewGatewayService(gateway))
	tree.AddSyncService(services.NewOrchestratorService(orch))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

# See Also

  - internal/supervisor/services: suture.Service wrappers
  - internal/orchestrator: the supervised sync scheduler
  - internal/api: the supervised HTTP surface
*/
package supervisor

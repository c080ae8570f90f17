// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

/*
Package main is the entry point for the Classward server.

Classward keeps a local mirror of courses, teachers, students, guardians,
coursework, and grades consistent with a Google-Classroom-shaped learning
platform. It syncs rosters on a schedule, applies push notifications as
they arrive, and passes grades back to the platform.

# Application Architecture

The server implements a layered architecture with Suture v4 process
supervision:

	RootSupervisor ("classward")
	├── DataSupervisor ("data-layer")
	│   └── store maintenance services
	├── SyncSupervisor ("sync-layer")
	│   ├── Request Gateway (outbound platform throttling)
	│   └── Orchestrator (sync cycles, passback, webhook renewal)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (webhooks, OAuth, admin API)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Stores: DuckDB roster store + BadgerDB encrypted credential store
 4. Platform Client: rate-limited gateway + classified-error HTTP client
 5. Event Bus: in-process gochannel, or NATS JetStream when enabled
 6. Sync Engine: credential manager, reconciler, webhook processor,
    orchestrator
 7. HTTP Server: Chi router with middleware stack
 8. Supervisor Tree: Suture v4 process supervision

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest
priority wins):

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	# Server
	HTTP_PORT=8431               # HTTP server port
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console

	# Learning platform OAuth client
	PLATFORM_BASE_URL=https://platform.example.com/api
	PLATFORM_CLIENT_ID=<client-id>
	PLATFORM_CLIENT_SECRET=<client-secret>
	PLATFORM_REDIRECT_URI=https://classward.example.com/api/v1/oauth/callback
	PLATFORM_WEBHOOK_SECRET=<shared-secret>

	# Stores
	DUCKDB_PATH=/data/classward.duckdb
	CREDENTIAL_STORE_PATH=/data/credentials
	CREDENTIAL_ENCRYPTION_SECRET=<32+ chars>

	# Admin API
	ADMIN_TOKEN=<bearer-token>

	# Optional NATS event bus
	NATS_ENABLED=false
	NATS_URL=nats://127.0.0.1:4222

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

 1. Stops accepting new HTTP connections
 2. Waits for in-flight requests (10s timeout)
 3. Stops the orchestrator mid-cycle at the next course boundary
 4. Drains the gateway queue and stops dispatch
 5. Closes the event publisher and both stores
 6. Reports any services that failed to stop

# Usage Examples

Development (no admin auth, webhook auth disabled):

	export CREDENTIAL_ENCRYPTION_SECRET=$(openssl rand -base64 32)
	export PLATFORM_BASE_URL=http://localhost:8080/api \
	       PLATFORM_CLIENT_ID=dev PLATFORM_CLIENT_SECRET=dev \
	       PLATFORM_REDIRECT_URI=http://localhost:8431/api/v1/oauth/callback
	go run ./cmd/server

Production:

	export ENVIRONMENT=production
	export ADMIN_TOKEN=$(openssl rand -base64 32)
	export PLATFORM_WEBHOOK_SECRET=<shared-secret>
	./classward

# See Also

  - internal/config: Configuration management
  - internal/supervisor: Process supervision
  - internal/api: HTTP handlers and routing
  - internal/orchestrator: Background sync loops
  - internal/reconcile: Roster diff and apply
*/
package main

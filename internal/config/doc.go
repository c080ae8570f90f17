// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

// Package config provides layered configuration management for Classward.
//
// Configuration is loaded with Koanf v2 from three sources in increasing
// precedence:
//
//  1. Built-in defaults (defaultConfig)
//  2. An optional YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables
//
// # Quick Start
//
//	cfg, err := config.LoadWithKoanf()
//	if err != nil {
//	    log.Fatal("Failed to load config:", err)
//	}
//	// cfg.Platform.ClientID, cfg.Database.Path, etc. are now populated
//
// # Sections
//
//   - Platform: OAuth client and API endpoints for the learning platform
//   - Gateway: Outbound request throttling (shared rate budget)
//   - Orchestrator: Sync cadence, grade passback, registration renewal
//   - Database: DuckDB roster store
//   - Credentials: BadgerDB token store and encryption secret
//   - NATS: Optional event bus
//   - Server / API / Security / Logging: HTTP surface and observability
//
// # Validation
//
// LoadWithKoanf validates the assembled configuration and fails fast on
// missing platform credentials, malformed URLs, out-of-range cadence
// values, or a missing encryption secret. Production mode (ENVIRONMENT=
// production) additionally requires an admin token and webhook secret
// and refuses to run with rate limiting disabled.
//
// # Thread Safety
//
// The returned Config is immutable after load and safe for concurrent
// reads. Hot reload via WatchConfigFile requires caller-side locking.
package config

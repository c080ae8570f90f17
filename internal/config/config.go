// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package config

import (
	"time"
)

// Config holds all application configuration loaded from environment
// variables and config files.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: Override any setting via environment variables
//
// Configuration Categories:
//
//  1. Learning Platform:
//     - Platform: OAuth client and API endpoints for the remote platform
//     - Gateway: Outbound request throttling
//
//  2. Infrastructure:
//     - Database: DuckDB configuration (path, memory)
//     - Credentials: BadgerDB credential store and encryption secret
//     - Orchestrator: Sync cadence, passback, webhook renewal, retention
//     - NATS: Optional event bus (in-process gochannel when disabled)
//
//  3. API & Security:
//     - Server: HTTP server configuration (port, host, timeout)
//     - API: Pagination and response limits
//     - Security: Admin authentication, rate limiting, CORS
//
//  4. Observability:
//     - Logging: Log levels and output formats
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access
// from multiple goroutines.
type Config struct {
	Platform     PlatformConfig     `koanf:"platform"`
	Gateway      GatewayConfig      `koanf:"gateway"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Database     DatabaseConfig     `koanf:"database"`
	Credentials  CredentialsConfig  `koanf:"credentials"`
	NATS         NATSConfig         `koanf:"nats"`
	Server       ServerConfig       `koanf:"server"`
	API          APIConfig          `koanf:"api"`
	Security     SecurityConfig     `koanf:"security"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// PlatformConfig holds the learning platform OAuth client and API
// endpoints. The platform is Google-Classroom-shaped: a REST roster API,
// an OAuth 2.0 authorization-code flow, and push notifications delivered
// to the webhook endpoint.
//
// Environment Variables:
//   - PLATFORM_BASE_URL: Platform API base URL
//   - PLATFORM_AUTH_URL: OAuth authorization endpoint
//   - PLATFORM_TOKEN_URL: OAuth token endpoint
//   - PLATFORM_REVOKE_URL: OAuth revocation endpoint
//   - PLATFORM_CLIENT_ID / PLATFORM_CLIENT_SECRET: OAuth client
//   - PLATFORM_REDIRECT_URI: OAuth callback URL
//   - PLATFORM_SCOPES: Comma-separated OAuth scopes
//   - PLATFORM_WEBHOOK_SECRET: Shared secret for webhook authentication
type PlatformConfig struct {
	BaseURL      string        `koanf:"base_url"`
	AuthURL      string        `koanf:"auth_url"`
	TokenURL     string        `koanf:"token_url"`
	RevokeURL    string        `koanf:"revoke_url"`
	ClientID     string        `koanf:"client_id"`
	ClientSecret string        `koanf:"client_secret"`
	RedirectURI  string        `koanf:"redirect_uri"`
	Scopes       []string      `koanf:"scopes"`
	PageSize     int           `koanf:"page_size"`
	Timeout      time.Duration `koanf:"timeout"`

	// WebhookSecret authenticates incoming push notifications. Required
	// in production; empty disables webhook authentication (development
	// only).
	WebhookSecret string `koanf:"webhook_secret"`
}

// GatewayConfig throttles outbound platform calls. All outbound traffic
// is serialized through one gateway so concurrent syncs, webhook
// fetches, and token refreshes share a single rate budget.
//
// Environment Variables:
//   - GATEWAY_REQUESTS_PER_SECOND: Throttle ceiling (default: 10)
//   - GATEWAY_BURST: Token-bucket burst size (default: 1)
//   - GATEWAY_QUEUE_SIZE: Max callers waiting for dispatch (default: 256)
type GatewayConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
	QueueSize         int     `koanf:"queue_size"`
}

// OrchestratorConfig controls the background sync engine cadence.
//
// Environment Variables:
//   - SYNC_INTERVAL: Full sync cycle period (default: 6h)
//   - SYNC_STALE_AFTER: Minimum last-sync age before a course is due (default: 1h)
//   - SYNC_FAILURE_THRESHOLD: Consecutive failures before quarantine (default: 5)
//   - SYNC_BATCH_SIZE: Max courses synced per cycle (default: 50)
//   - SYNC_INTER_COURSE_DELAY: Delay between sequential course syncs (default: 5s)
//   - PASSBACK_INTERVAL: Grade passback loop period (default: 15m)
//   - PASSBACK_BATCH_SIZE: Max grades pushed per run (default: 100)
//   - WEBHOOK_RENEWAL_WINDOW: Renew registrations expiring within (default: 24h)
//   - SYNC_LOG_RETENTION: Sync log retention period (default: 2160h / 90 days)
type OrchestratorConfig struct {
	SyncInterval      time.Duration `koanf:"sync_interval"`
	PassbackInterval  time.Duration `koanf:"passback_interval"`
	StaleAfter        time.Duration `koanf:"stale_after"`
	FailureThreshold  int           `koanf:"failure_threshold"`
	BatchSize         int           `koanf:"batch_size"`
	InterCourseDelay  time.Duration `koanf:"inter_course_delay"`
	RenewalWindow     time.Duration `koanf:"renewal_window"`
	LogRetention      time.Duration `koanf:"log_retention"`
	PassbackBatchSize int           `koanf:"passback_batch_size"`
}

// DatabaseConfig holds DuckDB configuration for the roster store.
//
// Environment Variables:
//   - DUCKDB_PATH: Database file path (default: /data/classward.duckdb)
//   - DUCKDB_MAX_MEMORY: Memory limit (default: 2GB)
//   - DUCKDB_THREADS: Worker threads, 0 = runtime.NumCPU() (default: 0)
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// CredentialsConfig holds the BadgerDB credential store settings.
// OAuth tokens live in a separate store from roster data and are
// encrypted at rest with a key derived from EncryptionSecret.
//
// Environment Variables:
//   - CREDENTIAL_STORE_PATH: BadgerDB directory (default: /data/credentials)
//   - CREDENTIAL_ENCRYPTION_SECRET: Key material for token encryption (required)
type CredentialsConfig struct {
	StorePath        string `koanf:"store_path"`
	EncryptionSecret string `koanf:"encryption_secret"`
}

// NATSConfig holds optional NATS event bus settings. When disabled,
// roster events flow over an in-process gochannel bus instead.
//
// Environment Variables:
//   - NATS_ENABLED: Enable NATS publishing (default: false)
//   - NATS_URL: NATS server URL (default: nats://127.0.0.1:4222)
//   - NATS_MAX_RECONNECTS: Reconnect attempts, -1 = unlimited (default: -1)
//   - NATS_RECONNECT_WAIT: Delay between reconnects (default: 2s)
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_PORT: Listen port (default: 8431)
//   - HTTP_HOST: Listen address (default: 0.0.0.0)
//   - HTTP_TIMEOUT: Read/write timeout (default: 30s)
//   - ENVIRONMENT: development or production (default: development)
type ServerConfig struct {
	Port        int           `koanf:"port"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// APIConfig holds pagination limits for list endpoints.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// SecurityConfig holds admin API authentication and rate limiting.
//
// Environment Variables:
//   - ADMIN_TOKEN: Bearer token for admin endpoints (required in production)
//   - RATE_LIMIT_REQUESTS / RATE_LIMIT_WINDOW: Per-IP request budget
//   - DISABLE_RATE_LIMIT: Turn off rate limiting (development only)
//   - CORS_ORIGINS: Comma-separated allowed origins
//   - TRUSTED_PROXIES: Comma-separated proxy CIDRs for client IP resolution
type SecurityConfig struct {
	AdminToken        string        `koanf:"admin_token"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
}

// LoggingConfig holds log output settings.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json or console (default: json)
//   - LOG_CALLER: Include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

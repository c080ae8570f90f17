// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package config

import (
	"fmt"
	"strings"
)

// minEncryptionSecretLength is the minimum length of the credential
// encryption secret. The secret is stretched through HKDF, but short
// secrets are guessable regardless of derivation.
const minEncryptionSecretLength = 16

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validatePlatform(); err != nil {
		return err
	}

	if err := c.validateGateway(); err != nil {
		return err
	}

	if err := c.validateOrchestrator(); err != nil {
		return err
	}

	if err := c.validateCredentials(); err != nil {
		return err
	}

	if err := c.validateNATS(); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validatePlatform validates the learning platform OAuth and API settings.
func (c *Config) validatePlatform() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("PLATFORM_BASE_URL is required")
	}
	if err := validateHTTPURL(c.Platform.BaseURL, "PLATFORM_BASE_URL"); err != nil {
		return fmt.Errorf("PLATFORM_BASE_URL is invalid: %w", err)
	}

	for name, value := range map[string]string{
		"PLATFORM_AUTH_URL":   c.Platform.AuthURL,
		"PLATFORM_TOKEN_URL":  c.Platform.TokenURL,
		"PLATFORM_REVOKE_URL": c.Platform.RevokeURL,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		if err := validateEndpointURL(value, name); err != nil {
			return fmt.Errorf("%s is invalid: %w", name, err)
		}
	}

	if c.Platform.ClientID == "" {
		return fmt.Errorf("PLATFORM_CLIENT_ID is required")
	}
	if c.Platform.ClientSecret == "" {
		return fmt.Errorf("PLATFORM_CLIENT_SECRET is required")
	}
	if c.Platform.RedirectURI == "" {
		return fmt.Errorf("PLATFORM_REDIRECT_URI is required")
	}
	if len(c.Platform.Scopes) == 0 {
		return fmt.Errorf("PLATFORM_SCOPES must list at least one scope")
	}

	if c.Platform.PageSize < 1 || c.Platform.PageSize > 1000 {
		return fmt.Errorf("PLATFORM_PAGE_SIZE must be between 1 and 1000")
	}

	if c.isProduction() && c.Platform.WebhookSecret == "" {
		return fmt.Errorf("PLATFORM_WEBHOOK_SECRET is required in production")
	}

	return nil
}

// validateGateway validates outbound throttle settings.
func (c *Config) validateGateway() error {
	if c.Gateway.RequestsPerSecond <= 0 {
		return fmt.Errorf("GATEWAY_REQUESTS_PER_SECOND must be positive")
	}
	if c.Gateway.Burst < 1 {
		return fmt.Errorf("GATEWAY_BURST must be at least 1")
	}
	if c.Gateway.QueueSize < 1 {
		return fmt.Errorf("GATEWAY_QUEUE_SIZE must be at least 1")
	}
	return nil
}

// validateOrchestrator validates sync engine cadence settings.
func (c *Config) validateOrchestrator() error {
	if c.Orchestrator.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	if c.Orchestrator.PassbackInterval <= 0 {
		return fmt.Errorf("PASSBACK_INTERVAL must be positive")
	}
	if c.Orchestrator.StaleAfter <= 0 {
		return fmt.Errorf("SYNC_STALE_AFTER must be positive")
	}
	if c.Orchestrator.FailureThreshold < 1 {
		return fmt.Errorf("SYNC_FAILURE_THRESHOLD must be at least 1")
	}
	if c.Orchestrator.BatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be at least 1")
	}
	if c.Orchestrator.InterCourseDelay < 0 {
		return fmt.Errorf("SYNC_INTER_COURSE_DELAY must not be negative")
	}
	if c.Orchestrator.RenewalWindow <= 0 {
		return fmt.Errorf("WEBHOOK_RENEWAL_WINDOW must be positive")
	}
	if c.Orchestrator.PassbackBatchSize < 1 {
		return fmt.Errorf("PASSBACK_BATCH_SIZE must be at least 1")
	}
	return nil
}

// validateCredentials validates the credential store settings.
func (c *Config) validateCredentials() error {
	if c.Credentials.StorePath == "" {
		return fmt.Errorf("CREDENTIAL_STORE_PATH is required")
	}
	if c.Credentials.EncryptionSecret == "" {
		return fmt.Errorf("CREDENTIAL_ENCRYPTION_SECRET is required")
	}
	if len(c.Credentials.EncryptionSecret) < minEncryptionSecretLength {
		return fmt.Errorf("CREDENTIAL_ENCRYPTION_SECRET must be at least %d characters", minEncryptionSecretLength)
	}
	return nil
}

// validateNATS validates NATS configuration (only if enabled)
func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}

	if c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}
	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	return nil
}

// validateServer validates HTTP server configuration
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	switch strings.ToLower(c.Server.Environment) {
	case "development", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development or production, got: %s", c.Server.Environment)
	}
	return nil
}

// validateSecurity validates admin authentication and rate limiting
func (c *Config) validateSecurity() error {
	if c.isProduction() {
		if c.Security.AdminToken == "" {
			return fmt.Errorf("ADMIN_TOKEN is required in production")
		}
		if len(c.Security.AdminToken) < 20 {
			return fmt.Errorf("ADMIN_TOKEN appears invalid (too short, expected 20+ characters)")
		}
		if c.Security.RateLimitDisabled {
			return fmt.Errorf("DISABLE_RATE_LIMIT must not be set in production")
		}
	}

	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs < 1 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
	}
	return nil
}

// validateLogging validates log level and format
func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, panic, got: %s", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got: %s", c.Logging.Format)
	}
	return nil
}

// isProduction reports whether the server runs in production mode.
func (c *Config) isProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

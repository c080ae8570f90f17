// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package config

import (
	"strings"
	"testing"
)

// validConfig returns a configuration that passes validation, for tests
// to break one field at a time.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Platform.BaseURL = "https://platform.example.com"
	cfg.Platform.AuthURL = "https://platform.example.com/oauth/authorize"
	cfg.Platform.TokenURL = "https://platform.example.com/oauth/token"
	cfg.Platform.RevokeURL = "https://platform.example.com/oauth/revoke"
	cfg.Platform.ClientID = "client-id"
	cfg.Platform.ClientSecret = "client-secret"
	cfg.Platform.RedirectURI = "https://classward.example.com/api/v1/oauth/callback"
	cfg.Credentials.EncryptionSecret = "a-sufficiently-long-secret"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_Platform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing base URL",
			mutate:  func(c *Config) { c.Platform.BaseURL = "" },
			wantErr: "PLATFORM_BASE_URL",
		},
		{
			name:    "base URL with path",
			mutate:  func(c *Config) { c.Platform.BaseURL = "https://platform.example.com/v1" },
			wantErr: "PLATFORM_BASE_URL",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.Platform.BaseURL = "ftp://platform.example.com" },
			wantErr: "PLATFORM_BASE_URL",
		},
		{
			name:    "missing token URL",
			mutate:  func(c *Config) { c.Platform.TokenURL = "" },
			wantErr: "PLATFORM_TOKEN_URL",
		},
		{
			name:    "missing client ID",
			mutate:  func(c *Config) { c.Platform.ClientID = "" },
			wantErr: "PLATFORM_CLIENT_ID",
		},
		{
			name:    "missing client secret",
			mutate:  func(c *Config) { c.Platform.ClientSecret = "" },
			wantErr: "PLATFORM_CLIENT_SECRET",
		},
		{
			name:    "missing redirect URI",
			mutate:  func(c *Config) { c.Platform.RedirectURI = "" },
			wantErr: "PLATFORM_REDIRECT_URI",
		},
		{
			name:    "empty scopes",
			mutate:  func(c *Config) { c.Platform.Scopes = nil },
			wantErr: "PLATFORM_SCOPES",
		},
		{
			name:    "page size out of range",
			mutate:  func(c *Config) { c.Platform.PageSize = 5000 },
			wantErr: "PLATFORM_PAGE_SIZE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Orchestrator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero sync interval",
			mutate:  func(c *Config) { c.Orchestrator.SyncInterval = 0 },
			wantErr: "SYNC_INTERVAL",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.Orchestrator.FailureThreshold = 0 },
			wantErr: "SYNC_FAILURE_THRESHOLD",
		},
		{
			name:    "negative inter-course delay",
			mutate:  func(c *Config) { c.Orchestrator.InterCourseDelay = -1 },
			wantErr: "SYNC_INTER_COURSE_DELAY",
		},
		{
			name:    "zero passback batch",
			mutate:  func(c *Config) { c.Orchestrator.PassbackBatchSize = 0 },
			wantErr: "PASSBACK_BATCH_SIZE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Credentials(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Credentials.EncryptionSecret = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "CREDENTIAL_ENCRYPTION_SECRET") {
		t.Errorf("Validate() = %v, want missing secret error", err)
	}

	cfg = validConfig()
	cfg.Credentials.EncryptionSecret = "too-short"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "at least 16") {
		t.Errorf("Validate() = %v, want short secret error", err)
	}
}

func TestValidate_NATS(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.NATS.Enabled = true
	cfg.NATS.URL = "http://localhost:4222"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "NATS_URL") {
		t.Errorf("Validate() = %v, want NATS URL scheme error", err)
	}

	cfg.NATS.URL = "nats://localhost:4222"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil with valid NATS URL", err)
	}

	// Disabled NATS skips URL validation entirely.
	cfg.NATS.Enabled = false
	cfg.NATS.URL = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil with NATS disabled", err)
	}
}

func TestValidate_Production(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		cfg := validConfig()
		cfg.Server.Environment = "production"
		cfg.Security.AdminToken = "an-admin-token-of-sufficient-length"
		cfg.Platform.WebhookSecret = "webhook-shared-secret"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil for complete production config", err)
	}

	cfg := base()
	cfg.Security.AdminToken = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ADMIN_TOKEN") {
		t.Errorf("Validate() = %v, want admin token error", err)
	}

	cfg = base()
	cfg.Platform.WebhookSecret = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "PLATFORM_WEBHOOK_SECRET") {
		t.Errorf("Validate() = %v, want webhook secret error", err)
	}

	cfg = base()
	cfg.Security.RateLimitDisabled = true
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "DISABLE_RATE_LIMIT") {
		t.Errorf("Validate() = %v, want rate limit error", err)
	}
}

func TestValidate_Server(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "HTTP_PORT") {
		t.Errorf("Validate() = %v, want port error", err)
	}

	cfg = validConfig()
	cfg.Server.Environment = "staging"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ENVIRONMENT") {
		t.Errorf("Validate() = %v, want environment error", err)
	}
}

func TestValidate_Logging(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "LOG_LEVEL") {
		t.Errorf("Validate() = %v, want log level error", err)
	}

	cfg = validConfig()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "LOG_FORMAT") {
		t.Errorf("Validate() = %v, want log format error", err)
	}
}

func TestValidateHTTPURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://platform.example.com", false},
		{"http://localhost:8080", false},
		{"https://platform.example.com/", false},
		{"https://platform.example.com/api", true},
		{"https://platform.example.com?x=1", true},
		{"ftp://platform.example.com", true},
		{"https://", true},
	}

	for _, tt := range tests {
		err := validateHTTPURL(tt.url, "TEST_URL")
		if (err != nil) != tt.wantErr {
			t.Errorf("validateHTTPURL(%q) = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateEndpointURL(t *testing.T) {
	t.Parallel()

	// Endpoint URLs may carry paths, unlike base URLs.
	if err := validateEndpointURL("https://platform.example.com/oauth/token", "TEST_URL"); err != nil {
		t.Errorf("validateEndpointURL with path = %v, want nil", err)
	}
	if err := validateEndpointURL("nats://host", "TEST_URL"); err == nil {
		t.Error("validateEndpointURL accepted non-http scheme")
	}
}

// Classward - Learning Platform Roster Synchronization
// Copyright 2026 Classward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/classward/classward

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/classward/classward/internal/api"
	"github.com/classward/classward/internal/classroom"
	"github.com/classward/classward/internal/config"
	"github.com/classward/classward/internal/credentials"
	"github.com/classward/classward/internal/events"
	"github.com/classward/classward/internal/logging"
	"github.com/classward/classward/internal/orchestrator"
	"github.com/classward/classward/internal/reconcile"
	"github.com/classward/classward/internal/store"
	"github.com/classward/classward/internal/supervisor"
	"github.com/classward/classward/internal/supervisor/services"
	"github.com/classward/classward/internal/webhook"
)

func main() {
	// === CONFIGURATION ===

	cfg, err := config.LoadWithKoanf()
	if err != nil {
		// Logging isn't configured yet; bring it up with defaults so the
		// failure is at least structured.
		logging.Init(logging.Config{Level: "info", Format: "json"})
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("platform", cfg.Platform.BaseURL).
		Msg("Starting Classward")

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
		logging.Warn().Msg("This should only be used for local development!")
	}
	if cfg.Platform.WebhookSecret == "" {
		logging.Warn().Msg("PLATFORM_WEBHOOK_SECRET is empty - webhook authentication disabled")
	}
	if cfg.Security.AdminToken == "" {
		logging.Warn().Msg("ADMIN_TOKEN is empty - admin endpoints are unauthenticated")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === STORES ===

	// Roster data lives in DuckDB; OAuth credentials live in a separate
	// BadgerDB store, encrypted at rest.
	db, err := openDuckDB(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open roster database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing roster database")
		}
	}()

	rosterStore := store.NewDuckDBStore(db)
	if err := rosterStore.CreateTables(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to create roster schema")
	}
	logging.Info().Str("path", cfg.Database.Path).Msg("Roster store initialized")

	cipher, err := credentials.NewTokenCipher(cfg.Credentials.EncryptionSecret)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token cipher")
	}

	badgerOpts := badger.DefaultOptions(cfg.Credentials.StorePath).WithLogger(nil)
	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Credentials.StorePath).Msg("Failed to open credential store")
	}
	defer func() {
		if err := badgerDB.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing credential store")
		}
	}()

	credStore := store.NewBadgerCredentialStore(badgerDB, cipher)
	logging.Info().Str("path", cfg.Credentials.StorePath).Msg("Credential store initialized")

	// === PLATFORM CLIENT ===

	// All outbound platform traffic funnels through one gateway so
	// syncs, webhook fetches, and token refreshes share a rate budget.
	// The gateway is started by the supervisor, not here.
	gateway := classroom.NewGateway(classroom.GatewayConfig{
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		QueueSize:         cfg.Gateway.QueueSize,
	})

	client := classroom.NewClient(classroom.ClientConfig{
		BaseURL:      cfg.Platform.BaseURL,
		AuthURL:      cfg.Platform.AuthURL,
		TokenURL:     cfg.Platform.TokenURL,
		RevokeURL:    cfg.Platform.RevokeURL,
		ClientID:     cfg.Platform.ClientID,
		ClientSecret: cfg.Platform.ClientSecret,
		RedirectURI:  cfg.Platform.RedirectURI,
		Scopes:       cfg.Platform.Scopes,
		PageSize:     cfg.Platform.PageSize,
		Timeout:      cfg.Platform.Timeout,
	}, gateway)

	// === EVENT BUS ===

	var publisher *events.Publisher
	if cfg.NATS.Enabled {
		publisher, err = events.NewNATSPublisher(events.NATSConfig{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, nil)
		if err != nil {
			logging.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect event publisher")
		}
		logging.Info().Str("url", cfg.NATS.URL).Msg("NATS event publisher connected")
	} else {
		publisher, _ = events.NewGoChannelPublisher(nil)
		logging.Info().Msg("In-process event bus initialized (NATS disabled)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event publisher")
		}
	}()

	// === SYNC ENGINE ===

	credManager := credentials.NewManager(credStore, client, publisher)
	reconciler := reconcile.NewReconciler(rosterStore, client, credManager, publisher)
	processor := webhook.NewProcessor(rosterStore, client, credManager, publisher)

	orch := orchestrator.New(orchestrator.Config{
		SyncInterval:      cfg.Orchestrator.SyncInterval,
		PassbackInterval:  cfg.Orchestrator.PassbackInterval,
		StaleAfter:        cfg.Orchestrator.StaleAfter,
		FailureThreshold:  cfg.Orchestrator.FailureThreshold,
		BatchSize:         cfg.Orchestrator.BatchSize,
		InterCourseDelay:  cfg.Orchestrator.InterCourseDelay,
		RenewalWindow:     cfg.Orchestrator.RenewalWindow,
		LogRetention:      cfg.Orchestrator.LogRetention,
		PassbackBatchSize: cfg.Orchestrator.PassbackBatchSize,
	}, rosterStore, client, credManager, reconciler)
	orch.SetEventPublisher(publisher)

	// === HTTP SURFACE ===

	server := api.NewServer(api.ServerConfig{
		WebhookSecret:     cfg.Platform.WebhookSecret,
		StateSecret:       cfg.Platform.ClientSecret,
		AdminToken:        cfg.Security.AdminToken,
		FailureThreshold:  cfg.Orchestrator.FailureThreshold,
		CORSOrigins:       cfg.Security.CORSOrigins,
		RateLimitRequests: cfg.Security.RateLimitReqs,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
		RateLimitDisabled: cfg.Security.RateLimitDisabled,
	}, rosterStore, reconciler, processor, credManager,
		client.AuthorizeURL,
		func(ctx context.Context) error { return db.PingContext(ctx) },
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// === SUPERVISOR TREE ===

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddSyncService(services.NewGatewayService(gateway))
	tree.AddSyncService(services.NewOrchestratorService(orch))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))
	logging.Info().Str("addr", httpServer.Addr).Msg("Services added to supervisor tree")

	// === RUN ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Classward stopped gracefully")
}

// openDuckDB opens the roster database with tuning options applied via
// the connection string. Extension auto-install is disabled so startup
// can't hang on a restricted network.
func openDuckDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, cfg.MaxMemory)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	return db, nil
}

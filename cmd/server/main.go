// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

// Command server runs the RelayDesk backend: webhook intake, the reply
// worker pool, the realtime hub, and the operator API, all under one
// supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydesk/relaydesk/internal/ai"
	"github.com/relaydesk/relaydesk/internal/api"
	"github.com/relaydesk/relaydesk/internal/auth"
	"github.com/relaydesk/relaydesk/internal/channel"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/queue"
	"github.com/relaydesk/relaydesk/internal/ratelimit"
	"github.com/relaydesk/relaydesk/internal/realtime"
	"github.com/relaydesk/relaydesk/internal/store"
	"github.com/relaydesk/relaydesk/internal/supervisor"
	"github.com/relaydesk/relaydesk/internal/supervisor/services"
	"github.com/relaydesk/relaydesk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Info().
		Str("nats_url", cfg.NATS.URL).
		Str("subject", cfg.NATS.Subject).
		Bool("ai_enabled", cfg.AI.Enabled).
		Msg("Starting RelayDesk")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	defer bootCancel()

	db, err := store.Open(bootCtx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing redis")
		}
	}()
	if err := rdb.Ping(bootCtx).Err(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to redis")
	}

	var limiter auth.TenantLimiter
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Per-tenant rate limiting disabled")
	} else {
		limiter = ratelimit.New(rdb, cfg.Security.RateLimitPoints, cfg.Security.RateLimitWindow)
	}

	jwtManager, err := auth.NewJWTManager(cfg.Security.JWTSecret, 24*time.Hour)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize credential verification")
	}
	gate := auth.NewGate(jwtManager, limiter)

	// The stream must exist before any publisher or durable consumer binds
	// to it; a broker we cannot provision is a boot failure, not a retry.
	streamManager, err := queue.NewStreamManager(cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer streamManager.Close()
	if err := streamManager.EnsureStream(bootCtx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision job stream")
	}
	logging.Info().Str("stream", cfg.NATS.Stream).Msg("Job stream ready")

	queueLogger := queue.NewLoggerAdapter()
	publisher, err := queue.NewPublisher(cfg.NATS, queueLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create queue publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}()

	subscriber, err := queue.NewSubscriber(cfg.NATS, cfg.Worker.Concurrency, queueLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create queue subscriber")
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing subscriber")
		}
	}()

	var replier worker.Replier
	if cfg.AI.Enabled {
		replier = ai.NewClient(cfg.AI)
		logging.Info().Str("model", cfg.AI.Model).Msg("Generative replies enabled")
	} else {
		logging.Info().Msg("Generative replies disabled, using deterministic fallback")
	}

	sender := channel.NewClient(cfg.Channel)
	hub := realtime.NewHub(cfg.Realtime.HeartbeatInterval)
	pool := worker.NewPool(cfg.NATS, subscriber, replier, sender, db, hub, publisher)

	handler := api.NewHandler(cfg, db, publisher, sender, hub, gate,
		api.ReadinessCheck{Name: "database", Check: db.Ping},
		api.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
		api.ReadinessCheck{Name: "queue", Check: func(ctx context.Context) error {
			if !streamManager.Healthy(ctx) {
				return fmt.Errorf("job stream unreachable")
			}
			return nil
		}},
	)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(services.NewHubService(hub))
	tree.AddPipelineService(services.NewWorkerService(pool))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("RelayDesk stopped gracefully")
}

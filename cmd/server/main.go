// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Command server runs the Concord real-time gateway: the WebSocket entry
// point, the connection hub, and the HTTP surface, supervised as one tree.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/concord-chat/concord/internal/api"
	"github.com/concord-chat/concord/internal/auth"
	"github.com/concord-chat/concord/internal/config"
	"github.com/concord-chat/concord/internal/hub"
	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/metrics"
	"github.com/concord-chat/concord/internal/natsbridge"
	"github.com/concord-chat/concord/internal/realtime"
	"github.com/concord-chat/concord/internal/session"
	"github.com/concord-chat/concord/internal/store"
	"github.com/concord-chat/concord/internal/supervisor"
	"github.com/concord-chat/concord/internal/supervisor/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "concord: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("environment", cfg.Server.Environment).
		Msg("starting concord gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage. The breaker keeps SEND_MESSAGE failing fast when the
	// database goes away instead of stalling every session.
	db, err := store.Open(cfg.Database.Path, cfg.Database.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("closing store")
		}
	}()

	var messageStore realtime.MessageStore = db
	if cfg.Database.BreakerEnabled {
		messageStore = store.NewBreakerStore(db, store.BreakerConfig{
			MaxFailures: cfg.Database.BreakerMaxFailures,
			OpenTimeout: cfg.Database.BreakerOpenTimeout,
		})
	}

	// Authentication.
	tokens, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.SessionTimeout)
	if err != nil {
		return fmt.Errorf("initializing token manager: %w", err)
	}
	verifier := auth.NewVerifier(tokens, db)

	// Real-time core.
	collector := metrics.NewCollector()
	gateway := hub.New(cfg.Gateway.DeliveryBuffer, collector)
	typing := realtime.NewTypingCache(cfg.Gateway.TypingTTL)
	orch := realtime.NewOrchestrator(gateway, messageStore, db, typing, collector, cfg.Gateway.MaxContentLength)

	// HTTP surface.
	handler := api.NewHandler(gateway, orch, verifier, collector, db, session.Config{
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		MaxFrameBytes:     cfg.Gateway.MaxFrameBytes,
		EventsPerSecond:   cfg.Gateway.EventsPerSecond,
		EventBurst:        cfg.Gateway.EventBurst,
	}, cfg.Security.AllowedOrigins)
	router := api.NewRouter(handler, cfg.Security)
	httpServer := api.NewServer(cfg.Server.Addr(), router, cfg.Server.Timeout)

	// Supervision.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddGatewayService(services.NewHubService(gateway))
	tree.AddGatewayService(realtime.NewSweeper(typing, cfg.Gateway.TypingSweepInterval))
	if cfg.NATS.Enabled {
		tree.AddGatewayService(natsbridge.New(natsbridge.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ClientName:    cfg.NATS.ClientName,
		}, gateway))
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, supervisor.DefaultTreeConfig().ShutdownTimeout))

	err = tree.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range report {
			logging.Warn().Str("service", fmt.Sprint(svc.Service)).Msg("service did not stop in time")
		}
	}

	logging.Info().Msg("concord gateway stopped")
	return nil
}

// Package main is the entry point for the courier ingress API.
//
// It loads the configuration, connects to Redis and RabbitMQ, declares the
// queue topology, and serves the notification endpoints through the core
// HTTP chassis (middleware, routing, health and metrics) until SIGINT or
// SIGTERM. Losing the broker for good is fatal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"courier/internal/api/handlers"
	"courier/internal/app"
	"courier/internal/config"
	"courier/internal/core"
	"courier/internal/notifications/ingress"
	"courier/internal/queue"
	"courier/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("courier API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer st.Close()

	cm, err := app.ConnectBroker(ctx, cfg.RabbitMQ, logger)
	if err != nil {
		return err
	}
	defer cm.Close()

	publisher := queue.NewPublisher(cm, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.PublishTimeout, logger)
	defer publisher.Close()

	reg := app.NewRegistry()
	srv, err := buildServer(cfg, logger, reg, st, publisher,
		core.NewProbe("rabbitmq", cm.Check),
		core.NewProbe("redis", st.Ping),
	)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, ":"+cfg.Server.Port, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		select {
		case <-cm.Failed():
			return fmt.Errorf("broker connection lost: %w", cm.Err())
		case <-gctx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// buildServer wires the ingress service and handlers into the HTTP chassis.
func buildServer(
	cfg *config.Config,
	logger *slog.Logger,
	reg *prometheus.Registry,
	st *store.RedisStore,
	publisher ingress.Publisher,
	probes ...core.HealthProbe,
) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}

	srv.Metrics = core.NewPrometheusMetrics(reg)
	srv.Gatherer = reg
	srv.RateLimitStore = st
	srv.HealthProbes = probes
	if cfg.Auth.Enabled {
		srv.Authenticator = core.NewJWTAuthenticator(cfg.Auth.JWTSecret)
	}

	svc := ingress.NewService(st, publisher, logger.With("component", "ingress"))
	notifications := handlers.NewNotificationHandler(svc, srv.Validator, logger)
	srv.RouteRegistrars = append(srv.RouteRegistrars, notifications.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

// Package main is the entry point for the push delivery worker.
//
// The worker consumes push.queue. Envelopes are resolved to a device token
// through the user service and rendered from their template; legacy direct
// payloads carrying a token are sent as-is. Sends go through the push
// gateway under the retry and breaker policy, and failures end up on the
// failed queue.
//
// Health and Prometheus metrics are served on PORT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"courier/internal/app"
	"courier/internal/notifications/push"
	"courier/internal/notifications/worker"
	"courier/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("courier push worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.RunWorker(ctx, cfg, logger, app.WorkerSpec{
		Name:       "push-worker",
		Channel:    types.NotificationTypePush,
		NewHandler: newPushHandler,
	})
}

func newPushHandler(_ context.Context, deps app.ChannelDeps) (worker.ChannelHandler, error) {
	provider := app.NewPushProvider(deps.Config, deps.HTTPClient, deps.Logger)
	return push.NewChannel(
		provider,
		deps.Collaborators.Users,
		deps.Collaborators.Templates,
		types.NewSlogLogger(deps.Logger).With("channel", "push"),
	), nil
}

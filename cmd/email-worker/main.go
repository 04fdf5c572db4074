// Package main is the entry point for the email delivery worker.
//
// The worker consumes email.queue and, for each notification:
//  1. Marks it processing in the status store.
//  2. Resolves the recipient (variables.to, variables.email, then the user
//     service) and fetches the template.
//  3. Renders subject and bodies and sends through the configured provider
//     (SES, SMTP or the logging stub) under the retry and breaker policy.
//  4. Acks on delivery. Exhausted or permanent failures are copied to the
//     failed queue and rejected so the broker dead-letters them.
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
	"courier/internal/notifications/email"
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
	logger.Info("courier email worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"provider", cfg.Email.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.RunWorker(ctx, cfg, logger, app.WorkerSpec{
		Name:       "email-worker",
		Channel:    types.NotificationTypeEmail,
		NewHandler: newEmailHandler,
	})
}

// newEmailHandler builds the email channel from the selected provider.
func newEmailHandler(ctx context.Context, deps app.ChannelDeps) (worker.ChannelHandler, error) {
	provider, err := app.NewEmailProvider(ctx, deps.Config, deps.Logger)
	if err != nil {
		return nil, err
	}

	renderer, err := email.NewRenderer(types.SenderIdentity{
		Name:    deps.Config.Email.FromName,
		Address: deps.Config.Email.FromAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("creating renderer: %w", err)
	}

	return email.NewChannel(email.ChannelConfig{
		Provider:  provider,
		Users:     deps.Collaborators.Users,
		Templates: deps.Collaborators.Templates,
		Renderer:  renderer,
		Logger:    types.NewSlogLogger(deps.Logger).With("channel", "email"),
	}), nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"courier/internal/config"
	"courier/internal/external"
	"courier/internal/types"
)

// Collaborators are the HTTP clients shared by both channel workers.
type Collaborators struct {
	Users     *external.UserServiceClient
	Templates *external.TemplateServiceClient
	// Tracker is nil when STATUS_TRACKER_URL is unset.
	Tracker *external.StatusTrackerClient
}

// NewCollaborators builds one BaseClient per upstream so each gets its own
// breaker and error code.
func NewCollaborators(cfg config.CollaboratorConfig, httpClient *http.Client) Collaborators {
	base := func(name string, code types.ErrorCode) *external.BaseClient {
		return external.NewBaseClient(httpClient, name, external.DefaultRetryPolicy(), cfg.UserAgent, external.WithUpstreamCode(code))
	}

	c := Collaborators{
		Users:     external.NewUserServiceClient(base("user-service", types.ErrCodeUpstreamUserService), cfg.UserServiceURL),
		Templates: external.NewTemplateServiceClient(base("template-service", types.ErrCodeUpstreamTemplateService), cfg.TemplateServiceURL),
	}
	if cfg.StatusTrackerURL != "" {
		c.Tracker = external.NewStatusTrackerClient(base("status-tracker", types.ErrCodeUpstreamUnavailable), cfg.StatusTrackerURL)
	}
	return c
}

// NewEmailProvider selects the provider named by EMAIL_PROVIDER.
func NewEmailProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (external.EmailProvider, error) {
	logger = logger.With("component", "email_provider", "provider", cfg.Email.Provider)

	switch cfg.Email.Provider {
	case "ses":
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return external.NewSESClient(awsCfg, external.SESClientConfig{
			ConfigSetName: cfg.Email.SESConfigSet,
			Logger:        logger,
		}), nil
	case "smtp":
		client, err := external.NewSMTPClient(external.SMTPClientConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			User:     cfg.Email.SMTPUser,
			Password: cfg.Email.SMTPPassword,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating SMTP client: %w", err)
		}
		return client, nil
	case "stub":
		return external.NewStubEmailProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}

// NewPushProvider returns the HTTP push gateway client, or the logging stub
// when PUSH_PROVIDER_URL is unset.
func NewPushProvider(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) external.PushProvider {
	logger = logger.With("component", "push_provider")
	if cfg.Push.ProviderURL == "" {
		logger.Warn("PUSH_PROVIDER_URL not set, push deliveries are logged only")
		return external.NewStubPushProvider(logger)
	}

	base := external.NewProviderBaseClient(httpClient, "push-provider", cfg.Collaborators.UserAgent,
		external.WithUpstreamCode(types.ErrCodeUpstreamPushProvider))
	return external.NewPushClient(base, external.PushClientConfig{
		URL:       cfg.Push.ProviderURL,
		ServerKey: cfg.Push.ServerKey,
		Logger:    logger,
	})
}

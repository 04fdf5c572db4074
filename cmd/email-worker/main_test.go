package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"courier/internal/app"
	"courier/internal/config"
	"courier/internal/types"
)

func testDeps(provider string) app.ChannelDeps {
	cfg := &config.Config{
		Email: config.EmailConfig{
			Provider:    provider,
			FromAddress: "notifications@example.com",
			FromName:    "Notifications",
			SMTPHost:    "localhost",
			SMTPPort:    2525,
		},
		Collaborators: config.CollaboratorConfig{
			UserServiceURL:     "http://users.local",
			TemplateServiceURL: "http://templates.local",
			UserAgent:          "Courier/test",
		},
	}
	return app.ChannelDeps{
		Config:        cfg,
		Collaborators: app.NewCollaborators(cfg.Collaborators, http.DefaultClient),
		HTTPClient:    http.DefaultClient,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestNewEmailHandler(t *testing.T) {
	for _, provider := range []string{"stub", "smtp"} {
		t.Run(provider, func(t *testing.T) {
			h, err := newEmailHandler(context.Background(), testDeps(provider))
			if err != nil {
				t.Fatalf("newEmailHandler: %v", err)
			}
			if h.Type() != types.NotificationTypeEmail {
				t.Errorf("Type() = %q, want email", h.Type())
			}
		})
	}
}

func TestNewEmailHandler_UnknownProvider(t *testing.T) {
	if _, err := newEmailHandler(context.Background(), testDeps("fax")); err == nil {
		t.Error("expected error for unknown provider")
	}
}

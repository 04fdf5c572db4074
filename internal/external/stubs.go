package external

import (
	"context"
	"fmt"
	"log/slog"

	"courier/internal/types"
)

// Stub providers let the workers boot locally without provider credentials.
// They log what would have been sent and report success.

// StubEmailProvider implements EmailProvider. Selected by EMAIL_PROVIDER=stub.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	s.logger.InfoContext(ctx, "stub: email send",
		"to", types.RedactEmail(input.To),
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return fmt.Sprintf("msg_stub_%s", input.ReferenceID), nil
}

// StubPushProvider implements PushProvider. Used when PUSH_PROVIDER_URL is unset.
type StubPushProvider struct {
	logger *slog.Logger
}

// NewStubPushProvider creates a new StubPushProvider.
func NewStubPushProvider(logger *slog.Logger) *StubPushProvider {
	return &StubPushProvider{logger: logger}
}

func (s *StubPushProvider) Send(ctx context.Context, token string, payload types.PushPayload) (string, error) {
	suffix := token
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	s.logger.InfoContext(ctx, "stub: push send",
		"token_suffix", suffix,
		"title", payload.Title,
		"priority", payload.Priority,
	)
	return "push_stub_" + suffix, nil
}

var (
	_ EmailProvider = (*StubEmailProvider)(nil)
	_ PushProvider  = (*StubPushProvider)(nil)
)

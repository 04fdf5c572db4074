package external

import (
	"context"

	"courier/internal/types"
)

// EmailProvider delivers a fully rendered email.
type EmailProvider interface {
	// Send returns the provider's message id for correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// PushProvider delivers a push message to a single device token.
type PushProvider interface {
	Send(ctx context.Context, token string, payload types.PushPayload) (providerMsgID string, err error)
}

// UserService resolves recipients and channel preferences.
type UserService interface {
	GetUser(ctx context.Context, userID string) (*types.UserProfile, error)
}

// TemplateService fetches message templates by code.
type TemplateService interface {
	GetTemplate(ctx context.Context, code string) (*types.Template, error)
}

// StatusTracker receives status transitions.
type StatusTracker interface {
	ForwardStatus(ctx context.Context, update types.StatusUpdate) error
}

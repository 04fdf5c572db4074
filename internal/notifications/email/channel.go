// Package email delivers notification envelopes by email. Templates come from
// the template service, the recipient from the request variables or the user
// service, and the rendered message goes out through an EmailProvider.
package email

import (
	"context"
	"fmt"
	"strings"

	"courier/internal/external"
	"courier/internal/notifications/core"
	"courier/internal/types"
)

// Channel renders and sends a single email notification.
type Channel struct {
	provider  external.EmailProvider
	users     external.UserService
	templates external.TemplateService
	renderer  *Renderer
	logger    types.Logger
}

// ChannelConfig holds the dependencies needed to create a Channel.
type ChannelConfig struct {
	Provider  external.EmailProvider
	Users     external.UserService
	Templates external.TemplateService
	Renderer  *Renderer
	Logger    types.Logger
}

// NewChannel creates a new email Channel.
func NewChannel(cfg ChannelConfig) *Channel {
	return &Channel{
		provider:  cfg.Provider,
		users:     cfg.Users,
		templates: cfg.Templates,
		renderer:  cfg.Renderer,
		logger:    cfg.Logger,
	}
}

// Type returns the channel identifier.
func (c *Channel) Type() types.NotificationType {
	return types.NotificationTypeEmail
}

// Deliver performs one delivery attempt for msg:
//
//  1. Fetch the template
//  2. Resolve the recipient (variables "to", "email", "user_email", then the user profile)
//  3. Render subject and bodies
//  4. Send via the provider
//
// Errors marked permanent (unknown template, no recipient, provider rejection)
// end the retry loop.
func (c *Channel) Deliver(ctx context.Context, msg types.QueueMessage) error {
	if msg.Kind != types.MessageKindEnvelope || msg.Envelope == nil {
		return types.Permanent(types.NewAppError(types.ErrCodeValidationInvalidType,
			fmt.Sprintf("email channel cannot deliver %s payloads", msg.Kind), nil))
	}
	env := msg.Envelope

	tmpl, err := c.templates.GetTemplate(ctx, env.TemplateID)
	if err != nil {
		return fmt.Errorf("fetch template %s: %w", env.TemplateID, err)
	}

	vars := core.FlattenVariables(env.Variables)

	to, err := c.recipient(ctx, env.UserID, vars)
	if err != nil {
		return err
	}

	rendered, err := c.renderer.Render(tmpl, vars)
	if err != nil {
		return types.Permanent(types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render email", err))
	}

	c.logger.Info("sending email",
		"notification_id", env.NotificationID,
		"to", types.RedactEmail(to),
		"template_id", env.TemplateID,
	)

	msgID, err := c.provider.Send(ctx, types.SendInput{
		To:          to,
		From:        c.renderer.Sender(),
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: env.NotificationID,
	})
	if err != nil {
		return err
	}

	c.logger.Info("email accepted by provider",
		"notification_id", env.NotificationID,
		"provider_message_id", msgID,
	)
	return nil
}

var recipientKeys = []string{"to", "email", "user_email"}

func (c *Channel) recipient(ctx context.Context, userID string, vars map[string]string) (string, error) {
	for _, k := range recipientKeys {
		if v := strings.TrimSpace(vars[k]); v != "" {
			return v, nil
		}
	}

	if userID == "" || c.users == nil {
		return "", types.Permanent(types.NewAppError(types.ErrCodeValidationMissingField, "no recipient address", nil))
	}

	user, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve recipient for user %s: %w", userID, err)
	}
	if !user.Preferences.Email {
		return "", types.Permanent(types.NewAppError(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("user %s has email notifications disabled", userID), nil))
	}
	if strings.TrimSpace(user.Email) == "" {
		return "", types.Permanent(types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("user %s has no email address", userID), nil))
	}
	return user.Email, nil
}

// Package push delivers notifications to mobile devices. Envelopes are
// resolved through the user and template services; legacy payloads already
// carry the token and rendered content and go straight to the provider.
package push

import (
	"context"
	"fmt"
	"strings"

	"courier/internal/external"
	"courier/internal/notifications/core"
	"courier/internal/types"
)

// Channel performs push delivery attempts.
type Channel struct {
	provider  external.PushProvider
	users     external.UserService
	templates external.TemplateService
	logger    types.Logger
}

// NewChannel creates a push Channel.
func NewChannel(provider external.PushProvider, users external.UserService, templates external.TemplateService, logger types.Logger) *Channel {
	return &Channel{provider: provider, users: users, templates: templates, logger: logger}
}

// Type returns the channel identifier.
func (c *Channel) Type() types.NotificationType {
	return types.NotificationTypePush
}

// Deliver performs one delivery attempt for msg.
func (c *Channel) Deliver(ctx context.Context, msg types.QueueMessage) error {
	switch msg.Kind {
	case types.MessageKindLegacyPush:
		return c.deliverLegacy(ctx, msg.Legacy)
	case types.MessageKindEnvelope:
		return c.deliverEnvelope(ctx, msg.Envelope)
	}
	return types.Permanent(types.NewAppError(types.ErrCodeValidationInvalidType,
		fmt.Sprintf("push channel cannot deliver %s payloads", msg.Kind), nil))
}

func (c *Channel) deliverEnvelope(ctx context.Context, env *types.NotificationEnvelope) error {
	user, err := c.users.GetUser(ctx, env.UserID)
	if err != nil {
		return fmt.Errorf("fetch user %s: %w", env.UserID, err)
	}
	if !user.Preferences.Push {
		return types.Permanent(types.NewAppError(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("user %s has push notifications disabled", env.UserID), nil))
	}
	token := strings.TrimSpace(user.PushToken)
	if token == "" {
		return types.Permanent(types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("user %s has no push token", env.UserID), nil))
	}

	tmpl, err := c.templates.GetTemplate(ctx, env.TemplateID)
	if err != nil {
		return fmt.Errorf("fetch template %s: %w", env.TemplateID, err)
	}

	vars := core.FlattenVariables(env.Variables)
	data := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		data[k] = v
	}
	data["notification_id"] = env.NotificationID
	data["template_id"] = env.TemplateID

	payload := types.PushPayload{
		Title:       core.RenderTemplate(tmpl.Title, vars, nil),
		Body:        core.RenderTemplate(tmpl.Body, vars, nil),
		Data:        data,
		ImageURL:    core.RenderTemplate(tmpl.ImageURL, vars, nil),
		ClickAction: core.RenderTemplate(tmpl.ClickAction, vars, nil),
		Priority:    env.Priority,
	}
	return c.send(ctx, env.NotificationID, token, payload)
}

func (c *Channel) deliverLegacy(ctx context.Context, m *types.LegacyPushMessage) error {
	if m == nil {
		return types.Permanent(types.NewAppError(types.ErrCodeValidationInvalidType, "empty legacy push payload", nil))
	}
	return c.send(ctx, "", m.DeviceToken, types.PushPayload{
		Title:       m.Title,
		Body:        m.Body,
		Data:        m.Data,
		ImageURL:    m.ImageURL,
		ClickAction: m.ClickAction,
		Priority:    types.PriorityNormal,
	})
}

func (c *Channel) send(ctx context.Context, notificationID, token string, payload types.PushPayload) error {
	msgID, err := c.provider.Send(ctx, token, payload)
	if err != nil {
		return err
	}
	c.logger.Info("push accepted by provider",
		"notification_id", notificationID,
		"provider_message_id", msgID,
	)
	return nil
}

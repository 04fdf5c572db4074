package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"courier/internal/types"
)

// PushClient sends FCM-style HTTP messages through BaseClient.
type PushClient struct {
	base      *BaseClient
	url       string
	serverKey types.SecretString
	logger    *slog.Logger
}

// PushClientConfig holds the provider endpoint and credentials.
type PushClientConfig struct {
	URL       string
	ServerKey types.SecretString
	Logger    *slog.Logger
}

// NewPushClient creates a PushClient. base should report
// ErrCodeUpstreamPushProvider when the provider is down.
func NewPushClient(base *BaseClient, cfg PushClientConfig) *PushClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PushClient{base: base, url: cfg.URL, serverKey: cfg.ServerKey, logger: logger}
}

type pushNotification struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Image       string `json:"image,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
}

type pushRequest struct {
	To           string            `json:"to"`
	Priority     string            `json:"priority"`
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

// Tokens rejected with these provider errors will never succeed.
var permanentPushErrors = map[string]bool{
	"InvalidRegistration": true,
	"NotRegistered":       true,
	"MismatchSenderId":    true,
	"InvalidPackageName":  true,
	"MessageTooBig":       true,
}

// Send delivers payload to token and returns the provider message id.
func (c *PushClient) Send(ctx context.Context, token string, payload types.PushPayload) (string, error) {
	priority := "normal"
	if payload.Priority == types.PriorityHigh {
		priority = "high"
	}

	body := pushRequest{
		To:       token,
		Priority: priority,
		Notification: pushNotification{
			Title:       payload.Title,
			Body:        payload.Body,
			Image:       payload.ImageURL,
			ClickAction: payload.ClickAction,
		},
		Data: payload.Data,
	}

	var resp pushResponse
	err := c.base.doJSON(ctx, http.MethodPost, c.url, body, &resp, "Authorization", "key="+c.serverKey.Unmask())
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			c.logger.ErrorContext(ctx, "push provider rejected request",
				"status_code", statusErr.StatusCode,
				"response_body", statusErr.Body,
			)
			return "", types.Permanent(types.NewAppError(types.ErrCodeUpstreamPushProvider,
				fmt.Sprintf("push provider rejected request (%d)", statusErr.StatusCode), err))
		}
		return "", err
	}

	if resp.Failure > 0 || resp.Success == 0 {
		reason := "unknown"
		if len(resp.Results) > 0 && resp.Results[0].Error != "" {
			reason = resp.Results[0].Error
		}
		err := types.NewAppError(types.ErrCodeUpstreamPushProvider, "push provider reported failure: "+reason, nil)
		if permanentPushErrors[reason] {
			return "", types.Permanent(err)
		}
		return "", err
	}

	msgID := ""
	if len(resp.Results) > 0 {
		msgID = resp.Results[0].MessageID
	}
	return msgID, nil
}

var _ PushProvider = (*PushClient)(nil)

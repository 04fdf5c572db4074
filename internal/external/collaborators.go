package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"courier/internal/types"
)

// UserServiceClient calls GET {base}/users/{id}.
type UserServiceClient struct {
	base    *BaseClient
	baseURL string
}

// NewUserServiceClient creates a client for the user service at baseURL.
func NewUserServiceClient(base *BaseClient, baseURL string) *UserServiceClient {
	return &UserServiceClient{base: base, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// GetUser fetches the profile for userID. An unknown user is a permanent
// failure.
func (c *UserServiceClient) GetUser(ctx context.Context, userID string) (*types.UserProfile, error) {
	var raw json.RawMessage
	err := c.base.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID)), nil, &raw)
	if err != nil {
		return nil, lookupError(err, types.ErrCodeNotFoundUser, "user "+userID)
	}

	var profile types.UserProfile
	if err := unwrapData(raw, &profile); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUserService, "failed to decode user profile", err)
	}
	if profile.ID == "" {
		profile.ID = userID
	}
	return &profile, nil
}

// TemplateServiceClient calls GET {base}/templates/{code}.
type TemplateServiceClient struct {
	base    *BaseClient
	baseURL string
}

// NewTemplateServiceClient creates a client for the template service at baseURL.
func NewTemplateServiceClient(base *BaseClient, baseURL string) *TemplateServiceClient {
	return &TemplateServiceClient{base: base, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// GetTemplate fetches the template named code. An unknown template is a
// permanent failure.
func (c *TemplateServiceClient) GetTemplate(ctx context.Context, code string) (*types.Template, error) {
	var raw json.RawMessage
	err := c.base.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/templates/%s", c.baseURL, url.PathEscape(code)), nil, &raw)
	if err != nil {
		return nil, lookupError(err, types.ErrCodeNotFoundTemplate, "template "+code)
	}

	var tmpl types.Template
	if err := unwrapData(raw, &tmpl); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamTemplateService, "failed to decode template", err)
	}
	if tmpl.Code == "" {
		tmpl.Code = code
	}
	return &tmpl, nil
}

// StatusTrackerClient posts transitions to {base}/notification/status.
type StatusTrackerClient struct {
	base    *BaseClient
	baseURL string
}

// NewStatusTrackerClient creates a client for the status tracker at baseURL.
func NewStatusTrackerClient(base *BaseClient, baseURL string) *StatusTrackerClient {
	return &StatusTrackerClient{base: base, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (c *StatusTrackerClient) ForwardStatus(ctx context.Context, update types.StatusUpdate) error {
	err := c.base.doJSON(ctx, http.MethodPost, c.baseURL+"/notification/status", update, nil)
	if err != nil {
		return fmt.Errorf("forward status %s: %w", update.NotificationID, err)
	}
	return nil
}

// lookupError turns a 404 into a permanent not-found error and any other
// client error into a permanent upstream error. Transport failures stay
// retryable.
func lookupError(err error, notFound types.ErrorCode, what string) error {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	if statusErr.StatusCode == http.StatusNotFound {
		return types.Permanent(types.NewAppError(notFound, what+" not found", err))
	}
	return types.Permanent(types.NewAppError(types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("%s lookup rejected with %d", what, statusErr.StatusCode), err))
}

var (
	_ UserService     = (*UserServiceClient)(nil)
	_ TemplateService = (*TemplateServiceClient)(nil)
	_ StatusTracker   = (*StatusTrackerClient)(nil)
)

// Package handlers contains the HTTP handlers of the courier API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"courier/internal/core"
	"courier/internal/types"
)

// IdempotencyKeyHeader carries the client-supplied deduplication key.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// NotificationService is the ingress contract the handler depends on.
type NotificationService interface {
	Submit(ctx context.Context, req types.NotificationRequest, idempotencyKey string, meta types.RequestMetadata) (*types.SubmitResult, error)
	Get(ctx context.Context, id string) (*types.NotificationStatus, error)
	List(ctx context.Context) types.ListResponse[types.NotificationStatus]
}

// CreateNotificationRequest is the body of POST /v1/notifications.
type CreateNotificationRequest struct {
	Type       string         `json:"type" validate:"required,notification_type"`
	UserID     string         `json:"user_id" validate:"required"`
	Priority   string         `json:"priority" validate:"required,notification_priority"`
	TemplateID string         `json:"template_id" validate:"required"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// SubmitResponse is the 202 body.
type SubmitResponse struct {
	NotificationID string                        `json:"notification_id"`
	Type           types.NotificationType        `json:"type"`
	Status         types.NotificationStatusValue `json:"status"`
	Message        string                        `json:"message"`
}

// NotificationHandler serves submission and status lookup.
type NotificationHandler struct {
	service   NotificationService
	validator *core.Validator
	logger    *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(service NotificationService, v *core.Validator, l *slog.Logger) *NotificationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NotificationHandler{service: service, validator: v, logger: l}
}

// RegisterRoutes mounts the notification endpoints.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
	})
}

// Create handles POST /v1/notifications.
//
//  1. Decode and validate the body.
//  2. Submit with the optional X-Idempotency-Key and caller metadata.
//  3. Reply 202; a replay keeps the original id and sets X-Idempotent-Replayed.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	meta := types.RequestMetadata{
		IPAddress: core.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	result, err := h.service.Submit(r.Context(), types.NotificationRequest{
		Type:       types.NotificationType(req.Type),
		UserID:     req.UserID,
		Priority:   types.Priority(req.Priority),
		TemplateID: req.TemplateID,
		Variables:  req.Variables,
	}, r.Header.Get(IdempotencyKeyHeader), meta)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := SubmitResponse{
		NotificationID: result.NotificationID,
		Type:           result.Type,
		Status:         result.Status,
		Message:        "notification queued for delivery",
	}
	if result.Duplicate {
		w.Header().Set("X-Idempotent-Replayed", "true")
		resp.Message = "duplicate request"
	}
	core.JSON(w, r, http.StatusAccepted, resp)
}

// Get handles GET /v1/notifications/{id}.
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, status)
}

// List handles GET /v1/notifications.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, h.service.List(r.Context()))
}

// Package ingress accepts notification requests, deduplicates them by
// idempotency key and enqueues them on the broker for the channel workers.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"courier/internal/store"
	"courier/internal/types"
)

// Store is the subset of the Redis store used at ingress.
type Store interface {
	LookupIdempotency(ctx context.Context, key string) (id string, found bool, err error)
	ClaimIdempotency(ctx context.Context, key, id string) (existing string, claimed bool, err error)
	ReleaseIdempotency(ctx context.Context, key, id string) error
	GetStatus(ctx context.Context, id string) (*types.NotificationStatus, error)
	CreateStatus(ctx context.Context, st *types.NotificationStatus) (bool, error)
}

// Publisher enqueues envelopes on the notification exchange.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// Service implements submission and status lookup.
type Service struct {
	store     Store
	publisher Publisher
	clock     types.Clock
	newID     func() string
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for receipt timestamps.
func WithClock(c types.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator overrides notification id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a Service.
func NewService(st Store, publisher Publisher, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:     st,
		publisher: publisher,
		clock:     types.RealClock{},
		newID:     func() string { return uuid.New().String() },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks a request without side effects.
func Validate(req types.NotificationRequest) error {
	if req.Type == "" {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "type is required", nil,
			map[string]any{"field": "type"})
	}
	if !req.Type.Valid() {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidType,
			fmt.Sprintf("type must be one of email, push; got %q", req.Type), nil,
			map[string]any{"field": "type"})
	}
	if strings.TrimSpace(req.UserID) == "" {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "user_id is required", nil,
			map[string]any{"field": "user_id"})
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "template_id is required", nil,
			map[string]any{"field": "template_id"})
	}
	if !req.Priority.Valid() {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPriority,
			fmt.Sprintf("priority must be one of high, normal, low; got %q", req.Priority), nil,
			map[string]any{"field": "priority"})
	}
	return nil
}

// Submit validates req, deduplicates it by idempotencyKey and publishes the
// envelope with the channel as routing key.
//
// Idempotency store errors are logged and the request proceeds without
// deduplication. A publish failure releases the claim so a retry with the
// same key can succeed.
func (s *Service) Submit(ctx context.Context, req types.NotificationRequest, idempotencyKey string, meta types.RequestMetadata) (*types.SubmitResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	log := s.logger.With("type", string(req.Type), "user_id", req.UserID)

	if idempotencyKey != "" {
		existing, found, err := s.store.LookupIdempotency(ctx, idempotencyKey)
		if err != nil {
			log.WarnContext(ctx, "idempotency lookup failed, continuing without deduplication", "error", err)
		} else if found {
			log.InfoContext(ctx, "duplicate submission", "notification_id", existing)
			return duplicate(existing, req.Type), nil
		}
	}

	id := s.newID()
	claimed := false
	if idempotencyKey != "" {
		existing, ok, err := s.store.ClaimIdempotency(ctx, idempotencyKey, id)
		switch {
		case err != nil:
			log.WarnContext(ctx, "idempotency claim failed, continuing without deduplication", "error", err)
		case ok:
			claimed = true
		case existing != "":
			log.InfoContext(ctx, "concurrent duplicate submission", "notification_id", existing)
			return duplicate(existing, req.Type), nil
		}
	}

	now := s.clock.Now().UTC()
	meta.Timestamp = now
	env := types.NotificationEnvelope{
		NotificationID: id,
		Type:           req.Type,
		UserID:         req.UserID,
		Priority:       req.Priority,
		TemplateID:     req.TemplateID,
		Variables:      req.Variables,
		Metadata:       meta,
		RetryCount:     0,
		MaxRetries:     types.DefaultMaxRetries,
	}

	if err := s.publisher.PublishJSON(ctx, string(req.Type), env); err != nil {
		log.ErrorContext(ctx, "failed to enqueue notification", "notification_id", id, "error", err)
		if claimed {
			if rerr := s.store.ReleaseIdempotency(context.WithoutCancel(ctx), idempotencyKey, id); rerr != nil {
				log.WarnContext(ctx, "failed to release idempotency key", "error", rerr)
			}
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamBroker, "failed to queue notification", err)
	}

	status := &types.NotificationStatus{
		NotificationID: id,
		Type:           req.Type,
		UserID:         req.UserID,
		Status:         types.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// A worker may already have moved the record on; its status wins.
	created, err := s.store.CreateStatus(ctx, status)
	switch {
	case err != nil:
		log.WarnContext(ctx, "failed to write pending status", "notification_id", id, "error", err)
	case !created:
		log.DebugContext(ctx, "status already written by worker", "notification_id", id)
	}

	log.InfoContext(ctx, "notification queued", "notification_id", id, "priority", string(req.Priority))
	return &types.SubmitResult{NotificationID: id, Type: req.Type, Status: types.StatusPending}, nil
}

func duplicate(id string, typ types.NotificationType) *types.SubmitResult {
	return &types.SubmitResult{NotificationID: id, Type: typ, Status: types.StatusPending, Duplicate: true}
}

// Get returns the status record for id.
func (s *Service) Get(ctx context.Context, id string) (*types.NotificationStatus, error) {
	if strings.TrimSpace(id) == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidID, "notification id is required", nil)
	}
	st, err := s.store.GetStatus(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "notification not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to read notification status", err)
	}
	return st, nil
}

// List returns an empty page. Status records are keyed by notification id
// only; listing by user would need a secondary index.
func (s *Service) List(_ context.Context) types.ListResponse[types.NotificationStatus] {
	total := 0
	return types.ListResponse[types.NotificationStatus]{
		Data:     []types.NotificationStatus{},
		PageInfo: types.PageInfo{HasMore: false, TotalItems: &total},
	}
}

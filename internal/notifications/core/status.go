package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"courier/internal/store"
	"courier/internal/types"
)

var _ StatusSetter = (*StatusUpdater)(nil)

// StatusOwner identifies the channel and user a notification belongs to.
// SetStatus uses it to complete records it has to create itself.
type StatusOwner struct {
	Type   types.NotificationType
	UserID string
}

type statusOwnerKey struct{}

// WithStatusOwner attaches owner to ctx for later SetStatus calls.
func WithStatusOwner(ctx context.Context, owner StatusOwner) context.Context {
	return context.WithValue(ctx, statusOwnerKey{}, owner)
}

func statusOwnerFrom(ctx context.Context) (StatusOwner, bool) {
	owner, ok := ctx.Value(statusOwnerKey{}).(StatusOwner)
	return owner, ok
}

// StatusUpdater persists status transitions and optionally forwards them to
// the status tracker. It never fails the caller.
type StatusUpdater struct {
	store          StatusStore
	forwarder      StatusForwarder
	forwardTimeout time.Duration
	clock          types.Clock
	logger         types.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewStatusUpdater creates an updater. forwarder may be nil.
func NewStatusUpdater(st StatusStore, forwarder StatusForwarder, forwardTimeout time.Duration, clock types.Clock, logger types.Logger) *StatusUpdater {
	if clock == nil {
		clock = types.RealClock{}
	}
	if forwardTimeout <= 0 {
		forwardTimeout = 5 * time.Second
	}
	return &StatusUpdater{
		store:          st,
		forwarder:      forwarder,
		forwardTimeout: forwardTimeout,
		clock:          clock,
		logger:         logger,
	}
}

// SetStatus read-modify-writes the record for notificationID. errMsg is kept
// only for the failed status.
// Legacy push payloads carry no id and have no record.
func (u *StatusUpdater) SetStatus(ctx context.Context, notificationID string, status types.NotificationStatusValue, errMsg string) {
	if notificationID == "" {
		return
	}
	// Status writes must land even while the worker is shutting down.
	ctx = context.WithoutCancel(ctx)
	now := u.clock.Now()

	rec, err := u.store.GetStatus(ctx, notificationID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = &types.NotificationStatus{NotificationID: notificationID, CreatedAt: now}
	case err != nil:
		u.logger.Error("failed to read notification status",
			"notification_id", notificationID,
			"status", string(status),
			"error", err.Error(),
		)
		rec = &types.NotificationStatus{NotificationID: notificationID, CreatedAt: now}
	}

	if owner, ok := statusOwnerFrom(ctx); ok {
		if rec.Type == "" {
			rec.Type = owner.Type
		}
		if rec.UserID == "" {
			rec.UserID = owner.UserID
		}
	}

	rec.Status = status
	rec.UpdatedAt = now
	if status == types.StatusFailed {
		rec.ErrorMessage = errMsg
	} else {
		rec.ErrorMessage = ""
	}

	if err := u.store.PutStatus(ctx, rec); err != nil {
		u.logger.Error("failed to write notification status",
			"notification_id", notificationID,
			"status", string(status),
			"error", err.Error(),
		)
	}

	u.forward(ctx, types.StatusUpdate{
		NotificationID: notificationID,
		Status:         status,
		Timestamp:      now,
		Error:          rec.ErrorMessage,
	})
}

func (u *StatusUpdater) forward(ctx context.Context, update types.StatusUpdate) {
	if u.forwarder == nil {
		return
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.wg.Add(1)
	u.mu.Unlock()

	go func() {
		defer u.wg.Done()
		fctx, cancel := context.WithTimeout(ctx, u.forwardTimeout)
		defer cancel()
		if err := u.forwarder.ForwardStatus(fctx, update); err != nil {
			u.logger.Warn("failed to forward status update",
				"notification_id", update.NotificationID,
				"status", string(update.Status),
				"error", err.Error(),
			)
		}
	}()
}

// Close stops accepting forwards and waits for in-flight ones.
func (u *StatusUpdater) Close() {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	u.wg.Wait()
}

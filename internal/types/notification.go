package types

import (
	"encoding/json"
	"time"
)

// NotificationType identifies the delivery channel of a notification.
// Its string value doubles as the broker routing key.
type NotificationType string

const (
	NotificationTypeEmail NotificationType = "email"
	NotificationTypePush  NotificationType = "push"
)

// Valid reports whether t is a supported channel.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeEmail, NotificationTypePush:
		return true
	}
	return false
}

// Priority is carried through the pipeline for providers that honour it.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a supported priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// NotificationStatusValue is a state in the delivery lifecycle.
//
//	pending -> processing -> delivered
//	                      -> retry -> ... -> delivered | failed
//
// pending is also written while the channel breaker is open.
type NotificationStatusValue string

const (
	StatusPending    NotificationStatusValue = "pending"
	StatusProcessing NotificationStatusValue = "processing"
	StatusDelivered  NotificationStatusValue = "delivered"
	StatusFailed     NotificationStatusValue = "failed"
	StatusRetry      NotificationStatusValue = "retry"
)

// Terminal reports whether no further transitions are expected.
func (s NotificationStatusValue) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// DefaultMaxRetries is the retry budget stamped on every new envelope.
const DefaultMaxRetries = 3

// NotificationRequest is the client-facing submission body.
type NotificationRequest struct {
	Type       NotificationType `json:"type"`
	UserID     string           `json:"user_id"`
	Priority   Priority         `json:"priority"`
	TemplateID string           `json:"template_id"`
	Variables  map[string]any   `json:"variables,omitempty"`
}

// RequestMetadata describes the caller of a submission.
type RequestMetadata struct {
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationEnvelope is the message published to the broker. Consumers never
// mutate and republish it; retry state lives in the consumer.
type NotificationEnvelope struct {
	NotificationID string           `json:"notification_id" validate:"required"`
	Type           NotificationType `json:"type" validate:"required,oneof=email push"`
	UserID         string           `json:"user_id"`
	Priority       Priority         `json:"priority"`
	TemplateID     string           `json:"template_id"`
	Variables      map[string]any   `json:"variables,omitempty"`
	Metadata       RequestMetadata  `json:"metadata"`
	RetryCount     int              `json:"retry_count" validate:"gte=0"`
	MaxRetries     int              `json:"max_retries" validate:"gte=0"`
}

// NotificationStatus is the persisted lifecycle record for a notification.
type NotificationStatus struct {
	NotificationID string                  `json:"notification_id"`
	Type           NotificationType        `json:"type,omitempty"`
	UserID         string                  `json:"user_id,omitempty"`
	Status         NotificationStatusValue `json:"status"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
	ErrorMessage   string                  `json:"error_message,omitempty"`
}

// SubmitResult is returned by the ingress publisher.
type SubmitResult struct {
	NotificationID string                  `json:"notification_id"`
	Type           NotificationType        `json:"type"`
	Status         NotificationStatusValue `json:"status"`
	Duplicate      bool                    `json:"-"`
}

// FailedMessageError describes the error that sent a message to the failed queue.
type FailedMessageError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// FailedMessage is the payload published to the failed queue after a handler
// gives up on a message.
type FailedMessage struct {
	OriginalMessage json.RawMessage    `json:"original_message"`
	Error           FailedMessageError `json:"error"`
	Timestamp       time.Time          `json:"timestamp"`
	NotificationID  string             `json:"notification_id,omitempty"`
	Queue           string             `json:"queue,omitempty"`
}

// StatusUpdate is forwarded to the status-tracking service on every
// transition.
type StatusUpdate struct {
	NotificationID string                  `json:"notification_id"`
	Status         NotificationStatusValue `json:"status"`
	Timestamp      time.Time               `json:"timestamp"`
	Error          string                  `json:"error,omitempty"`
}

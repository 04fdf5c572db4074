package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MessageKind discriminates the payload shapes accepted on a channel queue.
type MessageKind int

const (
	MessageKindUnknown MessageKind = iota
	MessageKindEnvelope
	MessageKindLegacyPush
)

func (k MessageKind) String() string {
	switch k {
	case MessageKindEnvelope:
		return "envelope"
	case MessageKindLegacyPush:
		return "legacy_push"
	default:
		return "unknown"
	}
}

// LegacyPushMessage is the direct push shape published by older producers.
// It carries rendered content and a device token, so no collaborator lookups
// are needed to deliver it.
type LegacyPushMessage struct {
	DeviceToken string            `json:"deviceToken" validate:"required"`
	Title       string            `json:"title" validate:"required"`
	Body        string            `json:"body" validate:"required"`
	Data        map[string]string `json:"data,omitempty"`
	ImageURL    string            `json:"imageUrl,omitempty"`
	ClickAction string            `json:"clickAction,omitempty"`
}

// QueueMessage is a decoded channel-queue payload. Exactly one of Envelope or
// Legacy is set, according to Kind.
type QueueMessage struct {
	Kind     MessageKind
	Envelope *NotificationEnvelope
	Legacy   *LegacyPushMessage
}

// ErrMalformedMessage is returned when a queue payload matches neither shape.
var ErrMalformedMessage = errors.New("malformed queue message")

var messageValidator = validator.New(validator.WithRequiredStructEnabled())

// DecodeQueueMessage decodes body into one of the known payload shapes. The
// presence of notification_id selects the envelope, deviceToken selects the
// legacy push shape. The selected shape must then pass its schema check.
func DecodeQueueMessage(body []byte) (QueueMessage, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return QueueMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch {
	case probe["notification_id"] != nil:
		var env NotificationEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return QueueMessage{}, fmt.Errorf("%w: envelope: %v", ErrMalformedMessage, err)
		}
		if err := messageValidator.Struct(env); err != nil {
			return QueueMessage{}, fmt.Errorf("%w: envelope: %v", ErrMalformedMessage, err)
		}
		return QueueMessage{Kind: MessageKindEnvelope, Envelope: &env}, nil

	case probe["deviceToken"] != nil:
		var legacy LegacyPushMessage
		if err := json.Unmarshal(body, &legacy); err != nil {
			return QueueMessage{}, fmt.Errorf("%w: legacy push: %v", ErrMalformedMessage, err)
		}
		if err := messageValidator.Struct(legacy); err != nil {
			return QueueMessage{}, fmt.Errorf("%w: legacy push: %v", ErrMalformedMessage, err)
		}
		return QueueMessage{Kind: MessageKindLegacyPush, Legacy: &legacy}, nil
	}

	return QueueMessage{}, fmt.Errorf("%w: no notification_id or deviceToken", ErrMalformedMessage)
}

// NotificationID returns the id carried by the message, or "" for legacy
// payloads which have none.
func (m QueueMessage) NotificationID() string {
	if m.Envelope != nil {
		return m.Envelope.NotificationID
	}
	return ""
}

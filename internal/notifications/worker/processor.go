// Package worker turns broker deliveries into delivery attempts. A Processor
// decodes the payload, runs the channel handler under the dispatcher's retry
// policy and decides how the delivery is settled.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"courier/internal/notifications/core"
	"courier/internal/queue"
	"courier/internal/types"
)

// ChannelHandler performs a single delivery attempt.
type ChannelHandler interface {
	Type() types.NotificationType
	Deliver(ctx context.Context, msg types.QueueMessage) error
}

// Attempter runs the retry loop around a delivery.
type Attempter interface {
	AttemptDelivery(ctx context.Context, notificationID string, deliver core.DeliverFunc) (bool, error)
}

// FailedPublisher writes audit records to the failed queue.
type FailedPublisher interface {
	PublishToQueue(ctx context.Context, queue string, body []byte) error
}

// Processor handles deliveries from one channel queue.
type Processor struct {
	handler     ChannelHandler
	attempter   Attempter
	failed      FailedPublisher
	queue       string
	failedQueue string
	metrics     core.NotificationMetrics
	clock       types.Clock
	logger      types.Logger
}

// Config holds the dependencies of a Processor.
type Config struct {
	Handler     ChannelHandler
	Attempter   Attempter
	Failed      FailedPublisher
	Queue       string
	FailedQueue string
	Metrics     core.NotificationMetrics
	Clock       types.Clock
	Logger      types.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg Config) *Processor {
	if cfg.Metrics == nil {
		cfg.Metrics = core.NopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	return &Processor{
		handler:     cfg.Handler,
		attempter:   cfg.Attempter,
		failed:      cfg.Failed,
		queue:       cfg.Queue,
		failedQueue: cfg.FailedQueue,
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("queue", cfg.Queue),
	}
}

// Handle implements queue.Handler.
//
//   - undecodable payloads are rejected and dead-lettered by the broker
//   - delivered notifications are acked
//   - exhausted or permanent failures are copied to the failed queue, then rejected
//   - deliveries interrupted by shutdown are abandoned for redelivery
func (p *Processor) Handle(ctx context.Context, d amqp.Delivery) queue.Outcome {
	channel := p.handler.Type()
	if !d.Timestamp.IsZero() {
		p.metrics.RecordQueueLag(ctx, channel, p.clock.Now().Sub(d.Timestamp))
	}

	msg, err := types.DecodeQueueMessage(d.Body)
	if err != nil {
		p.logger.Error("rejecting undecodable message",
			"delivery_tag", d.DeliveryTag,
			"error", err.Error(),
		)
		return queue.Reject
	}

	id := msg.NotificationID()
	log := p.logger.With("notification_id", id, "kind", msg.Kind.String())

	if env := msg.Envelope; env != nil {
		ctx = core.WithStatusOwner(ctx, core.StatusOwner{Type: env.Type, UserID: env.UserID})
	}

	delivered, err := p.attempter.AttemptDelivery(ctx, id, func(ctx context.Context) error {
		if msg.Envelope != nil && msg.Envelope.Type != channel {
			return types.Permanent(types.NewAppError(types.ErrCodeValidationInvalidType,
				fmt.Sprintf("%s notification routed to %s queue", msg.Envelope.Type, channel), nil))
		}
		return p.handler.Deliver(ctx, msg)
	})
	switch {
	case delivered:
		return queue.Ack
	case err != nil && core.Interrupted(err):
		log.Warn("delivery interrupted by shutdown, leaving for redelivery", "error", err.Error())
		return queue.Abandon
	}

	if err == nil {
		err = errors.New("delivery not completed")
	}
	p.publishFailed(ctx, d, id, err)
	return queue.Reject
}

// publishFailed copies the original payload and error to the failed queue.
// If that publish fails the record is logged instead so it is not lost.
func (p *Processor) publishFailed(ctx context.Context, d amqp.Delivery, id string, cause error) {
	record := types.FailedMessage{
		OriginalMessage: json.RawMessage(d.Body),
		Error: types.FailedMessageError{
			Name:    errorName(cause),
			Message: cause.Error(),
			Stack:   errorChain(cause),
		},
		Timestamp:      p.clock.Now().UTC(),
		NotificationID: id,
		Queue:          p.queue,
	}

	body, err := json.Marshal(record)
	if err == nil {
		err = p.failed.PublishToQueue(context.WithoutCancel(ctx), p.failedQueue, body)
	}
	if err != nil {
		p.logger.Error("failed to publish to failed queue",
			"notification_id", id,
			"original_message", string(d.Body),
			"delivery_error", cause.Error(),
			"error", err.Error(),
		)
		return
	}
	p.logger.Info("message moved to failed queue", "notification_id", id, "failed_queue", p.failedQueue)
}

// maxChainDepth bounds errorChain against pathological Unwrap loops.
const maxChainDepth = 32

// errorChain renders err and each error it wraps, outermost first, one
// "type: message" line per link.
func errorChain(err error) string {
	var b strings.Builder
	for depth := 0; err != nil && depth < maxChainDepth; depth++ {
		if depth > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%T: %s", err, err.Error())
		err = errors.Unwrap(err)
	}
	return b.String()
}

func errorName(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return string(appErr.Code)
	}
	if errors.Is(err, core.ErrCircuitOpen) {
		return "circuit_open"
	}
	return "delivery_error"
}

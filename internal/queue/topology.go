package queue

import (
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"courier/internal/config"
	"courier/internal/types"
)

// ErrTopologyMismatch wraps a PRECONDITION_FAILED from the broker: an
// existing exchange or queue was declared with different arguments.
var ErrTopologyMismatch = errors.New("queue: topology mismatch with existing broker objects")

// Topology describes the exchange, channel queues and failed queue.
type Topology struct {
	Exchange    string
	FailedQueue string
	MessageTTL  time.Duration
	// Queues maps a channel type to its queue name. The routing key is the
	// channel type itself.
	Queues map[types.NotificationType]string
}

// NewTopology builds the topology from config.
func NewTopology(cfg config.RabbitMQConfig) Topology {
	ttl := cfg.MessageTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return Topology{
		Exchange:    cfg.Exchange,
		FailedQueue: cfg.FailedQueue,
		MessageTTL:  ttl,
		Queues: map[types.NotificationType]string{
			types.NotificationTypeEmail: cfg.EmailQueue,
			types.NotificationTypePush:  cfg.PushQueue,
		},
	}
}

// QueueFor returns the queue bound to a channel type.
func (t Topology) QueueFor(typ types.NotificationType) (string, bool) {
	q, ok := t.Queues[typ]
	return q, ok
}

// channelQueueArgs are the arguments every channel queue is declared with.
// Expired or rejected messages are dead-lettered through the default
// exchange straight into the failed queue.
func (t Topology) channelQueueArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl":             int32(t.MessageTTL / time.Millisecond),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": t.FailedQueue,
	}
}

// Declare creates (or re-asserts) every broker object. Declaring against
// objects that already exist with identical arguments is a no-op. A mismatch
// returns an error wrapping ErrTopologyMismatch; the channel is closed by the
// broker in that case and callers should treat it as fatal.
func (t Topology) Declare(ch Declarer) error {
	if _, err := ch.QueueDeclare(t.FailedQueue, true, false, false, false, nil); err != nil {
		return declareErr("declare failed queue "+t.FailedQueue, err)
	}

	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return declareErr("declare exchange "+t.Exchange, err)
	}

	for _, typ := range []types.NotificationType{types.NotificationTypeEmail, types.NotificationTypePush} {
		name, ok := t.Queues[typ]
		if !ok || name == "" {
			continue
		}
		if _, err := ch.QueueDeclare(name, true, false, false, false, t.channelQueueArgs()); err != nil {
			return declareErr("declare queue "+name, err)
		}
		if err := ch.QueueBind(name, string(typ), t.Exchange, false, nil); err != nil {
			return declareErr("bind queue "+name, err)
		}
	}
	return nil
}

func declareErr(op string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return fmt.Errorf("%w: %s: %v", ErrTopologyMismatch, op, err)
	}
	return fmt.Errorf("queue: %s: %w", op, err)
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// ErrDeliveriesClosed is returned by Consume when the broker closes the
// delivery stream, which happens on connection or channel loss.
var ErrDeliveriesClosed = errors.New("queue: delivery channel closed")

// resubscribeDelay spaces out re-subscriptions after a channel-level failure.
var resubscribeDelay = time.Second

// Outcome tells the consumer how to settle a delivery.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota
	// Reject nacks without requeue; the queue dead-letters it.
	Reject
	// Abandon leaves the message unacked so the broker redelivers it when the
	// channel closes. Used on shutdown.
	Abandon
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	default:
		return "abandon"
	}
}

// Handler processes one delivery and returns how to settle it.
type Handler func(ctx context.Context, d amqp.Delivery) Outcome

// Consumer runs a bounded pool of handlers over one queue.
type Consumer struct {
	source   ChannelSource
	prefetch int
	tag      string
	logger   *slog.Logger
}

// NewConsumer creates a Consumer. prefetch is both the broker QoS and the
// maximum number of concurrently running handlers.
func NewConsumer(source ChannelSource, prefetch int, tag string, logger *slog.Logger) *Consumer {
	if prefetch < 1 {
		prefetch = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{source: source, prefetch: prefetch, tag: tag, logger: logger}
}

// Consume subscribes to queue with manual acknowledgement and dispatches each
// delivery to handler. It returns nil after ctx is cancelled and all running
// handlers have settled, or ErrDeliveriesClosed if the broker ends the stream.
func (c *Consumer) Consume(ctx context.Context, queue string, handler Handler) error {
	ch, err := c.source.Channel()
	if err != nil {
		return fmt.Errorf("queue: consume channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("queue: set qos on %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: consume %s: %w", queue, err)
	}

	logger := c.logger.With("queue", queue)
	logger.Info("consumer started", "prefetch", c.prefetch)

	var g errgroup.Group
	g.SetLimit(c.prefetch)

	var result error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case d, ok := <-deliveries:
			if !ok {
				result = ErrDeliveriesClosed
				break loop
			}
			g.Go(func() error {
				c.settle(logger, d, handler(ctx, d))
				return nil
			})
		}
	}

	_ = g.Wait()
	logger.Info("consumer stopped", "reason", stopReason(result))
	return result
}

// ConnectionWaiter blocks until a connection is available.
type ConnectionWaiter interface {
	WaitConnected(ctx context.Context) error
}

// Run keeps a subscription on queue alive across reconnects until ctx is
// cancelled or the connection manager gives up.
func (c *Consumer) Run(ctx context.Context, conn ConnectionWaiter, queue string, handler Handler) error {
	for {
		if err := conn.WaitConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err := c.Consume(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("consumer interrupted, resubscribing", "queue", queue, "error", err)

		if err := sleepCtx(ctx, resubscribeDelay); err != nil {
			return nil
		}
	}
}

func (c *Consumer) settle(logger *slog.Logger, d amqp.Delivery, outcome Outcome) {
	var err error
	switch outcome {
	case Ack:
		err = d.Ack(false)
	case Reject:
		err = d.Nack(false, false)
	case Abandon:
		return
	}
	if err != nil {
		logger.Error("failed to settle delivery",
			"delivery_tag", d.DeliveryTag,
			"outcome", outcome.String(),
			"error", err,
		)
	}
}

func stopReason(err error) string {
	if err == nil {
		return "shutdown"
	}
	return err.Error()
}

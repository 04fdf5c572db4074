package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends persistent JSON messages. It holds one channel and reopens
// it after a publish error.
type Publisher struct {
	source   ChannelSource
	exchange string
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
	ch Channel
}

// NewPublisher creates a Publisher targeting exchange. timeout bounds each
// publish call.
func NewPublisher(source ChannelSource, exchange string, timeout time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{
		source:   source,
		exchange: exchange,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// PublishJSON marshals v and publishes it to the exchange with routingKey.
func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	return p.publish(ctx, p.exchange, routingKey, body)
}

// PublishToQueue publishes body straight to queue via the default exchange.
func (p *Publisher) PublishToQueue(ctx context.Context, queue string, body []byte) error {
	return p.publish(ctx, "", queue, body)
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		ch, err := p.source.Channel()
		if err != nil {
			return fmt.Errorf("queue: publish channel: %w", err)
		}
		p.ch = ch
	}

	err := p.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Body:         body,
	})
	if err != nil {
		// The channel may be dead; drop it so the next call reopens.
		_ = p.ch.Close()
		p.ch = nil
		return fmt.Errorf("queue: publish to %q/%q: %w", exchange, key, err)
	}

	p.logger.DebugContext(ctx, "message published", "exchange", exchange, "routing_key", key, "bytes", len(body))
	return nil
}

// Close releases the publish channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"courier/internal/types"
)

// Mode selects what happens to each message after it is printed.
type Mode int

const (
	ModePeek Mode = iota
	ModeAck
	ModeRepublish
)

func (m Mode) String() string {
	switch m {
	case ModeAck:
		return "ack"
	case ModeRepublish:
		return "republish"
	default:
		return "peek"
	}
}

const (
	kindFailureRecord = "failure_record"
	kindDeadLetter    = "dead_letter"
)

// Getter pulls single messages with manual acknowledgement.
type Getter interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

// Republisher sends a payload to the main exchange.
type Republisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// Entry is one printed line.
type Entry struct {
	DeliveryTag    uint64          `json:"delivery_tag"`
	Kind           string          `json:"kind"`
	NotificationID string          `json:"notification_id,omitempty"`
	Channel        string          `json:"channel,omitempty"`
	Error          string          `json:"error,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
	DeathReason    string          `json:"death_reason,omitempty"`
	Body           json.RawMessage `json:"body"`
}

// Summary counts what a Drain did.
type Summary struct {
	Read        int
	Acked       int
	Requeued    int
	Republished int
}

// Inspector drains a queue.
type Inspector struct {
	source Getter
	pub    Republisher
	queue  string
	out    io.Writer
	logger *slog.Logger
}

// NewInspector creates an Inspector reading from queue.
func NewInspector(source Getter, pub Republisher, queue string, out io.Writer, logger *slog.Logger) *Inspector {
	return &Inspector{source: source, pub: pub, queue: queue, out: out, logger: logger}
}

// Drain reads up to limit messages and prints each one. Messages stay
// unacknowledged until every read is done so a requeued message is not read
// twice, then each is settled according to mode.
//
// In republish mode dead letters are sent back to the exchange with their
// channel as routing key and acked. Failure records are acked since their
// dead-letter twin carries the same payload. Anything that cannot be replayed
// is requeued.
func (i *Inspector) Drain(ctx context.Context, limit int, mode Mode) (Summary, error) {
	var (
		summary    Summary
		deliveries []amqp.Delivery
	)

	for len(deliveries) < limit {
		if err := ctx.Err(); err != nil {
			break
		}
		d, ok, err := i.source.Get(i.queue, false)
		if err != nil {
			i.settle(ctx, deliveries, ModePeek, &summary)
			return summary, fmt.Errorf("reading %s: %w", i.queue, err)
		}
		if !ok {
			break
		}
		deliveries = append(deliveries, d)
		summary.Read++

		if err := i.print(describe(d)); err != nil {
			i.settle(ctx, deliveries, ModePeek, &summary)
			return summary, err
		}
	}

	i.settle(ctx, deliveries, mode, &summary)
	return summary, nil
}

func (i *Inspector) print(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry %d: %w", e.DeliveryTag, err)
	}
	_, err = fmt.Fprintln(i.out, string(line))
	return err
}

func (i *Inspector) settle(ctx context.Context, deliveries []amqp.Delivery, mode Mode, summary *Summary) {
	for _, d := range deliveries {
		switch mode {
		case ModeAck:
			i.ack(d, summary)
		case ModeRepublish:
			i.republish(ctx, d, summary)
		default:
			i.requeue(d, summary)
		}
	}
}

func (i *Inspector) republish(ctx context.Context, d amqp.Delivery, summary *Summary) {
	if isFailureRecord(d.Body) {
		i.ack(d, summary)
		return
	}

	routingKey, err := replayRoutingKey(d.Body)
	if err != nil {
		i.logger.Warn("message cannot be replayed, requeueing",
			"delivery_tag", d.DeliveryTag,
			"error", err,
		)
		i.requeue(d, summary)
		return
	}

	if err := i.pub.PublishJSON(ctx, routingKey, json.RawMessage(d.Body)); err != nil {
		i.logger.Error("republish failed, requeueing",
			"delivery_tag", d.DeliveryTag,
			"error", err,
		)
		i.requeue(d, summary)
		return
	}
	summary.Republished++
	i.ack(d, summary)
}

func (i *Inspector) ack(d amqp.Delivery, summary *Summary) {
	if err := d.Ack(false); err != nil {
		i.logger.Error("ack failed", "delivery_tag", d.DeliveryTag, "error", err)
		return
	}
	summary.Acked++
}

func (i *Inspector) requeue(d amqp.Delivery, summary *Summary) {
	if err := d.Nack(false, true); err != nil {
		i.logger.Error("nack failed", "delivery_tag", d.DeliveryTag, "error", err)
		return
	}
	summary.Requeued++
}

// describe extracts what an operator needs from a delivery.
func describe(d amqp.Delivery) Entry {
	e := Entry{
		DeliveryTag: d.DeliveryTag,
		Kind:        kindDeadLetter,
		DeathReason: deathReason(d.Headers),
		Body:        rawBody(d.Body),
	}

	payload := d.Body
	var rec types.FailedMessage
	if isFailureRecord(d.Body) && json.Unmarshal(d.Body, &rec) == nil {
		e.Kind = kindFailureRecord
		e.NotificationID = rec.NotificationID
		e.Error = rec.Error.Message
		if !rec.Timestamp.IsZero() {
			ts := rec.Timestamp
			e.FailedAt = &ts
		}
		payload = rec.OriginalMessage
	}

	if msg, err := types.DecodeQueueMessage(payload); err == nil {
		if e.NotificationID == "" {
			e.NotificationID = msg.NotificationID()
		}
		e.Channel = channelOf(msg)
	}
	return e
}

func isFailureRecord(body []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	_, ok := probe["original_message"]
	return ok
}

func replayRoutingKey(body []byte) (string, error) {
	msg, err := types.DecodeQueueMessage(body)
	if err != nil {
		return "", err
	}
	if ch := channelOf(msg); ch != "" {
		return ch, nil
	}
	return "", errors.New("message has no channel")
}

func channelOf(msg types.QueueMessage) string {
	switch msg.Kind {
	case types.MessageKindEnvelope:
		return string(msg.Envelope.Type)
	case types.MessageKindLegacyPush:
		return string(types.NotificationTypePush)
	default:
		return ""
	}
}

// deathReason reads the first x-death entry the broker adds on dead-lettering.
func deathReason(headers amqp.Table) string {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return ""
	}
	first, ok := deaths[0].(amqp.Table)
	if !ok {
		return ""
	}
	reason, _ := first["reason"].(string)
	return reason
}

// rawBody keeps JSON bodies as-is and quotes anything else.
func rawBody(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return json.RawMessage(quoted)
}

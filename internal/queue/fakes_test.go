package queue

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type declaredQueue struct {
	name    string
	durable bool
	args    amqp.Table
}

type binding struct {
	queue, key, exchange string
}

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

// fakeChannel records every call. Declarations behave like a broker: an
// existing object re-declared with different arguments fails with 406.
type fakeChannel struct {
	mu sync.Mutex

	exchanges  map[string]string
	queues     map[string]declaredQueue
	queueOrder []string
	bindings   []binding
	published  []published
	publishErr error
	qos        int
	consumeErr error
	deliveries chan amqp.Delivery
	getQueue   []amqp.Delivery
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		exchanges:  map[string]string{},
		queues:     map[string]declaredQueue{},
		deliveries: make(chan amqp.Delivery, 64),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'type'"}
	}
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.queues[name]; ok {
		if !tablesEqual(existing.args, args) || existing.durable != durable {
			return amqp.Queue{}, &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg"}
		}
		return amqp.Queue{Name: name}, nil
	}
	f.queues[name] = declaredQueue{name: name, durable: durable, args: args}
	f.queueOrder = append(f.queueOrder, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bindings {
		if b.queue == name && b.key == key && b.exchange == exchange {
			return nil
		}
	}
	f.bindings = append(f.bindings, binding{queue: name, key: key, exchange: exchange})
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qos = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	if autoAck {
		return nil, errors.New("fake: auto-ack not expected")
	}
	return f.deliveries, nil
}

func (f *fakeChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.getQueue) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := f.getQueue[0]
	f.getQueue = f.getQueue[1:]
	return d, true, nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) publishedCopy() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func tablesEqual(a, b amqp.Table) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// staticSource always hands out the same channel.
type staticSource struct {
	ch    Channel
	err   error
	calls int
	mu    sync.Mutex
}

func (s *staticSource) Channel() (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.ch, nil
}

// fakeConnection is a Connection whose closure the test controls.
type fakeConnection struct {
	mu     sync.Mutex
	ch     *fakeChannel
	notify chan *amqp.Error
	closed bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{ch: newFakeChannel()}
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	return c.ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = receiver
	return receiver
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.notify)
	}
	return nil
}

// drop simulates an unexpected broker-side close.
func (c *fakeConnection) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"}
	close(c.notify)
}

type ackCall struct {
	tag      uint64
	kind     string
	requeue  bool
	multiple bool
}

// fakeAcknowledger records settlement of deliveries.
type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []ackCall
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{tag: tag, kind: "ack", multiple: multiple})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{tag: tag, kind: "nack", multiple: multiple, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, ackCall{tag: tag, kind: "reject", requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) snapshot() []ackCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackCall(nil), a.calls...)
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_PublishJSON(t *testing.T) {
	ch := newFakeChannel()
	src := &staticSource{ch: ch}
	p := NewPublisher(src, "notifications.direct", time.Second, quietLogger())

	require.NoError(t, p.PublishJSON(context.Background(), "push", map[string]string{"notification_id": "n1"}))
	require.NoError(t, p.PublishJSON(context.Background(), "email", map[string]string{"notification_id": "n2"}))

	pubs := ch.publishedCopy()
	require.Len(t, pubs, 2)
	assert.Equal(t, "notifications.direct", pubs[0].exchange)
	assert.Equal(t, "push", pubs[0].key)
	assert.Equal(t, "application/json", pubs[0].msg.ContentType)
	assert.Equal(t, amqp.Persistent, pubs[0].msg.DeliveryMode)

	var body map[string]string
	require.NoError(t, json.Unmarshal(pubs[1].msg.Body, &body))
	assert.Equal(t, "n2", body["notification_id"])

	assert.Equal(t, 1, src.calls, "channel should be reused between publishes")
}

func TestPublisher_PublishToQueueUsesDefaultExchange(t *testing.T) {
	ch := newFakeChannel()
	p := NewPublisher(&staticSource{ch: ch}, "notifications.direct", time.Second, quietLogger())

	require.NoError(t, p.PublishToQueue(context.Background(), "failed.queue", []byte(`{"x":1}`)))

	pubs := ch.publishedCopy()
	require.Len(t, pubs, 1)
	assert.Equal(t, "", pubs[0].exchange)
	assert.Equal(t, "failed.queue", pubs[0].key)
}

func TestPublisher_ErrorReopensChannel(t *testing.T) {
	ch := newFakeChannel()
	ch.publishErr = errors.New("channel closed")
	src := &staticSource{ch: ch}
	p := NewPublisher(src, "ex", time.Second, quietLogger())

	err := p.PublishJSON(context.Background(), "push", "x")
	require.Error(t, err)
	assert.True(t, ch.closed)

	ch.publishErr = nil
	require.NoError(t, p.PublishJSON(context.Background(), "push", "x"))
	assert.Equal(t, 2, src.calls)
}

func TestPublisher_NotConnected(t *testing.T) {
	p := NewPublisher(&staticSource{err: ErrNotConnected}, "ex", time.Second, quietLogger())
	err := p.PublishJSON(context.Background(), "push", "x")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPublisher_MarshalError(t *testing.T) {
	p := NewPublisher(&staticSource{ch: newFakeChannel()}, "ex", time.Second, quietLogger())
	err := p.PublishJSON(context.Background(), "push", make(chan int))
	assert.Error(t, err)
}

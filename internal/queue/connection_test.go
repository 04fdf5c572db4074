package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedDialer returns the queued results in order and then keeps failing.
type scriptedDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

type dialResult struct {
	conn *fakeConnection
	err  error
}

func (d *scriptedDialer) dial(string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.results) == 0 {
		return nil, errors.New("dial refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *scriptedDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestConnectionManager_ConnectsAfterRetries(t *testing.T) {
	conn := newFakeConnection()
	dialer := &scriptedDialer{results: []dialResult{
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{conn: conn},
	}}

	var slept []time.Duration
	m := NewConnectionManager(testRabbitConfig(), quietLogger(),
		WithDialer(dialer.dial),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)

	assert.Equal(t, StateDisconnected, m.State())
	_, err := m.Channel()
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 3, dialer.callCount())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, slept, "fixed delay between attempts")

	ch, err := m.Channel()
	require.NoError(t, err)
	assert.NotNil(t, ch)
	assert.NoError(t, m.Check(context.Background()))

	require.NoError(t, m.Close())
	assert.True(t, conn.IsClosed())
}

func TestConnectionManager_ExhaustsAttempts(t *testing.T) {
	dialer := &scriptedDialer{}
	m := NewConnectionManager(testRabbitConfig(), quietLogger(), WithDialer(dialer.dial), WithSleep(noSleep))

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 5, dialer.callCount())
	assert.Equal(t, StateDisconnected, m.State())

	select {
	case <-m.Failed():
	default:
		t.Fatal("Failed() should be closed after exhausting attempts")
	}
	assert.Error(t, m.Err())
	assert.Error(t, m.Check(context.Background()))
	assert.Error(t, m.WaitConnected(context.Background()))
}

func TestConnectionManager_ReconnectsAfterDrop(t *testing.T) {
	first := newFakeConnection()
	second := newFakeConnection()
	dialer := &scriptedDialer{results: []dialResult{{conn: first}, {conn: second}}}

	m := NewConnectionManager(testRabbitConfig(), quietLogger(), WithDialer(dialer.dial), WithSleep(noSleep))
	require.NoError(t, m.Connect(context.Background()))

	first.drop()

	require.Eventually(t, func() bool {
		return dialer.callCount() == 2 && m.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitConnected(ctx))

	ch, err := m.Channel()
	require.NoError(t, err)
	assert.Same(t, second.ch, ch)

	require.NoError(t, m.Close())
}

func TestConnectionManager_ReconnectFailureIsFatal(t *testing.T) {
	first := newFakeConnection()
	dialer := &scriptedDialer{results: []dialResult{{conn: first}}}

	m := NewConnectionManager(testRabbitConfig(), quietLogger(), WithDialer(dialer.dial), WithSleep(noSleep))
	require.NoError(t, m.Connect(context.Background()))

	first.drop()

	select {
	case <-m.Failed():
	case <-time.After(time.Second):
		t.Fatal("manager should fail after reconnect attempts are exhausted")
	}
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 6, dialer.callCount())
}

func TestConnectionManager_CloseIsIdempotent(t *testing.T) {
	m := NewConnectionManager(testRabbitConfig(), quietLogger(), WithDialer((&scriptedDialer{results: []dialResult{{conn: newFakeConnection()}}}).dial))
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
}

func TestConnectionManager_WaitConnectedHonoursContext(t *testing.T) {
	m := NewConnectionManager(testRabbitConfig(), quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitConnected(ctx), context.DeadlineExceeded)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}

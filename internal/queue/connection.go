package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"courier/internal/config"
)

// ErrNotConnected is returned by Channel while the manager has no live
// connection.
var ErrNotConnected = errors.New("queue: not connected")

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("queue: connection manager closed")

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionManager owns the process's single broker connection. It retries
// the initial connect with a fixed delay, watches for unexpected closure and
// reconnects, and reports exhaustion through Failed.
type ConnectionManager struct {
	url      string
	dial     Dialer
	attempts int
	delay    time.Duration
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	conn    Connection
	state   State
	ready   chan struct{}
	closed  bool
	failErr error
	failed  chan struct{}
	stopped chan struct{}
}

// ManagerOption customizes a ConnectionManager.
type ManagerOption func(*ConnectionManager)

// WithDialer replaces the AMQP dialer.
func WithDialer(d Dialer) ManagerOption {
	return func(m *ConnectionManager) { m.dial = d }
}

// WithSleep replaces the wait between connection attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *ConnectionManager) { m.sleep = fn }
}

// NewConnectionManager builds a manager from the broker config. Nothing is
// dialed until Connect.
func NewConnectionManager(cfg config.RabbitMQConfig, logger *slog.Logger, opts ...ManagerOption) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.ReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	m := &ConnectionManager{
		url:      cfg.URL.Unmask(),
		dial:     DialAMQP,
		attempts: attempts,
		delay:    cfg.ReconnectDelay,
		logger:   logger.With("component", "amqp_connection"),
		sleep:    sleepCtx,
		ready:    make(chan struct{}),
		failed:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect dials the broker, retrying up to the configured number of attempts.
// On exhaustion the manager moves to disconnected, Failed is closed, and the
// last dial error is returned.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.state = StateConnecting
	m.mu.Unlock()

	conn, err := m.dialWithRetry(ctx)
	if err != nil {
		m.fail(err)
		return err
	}

	m.install(conn)
	return nil
}

func (m *ConnectionManager) dialWithRetry(ctx context.Context) (Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		conn, err := m.dial(m.url)
		if err == nil {
			if attempt > 1 {
				m.logger.Info("broker connection established", "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err
		m.logger.Warn("broker connection attempt failed",
			"attempt", attempt,
			"max_attempts", m.attempts,
			"error", err,
		)

		if attempt == m.attempts {
			break
		}
		if err := m.sleep(ctx, m.delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("queue: connect failed after %d attempts: %w", m.attempts, lastErr)
}

func (m *ConnectionManager) install(conn Connection) {
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.state = StateConnected
	select {
	case <-m.ready:
	default:
		close(m.ready)
	}
	m.mu.Unlock()

	m.logger.Info("broker connected")
	go m.watch(notify)
}

// watch waits for the connection to close. A nil error means Close was called
// deliberately; anything else triggers a reconnect.
func (m *ConnectionManager) watch(notify chan *amqp.Error) {
	amqpErr, ok := <-notify
	if !ok || amqpErr == nil {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateConnecting
	m.ready = make(chan struct{})
	m.mu.Unlock()

	m.logger.Warn("broker connection lost, reconnecting", "error", amqpErr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-m.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer cancel()

	conn, err := m.dialWithRetry(ctx)
	if err != nil {
		m.fail(err)
		return
	}
	m.install(conn)
}

func (m *ConnectionManager) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDisconnected
	if m.failErr == nil && !m.closed {
		m.failErr = err
		close(m.failed)
		m.logger.Error("broker connection attempts exhausted", "error", err)
	}
}

// State reports the current lifecycle state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Channel opens a new channel on the live connection. It returns
// ErrNotConnected unless the state is connected.
func (m *ConnectionManager) Channel() (Channel, error) {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		return nil, ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	return ch, nil
}

// WaitConnected blocks until the manager is connected, has failed, or ctx is
// done.
func (m *ConnectionManager) WaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		if m.state == StateConnected {
			m.mu.Unlock()
			return nil
		}
		ready := m.ready
		m.mu.Unlock()

		select {
		case <-ready:
		case <-m.failed:
			return m.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Failed is closed when reconnect attempts are exhausted. Binaries treat it as
// fatal.
func (m *ConnectionManager) Failed() <-chan struct{} {
	return m.failed
}

// Err returns the error that caused Failed to close, if any.
func (m *ConnectionManager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr
}

// Check satisfies the health probe signature.
func (m *ConnectionManager) Check(_ context.Context) error {
	if s := m.State(); s != StateConnected {
		return fmt.Errorf("broker %s", s)
	}
	return nil
}

// Close shuts the connection down and stops reconnecting. Unacked deliveries
// are returned to their queues by the broker.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	close(m.stopped)
	m.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"courier/internal/store"
	"courier/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTimer struct{ stopped atomic.Bool }

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

// recordingTimers captures every requested delay. With fire set the callback
// runs at once, so backoff never sleeps.
type recordingTimers struct {
	mu     sync.Mutex
	fire   bool
	delays []time.Duration
	timers []*fakeTimer
}

func (r *recordingTimers) afterFunc(d time.Duration, f func()) Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &fakeTimer{}
	r.delays = append(r.delays, d)
	r.timers = append(r.timers, t)
	if r.fire {
		go f()
	}
	return t
}

func (r *recordingTimers) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type transition struct {
	status types.NotificationStatusValue
	errMsg string
}

type recordingStatus struct {
	mu          sync.Mutex
	transitions []transition
}

func (r *recordingStatus) SetStatus(_ context.Context, _ string, status types.NotificationStatusValue, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transition{status: status, errMsg: errMsg})
}

func (r *recordingStatus) statuses() []types.NotificationStatusValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.NotificationStatusValue, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t.status)
	}
	return out
}

func (r *recordingStatus) last() transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions[len(r.transitions)-1]
}

type recordingMetrics struct {
	mu       sync.Mutex
	results  []MetricResult
	breaker  []bool
	latency  int
	queueLag []time.Duration
}

func (m *recordingMetrics) RecordDelivery(_ context.Context, _ types.NotificationType, r MetricResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

func (m *recordingMetrics) RecordLatency(context.Context, types.NotificationType, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency++
}

func (m *recordingMetrics) RecordQueueLag(_ context.Context, _ types.NotificationType, lag time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueLag = append(m.queueLag, lag)
}

func (m *recordingMetrics) RecordBreakerState(_ context.Context, _ types.NotificationType, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaker = append(m.breaker, open)
}

// memStatusStore is an in-memory StatusStore with injectable failures.
type memStatusStore struct {
	mu      sync.Mutex
	records map[string]types.NotificationStatus
	getErr  error
	putErr  error
	puts    int
}

func newMemStatusStore() *memStatusStore {
	return &memStatusStore{records: map[string]types.NotificationStatus{}}
}

func (s *memStatusStore) GetStatus(_ context.Context, id string) (*types.NotificationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *memStatusStore) PutStatus(_ context.Context, st *types.NotificationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	s.records[st.NotificationID] = *st
	return nil
}

func (s *memStatusStore) get(id string) (types.NotificationStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

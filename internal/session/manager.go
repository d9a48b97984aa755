package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Factory builds the answerer for a new session.
type Factory func(key Key) Answerer

// Manager keeps the live sessions, creating them on first use.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[Key]*Session
	factory   Factory
	now       func() time.Time
	listener  Listener
	metrics   *Metrics
	keepAlive func(Key) bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides time.Now for the manager and its sessions.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithChangeListener is attached to every session the manager creates.
func WithChangeListener(l Listener) ManagerOption {
	return func(m *Manager) { m.listener = l }
}

// WithManagerMetrics records session activity on metrics.
func WithManagerMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithKeepAlive exempts sessions from idle eviction while alive reports true,
// for example while a browser tab holds an open history socket.
func WithKeepAlive(alive func(Key) bool) ManagerOption {
	return func(m *Manager) { m.keepAlive = alive }
}

// NewManager creates a session manager.
func NewManager(factory Factory, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[Key]*Session),
		factory:  factory,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the session for key, creating an empty one if needed.
// The session is marked used, so a sweep cannot evict it right after Get.
func (m *Manager) Get(key Key) *Session {
	m.mu.RLock()
	s, ok := m.sessions[key]
	if ok {
		s.Touch()
	}
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		s.Touch()
		return s
	}

	s = New(key, m.factory(key), WithClock(m.now), WithListener(m.observe))
	m.sessions[key] = s
	m.metrics.setActive(len(m.sessions))
	slog.Info("Session started", "user_id", key.UserID, "session_id", key.SessionID)
	return s
}

// Lookup returns the session for key without creating it.
func (m *Manager) Lookup(key Key) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle discards sessions unused for longer than ttl and returns their keys.
// Their history and answer cache are dropped with them. Sessions kept alive
// by the WithKeepAlive predicate are never evicted.
func (m *Manager) EvictIdle(ttl time.Duration) []Key {
	cutoff := m.now().Add(-ttl)

	var idle []*Session
	for _, s := range m.snapshotSessions() {
		if !s.LastActive().Before(cutoff) {
			continue
		}
		if m.keepAlive != nil && m.keepAlive(s.key) {
			continue
		}
		idle = append(idle, s)
	}
	if len(idle) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []Key
	for _, s := range idle {
		current, ok := m.sessions[s.key]
		if !ok || current != s {
			continue
		}
		// Get touches under the read lock, so this sees any use since the scan.
		if !s.LastActive().Before(cutoff) {
			continue
		}
		delete(m.sessions, s.key)
		evicted = append(evicted, s.key)
	}
	m.metrics.setActive(len(m.sessions))
	return evicted
}

// Submit answers question in the session for key.
func (m *Manager) Submit(ctx context.Context, key Key, question string) (Entry, error) {
	return m.SubmitTo(ctx, m.Get(key), question)
}

// SubmitTo answers question in s, a session previously returned by Get.
func (m *Manager) SubmitTo(ctx context.Context, s *Session, question string) (Entry, error) {
	entry, err := s.Submit(ctx, question)
	m.metrics.ObserveSubmit(err)
	return entry, err
}

// Clear empties the history of the session for key and returns the
// resulting snapshot.
func (m *Manager) Clear(key Key) Snapshot {
	s := m.Get(key)
	s.ClearHistory()
	m.metrics.ObserveClear()
	return s.Snapshot()
}

// PurgeExpiredAnswers drops expired cache entries across live sessions.
func (m *Manager) PurgeExpiredAnswers() int {
	purged := 0
	for _, s := range m.snapshotSessions() {
		purged += s.PurgeExpiredAnswers()
	}
	return purged
}

func (m *Manager) snapshotSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (m *Manager) observe(snap Snapshot) {
	if m.listener != nil {
		m.listener(snap)
	}
}

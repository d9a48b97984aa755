// Package session owns the question/answer history of one browser session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/qa-demo/internal/config"
)

// WarningEmptyQuestion is shown when a blank question is submitted.
const WarningEmptyQuestion = "Please enter a question."

// ErrEmptyQuestion is returned by Submit when the question is blank after trimming.
var ErrEmptyQuestion = errors.New("empty question")

// State is the history state of a session.
type State int

const (
	// StateEmpty means no entries.
	StateEmpty State = iota
	// StateNonEmpty means one or more entries.
	StateNonEmpty
)

func (s State) String() string {
	if s == StateNonEmpty {
		return "non_empty"
	}
	return "empty"
}

// MarshalText renders the state name for JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "empty":
		*s = StateEmpty
	case "non_empty":
		*s = StateNonEmpty
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}

// Key identifies one session: a visitor plus a browser tab.
type Key struct {
	UserID    string
	SessionID string
}

func (k Key) String() string {
	return k.UserID + ":" + k.SessionID
}

// Entry is one answered question. Entries never change once appended.
type Entry struct {
	Question string    `json:"question"`
	Response string    `json:"response"`
	AskedAt  time.Time `json:"asked_at"`
}

// Snapshot is a copy of the session state after a transition.
// Version grows with every transition, so a later snapshot of the same
// session always has a version at least as high.
type Snapshot struct {
	Key            Key
	Version        uint64
	State          State
	Entries        []Entry
	ResponseLength int
}

// Answerer resolves a question to answer text. It never fails.
type Answerer interface {
	GetAnswer(ctx context.Context, question string) string
}

// Listener receives the full snapshot after every transition.
// It runs while the session is locked and must not call back into it.
type Listener func(Snapshot)

// Session holds the ordered history for one session.
// Submissions are serialized; an answer call blocks other calls on the same session.
type Session struct {
	mu             sync.Mutex
	key            Key
	answers        Answerer
	history        []Entry
	version        uint64
	responseLength int
	lastActive     atomic.Int64
	now            func() time.Time
	listener       Listener
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithListener registers a change listener.
func WithListener(l Listener) Option {
	return func(s *Session) { s.listener = l }
}

// New creates an empty session.
func New(key Key, answers Answerer, opts ...Option) *Session {
	s := &Session{
		key:            key,
		answers:        answers,
		responseLength: config.ResponseLengthDefault,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Touch()
	return s
}

// Key returns the session key.
func (s *Session) Key() Key {
	return s.key
}

// Submit answers question and appends it to the history.
// A question that is blank after trimming returns ErrEmptyQuestion and leaves
// the history untouched. Otherwise the text is stored and answered as typed.
func (s *Session) Submit(ctx context.Context, question string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Touch()

	if strings.TrimSpace(question) == "" {
		return Entry{}, ErrEmptyQuestion
	}

	entry := Entry{
		Question: question,
		Response: s.answers.GetAnswer(ctx, question),
		AskedAt:  s.now(),
	}
	s.history = append(s.history, entry)
	s.version++
	s.Touch()
	s.notifyLocked()
	return entry, nil
}

// ClearHistory empties the history.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.version++
	s.Touch()
	s.notifyLocked()
}

// SetResponseLength records the sidebar value, clamped to the slider bounds.
// The value is kept for display only and does not affect generation.
func (s *Session) SetResponseLength(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n != 0 {
		s.responseLength = ClampResponseLength(n)
	}
	return s.responseLength
}

// History returns a copy of the entries, oldest first.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.history...)
}

// State reports whether the history has entries.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stateOf(len(s.history))
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// LastActive returns the last time the session was used.
// It does not wait for a pending answer.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// PurgeExpiredAnswers drops expired cache entries when the answerer supports it.
func (s *Session) PurgeExpiredAnswers() int {
	p, ok := s.answers.(interface{ PurgeExpired() int })
	if !ok {
		return 0
	}
	return p.PurgeExpired()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Key:            s.key,
		Version:        s.version,
		State:          stateOf(len(s.history)),
		Entries:        append([]Entry(nil), s.history...),
		ResponseLength: s.responseLength,
	}
}

func (s *Session) notifyLocked() {
	if s.listener != nil {
		s.listener(s.snapshotLocked())
	}
}

func stateOf(n int) State {
	if n == 0 {
		return StateEmpty
	}
	return StateNonEmpty
}

// ClampResponseLength limits n to the slider range.
func ClampResponseLength(n int) int {
	if n < config.ResponseLengthMin {
		return config.ResponseLengthMin
	}
	if n > config.ResponseLengthMax {
		return config.ResponseLengthMax
	}
	return n
}

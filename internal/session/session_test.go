package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/qa-demo/internal/answer"
	"github.com/ashureev/qa-demo/internal/llm"
)

type fakeAnswerer struct {
	mu      sync.Mutex
	answers map[string]string
	calls   []string
	purged  int
}

func (f *fakeAnswerer) GetAnswer(_ context.Context, question string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, question)
	if a, ok := f.answers[question]; ok {
		return a
	}
	return "answer to " + question
}

func (f *fakeAnswerer) PurgeExpired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged++
	return 1
}

var testKey = Key{UserID: "anon_1", SessionID: "tab-1"}

func TestSubmitRejectsBlankQuestions(t *testing.T) {
	ans := &fakeAnswerer{}
	var notified int
	s := New(testKey, ans, WithListener(func(Snapshot) { notified++ }))

	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := s.Submit(context.Background(), q)
		require.ErrorIs(t, err, ErrEmptyQuestion)
	}

	assert.Empty(t, s.History())
	assert.Equal(t, StateEmpty, s.State())
	assert.Empty(t, ans.calls, "blank questions must not reach the answer service")
	assert.Zero(t, notified)
}

func TestSubmitAppendsInOrder(t *testing.T) {
	s := New(testKey, &fakeAnswerer{})

	_, err := s.Submit(context.Background(), "first")
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "second")
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "first")
	require.NoError(t, err)

	h := s.History()
	require.Len(t, h, 3)
	assert.Equal(t, "first", h[0].Question)
	assert.Equal(t, "second", h[1].Question)
	assert.Equal(t, "first", h[2].Question, "duplicates are kept")
	assert.Equal(t, StateNonEmpty, s.State())
}

func TestSubmitKeepsQuestionAsTyped(t *testing.T) {
	ans := &fakeAnswerer{}
	s := New(testKey, ans)

	entry, err := s.Submit(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "  hello  ", entry.Question)
	assert.Equal(t, []string{"  hello  "}, ans.calls)
	assert.Equal(t, "  hello  ", s.History()[0].Question)
}

func TestSnapshotVersionGrowsWithTransitions(t *testing.T) {
	var versions []uint64
	s := New(testKey, &fakeAnswerer{}, WithListener(func(snap Snapshot) { versions = append(versions, snap.Version) }))
	assert.Zero(t, s.Snapshot().Version)

	_, _ = s.Submit(context.Background(), "a")
	_, _ = s.Submit(context.Background(), " ")
	s.ClearHistory()

	assert.Equal(t, []uint64{1, 2}, versions)
	assert.Equal(t, uint64(2), s.Snapshot().Version)
}

func TestClearHistoryAlwaysEmpties(t *testing.T) {
	s := New(testKey, &fakeAnswerer{})
	s.ClearHistory()
	assert.Empty(t, s.History())

	for i := 0; i < 5; i++ {
		_, err := s.Submit(context.Background(), "q")
		require.NoError(t, err)
	}
	s.ClearHistory()
	assert.Empty(t, s.History())
	assert.Equal(t, StateEmpty, s.State())
}

func TestListenerSeesEveryTransition(t *testing.T) {
	var snaps []Snapshot
	s := New(testKey, &fakeAnswerer{}, WithListener(func(snap Snapshot) { snaps = append(snaps, snap) }))

	_, _ = s.Submit(context.Background(), "a")
	_, _ = s.Submit(context.Background(), "b")
	s.ClearHistory()

	require.Len(t, snaps, 3)
	assert.Len(t, snaps[0].Entries, 1)
	assert.Len(t, snaps[1].Entries, 2)
	assert.Equal(t, StateEmpty, snaps[2].State)
	assert.Equal(t, testKey, snaps[2].Key)
}

func TestHistoryIsACopy(t *testing.T) {
	s := New(testKey, &fakeAnswerer{})
	_, _ = s.Submit(context.Background(), "q")

	h := s.History()
	h[0].Response = "tampered"
	assert.NotEqual(t, "tampered", s.History()[0].Response)
}

func TestResponseLengthIsClampedAndKept(t *testing.T) {
	s := New(testKey, &fakeAnswerer{})
	assert.Equal(t, 200, s.Snapshot().ResponseLength)

	assert.Equal(t, 500, s.SetResponseLength(9000))
	assert.Equal(t, 1, s.SetResponseLength(-4))
	assert.Equal(t, 1, s.SetResponseLength(0), "zero leaves the value unchanged")
	assert.Equal(t, 120, s.SetResponseLength(120))
}

func TestEndToEndScenario(t *testing.T) {
	gen := llm.NewMockClient().
		Respond("What is 2+2?", "4").
		Fail("bad", errors.New("slow"))
	s := New(testKey, answer.NewService(gen, nil))

	_, err := s.Submit(context.Background(), "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Question: "What is 2+2?", Response: "4"}}, stripTimes(s.History()))

	_, err = s.Submit(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Question: "What is 2+2?", Response: "4"},
		{Question: "bad", Response: "An error occurred: slow"},
	}, stripTimes(s.History()))

	s.ClearHistory()
	assert.Empty(t, s.History())
}

func stripTimes(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{Question: e.Question, Response: e.Response}
	}
	return out
}

func TestManagerCreatesOneSessionPerKey(t *testing.T) {
	var built int
	m := NewManager(func(Key) Answerer {
		built++
		return &fakeAnswerer{}
	})

	a := m.Get(testKey)
	b := m.Get(testKey)
	other := m.Get(Key{UserID: "anon_1", SessionID: "tab-2"})

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, built)
	assert.Equal(t, 2, m.Len())
}

func TestManagerSessionsAreIsolated(t *testing.T) {
	m := NewManager(func(Key) Answerer { return &fakeAnswerer{} })
	tab2 := Key{UserID: "anon_1", SessionID: "tab-2"}

	_, err := m.Submit(context.Background(), testKey, "only here")
	require.NoError(t, err)

	assert.Len(t, m.Get(testKey).History(), 1)
	assert.Empty(t, m.Get(tab2).History())
}

func TestManagerEvictIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewManager(func(Key) Answerer { return &fakeAnswerer{} }, WithManagerClock(clock))

	m.Get(testKey)
	now = now.Add(30 * time.Minute)
	fresh := Key{UserID: "anon_2", SessionID: "default"}
	m.Get(fresh)
	now = now.Add(31 * time.Minute)

	evicted := m.EvictIdle(time.Hour)
	assert.Equal(t, []Key{testKey}, evicted)
	_, ok := m.Lookup(testKey)
	assert.False(t, ok)
	_, ok = m.Lookup(fresh)
	assert.True(t, ok)
}

func TestManagerKeepsLiveSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	open := map[Key]bool{testKey: true}
	m := NewManager(func(Key) Answerer { return &fakeAnswerer{} },
		WithManagerClock(func() time.Time { return now }),
		WithKeepAlive(func(k Key) bool { return open[k] }))

	_, err := m.Submit(context.Background(), testKey, "q1")
	require.NoError(t, err)
	_, err = m.Submit(context.Background(), testKey, "q2")
	require.NoError(t, err)
	closed := Key{UserID: "anon_2", SessionID: "default"}
	m.Get(closed)

	now = now.Add(61 * time.Minute)
	assert.Equal(t, []Key{closed}, m.EvictIdle(time.Hour))

	_, err = m.Submit(context.Background(), testKey, "q3")
	require.NoError(t, err)
	assert.Len(t, m.Get(testKey).History(), 3)

	delete(open, testKey)
	now = now.Add(61 * time.Minute)
	assert.Equal(t, []Key{testKey}, m.EvictIdle(time.Hour))
}

func TestManagerGetRefreshesIdleTimer(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(func(Key) Answerer { return &fakeAnswerer{} },
		WithManagerClock(func() time.Time { return now }))

	s := m.Get(testKey)
	now = now.Add(59 * time.Minute)
	assert.Same(t, s, m.Get(testKey))
	now = now.Add(59 * time.Minute)

	assert.Empty(t, m.EvictIdle(time.Hour))
	_, ok := m.Lookup(testKey)
	assert.True(t, ok)
}

func TestManagerSubmitToUsesGivenSession(t *testing.T) {
	metrics := MustNewMetrics(prometheus.NewRegistry())
	m := NewManager(func(Key) Answerer { return &fakeAnswerer{} }, WithManagerMetrics(metrics))

	s := m.Get(testKey)
	s.SetResponseLength(300)
	_, err := m.SubmitTo(context.Background(), s, "q")
	require.NoError(t, err)

	snap := m.Get(testKey).Snapshot()
	assert.Len(t, snap.Entries, 1)
	assert.Equal(t, 300, snap.ResponseLength)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.submissions.WithLabelValues("answered")))
}

func TestManagerForwardsChanges(t *testing.T) {
	var got []Snapshot
	m := NewManager(func(Key) Answerer { return &fakeAnswerer{} },
		WithChangeListener(func(s Snapshot) { got = append(got, s) }))

	_, _ = m.Submit(context.Background(), testKey, "q")
	m.Clear(testKey)

	require.Len(t, got, 2)
	assert.Equal(t, StateNonEmpty, got[0].State)
	assert.Equal(t, StateEmpty, got[1].State)
}

func TestManagerMetrics(t *testing.T) {
	metrics := MustNewMetrics(prometheus.NewRegistry())
	m := NewManager(func(Key) Answerer { return &fakeAnswerer{} }, WithManagerMetrics(metrics))

	_, _ = m.Submit(context.Background(), testKey, "q")
	_, _ = m.Submit(context.Background(), testKey, " ")
	m.Clear(testKey)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.submissions.WithLabelValues("answered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.submissions.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.clears))
}

type fakePruner struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakePruner) DeleteIdleVisitors(context.Context, time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return 0, err
	}
	return 2, nil
}

func TestSweepEvictsPurgesAndPrunes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ans := &fakeAnswerer{}
	m := NewManager(func(Key) Answerer { return ans }, WithManagerClock(func() time.Time { return now }))
	m.Get(testKey)
	repo := &fakePruner{errs: []error{errors.New("SQLITE_BUSY")}}

	Sweep(context.Background(), m, repo, time.Hour)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, ans.purged)
	assert.Equal(t, 2, repo.calls, "busy error should be retried")

	now = now.Add(2 * time.Hour)
	Sweep(context.Background(), m, nil, time.Hour)
	assert.Equal(t, 0, m.Len())
}

func TestDeleteIdleVisitorsGivesUpOnOtherErrors(t *testing.T) {
	repo := &fakePruner{errs: []error{errors.New("disk I/O error")}}
	_, err := deleteIdleVisitorsWithRetry(context.Background(), repo, time.Hour)
	require.Error(t, err)
	assert.Equal(t, 1, repo.calls)
}

package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/qa-demo/internal/identity"
	"github.com/ashureev/qa-demo/internal/session"
)

type echoAnswerer struct{}

func (echoAnswerer) GetAnswer(_ context.Context, q string) string { return "re: " + q }

func newTestServer(t *testing.T, key session.Key, opts ...session.ManagerOption) (*session.Manager, *Hub, string) {
	t.Helper()
	hub := NewHub()
	opts = append(opts, session.WithChangeListener(hub.Publish), session.WithKeepAlive(hub.Connected))
	mgr := session.NewManager(func(session.Key) session.Answerer { return echoAnswerer{} }, opts...)
	h := NewHandler(hub, mgr, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), key.UserID, key.SessionID)))
	}))
	t.Cleanup(srv.Close)
	return mgr, hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntilEntries reads frames until one carries n entries. Frames are full
// snapshots, so intermediate ones may be skipped by the writer.
func readUntilEntries(t *testing.T, ctx context.Context, conn *websocket.Conn, n int) Message {
	t.Helper()
	for {
		msg := readMessage(t, ctx, conn)
		require.NotNil(t, msg.History)
		if len(msg.History.Entries) == n {
			return msg
		}
	}
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func TestHandlerPushesRedraws(t *testing.T) {
	key := session.Key{UserID: "anon_live", SessionID: "tab-1"}
	mgr, hub, url := newTestServer(t, key)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, url)

	initial := readMessage(t, ctx, conn)
	assert.Equal(t, "history", initial.Type)
	require.NotNil(t, initial.History)
	assert.Empty(t, initial.History.Entries)
	assert.Equal(t, 1, hub.Count(key))

	_, err := mgr.Submit(ctx, key, "What is 2+2?")
	require.NoError(t, err)

	update := readUntilEntries(t, ctx, conn, 1)
	assert.Equal(t, 1, update.History.Entries[0].Index)
	assert.Equal(t, "re: What is 2+2?", update.History.Entries[0].Response)

	mgr.Clear(key)
	cleared := readUntilEntries(t, ctx, conn, 0)
	assert.Equal(t, session.StateEmpty, cleared.History.State)
}

func TestOpenSocketKeepsHistoryThroughSweep(t *testing.T) {
	key := session.Key{UserID: "anon_live", SessionID: "tab-1"}
	clock := newFakeClock()
	mgr, hub, url := newTestServer(t, key, session.WithManagerClock(clock.Now))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, url)
	readMessage(t, ctx, conn)

	for _, q := range []string{"q1", "q2"} {
		_, err := mgr.Submit(ctx, key, q)
		require.NoError(t, err)
	}
	readUntilEntries(t, ctx, conn, 2)

	clock.Advance(61 * time.Minute)
	session.Sweep(ctx, mgr, nil, time.Hour)
	assert.Equal(t, 1, hub.Count(key))

	_, err := mgr.Submit(ctx, key, "q3")
	require.NoError(t, err)
	msg := readUntilEntries(t, ctx, conn, 3)
	assert.Equal(t, "q1", msg.History.Entries[0].Question)
	assert.Equal(t, "q3", msg.History.Entries[2].Question)
}

func TestClosedSocketLetsSessionExpire(t *testing.T) {
	key := session.Key{UserID: "anon_live", SessionID: "tab-1"}
	clock := newFakeClock()
	mgr, hub, url := newTestServer(t, key, session.WithManagerClock(clock.Now))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, url)
	readMessage(t, ctx, conn)

	clock.Advance(61 * time.Minute)
	assert.Empty(t, mgr.EvictIdle(time.Hour))
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	sess, ok := mgr.Lookup(key)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return hub.Count(key) == 0 && sess.LastActive().Equal(clock.Now())
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, mgr.EvictIdle(time.Hour))

	clock.Advance(61 * time.Minute)
	assert.Equal(t, []session.Key{key}, mgr.EvictIdle(time.Hour))
}

func TestPublishDoesNotWaitForWriter(t *testing.T) {
	hub := NewHub()
	key := session.Key{UserID: "anon_slow", SessionID: "default"}
	c := hub.register(key, nil)

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 100; i++ {
			hub.Publish(session.Snapshot{Key: key, Version: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a socket with no running writer")
	}

	data, ok := c.take()
	require.True(t, ok)
	assert.Contains(t, string(data), `"history"`)
	_, ok = c.take()
	assert.False(t, ok, "only the newest frame is kept")
}

func TestClientDropsStaleFrames(t *testing.T) {
	c := newClient(nil)
	c.offer(2, []byte("v2"))
	c.offer(1, []byte("v1"))

	data, ok := c.take()
	require.True(t, ok)
	assert.Equal(t, "v2", string(data))

	c.offer(1, []byte("late"))
	_, ok = c.take()
	assert.False(t, ok)

	c.offer(2, []byte("same"))
	data, ok = c.take()
	require.True(t, ok)
	assert.Equal(t, "same", string(data))
}

func TestPublishSkipsOtherSessions(t *testing.T) {
	hub := NewHub()
	// No sockets registered: publishing must be a no-op.
	hub.Publish(session.Snapshot{Key: session.Key{UserID: "nobody", SessionID: "default"}})
	assert.Equal(t, 0, hub.Count(session.Key{UserID: "nobody", SessionID: "default"}))
	assert.False(t, hub.Connected(session.Key{UserID: "nobody", SessionID: "default"}))
}

func TestHandlerRejectsMissingIdentity(t *testing.T) {
	h := NewHandler(NewHub(), session.NewManager(func(session.Key) session.Answerer { return echoAnswerer{} }), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// Package live pushes history redraws to browser tabs over WebSocket.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/qa-demo/internal/render"
	"github.com/ashureev/qa-demo/internal/session"
)

const writeTimeout = 5 * time.Second

// Message is the frame sent to the browser.
type Message struct {
	Type    string              `json:"type"`
	History *render.HistoryView `json:"history,omitempty"`
}

// client owns the writes to one socket. Every frame is a full snapshot,
// so only the newest pending frame is kept.
type client struct {
	conn *websocket.Conn
	wake chan struct{}

	mu             sync.Mutex
	pending        []byte
	pendingVersion uint64
	sentVersion    uint64
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, wake: make(chan struct{}, 1)}
}

// offer queues a frame without blocking. Frames older than one already
// queued or sent are dropped.
func (c *client) offer(version uint64, data []byte) {
	c.mu.Lock()
	if version < c.sentVersion || (c.pending != nil && version < c.pendingVersion) {
		c.mu.Unlock()
		return
	}
	c.pending = data
	c.pendingVersion = version
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *client) take() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil, false
	}
	data := c.pending
	c.sentVersion = c.pendingVersion
	c.pending = nil
	return data, true
}

// writeLoop sends queued frames until ctx ends or a write fails.
func (c *client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}
		data, ok := c.take()
		if !ok {
			continue
		}
		if err := writeFrame(ctx, c.conn, data); err != nil {
			return err
		}
	}
}

// Hub tracks the open sockets of every session.
type Hub struct {
	mu     sync.RWMutex
	active map[session.Key]map[*websocket.Conn]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[session.Key]map[*websocket.Conn]*client),
	}
}

// register adds conn under key and returns its writer.
func (h *Hub) register(key session.Key, conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[key]; !exists {
		h.active[key] = make(map[*websocket.Conn]*client)
	}
	c := newClient(conn)
	h.active[key][conn] = c
	slog.Debug("History socket registered", "user_id", key.UserID, "session_id", key.SessionID)
	return c
}

// unregister removes conn from key.
func (h *Hub) unregister(key session.Key, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[key]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.active, key)
		}
		slog.Debug("History socket unregistered", "user_id", key.UserID, "session_id", key.SessionID)
	}
}

// Count returns the number of sockets open for key.
func (h *Hub) Count(key session.Key) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[key])
}

// Connected reports whether key has an open socket.
// It satisfies session.WithKeepAlive.
func (h *Hub) Connected(key session.Key) bool {
	return h.Count(key) > 0
}

// Publish queues the snapshot for every socket of its session.
// It satisfies session.Listener and never waits on the network.
func (h *Hub) Publish(snap session.Snapshot) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.active[snap.Key]))
	for _, c := range h.active[snap.Key] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := marshalHistory(snap)
	if err != nil {
		slog.Error("Failed to marshal history frame", "error", err)
		return
	}
	for _, c := range clients {
		c.offer(snap.Version, data)
	}
}

func marshalHistory(snap session.Snapshot) ([]byte, error) {
	view := render.History(snap)
	return json.Marshal(Message{Type: "history", History: &view})
}

func writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

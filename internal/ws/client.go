package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const sendTimeout = 10 * time.Second

// Client adapts a gorilla websocket connection to the Subscriber interface.
// Writes are serialized; gorilla connections allow only one concurrent
// writer.
//
// A new client starts gated: live payloads queue up until Release so a
// backlog replay can be written first without racing the hub.
type Client struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	log     *slog.Logger
	gated   bool
	pending [][]byte
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger, gated: true}
}

// Send delivers one event payload. While the client is gated the payload
// is queued instead of written.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gated {
		c.pending = append(c.pending, payload)
		return nil
	}
	return c.write(payload)
}

// Replay writes a backlog payload immediately, ahead of anything queued
// by Send.
func (c *Client) Replay(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(payload)
}

// Release flushes queued payloads in arrival order and resumes direct
// delivery. Queued events that were also covered by the replay arrive as
// ascending-id duplicates, which a cursor-tracking consumer ignores.
func (c *Client) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gated = false
	pending := c.pending
	c.pending = nil
	for _, payload := range pending {
		if err := c.write(payload); err != nil {
			return err
		}
	}
	return nil
}

// write pushes one text frame. A consumer that cannot keep up within
// sendTimeout is disconnected rather than allowed to stall the hub.
// Caller must hold c.mu.
func (c *Client) write(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("event stream write failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}

// Package ws owns the single WebSocket connection to the chat backend:
// connect, reconnect scheduling, frame codec plumbing and echo suppression.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pcarvalho/livechat/internal/dedup"
	"github.com/pcarvalho/livechat/internal/status"
	"github.com/pcarvalho/livechat/internal/store"
	"github.com/pcarvalho/livechat/internal/wire"
	"go.uber.org/zap"
)

// maxFrameSize bounds inbound text frames; chat messages are small.
const maxFrameSize = 1 << 20

// inboundBuffer absorbs short bursts without stalling the read loop. When it
// fills, the read loop blocks on the consumer instead of dropping frames.
const inboundBuffer = 64

// Rescheduler requests a deferred reconnect-and-flush run.
type Rescheduler interface {
	Schedule()
}

// Client maintains exactly one logical connection to the backend endpoint.
// Constructed once at process start with an explicit lifecycle, never a
// package-level singleton.
type Client struct {
	url       string
	decoder   *wire.Decoder
	dedup     *dedup.Filter
	machine   *status.Machine
	scheduler Rescheduler
	logger    *zap.Logger
	inbound   chan *store.Message

	readCtx    context.Context
	cancelRead context.CancelFunc

	// connectMu serializes Connect so concurrent triggers (lifecycle
	// start, retry job) cannot race into two dials.
	connectMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewClient creates a client for the given endpoint URL.
func NewClient(url, defaultChatID string, filter *dedup.Filter, machine *status.Machine, scheduler Rescheduler, logger *zap.Logger) *Client {
	readCtx, cancel := context.WithCancel(context.Background())
	return &Client{
		url: url,
		decoder: &wire.Decoder{
			DefaultChatID: defaultChatID,
			Now:           time.Now,
		},
		dedup:      filter,
		machine:    machine,
		scheduler:  scheduler,
		logger:     logger,
		inbound:    make(chan *store.Message, inboundBuffer),
		readCtx:    readCtx,
		cancelRead: cancel,
	}
}

// Inbound is the stream of decoded, non-suppressed frames. The handoff is
// blocking: a slow consumer backpressures the read loop, it never causes a
// frame to be dropped before persistence.
func (c *Client) Inbound() <-chan *store.Message {
	return c.inbound
}

// Connect opens the socket and starts the read loop. Idempotent: calling it
// while a connection is open is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_ = c.machine.Transition(status.Connecting)
	c.logger.Info("connecting", zap.String("url", redact(c.url)))

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		_ = c.machine.Transition(status.Reconnecting)
		return fmt.Errorf("dial %s: %w", redact(c.url), err)
	}
	conn.SetReadLimit(maxFrameSize)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
		return fmt.Errorf("client is closed")
	}
	c.conn = conn
	c.mu.Unlock()

	_ = c.machine.Transition(status.Online)
	c.logger.Info("connected")

	go c.readLoop(conn)
	return nil
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send encodes and writes one chat_message frame. The dedup key is
// registered before the write so an immediate server echo cannot race past
// the filter; a failed write drops the key again since no echo is coming.
func (c *Client) Send(ctx context.Context, m *store.Message) (SendStatus, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.scheduler.Schedule()
		return SendNotConnected, ErrNotConnected
	}

	data, err := wire.Encode(m)
	if err != nil {
		return SendTransportError, err
	}

	c.dedup.Register(m.ChatID, m.Content, m.Timestamp)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.dedup.Drop(m.ChatID, m.Content, m.Timestamp)
		c.scheduler.Schedule()
		return SendTransportError, &SendError{Err: err}
	}
	return SendOK, nil
}

// Close tears the connection down for good. Further Connect calls fail.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancelRead()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	_ = c.machine.Transition(status.Offline)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(c.readCtx)
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		msg := c.decoder.Decode(data)
		if c.dedup.Consume(msg.ChatID, msg.Content, msg.Timestamp) {
			c.logger.Debug("suppressed echo of own message",
				zap.String("chat_id", msg.ChatID),
				zap.Int64("timestamp", msg.Timestamp))
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.readCtx.Done():
			return
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	c.logger.Warn("connection lost", zap.Error(err))
	_ = c.machine.Transition(status.Reconnecting)
	c.scheduler.Schedule()
}

// redact strips the query string so API keys never reach the logs.
func redact(url string) string {
	for i := 0; i < len(url); i++ {
		if url[i] == '?' {
			return url[:i]
		}
	}
	return url
}

package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gochat/internal/chat"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Client is one WebSocket connection. It implements chat.Sink: the hub
// queues encoded frames with Send and the write pump drains them.
type Client struct {
	id             string
	conn           *websocket.Conn
	hub            *chat.Hub
	addr           string
	log            *zap.Logger
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

var _ chat.Sink = (*Client)(nil)

// NewClient creates a Client for conn. The client is not attached to the hub.
func NewClient(id string, conn *websocket.Conn, hub *chat.Hub, addr string, cfg Config, log *zap.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Client{
		id:             id,
		conn:           conn,
		hub:            hub,
		addr:           addr,
		log:            log.With(zap.String("conn", id), zap.String("addr", addr)),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		send:           make(chan []byte, sendBufferSize),
	}
}

// Send queues a frame without blocking. It returns false when the buffer is
// full or the client is closed.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump after it flushes queued frames. It is safe to
// call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Debug("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.log.Warn("rate limit exceeded; discarding message",
			zap.Int("burst", c.rateLimit.Burst), zap.Duration("interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// processMessage decodes a frame and submits it to the hub. Malformed frames
// are logged and dropped.
func (c *Client) processMessage(raw []byte) bool {
	ev, err := chat.DecodeInbound(raw)
	if err != nil {
		c.log.Debug("dropping invalid frame", zap.Error(err))
		return false
	}
	c.hub.Submit(c.id, ev)
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Detach(c.id)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("error closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error closing connection in writePump", zap.Error(err))
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("error setting write deadline", zap.Error(err))
		return false
	}
	if !ok {
		return c.writeCloseMessage()
	}
	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error writing close message", zap.Error(err))
	}
	return false
}

// writeTextMessage writes one frame per event. Every frame is a complete
// JSON envelope, so queued events are not coalesced.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("error writing ping", zap.Error(err))
		return false
	}
	return true
}

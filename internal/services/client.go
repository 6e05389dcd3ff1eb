package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/shanehokw/ranker/internal/config"
)

// Client represents a single WebSocket connection with its own send goroutine.
// Reads are driven by the gateway; the client owns ordered delivery of
// outbound messages and the keepalive ping.
type Client struct {
	conn          *websocket.Conn
	send          chan []byte
	hub           *Hub
	pollID        string
	participantID string
	log           *slog.Logger

	// Rate limiting
	messageCount int
	rateLimitMu  sync.Mutex
	lastReset    time.Time

	// Lifecycle
	ctx         context.Context
	cancel      context.CancelFunc
	closed      bool
	closeStatus websocket.StatusCode
	closeReason string
	closeMu     sync.Mutex
}

// NewClient creates a new client instance
func NewClient(conn *websocket.Conn, hub *Hub, pollID, participantID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		conn:          conn,
		send:          make(chan []byte, config.ClientSendBufferSize),
		hub:           hub,
		pollID:        pollID,
		participantID: participantID,
		log:           hub.log.With("pollID", pollID, "participantID", participantID),
		lastReset:     time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins the client's write pump
func (c *Client) Start() {
	go c.writePump()
}

// Context returns the connection lifecycle context; read operations should be
// bounded by it.
func (c *Client) Context() context.Context {
	return c.ctx
}

func (c *Client) PollID() string {
	return c.pollID
}

func (c *Client) ParticipantID() string {
	return c.participantID
}

// writePump handles outgoing messages to the WebSocket connection. It owns
// the socket teardown: Close only signals shutdown, and the connection is
// closed here once every queued frame has been written, so a terminal
// notice (poll_cancelled, a join rejection) is delivered before the close
// handshake.
func (c *Client) writePump() {
	ticker := time.NewTicker(config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close(websocket.StatusNormalClosure, "")
		c.closeConn()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Channel closed, connection is closing
				return
			}
			if !c.write(message) {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), config.WriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()

			if err != nil {
				c.log.Debug("ping failed", "error", err)
				return
			}

		case <-c.ctx.Done():
			// Close has already sealed the send channel; deliver anything
			// still queued (e.g. a cancellation notice) before the deferred
			// teardown closes the connection.
			for {
				select {
				case message, ok := <-c.send:
					if !ok {
						return
					}
					if !c.write(message) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(message []byte) bool {
	writeCtx, cancel := context.WithTimeout(context.Background(), config.WriteTimeout)
	err := c.conn.Write(writeCtx, websocket.MessageText, message)
	cancel()

	if err != nil {
		c.log.Debug("write failed", "error", err)
		c.hub.metrics.IncrementBroadcastErrors()
		return false
	}
	return true
}

// AllowMessage verifies the client hasn't exceeded message rate limits
func (c *Client) AllowMessage() bool {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	now := time.Now()
	if now.Sub(c.lastReset) > config.RateLimitWindow {
		c.messageCount = 0
		c.lastReset = now
	}

	c.messageCount++
	return c.messageCount <= config.MaxMessagesPerSecond
}

// Send queues a message for sending to the client
func (c *Client) Send(message []byte) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		// Channel full, client is too slow
		c.log.Warn("send buffer full, closing slow client")
		go c.Close(websocket.StatusPolicyViolation, "client too slow")
		return false
	}
}

// Close signals shutdown: no further frames are accepted and the write pump
// winds down, closing the socket with the given status once the queue has
// drained. Safe to call more than once; the first caller's status wins.
func (c *Client) Close(status websocket.StatusCode, reason string) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	c.closeStatus = status
	c.closeReason = reason
	close(c.send)
	c.cancel()
}

func (c *Client) closeConn() {
	c.closeMu.Lock()
	status, reason := c.closeStatus, c.closeReason
	c.closeMu.Unlock()

	_ = c.conn.Close(status, reason)
}

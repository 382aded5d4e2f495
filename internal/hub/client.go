package hub

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/chatgate/internal/log"
)

// State is a connection's lifecycle position.
type State int32

const (
	// StateConnecting is a client that has completed the handshake but is not registered.
	StateConnecting State = iota
	// StateOpen is a registered client eligible for broadcasts.
	StateOpen
	// StateClosed is a deregistered client. It never reopens.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientConfig holds per-connection transport settings.
type ClientConfig struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	// Burst messages are allowed per RefillInterval.
	Burst          int
	RefillInterval time.Duration
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	return cfg
}

// Identity is the session a connection was admitted with. Both fields are
// empty for anonymous connections.
type Identity struct {
	Username string
	// Token is the session token presented at upgrade, kept so inbound frames
	// can be re-admitted against the live session.
	Token string
}

// MessageHandler receives every inbound frame of a client, in order.
type MessageHandler func(c *Client, raw []byte)

// Client is a WebSocket connection handle. It owns the read and write pumps
// for its connection and a bounded outbound queue.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	identity  Identity
	cfg       ClientConfig
	hub       *Hub
	limiter   *rate.Limiter
	onMessage MessageHandler
	state     atomic.Int32
	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewClient creates a Client in the Connecting state. addr only labels the
// connection's log lines.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, identity Identity, cfg ClientConfig, onMessage MessageHandler) *Client {
	cfg = cfg.withDefaults()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.New().String()
	logger := log.L().With().Str(log.FieldConnID, id).Str(log.FieldAddr, addr).Logger()
	if identity.Username != "" {
		logger = logger.With().Str(log.FieldUsername, identity.Username).Logger()
	}

	c := &Client{
		id:        id,
		conn:      conn,
		send:      make(chan []byte, cfg.SendBuffer),
		identity:  identity,
		cfg:       cfg,
		hub:       hub,
		limiter:   rate.NewLimiter(rate.Every(cfg.RefillInterval/time.Duration(cfg.Burst)), cfg.Burst),
		onMessage: onMessage,
		logger:    logger,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID implements Handle.
func (c *Client) ID() string { return c.id }

// Username is the authenticated user behind the connection, or "".
func (c *Client) Username() string { return c.identity.Username }

// Token is the session token the connection was admitted with, or "".
func (c *Client) Token() string { return c.identity.Token }

// State returns the lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// Logger returns the connection-scoped logger.
func (c *Client) Logger() *zerolog.Logger { return &c.logger }

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Open implements Handle.
func (c *Client) Open() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Close implements Handle. The write pump drains the queue, sends a close
// frame and tears the connection down.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.send)
	})
}

// Deliver implements Handle. It never blocks: a full queue is an error.
func (c *Client) Deliver(payload []byte) error {
	if c.State() != StateOpen {
		return ErrHandleClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Allow reports whether the client may publish now under its rate limit.
func (c *Client) Allow() bool {
	return c.limiter.Allow()
}

// RateLimit describes the configured limit for log and error messages.
func (c *Client) RateLimit() (burst int, per time.Duration) {
	return c.cfg.Burst, c.cfg.RefillInterval
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("max_bytes", c.cfg.MaxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info().Err(err).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.logger.Warn().Err(err).Msg("websocket read error")
	}
}

// readPump delivers inbound frames to the handler until the connection fails,
// then deregisters the client. Clean closes, abrupt drops and pong timeouts
// all end here.
func (c *Client) readPump() {
	defer func() {
		c.hub.Deregister(c)
		c.closeConn()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if c.onMessage != nil {
			c.onMessage(c, raw)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// A write failure deregisters the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.hub.Deregister(c)
		c.closeConn()
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

// closeConn closes the underlying connection, ignoring expected close errors.
func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn().Err(err).Msg("error closing connection")
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline")
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
		c.logger.Warn().Err(err).Msg("error writing close message")
	}
	return false
}

// writeTextMessage writes one event per frame so clients can decode each
// frame as a single JSON document.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing ping message")
		}
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

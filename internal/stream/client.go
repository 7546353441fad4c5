package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thruflo/ppgcam/internal/logging"
	"github.com/thruflo/ppgcam/internal/metrics"
)

// Default connection settings.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultReadTimeout      = 30 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultOutboxSize       = 8
	DefaultMaxMessageSize   = 4 * 1024 * 1024
	DefaultCloseGracePeriod = 2 * time.Second
)

// CloseReason is sent with the normal-closure frame on Disconnect.
const CloseReason = "Disconnecting"

var (
	// ErrNotConnected is returned by Send when there is no live connection.
	ErrNotConnected = errors.New("websocket is not connected")
	// ErrOutboxFull is returned by Send when the writer is behind.
	ErrOutboxFull = errors.New("outbox full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client is closed")
	// ErrBusy is returned by Connect while a connection is open or opening.
	ErrBusy = errors.New("connection already open or opening")
)

// ServerError is an error reported by the analyzer in an error message.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Reason
}

// ConnectionState is the client's connection lifecycle state.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *ConnectionState) UnmarshalText(text []byte) error {
	for _, candidate := range []ConnectionState{Disconnected, Connecting, Connected} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}

// Listener receives everything the client observes. Calls are made from a
// single goroutine, in arrival order, and never concurrently.
type Listener interface {
	OnResult(r *PPGResult)
	OnError(err error)
	OnConnectionChanged(connected bool)
}

// Client owns one websocket connection to the analyzer. Connect, Disconnect
// and Close must be called by a single owner; Send is safe from any
// goroutine and never blocks.
type Client struct {
	url          string
	header       http.Header
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	outboxSize   int
	logger       *logging.Logger
	listener     Listener

	mu       sync.Mutex
	state    ConnectionState
	conn     *websocket.Conn
	outbox   chan []byte
	connDone chan struct{}
	closed   bool

	writeMu sync.Mutex
	loops   sync.WaitGroup

	dispatch *dispatcher
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialTimeout bounds the websocket handshake.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// WithReadTimeout sets how long the connection may stay silent.
func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.readTimeout = d
	}
}

// WithWriteTimeout bounds each write.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = d
	}
}

// WithHeader adds a handshake header.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.header.Add(key, value)
	}
}

// WithOutboxSize sets how many messages may wait for the writer.
func WithOutboxSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.outboxSize = n
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithListener registers the listener for results, errors and connection changes.
func WithListener(l Listener) ClientOption {
	return func(c *Client) {
		c.listener = l
	}
}

// NewClient creates a disconnected Client for the given ws:// or wss:// URL.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:          url,
		header:       http.Header{},
		dialTimeout:  DefaultDialTimeout,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		outboxSize:   DefaultOutboxSize,
		logger:       logging.Component("stream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatch = newDispatcher(c.logger)
	return c
}

// URL returns the analyzer endpoint.
func (c *Client) URL() string {
	return c.url
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setStateLocked(s ConnectionState) {
	c.state = s
	metrics.SetConnectionState(int(s))
}

// Connect dials the analyzer. On failure the listener receives
// OnConnectionChanged(false) followed by OnError, and the client is back in
// Disconnected; reconnecting is up to the caller.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrBusy
	}
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.dialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	c.logger.Debug("connecting", "url", c.url)

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("failed to connect: status %d: %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("failed to connect: %w", err)
		}
		c.mu.Lock()
		c.setStateLocked(Disconnected)
		c.mu.Unlock()

		c.logger.Warn("connect failed", "url", c.url, "error", err)
		c.emitConnection(false)
		c.emitError(err)
		return err
	}

	conn.SetReadLimit(DefaultMaxMessageSize)

	c.mu.Lock()
	if c.closed {
		c.setStateLocked(Disconnected)
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	outbox := make(chan []byte, c.outboxSize)
	done := make(chan struct{})
	c.conn = conn
	c.outbox = outbox
	c.connDone = done
	c.setStateLocked(Connected)
	c.mu.Unlock()

	c.logger.Info("connected", "url", c.url)
	c.emitConnection(true)

	c.loops.Add(2)
	go c.readLoop(conn, done)
	go c.writeLoop(conn, outbox, done)
	return nil
}

// Send queues msg for the writer goroutine. It never blocks: when not
// connected or when the outbox is full the message is dropped with a warning
// and an error is returned for the caller's information.
func (c *Client) Send(msg OutboundMessage) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.Lock()
	state, outbox := c.state, c.outbox
	c.mu.Unlock()

	if state != Connected {
		c.logger.Warn("not connected, dropping message", "type", string(msg.Type))
		return ErrNotConnected
	}

	select {
	case outbox <- data:
		return nil
	default:
		metrics.RecordFrameDropped(metrics.DropOutboxFull)
		c.logger.Warn("outbox full, dropping message", "type", string(msg.Type))
		return ErrOutboxFull
	}
}

// Disconnect closes the connection with a normal-closure frame. Later Sends
// are dropped until the next Connect.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.drop(conn, nil, true)
	}
	c.loops.Wait()
	return nil
}

// Close disconnects and shuts down the dispatcher. The client cannot be
// reconnected afterwards. Events already queued are still delivered.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Disconnect()
	c.dispatch.close()
	return err
}

// drop tears down conn once. graceful sends a close frame first; cause, if
// set, is reported to the listener.
func (c *Client) drop(conn *websocket.Conn, cause error, graceful bool) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.outbox = nil
	close(c.connDone)
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if graceful {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReason)
		_ = conn.SetWriteDeadline(time.Now().Add(DefaultCloseGracePeriod))
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
	}
	_ = conn.Close()

	if cause != nil {
		c.logger.Warn("connection lost", "error", cause)
	} else {
		c.logger.Info("disconnected")
	}
	c.emitConnection(false)
	if cause != nil {
		c.emitError(cause)
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done <-chan struct{}) {
	defer c.loops.Done()

	for {
		if c.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// We closed it.
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.drop(conn, nil, false)
			} else {
				c.drop(conn, fmt.Errorf("connection lost: %w", err), false)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, outbox <-chan []byte, done <-chan struct{}) {
	defer c.loops.Done()

	for {
		select {
		case <-done:
			return
		case data := <-outbox:
			c.writeMu.Lock()
			err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err == nil {
				err = conn.WriteMessage(websocket.TextMessage, data)
			}
			c.writeMu.Unlock()
			if err != nil {
				select {
				case <-done:
				default:
					c.drop(conn, fmt.Errorf("failed to write message: %w", err), false)
				}
				return
			}
		}
	}
}

// handleMessage parses one inbound message and queues the listener call.
// Malformed messages are reported and the connection stays up.
func (c *Client) handleMessage(data []byte) {
	msg, err := ParseInbound(data)
	if err != nil {
		metrics.RecordInbound("invalid")
		c.logger.Warn("failed to parse server response", "error", err, "bytes", len(data))
		c.emitError(fmt.Errorf("failed to parse server response: %w", err))
		return
	}
	metrics.RecordInbound(string(msg.Type))

	switch msg.Type {
	case MessageTypeResult:
		result, err := msg.ResultData()
		if err != nil {
			c.logger.Warn("failed to parse result", "error", err)
			c.emitError(fmt.Errorf("failed to parse server response: %w", err))
			return
		}
		c.emitResult(result)
	case MessageTypeError:
		c.logger.Error("server error", "reason", msg.Error)
		c.emitError(&ServerError{Reason: msg.Error})
	case MessageTypeResetAck:
		c.logger.Debug("reset acknowledged")
	}
}

func (c *Client) emitResult(r *PPGResult) {
	if l := c.listener; l != nil {
		c.dispatch.push(func() { l.OnResult(r) })
	}
}

func (c *Client) emitError(err error) {
	if l := c.listener; l != nil {
		c.dispatch.push(func() { l.OnError(err) })
	}
}

func (c *Client) emitConnection(connected bool) {
	if l := c.listener; l != nil {
		c.dispatch.push(func() { l.OnConnectionChanged(connected) })
	}
}

// Package socket is the namespaced signaling client for ephemeral partner events.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = time.Second

	dialTimeout = 10 * time.Second
)

var (
	// ErrNotAuthenticated is returned by Dial without a user or token
	ErrNotAuthenticated = errors.New("socket: user and token are required")
	// ErrNotConnected is returned by Emit while no connection is up
	ErrNotConnected = errors.New("socket: not connected")
)

// State is the connection state of a Client
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	// StateFailed is terminal: the retry budget is spent or auth was rejected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Frame is a namespaced socket message
type Frame struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	From      string          `json:"from,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Handler receives frames of one event
type Handler func(Frame)

// Subscription identifies one registered handler
type Subscription struct {
	event string
	id    uint64
}

// Config configures a Client
type Config struct {
	// URL is the base URL of the sync service (http, https, ws or wss)
	URL       string
	Namespace string
	UserID    string
	Token     string

	// MaxAttempts bounds reconnection after a drop; RetryDelay is the fixed
	// wait before each attempt.
	MaxAttempts int
	RetryDelay  time.Duration

	Dialer *websocket.Dialer
}

// Client is one connection to a socket namespace
type Client struct {
	cfg    Config
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	handlers map[string]map[uint64]Handler
	nextID   uint64
	attempts int

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// Dial connects to the namespace. Without both a user and a token nothing is dialed.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.UserID == "" || cfg.Token == "" {
		return nil, ErrNotAuthenticated
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)

	c := &Client{
		cfg:      cfg,
		url:      socketURL(cfg.URL, cfg.Namespace, cfg.Token),
		header:   header,
		dialer:   dialer,
		state:    StateConnecting,
		handlers: make(map[string]map[uint64]Handler),
		closed:   make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateFailed)
		if isAuthError(err) {
			log.Error().Err(err).Str("namespace", cfg.Namespace).Str("user_id", cfg.UserID).Msg("Socket authentication rejected")
		}
		return nil, err
	}
	c.attach(conn)
	return c, nil
}

func socketURL(base, namespace, token string) string {
	u := strings.TrimSuffix(base, "/")
	if strings.HasPrefix(u, "https") {
		u = "wss" + u[len("https"):]
	} else if strings.HasPrefix(u, "http") {
		u = "ws" + u[len("http"):]
	}
	return u + "/ws/" + url.PathEscape(namespace) + "?token=" + url.QueryEscape(token)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("socket dial %s: unauthorized: %w", c.cfg.Namespace, err)
		}
		return nil, fmt.Errorf("socket dial %s: %w", c.cfg.Namespace, err)
	}
	return conn, nil
}

// isAuthError reports whether err means the token was rejected
func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "auth") || strings.Contains(msg, "unauthorized")
}

// attach installs conn unless the client was closed meanwhile
func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		conn.Close()
		return false
	default:
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	log.Info().Str("namespace", c.cfg.Namespace).Str("user_id", c.cfg.UserID).Msg("Socket connected")
	go c.readLoop(conn)
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			select {
			case <-c.closed:
				return
			default:
			}
			log.Warn().Err(err).Str("namespace", c.cfg.Namespace).Msg("Socket connection lost")
			c.reconnect()
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Err(err).Str("namespace", c.cfg.Namespace).Msg("Failed to parse socket frame")
			continue
		}
		if frame.Event == "error" && isAuthError(errors.New(frame.Message)) {
			log.Error().Str("namespace", c.cfg.Namespace).Str("message", frame.Message).Msg("Socket server reported an auth error")
		}
		c.dispatch(frame)
	}
}

// reconnect retries with a fixed delay until the budget is spent
func (c *Client) reconnect() {
	c.mu.Lock()
	c.conn = nil
	c.state = StateReconnecting
	c.mu.Unlock()

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		select {
		case <-c.closed:
			return
		case <-time.After(c.cfg.RetryDelay):
		}

		conn, err := c.dial(context.Background())
		if err == nil {
			c.attach(conn)
			return
		}

		if isAuthError(err) {
			log.Error().Err(err).Str("namespace", c.cfg.Namespace).Str("user_id", c.cfg.UserID).Msg("Socket authentication rejected, not retrying")
			c.setState(StateFailed)
			return
		}
		log.Warn().Err(err).Str("namespace", c.cfg.Namespace).Int("attempt", attempt).Msg("Socket reconnect failed")
	}

	log.Error().Str("namespace", c.cfg.Namespace).Int("attempts", c.cfg.MaxAttempts).Msg("Socket reconnect attempts exhausted")
	c.setState(StateFailed)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		c.state = s
	}
}

// State returns the connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many dials were made, the first included
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Emit sends an event. Delivery is not acknowledged.
func (c *Client) Emit(event string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		raw = b
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(Frame{Event: event, Payload: raw}); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}

// On registers h for event
func (c *Client) On(event string, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][c.nextID] = h
	return Subscription{event: event, id: c.nextID}
}

// Off removes the given handlers of event, or all of them when subs is empty
func (c *Client) Off(event string, subs ...Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(subs) == 0 {
		delete(c.handlers, event)
		return
	}
	for _, s := range subs {
		if s.event == event {
			delete(c.handlers[event], s.id)
		}
	}
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

func (c *Client) dispatch(frame Frame) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[frame.Event]))
	for _, h := range c.handlers[frame.Event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(frame)
	}
}

// Close disconnects and stops reconnection
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		close(c.closed)
		conn := c.conn
		c.conn = nil
		c.state = StateClosed
		c.mu.Unlock()

		if conn == nil {
			return
		}
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DefaultHeartbeat is the keep-alive interval on the phoenix topic
const DefaultHeartbeat = 30 * time.Second

// ErrClosed is returned by requests on a closed client
var ErrClosed = errors.New("realtime connection closed")

// Client is a realtime Transport over a WebSocket connection to the sync service
type Client struct {
	url       string
	token     string
	dialer    *websocket.Dialer
	heartbeat time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]*wsChannel
	pending  map[string]chan ReplyPayload
	ref      uint64
	done     chan struct{}

	writeMu sync.Mutex
}

// NewClient creates a realtime client for the service at baseURL (http or ws scheme)
func NewClient(baseURL, accessToken string) *Client {
	wsURL := strings.TrimSuffix(baseURL, "/")
	if strings.HasPrefix(wsURL, "https") {
		wsURL = "wss" + wsURL[len("https"):]
	} else if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL += "/realtime/v1/websocket?vsn=1.0.0&access_token=" + url.QueryEscape(accessToken)

	return &Client{
		url:       wsURL,
		token:     accessToken,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		heartbeat: DefaultHeartbeat,
		channels:  make(map[string]*wsChannel),
		pending:   make(map[string]chan ReplyPayload),
	}
}

// Connect establishes the WebSocket connection
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("realtime dial: unauthorized: %w", err)
		}
		return fmt.Errorf("realtime dial: %w", err)
	}

	c.conn = conn
	c.done = make(chan struct{})

	go c.readLoop(conn, c.done)
	go c.heartbeatLoop(c.done)

	return nil
}

// Close closes the connection. Joined channels are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	close(c.done)
	c.channels = make(map[string]*wsChannel)
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()
	conn.Close()
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// Channel returns the channel for topic, creating it if needed
func (c *Client) Channel(topic string) Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.channels[topic]; ok {
		return ch
	}
	ch := &wsChannel{client: c, topic: topic}
	c.channels[topic] = ch
	return ch
}

func (c *Client) nextRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ref++
	return strconv.FormatUint(c.ref, 10)
}

func (c *Client) send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Event, err)
	}
	return nil
}

// request sends msg and waits for the matching phx_reply
func (c *Client) request(ctx context.Context, msg Message) (ReplyPayload, error) {
	msg.Ref = c.nextRef()
	if msg.JoinRef == "" && msg.Event == EventJoin {
		msg.JoinRef = msg.Ref
	}

	reply := make(chan ReplyPayload, 1)
	c.mu.Lock()
	done := c.done
	c.pending[msg.Ref] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return ReplyPayload{}, err
	}

	select {
	case r := <-reply:
		return r, nil
	case <-done:
		return ReplyPayload{}, ErrClosed
	case <-ctx.Done():
		return ReplyPayload{}, ctx.Err()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				log.Warn().Err(err).Msg("Realtime connection lost")
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
					close(c.done)
				}
				c.mu.Unlock()
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("Failed to parse realtime frame")
			continue
		}

		if msg.Event == EventReply {
			var r ReplyPayload
			if err := json.Unmarshal(msg.Payload, &r); err != nil {
				continue
			}
			c.mu.Lock()
			ch := c.pending[msg.Ref]
			c.mu.Unlock()
			if ch != nil {
				ch <- r
			}
			continue
		}

		c.mu.Lock()
		ch := c.channels[msg.Topic]
		c.mu.Unlock()
		if ch != nil {
			ch.dispatch(msg)
		}
	}
}

func (c *Client) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			msg := Message{
				Topic:   TopicPhoenix,
				Event:   EventHeartbeat,
				Payload: json.RawMessage(`{}`),
				Ref:     c.nextRef(),
			}
			if err := c.send(msg); err != nil {
				log.Warn().Err(err).Msg("Realtime heartbeat failed")
			}
		}
	}
}

type wsChannel struct {
	channelHandlers

	client *Client
	topic  string

	stateMu sync.Mutex
	joined  bool
}

func (ch *wsChannel) Subscribe(ctx context.Context) error {
	ch.stateMu.Lock()
	defer ch.stateMu.Unlock()
	if ch.joined {
		return nil
	}

	payload := JoinPayload{Config: ch.config(""), AccessToken: ch.client.token}
	msg := Message{Topic: ch.topic, Event: EventJoin, Payload: mustMarshal(payload)}
	reply, err := ch.client.request(ctx, msg)
	if err != nil {
		return fmt.Errorf("join %s: %w", ch.topic, err)
	}
	if reply.Status != ReplyOK {
		return fmt.Errorf("join %s rejected: %s", ch.topic, string(reply.Response))
	}
	ch.joined = true
	return nil
}

func (ch *wsChannel) Track(ctx context.Context, meta map[string]any) error {
	ch.stateMu.Lock()
	joined := ch.joined
	ch.stateMu.Unlock()
	if !joined {
		return ErrNotSubscribed
	}

	payload := PresencePayload{Type: EventPresence, Event: "track", Payload: meta}
	reply, err := ch.client.request(ctx, Message{Topic: ch.topic, Event: EventPresence, Payload: mustMarshal(payload)})
	if err != nil {
		return fmt.Errorf("track on %s: %w", ch.topic, err)
	}
	if reply.Status != ReplyOK {
		return fmt.Errorf("track on %s rejected: %s", ch.topic, string(reply.Response))
	}
	return nil
}

func (ch *wsChannel) Unsubscribe(ctx context.Context) error {
	ch.stateMu.Lock()
	defer ch.stateMu.Unlock()

	c := ch.client
	c.mu.Lock()
	if c.channels[ch.topic] == ch {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()

	if !ch.joined {
		return nil
	}
	ch.joined = false

	_, err := c.request(ctx, Message{Topic: ch.topic, Event: EventLeave, Payload: json.RawMessage(`{}`)})
	if err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("leave %s: %w", ch.topic, err)
	}
	return nil
}

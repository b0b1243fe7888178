package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNotSubscribed is returned when tracking on a channel that has not joined
var ErrNotSubscribed = errors.New("channel not subscribed")

type changeHandler struct {
	filter ChangeFilter
	fn     func(Change)
}

// channelHandlers is shared by the in-process and WebSocket channels
type channelHandlers struct {
	mu       sync.RWMutex
	changes  []changeHandler
	presence []func(PresenceState)
}

func (h *channelHandlers) OnPostgresChanges(filter ChangeFilter, fn func(Change)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, changeHandler{filter: filter.normalized(), fn: fn})
}

func (h *channelHandlers) OnPresenceSync(fn func(PresenceState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence = append(h.presence, fn)
}

func (h *channelHandlers) config(key string) JoinConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cfg := JoinConfig{Presence: PresenceConfig{Key: key}}
	for _, c := range h.changes {
		cfg.PostgresChanges = append(cfg.PostgresChanges, c.filter)
	}
	return cfg
}

func (h *channelHandlers) dispatch(msg Message) {
	switch msg.Event {
	case EventPostgresChanges:
		var p ChangePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic).Msg("Dropping malformed change frame")
			return
		}
		h.mu.RLock()
		handlers := append([]changeHandler(nil), h.changes...)
		h.mu.RUnlock()
		for _, c := range handlers {
			if c.filter.Matches(p.Data) {
				c.fn(p.Data)
			}
		}
	case EventPresenceState:
		var state PresenceState
		if err := json.Unmarshal(msg.Payload, &state); err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic).Msg("Dropping malformed presence frame")
			return
		}
		h.mu.RLock()
		handlers := append([]func(PresenceState){}, h.presence...)
		h.mu.RUnlock()
		for _, fn := range handlers {
			fn(state)
		}
	}
}

// LocalClient is an in-process Transport over a Broker
type LocalClient struct {
	broker *Broker
	key    string
}

// NewLocalClient creates a transport whose presence is tracked under presenceKey
func NewLocalClient(broker *Broker, presenceKey string) *LocalClient {
	return &LocalClient{broker: broker, key: presenceKey}
}

// Channel returns a new channel on topic
func (c *LocalClient) Channel(topic string) Channel {
	return &localChannel{client: c, topic: topic}
}

type localChannel struct {
	channelHandlers

	client *LocalClient
	topic  string

	memberMu sync.Mutex
	member   *Membership
}

func (ch *localChannel) Subscribe(ctx context.Context) error {
	ch.memberMu.Lock()
	defer ch.memberMu.Unlock()
	if ch.member != nil {
		return nil
	}
	ch.member = ch.client.broker.Join(ch.topic, "", ch.config(ch.client.key), ch.dispatch)
	return nil
}

func (ch *localChannel) Track(ctx context.Context, meta map[string]any) error {
	ch.memberMu.Lock()
	member := ch.member
	ch.memberMu.Unlock()
	if member == nil {
		return ErrNotSubscribed
	}
	member.Track(meta)
	return nil
}

func (ch *localChannel) Unsubscribe(ctx context.Context) error {
	ch.memberMu.Lock()
	member := ch.member
	ch.member = nil
	ch.memberMu.Unlock()
	if member != nil {
		member.Leave()
	}
	return nil
}

package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"wesal-sync-backend/internal/middleware"
	"wesal-sync-backend/internal/realtime"
	"wesal-sync-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const realtimeSendBuffer = 64

// RealtimeHandler serves the realtime channel endpoint over the broker
type RealtimeHandler struct {
	broker      *realtime.Broker
	userService *services.UserService
	policy      *services.AccessPolicy
}

// NewRealtimeHandler creates a new realtime handler
func NewRealtimeHandler(broker *realtime.Broker, userService *services.UserService, policy *services.AccessPolicy) *RealtimeHandler {
	return &RealtimeHandler{broker: broker, userService: userService, policy: policy}
}

// realtimeConn is one client connection. All writes go through the write pump.
type realtimeConn struct {
	conn   *websocket.Conn
	userID string
	send   chan realtime.Message
	done   chan struct{}

	mu      sync.Mutex
	members map[string]*realtime.Membership
}

// HandleRealtime handles GET /realtime/v1/websocket
func (h *RealtimeHandler) HandleRealtime(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateSocketToken(r, "access_token", h.userService)
	if err != nil {
		log.Warn().Err(err).Msg("Realtime auth failed")
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade realtime connection")
		return
	}

	c := &realtimeConn{
		conn:    conn,
		userID:  userID,
		send:    make(chan realtime.Message, realtimeSendBuffer),
		done:    make(chan struct{}),
		members: make(map[string]*realtime.Membership),
	}
	go c.writePump()
	defer c.close()

	log.Info().Str("user_id", userID).Msg("Realtime connection established")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("Realtime connection error")
			}
			return
		}

		var msg realtime.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to parse realtime frame")
			continue
		}
		h.handleMessage(r, c, msg)
	}
}

func (h *RealtimeHandler) handleMessage(r *http.Request, c *realtimeConn, msg realtime.Message) {
	switch msg.Event {
	case realtime.EventHeartbeat:
		c.reply(msg, realtime.ReplyOK, nil)

	case realtime.EventJoin:
		var payload realtime.JoinPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.reply(msg, realtime.ReplyError, map[string]string{"reason": "invalid join payload"})
			return
		}
		if err := h.authorizeJoin(r, c.userID, msg.Topic, payload.Config); err != nil {
			log.Warn().Err(err).Str("user_id", c.userID).Str("topic", msg.Topic).Msg("Realtime join rejected")
			c.reply(msg, realtime.ReplyError, map[string]string{"reason": "unauthorized"})
			return
		}

		// presence is always keyed by the authenticated user
		payload.Config.Presence.Key = c.userID
		joinRef := msg.JoinRef
		if joinRef == "" {
			joinRef = msg.Ref
		}

		c.mu.Lock()
		previous := c.members[msg.Topic]
		c.mu.Unlock()
		if previous != nil {
			previous.Leave()
		}

		c.reply(msg, realtime.ReplyOK, map[string]any{"postgres_changes": payload.Config.PostgresChanges})
		member := h.broker.Join(msg.Topic, joinRef, payload.Config, c.deliver)
		c.mu.Lock()
		c.members[msg.Topic] = member
		c.mu.Unlock()

	case realtime.EventPresence:
		member := c.member(msg.Topic)
		if member == nil {
			c.reply(msg, realtime.ReplyError, map[string]string{"reason": "not joined"})
			return
		}
		var payload realtime.PresencePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.reply(msg, realtime.ReplyError, map[string]string{"reason": "invalid presence payload"})
			return
		}
		switch payload.Event {
		case "track":
			member.Track(payload.Payload)
		case "untrack":
			member.Untrack()
		default:
			c.reply(msg, realtime.ReplyError, map[string]string{"reason": "unknown presence event"})
			return
		}
		c.reply(msg, realtime.ReplyOK, nil)

	case realtime.EventLeave:
		c.mu.Lock()
		member := c.members[msg.Topic]
		delete(c.members, msg.Topic)
		c.mu.Unlock()
		if member != nil {
			member.Leave()
		}
		c.reply(msg, realtime.ReplyOK, nil)

	default:
		c.reply(msg, realtime.ReplyError, map[string]string{"reason": "unknown event"})
	}
}

func (h *RealtimeHandler) authorizeJoin(r *http.Request, userID, topic string, cfg realtime.JoinConfig) error {
	ctx := r.Context()
	if err := h.policy.AuthorizeTopic(ctx, userID, topic); err != nil {
		return err
	}
	for _, f := range cfg.PostgresChanges {
		if err := h.policy.AuthorizeChange(ctx, userID, f); err != nil {
			return err
		}
	}
	return nil
}

func (c *realtimeConn) member(topic string) *realtime.Membership {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members[topic]
}

func (c *realtimeConn) reply(msg realtime.Message, status string, response any) {
	var raw json.RawMessage
	if response != nil {
		raw, _ = json.Marshal(response)
	}
	payload, _ := json.Marshal(realtime.ReplyPayload{Status: status, Response: raw})
	c.deliver(realtime.Message{
		Topic:   msg.Topic,
		Event:   realtime.EventReply,
		Payload: payload,
		Ref:     msg.Ref,
		JoinRef: msg.JoinRef,
	})
}

// deliver queues msg without blocking the broker
func (c *realtimeConn) deliver(msg realtime.Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		log.Warn().Str("user_id", c.userID).Str("topic", msg.Topic).Str("event", msg.Event).Msg("Realtime send buffer full, dropping frame")
	}
}

func (c *realtimeConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("user_id", c.userID).Msg("Realtime write failed")
				c.conn.Close()
				return
			}
		}
	}
}

func (c *realtimeConn) close() {
	c.mu.Lock()
	members := c.members
	c.members = map[string]*realtime.Membership{}
	c.mu.Unlock()
	for _, m := range members {
		m.Leave()
	}
	close(c.done)
	c.conn.Close()
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"wesal-sync-backend/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Socket namespaces
const (
	NamespacePairing  = "pairing"
	NamespaceGame     = "game"
	NamespaceConflict = "conflict"
)

// Socket events the hub produces or rewrites
const (
	EventError              = "error"
	EventPairingSuccess     = "pairing:success"
	EventPairingUnpaired    = "pairing:unpaired"
	EventConflictStartTimer = "conflict:start-timer"
)

// ErrNotConnected is returned when a user has no socket in a namespace
var ErrNotConnected = errors.New("user is not connected")

// ValidNamespace reports whether ns is a socket namespace
func ValidNamespace(ns string) bool {
	switch ns {
	case NamespacePairing, NamespaceGame, NamespaceConflict:
		return true
	}
	return false
}

// SocketFrame is the envelope of namespaced socket messages
type SocketFrame struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	From      string          `json:"from,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Conn is the write side of a socket connection
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Peer is a registered connection. Writes are serialized.
type Peer struct {
	mu   sync.Mutex
	conn Conn
}

func (p *Peer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Relay carries frames to users connected to another instance
type Relay interface {
	Publish(ctx context.Context, namespace, userID string, data []byte) error
}

type connKey struct {
	namespace string
	userID    string
}

// WSHub manages namespaced socket connections and relays frames between partners
type WSHub struct {
	mu          sync.RWMutex
	connections map[connKey]*Peer
	pairService *PairService
	relay       Relay
	now         func() time.Time
}

// NewWSHub creates a new socket hub
func NewWSHub(pairService *PairService) *WSHub {
	return &WSHub{
		connections: make(map[connKey]*Peer),
		pairService: pairService,
		now:         time.Now,
	}
}

// SetRelay enables delivery through another instance when a user is not connected here
func (h *WSHub) SetRelay(r Relay) {
	h.relay = r
}

// Register registers a connection, closing any previous one of the user in the namespace
func (h *WSHub) Register(namespace, userID string, conn Conn) *Peer {
	peer := &Peer{conn: conn}
	key := connKey{namespace, userID}

	h.mu.Lock()
	existing, replaced := h.connections[key]
	h.connections[key] = peer
	h.mu.Unlock()

	if replaced {
		existing.conn.Close()
	} else {
		metrics.SocketConnections.WithLabelValues(namespace).Inc()
	}

	log.Info().Str("namespace", namespace).Str("user_id", userID).Msg("Socket connection registered")
	return peer
}

// Unregister removes peer if it is still the user's connection in the namespace
func (h *WSHub) Unregister(namespace, userID string, peer *Peer) {
	key := connKey{namespace, userID}

	h.mu.Lock()
	current, ok := h.connections[key]
	if ok && current == peer {
		delete(h.connections, key)
	}
	h.mu.Unlock()

	if ok && current == peer {
		metrics.SocketConnections.WithLabelValues(namespace).Dec()
		log.Info().Str("namespace", namespace).Str("user_id", userID).Msg("Socket connection unregistered")
	}
	peer.conn.Close()
}

// IsOnline reports whether the user has a local connection in the namespace
func (h *WSHub) IsOnline(namespace, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[connKey{namespace, userID}]
	return ok
}

// DeliverLocal writes data to the local connection of the user
func (h *WSHub) DeliverLocal(namespace, userID string, data []byte) error {
	h.mu.RLock()
	peer, ok := h.connections[connKey{namespace, userID}]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	if err := peer.write(data); err != nil {
		h.Unregister(namespace, userID, peer)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendToUser sends a frame to the user, through the relay when not connected here
func (h *WSHub) SendToUser(ctx context.Context, namespace, userID string, frame SocketFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	err = h.DeliverLocal(namespace, userID, data)
	if errors.Is(err, ErrNotConnected) && h.relay != nil {
		return h.relay.Publish(ctx, namespace, userID, data)
	}
	return err
}

// HandleFrame processes a frame received from userID
func (h *WSHub) HandleFrame(ctx context.Context, namespace, userID string, frame SocketFrame) error {
	if frame.Event == "" {
		return fmt.Errorf("%w: event is required", ErrInvalidArgument)
	}
	metrics.SocketEvents.WithLabelValues(namespace, frame.Event).Inc()

	partnerID, err := h.pairService.PartnerID(ctx, userID)
	if err != nil {
		return err
	}

	frame.From = userID
	frame.Timestamp = h.now().UnixMilli()
	frame.Message = ""

	if namespace == NamespaceConflict && frame.Event == EventConflictStartTimer {
		return h.startTimer(ctx, userID, partnerID, frame)
	}

	if err := h.SendToUser(ctx, namespace, partnerID, frame); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// startTimer stamps the timer end and sends it to both partners so their
// countdowns agree.
func (h *WSHub) startTimer(ctx context.Context, userID, partnerID string, frame SocketFrame) error {
	duration := gjson.GetBytes(frame.Payload, "duration").Int()
	if duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
	}

	payload := map[string]any{
		"duration":   duration,
		"started_by": userID,
		"ends_at":    frame.Timestamp + duration*1000,
	}
	if phase := gjson.GetBytes(frame.Payload, "phase"); phase.Exists() {
		payload["phase"] = phase.Value()
	}
	frame.Payload, _ = json.Marshal(payload)

	for _, id := range []string{userID, partnerID} {
		if err := h.SendToUser(ctx, NamespaceConflict, id, frame); err != nil && !errors.Is(err, ErrNotConnected) {
			log.Error().Err(err).Str("user_id", id).Msg("Failed to send conflict timer")
		}
	}
	return nil
}

// SendError sends an error frame to the user's local connection
func (h *WSHub) SendError(namespace, userID, message string) {
	data, _ := json.Marshal(SocketFrame{Event: EventError, Message: message, Timestamp: h.now().UnixMilli()})
	if err := h.DeliverLocal(namespace, userID, data); err != nil && !errors.Is(err, ErrNotConnected) {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send error frame")
	}
}

// NotifyPaired tells both members of a new couple who their partner is
func (h *WSHub) NotifyPaired(ctx context.Context, pairID, userAID, userBID string) {
	for _, pair := range [][2]string{{userAID, userBID}, {userBID, userAID}} {
		payload, _ := json.Marshal(map[string]any{"pair_id": pairID, "partner_id": pair[1]})
		frame := SocketFrame{Event: EventPairingSuccess, Payload: payload, Timestamp: h.now().UnixMilli()}
		if err := h.SendToUser(ctx, NamespacePairing, pair[0], frame); err != nil && !errors.Is(err, ErrNotConnected) {
			log.Error().Err(err).Str("user_id", pair[0]).Msg("Failed to notify pairing success")
		}
	}
}

// NotifyUnpaired tells both former partners that the couple is gone
func (h *WSHub) NotifyUnpaired(ctx context.Context, pairID, byUserID string, userIDs ...string) {
	payload, _ := json.Marshal(map[string]any{"pair_id": pairID, "by": byUserID})
	frame := SocketFrame{Event: EventPairingUnpaired, Payload: payload, From: byUserID, Timestamp: h.now().UnixMilli()}
	for _, id := range userIDs {
		if err := h.SendToUser(ctx, NamespacePairing, id, frame); err != nil && !errors.Is(err, ErrNotConnected) {
			log.Error().Err(err).Str("user_id", id).Msg("Failed to notify unpairing")
		}
	}
}

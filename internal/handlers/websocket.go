package handlers

import (
	"encoding/json"
	"net/http"

	"wesal-sync-backend/internal/middleware"
	"wesal-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // native clients send no Origin
	},
}

// WebSocketHandler handles namespaced socket connections
type WebSocketHandler struct {
	hub         *services.WSHub
	userService *services.UserService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *services.WSHub, userService *services.UserService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		userService: userService,
	}
}

// HandleWebSocket handles GET /ws/{namespace}. The token is read from the
// `token` query parameter or the Authorization header.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	if !services.ValidNamespace(namespace) {
		respondError(w, "unknown namespace", http.StatusNotFound)
		return
	}

	userID, err := middleware.ValidateSocketToken(r, "token", h.userService)
	if err != nil {
		log.Warn().Err(err).Str("namespace", namespace).Msg("Socket auth failed")
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	peer := h.hub.Register(namespace, userID, conn)
	defer h.hub.Unregister(namespace, userID, peer)

	ctx := r.Context()
	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Str("namespace", namespace).Msg("WebSocket error")
			}
			return
		}

		var frame services.SocketFrame
		if err := json.Unmarshal(messageBytes, &frame); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to parse socket frame")
			h.hub.SendError(namespace, userID, "Invalid message format")
			continue
		}

		if err := h.hub.HandleFrame(ctx, namespace, userID, frame); err != nil {
			log.Error().Err(err).Str("user_id", userID).Str("namespace", namespace).Str("event", frame.Event).Msg("Failed to handle socket frame")
			h.hub.SendError(namespace, userID, err.Error())
		}
	}
}

package handlers

import (
	"encoding/json"
	"net/http"

	"wesal-sync-backend/internal/middleware"
	"wesal-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// PresenceHandler handles presence requests
type PresenceHandler struct {
	presenceService *services.PresenceService
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(presenceService *services.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

// SetPresenceRequest is the body of PUT /api/v1/presence
type SetPresenceRequest struct {
	IsOnline *bool `json:"is_online"`
}

// SetPresence handles PUT /api/v1/presence
func (h *PresenceHandler) SetPresence(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req SetPresenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsOnline == nil {
		respondError(w, "is_online is required", http.StatusBadRequest)
		return
	}

	presence, err := h.presenceService.SetPresence(r.Context(), userID, *req.IsOnline)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to set presence")
		respondServiceError(w, err, "Failed to set presence")
		return
	}
	respondJSON(w, presence, http.StatusOK)
}

// Touch handles POST /api/v1/presence/touch
func (h *PresenceHandler) Touch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.presenceService.Touch(r.Context(), userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to touch presence")
		respondServiceError(w, err, "Failed to touch presence")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPresence handles GET /api/v1/presence/{user_id}
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	targetID := chi.URLParam(r, "user_id")

	presence, err := h.presenceService.GetPresence(r.Context(), userID, targetID)
	if err != nil {
		respondServiceError(w, err, "Failed to get presence")
		return
	}
	respondJSON(w, presence, http.StatusOK)
}

package handlers

import (
	"encoding/json"
	"net/http"

	"wesal-sync-backend/internal/middleware"
	"wesal-sync-backend/internal/models"
	"wesal-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// SessionHandler handles activity session requests
type SessionHandler struct {
	sessionService *services.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService *services.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// FindSession handles GET /api/v1/sessions?couple_id=&activity_type=&activity_id=
func (h *SessionHandler) FindSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	q := r.URL.Query()
	key := models.SessionKey{
		CoupleID:     q.Get("couple_id"),
		ActivityType: models.ActivityType(q.Get("activity_type")),
		ActivityID:   q.Get("activity_id"),
	}

	session, err := h.sessionService.Find(r.Context(), userID, key)
	if err != nil {
		if statusCode(err) == http.StatusInternalServerError {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to find session")
		}
		respondServiceError(w, err, "Failed to find session")
		return
	}
	respondJSON(w, session, http.StatusOK)
}

// OpenSession handles POST /api/v1/sessions. Returns 201 when the row was created.
func (h *SessionHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req services.OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, created, err := h.sessionService.Open(r.Context(), userID, req)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to open session")
		respondServiceError(w, err, "Failed to open session")
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	respondJSON(w, session, code)
}

// UpdateStateRequest is the body of PUT /api/v1/sessions/{session_id}/state
type UpdateStateRequest struct {
	State json.RawMessage `json:"state"`
}

// UpdateState handles PUT /api/v1/sessions/{session_id}/state
func (h *SessionHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := chi.URLParam(r, "session_id")

	var req UpdateStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.sessionService.ReplaceState(r.Context(), userID, sessionID, req.State)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("session_id", sessionID).Msg("Failed to update session state")
		respondServiceError(w, err, "Failed to update session state")
		return
	}
	respondJSON(w, session, http.StatusOK)
}

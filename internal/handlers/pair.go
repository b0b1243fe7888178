package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"wesal-sync-backend/internal/middleware"
	"wesal-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// PairHandler handles pair-related HTTP requests
type PairHandler struct {
	pairService *services.PairService
	wsHub       *services.WSHub
}

// NewPairHandler creates a new pair handler
func NewPairHandler(pairService *services.PairService, wsHub *services.WSHub) *PairHandler {
	return &PairHandler{
		pairService: pairService,
		wsHub:       wsHub,
	}
}

// CreatePairRequest represents the request body for creating a pair
type CreatePairRequest struct {
	PartnerCode string `json:"partner_code"`
}

// CreatePair handles POST /api/v1/pairs
func (h *PairHandler) CreatePair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreatePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PartnerCode == "" {
		respondError(w, "partner_code is required", http.StatusBadRequest)
		return
	}

	couple, err := h.pairService.CreatePair(ctx, userID, req.PartnerCode)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("partner_code", req.PartnerCode).
			Msg("Failed to create pair")
		respondServiceError(w, err, "Failed to create pair")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("pair_id", couple.ID).
		Msg("Pair created")

	// the notification must outlive the request
	h.wsHub.NotifyPaired(context.WithoutCancel(ctx), couple.ID, couple.UserAID, couple.UserBID)

	respondJSON(w, couple, http.StatusOK)
}

// DeletePair handles DELETE /api/v1/pairs/{pair_id}
func (h *PairHandler) DeletePair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	pairID := chi.URLParam(r, "pair_id")

	if pairID == "" {
		respondError(w, "pair_id is required", http.StatusBadRequest)
		return
	}

	couple, err := h.pairService.DeletePair(ctx, pairID, userID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("pair_id", pairID).
			Msg("Failed to delete pair")
		respondServiceError(w, err, "Failed to delete pair")
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("pair_id", pairID).
		Msg("Pair deleted")

	h.wsHub.NotifyUnpaired(context.WithoutCancel(ctx), couple.ID, userID, couple.UserAID, couple.UserBID)

	w.WriteHeader(http.StatusNoContent)
}

// GetStatus handles GET /api/v1/pairing/status
func (h *PairHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	status, err := h.pairService.Status(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to get pairing status")
		respondServiceError(w, err, "Failed to get pairing status")
		return
	}
	respondJSON(w, status, http.StatusOK)
}

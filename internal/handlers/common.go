package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"wesal-sync-backend/internal/repository"
	"wesal-sync-backend/internal/services"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// respondJSON sends v with statusCode
func respondJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// statusCode maps service errors to HTTP status codes
func statusCode(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrNotPaired):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondServiceError sends err with its mapped status. Internal errors are not echoed.
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		respondError(w, fallback, code)
		return
	}
	respondError(w, err.Error(), code)
}

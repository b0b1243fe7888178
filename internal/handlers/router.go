package handlers

import (
	"net/http"

	"wesal-sync-backend/internal/metrics"
	"wesal-sync-backend/internal/middleware"
	"wesal-sync-backend/internal/realtime"
	"wesal-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Dependencies are the services the router serves
type Dependencies struct {
	Users    *services.UserService
	Pairs    *services.PairService
	Presence *services.PresenceService
	Sessions *services.SessionService
	Policy   *services.AccessPolicy
	Hub      *services.WSHub
	Broker   *realtime.Broker
}

// NewRouter builds the HTTP routes of the sync service
func NewRouter(d Dependencies) http.Handler {
	userHandler := NewUserHandler(d.Users)
	pairHandler := NewPairHandler(d.Pairs, d.Hub)
	sessionHandler := NewSessionHandler(d.Sessions)
	presenceHandler := NewPresenceHandler(d.Presence)
	wsHandler := NewWebSocketHandler(d.Hub, d.Users)
	realtimeHandler := NewRealtimeHandler(d.Broker, d.Users, d.Policy)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(d.Users))

			r.Put("/users/push-token", userHandler.UpdatePushToken)

			r.Get("/pairing/status", pairHandler.GetStatus)
			r.Post("/pairs", pairHandler.CreatePair)
			r.Delete("/pairs/{pair_id}", pairHandler.DeletePair)

			r.Get("/sessions", sessionHandler.FindSession)
			r.Post("/sessions", sessionHandler.OpenSession)
			r.Put("/sessions/{session_id}/state", sessionHandler.UpdateState)

			r.Put("/presence", presenceHandler.SetPresence)
			r.Post("/presence/touch", presenceHandler.Touch)
			r.Get("/presence/{user_id}", presenceHandler.GetPresence)
		})
	})

	// WebSocket routes
	r.Get("/realtime/v1/websocket", realtimeHandler.HandleRealtime)
	r.Get("/ws/{namespace}", wsHandler.HandleWebSocket)

	r.Handle("/metrics", metrics.Handler())

	return r
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

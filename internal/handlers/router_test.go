package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"wesal-sync-backend/internal/models"
	"wesal-sync-backend/internal/realtime"
	"wesal-sync-backend/internal/repository"
	"wesal-sync-backend/internal/services"
	"wesal-sync-backend/internal/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) http.Handler {
	users := storetest.NewUsers()
	sessions := storetest.NewSessions()
	pairService := services.NewPairService(storetest.NewCouples(), users, 0)
	t.Cleanup(pairService.Close)
	sessionService := services.NewSessionService(sessions, users, pairService, nil)

	return NewRouter(Dependencies{
		Users:    services.NewUserService(users, "test-secret"),
		Pairs:    pairService,
		Presence: services.NewPresenceService(users, pairService),
		Sessions: sessionService,
		Policy:   services.NewAccessPolicy(pairService, sessionService),
		Hub:      services.NewWSHub(pairService),
		Broker:   realtime.NewBroker(),
	})
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createUser(t *testing.T, h http.Handler) models.User {
	rec := call(t, h, http.MethodPost, "/api/v1/users", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var u models.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&u))
	return u
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", repository.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: bad", services.ErrInvalidArgument), http.StatusBadRequest},
		{services.ErrForbidden, http.StatusForbidden},
		{services.ErrConflict, http.StatusConflict},
		{services.ErrNotPaired, http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.err), tt.err.Error())
	}
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	rec := httptest.NewRecorder()
	respondServiceError(rec, errors.New("pq: password authentication failed"), "Failed to open session")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to open session"}`, rec.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestRouter(t)
	for _, route := range [][2]string{
		{http.MethodGet, "/api/v1/pairing/status"},
		{http.MethodPost, "/api/v1/sessions"},
		{http.MethodPut, "/api/v1/presence"},
	} {
		rec := call(t, h, route[0], route[1], "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route[1])
	}
}

func TestPresenceRequiresFlag(t *testing.T) {
	h := newTestRouter(t)
	u := createUser(t, h)

	rec := call(t, h, http.MethodPut, "/api/v1/presence", u.Token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h, http.MethodPut, "/api/v1/presence", u.Token, map[string]any{"is_online": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var p models.Presence
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.True(t, p.IsOnline)
	assert.Equal(t, u.ID, p.UserID)

	rec = call(t, h, http.MethodPost, "/api/v1/presence/touch", u.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestOpenSessionStatus(t *testing.T) {
	h := newTestRouter(t)
	alice := createUser(t, h)
	bob := createUser(t, h)

	rec := call(t, h, http.MethodPost, "/api/v1/pairs", alice.Token, map[string]string{"partner_code": bob.Code})
	require.Equal(t, http.StatusOK, rec.Code)
	var couple models.Couple
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&couple))

	body := map[string]string{"couple_id": couple.ID, "activity_type": "whisper", "activity_id": "w-1"}
	rec = call(t, h, http.MethodPost, "/api/v1/sessions", alice.Token, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Session
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.JSONEq(t, `{}`, string(created.State))

	rec = call(t, h, http.MethodPost, "/api/v1/sessions", bob.Token, body)
	assert.Equal(t, http.StatusOK, rec.Code, "existing rows are returned, not created")

	rec = call(t, h, http.MethodPut, "/api/v1/sessions/"+created.ID+"/state", bob.Token, map[string]any{"state": []int{1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "state must be an object")

	body["activity_type"] = "chess"
	rec = call(t, h, http.MethodPost, "/api/v1/sessions", alice.Token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownSocketNamespace(t *testing.T) {
	h := newTestRouter(t)
	rec := call(t, h, http.MethodGet, "/ws/chat", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, h, http.MethodGet, "/ws/game", "bad", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t)
	rec := call(t, h, http.MethodOptions, "/api/v1/sessions", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

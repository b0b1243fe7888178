package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticValidator map[string]string

func (v staticValidator) ValidateJWT(token string) (string, error) {
	id, ok := v[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return id, nil
}

func TestAuthMiddleware(t *testing.T) {
	validator := staticValidator{"good": "user-1"}
	var seen string
	h := AuthMiddleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token good", http.StatusUnauthorized},
		{"invalid", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "user-1", seen)
			}
		})
	}
}

func TestValidateSocketToken(t *testing.T) {
	validator := staticValidator{"good": "user-1"}

	req := httptest.NewRequest(http.MethodGet, "/ws/game?token=good", nil)
	id, err := ValidateSocketToken(req, "token", validator)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	req = httptest.NewRequest(http.MethodGet, "/ws/game", nil)
	req.Header.Set("Authorization", "Bearer good")
	id, err = ValidateSocketToken(req, "token", validator)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	req = httptest.NewRequest(http.MethodGet, "/ws/game", nil)
	_, err = ValidateSocketToken(req, "token", validator)
	assert.Error(t, err)
}

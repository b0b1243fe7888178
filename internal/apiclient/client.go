// Package apiclient calls the sync service REST API on behalf of one user.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wesal-sync-backend/internal/models"
)

const defaultTimeout = 30 * time.Second

// ErrNotFound matches APIErrors with status 404
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client is an authenticated API client
type Client struct {
	baseURL    string
	userID     string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a client for userID authenticated with token
func New(baseURL, userID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		userID:     userID,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates a user and returns a client authenticated as that user
func Register(ctx context.Context, baseURL string, opts ...Option) (*Client, *models.User, error) {
	c := New(baseURL, "", "", opts...)
	var user models.User
	if err := c.do(ctx, http.MethodPost, "/api/v1/users", nil, &user); err != nil {
		return nil, nil, fmt.Errorf("failed to register user: %w", err)
	}
	c.userID = user.ID
	c.token = user.Token
	return c, &user, nil
}

// UserID returns the authenticated user
func (c *Client) UserID() string {
	return c.userID
}

// Token returns the access token
func (c *Client) Token() string {
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// PairingStatus returns the pairing of the authenticated user
func (c *Client) PairingStatus(ctx context.Context) (models.PairingStatus, error) {
	var status models.PairingStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/pairing/status", nil, &status)
	return status, err
}

// Pair pairs with the owner of code
func (c *Client) Pair(ctx context.Context, code string) (*models.Couple, error) {
	var couple models.Couple
	if err := c.do(ctx, http.MethodPost, "/api/v1/pairs", map[string]string{"partner_code": code}, &couple); err != nil {
		return nil, err
	}
	return &couple, nil
}

// Unpair deletes the couple
func (c *Client) Unpair(ctx context.Context, pairID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/pairs/"+url.PathEscape(pairID), nil, nil)
}

// UpdatePushToken sets the device token. An empty token clears it.
func (c *Client) UpdatePushToken(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/users/push-token", map[string]string{"push_token": token}, nil)
}

// FindSession returns the session with key, or nil if there is none
func (c *Client) FindSession(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	q := url.Values{}
	q.Set("couple_id", key.CoupleID)
	q.Set("activity_type", string(key.ActivityType))
	q.Set("activity_id", key.ActivityID)

	var session models.Session
	err := c.do(ctx, http.MethodGet, "/api/v1/sessions?"+q.Encode(), nil, &session)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateSession opens the session. The server returns the existing row when
// the key already exists.
func (c *Client) CreateSession(ctx context.Context, s *models.Session) (*models.Session, error) {
	body := map[string]any{
		"couple_id":     s.CoupleID,
		"activity_type": s.ActivityType,
		"activity_id":   s.ActivityID,
	}
	if len(s.State) > 0 {
		body["state"] = s.State
	}

	var session models.Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SaveState replaces the state of a session
func (c *Client) SaveState(ctx context.Context, sessionID string, state json.RawMessage) (*models.Session, error) {
	var session models.Session
	path := "/api/v1/sessions/" + url.PathEscape(sessionID) + "/state"
	if err := c.do(ctx, http.MethodPut, path, map[string]json.RawMessage{"state": state}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SetPresence writes the online flag of the authenticated user
func (c *Client) SetPresence(ctx context.Context, online bool) error {
	return c.do(ctx, http.MethodPut, "/api/v1/presence", map[string]bool{"is_online": online}, nil)
}

// Touch refreshes last seen
func (c *Client) Touch(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/presence/touch", nil, nil)
}

// GetPresence reads the presence of the user or their partner
func (c *Client) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	var p models.Presence
	if err := c.do(ctx, http.MethodGet, "/api/v1/presence/"+url.PathEscape(userID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

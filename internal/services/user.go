package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"wesal-sync-backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	pairingCodeLength = 6
	// pairingAlphabet is what partners read out to each other
	pairingAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	pairingAttempts = 10

	tokenTTL = 365 * 24 * time.Hour
)

// ErrInvalidToken is returned for tokens that fail signature, method or claim checks
var ErrInvalidToken = errors.New("invalid token")

// tokenClaims are the claims of an anonymous device identity
type tokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// UserService issues anonymous identities: a user row, a pairing code the
// partner types in, and a bearer token for the API and realtime sockets
type UserService struct {
	users  UserStore
	secret []byte
	now    func() time.Time
}

// NewUserService creates a user service signing tokens with jwtSecret
func NewUserService(users UserStore, jwtSecret string) *UserService {
	return &UserService{
		users:  users,
		secret: []byte(jwtSecret),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser registers a new anonymous user. The user starts offline with
// last_seen_at set to the creation time.
func (s *UserService) CreateUser(ctx context.Context) (*models.User, error) {
	code, err := s.pairingCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		ID:         uuid.New().String(),
		Code:       code,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if user.Token, err = s.issueToken(user.ID, now); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// pairingCode draws codes until one is free
func (s *UserService) pairingCode(ctx context.Context) (string, error) {
	for i := 0; i < pairingAttempts; i++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		taken, err := s.users.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check pairing code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free pairing code after %d attempts", pairingAttempts)
}

func randomCode() (string, error) {
	size := big.NewInt(int64(len(pairingAlphabet)))
	code := make([]byte, pairingCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to draw pairing code: %w", err)
		}
		code[i] = pairingAlphabet[n.Int64()]
	}
	return string(code), nil
}

func (s *UserService) issueToken(userID string, now time.Time) (string, error) {
	claims := tokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateJWT returns the user a bearer token was issued to. Only HS256
// tokens signed with the service secret and carrying a user_id are accepted.
func (s *UserService) ValidateJWT(token string) (string, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims.UserID, nil
}

// UpdatePushToken registers the APNs device token of a user. Empty clears it.
func (s *UserService) UpdatePushToken(ctx context.Context, userID, pushToken string) error {
	var token *string
	if pushToken != "" {
		token = &pushToken
	}
	if err := s.users.UpdatePushToken(ctx, userID, token); err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	return nil
}

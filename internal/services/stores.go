package services

import (
	"context"
	"errors"
	"time"

	"wesal-sync-backend/internal/models"
)

var (
	// ErrNotPaired is returned when an operation needs a couple and the user has none
	ErrNotPaired = errors.New("user is not in a pair")
	// ErrForbidden is returned when the user may not act on a resource
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument wraps request validation failures
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict wraps pairing conflicts
	ErrConflict = errors.New("conflict")
)

// UserStore persists user profiles and their presence columns
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByCode(ctx context.Context, code string) (*models.User, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	UpdatePushToken(ctx context.Context, userID string, pushToken *string) error
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
	GetPresence(ctx context.Context, userID string) (*models.Presence, error)
}

// CoupleStore persists couples
type CoupleStore interface {
	Create(ctx context.Context, couple *models.Couple) error
	GetByID(ctx context.Context, id string) (*models.Couple, error)
	GetByUserID(ctx context.Context, userID string) (*models.Couple, error)
	Delete(ctx context.Context, id string) error
	UserHasPair(ctx context.Context, userID string) (bool, error)
}

// SessionStore persists activity sessions
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByKey(ctx context.Context, key models.SessionKey) (*models.Session, error)
	CreateOrGet(ctx context.Context, session *models.Session) (*models.Session, bool, error)
	UpdateState(ctx context.Context, id string, state []byte, at time.Time) (*models.Session, error)
	ListIdle(ctx context.Context, before time.Time, after models.IdleCursor, limit int) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
}

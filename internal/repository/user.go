package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wesal-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is wrapped by every repository lookup that matches no row
var ErrNotFound = errors.New("not found")

// UserRepository handles database operations for user profiles
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, code, token, push_token, is_online, last_seen_at, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Code, &user.Token, &user.PushToken,
		&user.IsOnline, &user.LastSeenAt, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, code, token, push_token, is_online, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	lastSeen := user.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = user.CreatedAt
	}
	_, err := r.db.Exec(ctx, query,
		user.ID, user.Code, user.Token, user.PushToken, user.IsOnline, lastSeen, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByCode retrieves a user by pairing code
func (r *UserRepository) GetByCode(ctx context.Context, code string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE code = $1`
	user, err := scanUser(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by code: %w", err)
	}
	return user, nil
}

// CodeExists checks if a code already exists
func (r *UserRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE code = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check code existence: %w", err)
	}
	return exists, nil
}

// UpdatePushToken updates the push token for a user
func (r *UserRepository) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	query := `UPDATE users SET push_token = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, pushToken, userID)
	if err != nil {
		return fmt.Errorf("failed to update push token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %w", ErrNotFound)
	}
	return nil
}

// SetPresence writes the online flag and last-seen timestamp
func (r *UserRepository) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	query := `UPDATE users SET is_online = $1, last_seen_at = $2 WHERE id = $3`
	result, err := r.db.Exec(ctx, query, online, at, userID)
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %w", ErrNotFound)
	}
	return nil
}

// TouchLastSeen refreshes last_seen_at without changing the online flag
func (r *UserRepository) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET last_seen_at = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, at, userID)
	if err != nil {
		return fmt.Errorf("failed to touch last seen: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %w", ErrNotFound)
	}
	return nil
}

// GetPresence reads the presence projection of a user row
func (r *UserRepository) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	query := `SELECT id, is_online, last_seen_at FROM users WHERE id = $1`
	var p models.Presence
	err := r.db.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.IsOnline, &p.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
	return &p, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wesal-sync-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository handles database operations for activity sessions
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, couple_id, activity_type, activity_id, mode, state, created_by, created_at, updated_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		s     models.Session
		state []byte
	)
	err := row.Scan(
		&s.ID, &s.CoupleID, &s.ActivityType, &s.ActivityID, &s.Mode,
		&state, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.State = models.NormalizeState(state)
	return &s, nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM activity_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetByKey retrieves the session for (couple, activity type, activity id)
func (r *SessionRepository) GetByKey(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM activity_sessions
		WHERE couple_id = $1 AND activity_type = $2 AND activity_id = $3
	`
	s, err := scanSession(r.db.QueryRow(ctx, query, key.CoupleID, key.ActivityType, key.ActivityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session by key: %w", err)
	}
	return s, nil
}

// CreateOrGet inserts the session unless a row with the same key exists, in
// which case the existing row is returned and created is false.
func (r *SessionRepository) CreateOrGet(ctx context.Context, session *models.Session) (*models.Session, bool, error) {
	query := `
		INSERT INTO activity_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (couple_id, activity_type, activity_id) DO NOTHING
		RETURNING ` + sessionColumns

	state := models.NormalizeState(session.State)
	s, err := scanSession(r.db.QueryRow(ctx, query,
		session.ID, session.CoupleID, session.ActivityType, session.ActivityID, session.Mode,
		string(state), session.CreatedBy, session.CreatedAt, session.UpdatedAt,
	))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	existing, err := r.GetByKey(ctx, session.Key())
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateState replaces the state blob. Last write wins.
func (r *SessionRepository) UpdateState(ctx context.Context, id string, state []byte, at time.Time) (*models.Session, error) {
	query := `
		UPDATE activity_sessions SET state = $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + sessionColumns
	s, err := scanSession(r.db.QueryRow(ctx, query, string(models.NormalizeState(state)), at, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update session state: %w", err)
	}
	return s, nil
}

// ListIdle returns up to limit sessions not updated since before, in
// (updated_at, id) order, starting after the cursor
func (r *SessionRepository) ListIdle(ctx context.Context, before time.Time, after models.IdleCursor, limit int) ([]*models.Session, error) {
	afterID := after.ID
	if afterID == "" {
		afterID = uuid.Nil.String()
	}
	query := `
		SELECT ` + sessionColumns + `
		FROM activity_sessions
		WHERE updated_at < $1 AND (updated_at, id) > ($2, $3::uuid)
		ORDER BY updated_at ASC, id ASC
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, before, after.UpdatedAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// Delete deletes a session by ID
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM activity_sessions WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %w", ErrNotFound)
	}
	return nil
}

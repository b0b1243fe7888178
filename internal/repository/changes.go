package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wesal-sync-backend/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// ChangeChannel is the NOTIFY channel the row triggers write to
const ChangeChannel = "row_changes"

const (
	TableUsers    = "users"
	TableSessions = "activity_sessions"
)

// ChangeListener turns Postgres notifications into realtime changes.
// Triggers only send {table, type, id}; rows are re-read so payloads never hit
// the NOTIFY size limit and tokens never leave the users table.
type ChangeListener struct {
	db       *pgxpool.Pool
	users    *UserRepository
	sessions *SessionRepository
	publish  func(realtime.Change) int
}

// NewChangeListener creates a listener publishing to fn
func NewChangeListener(db *pgxpool.Pool, users *UserRepository, sessions *SessionRepository, fn func(realtime.Change) int) *ChangeListener {
	return &ChangeListener{db: db, users: users, sessions: sessions, publish: fn}
}

// Run listens until ctx is done, reconnecting after failures
func (l *ChangeListener) Run(ctx context.Context) {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("Change listener stopped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (l *ChangeListener) listen(ctx context.Context) error {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	log.Info().Str("channel", ChangeChannel).Msg("Listening for row changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("failed to wait for notification: %w", err)
		}
		change, err := l.resolve(ctx, n.Payload)
		if err != nil {
			log.Error().Err(err).Str("payload", n.Payload).Msg("Failed to resolve row change")
			continue
		}
		l.publish(change)
	}
}

// resolve builds the change for a notification payload
func (l *ChangeListener) resolve(ctx context.Context, payload string) (realtime.Change, error) {
	note := gjson.Parse(payload)
	change := realtime.Change{
		Schema:          "public",
		Table:           note.Get("table").String(),
		Type:            realtime.ChangeType(note.Get("type").String()),
		CommitTimestamp: time.Now().UTC(),
	}
	if ts := note.Get("at"); ts.Exists() {
		change.CommitTimestamp = ts.Time()
	}
	id := note.Get("id").String()
	if id == "" {
		return change, errors.New("notification without id")
	}

	if change.Type == realtime.ChangeDelete {
		change.OldRecord = json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))
		return change, nil
	}

	var (
		record any
		err    error
	)
	switch change.Table {
	case TableUsers:
		record, err = l.users.GetPresence(ctx, id)
	case TableSessions:
		record, err = l.sessions.GetByID(ctx, id)
	default:
		return change, fmt.Errorf("unknown table %q", change.Table)
	}
	if err != nil {
		return change, err
	}

	change.Record, err = json.Marshal(record)
	if err != nil {
		return change, fmt.Errorf("failed to marshal record: %w", err)
	}
	return change, nil
}

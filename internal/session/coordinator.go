// Package session keeps the shared state of a two-party activity in sync
// between partners, falling back to device-local state when it cannot.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wesal-sync-backend/internal/models"
	"wesal-sync-backend/internal/realtime"

	"github.com/rs/zerolog/log"
)

// Pairing resolves the current user's pairing
type Pairing interface {
	PairingStatus(ctx context.Context) (models.PairingStatus, error)
}

// Store reads and writes session rows. FindSession returns nil without an
// error when no row exists. CreateSession returns the existing row when one
// with the same key was created concurrently.
type Store interface {
	FindSession(ctx context.Context, key models.SessionKey) (*models.Session, error)
	CreateSession(ctx context.Context, s *models.Session) (*models.Session, error)
	SaveState(ctx context.Context, sessionID string, state json.RawMessage) (*models.Session, error)
}

// Activity identifies the activity instance a coordinator is for
type Activity struct {
	UserID string
	Type   models.ActivityType
	ID     string
}

// View is a snapshot of the coordinator
type View struct {
	Initialized  bool
	Mode         models.SyncMode
	Session      *models.Session
	Participants []map[string]any
	Err          string
}

// Coordinator owns one activity session. Uninitialized until InitSession,
// then Local or Remote for the rest of its life.
type Coordinator struct {
	activity  Activity
	pairing   Pairing
	store     Store
	transport realtime.Transport
	now       func() time.Time

	initMu sync.Mutex

	mu           sync.RWMutex
	initialized  bool
	mode         models.SyncMode
	session      *models.Session
	participants []map[string]any
	err          string
	channel      realtime.Channel
}

// New creates a coordinator
func New(activity Activity, pairing Pairing, store Store, transport realtime.Transport) *Coordinator {
	return &Coordinator{
		activity:  activity,
		pairing:   pairing,
		store:     store,
		transport: transport,
		now:       time.Now,
		mode:      models.ModeLocal,
	}
}

// Topic returns the realtime topic of a session
func Topic(sessionID string) string {
	return "session:" + sessionID
}

// InitSession picks the sync mode and, for remote, opens and subscribes to the
// shared session. Unpaired users and failures end in local mode; failures are
// reported through View.Err. Calls after the first return the chosen mode.
func (c *Coordinator) InitSession(ctx context.Context, selected models.SyncMode) models.SyncMode {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.RLock()
	if c.initialized {
		mode := c.mode
		c.mu.RUnlock()
		return mode
	}
	c.mu.RUnlock()

	status, err := c.pairing.PairingStatus(ctx)
	if err != nil {
		return c.fallback(fmt.Errorf("failed to get pairing status: %w", err))
	}
	if !status.IsPaired || selected != models.ModeRemote {
		c.setLocal("")
		return models.ModeLocal
	}

	session, err := c.open(ctx, status.CoupleID)
	if err != nil {
		return c.fallback(err)
	}

	// Set before subscribing so changes delivered during the join apply.
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	channel, err := c.subscribe(ctx, session.ID)
	if err != nil {
		return c.fallback(err)
	}

	c.mu.Lock()
	c.initialized = true
	c.mode = models.ModeRemote
	c.channel = channel
	c.err = ""
	c.mu.Unlock()

	log.Info().
		Str("user_id", c.activity.UserID).
		Str("session_id", session.ID).
		Str("activity_type", string(session.ActivityType)).
		Msg("Remote session ready")
	return models.ModeRemote
}

func (c *Coordinator) open(ctx context.Context, coupleID string) (*models.Session, error) {
	key := models.SessionKey{CoupleID: coupleID, ActivityType: c.activity.Type, ActivityID: c.activity.ID}

	session, err := c.store.FindSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session != nil {
		return session, nil
	}

	now := c.now().UTC()
	session, err = c.store.CreateSession(ctx, &models.Session{
		CoupleID:     key.CoupleID,
		ActivityType: key.ActivityType,
		ActivityID:   key.ActivityID,
		Mode:         models.ModeRemote,
		State:        models.NormalizeState(nil),
		CreatedBy:    c.activity.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

func (c *Coordinator) subscribe(ctx context.Context, sessionID string) (realtime.Channel, error) {
	channel := c.transport.Channel(Topic(sessionID))
	channel.OnPostgresChanges(realtime.ChangeFilter{
		Event:  realtime.ChangeAll,
		Table:  "activity_sessions",
		Filter: realtime.EqFilter("id", sessionID),
	}, c.handleChange)
	channel.OnPresenceSync(c.handlePresence)

	if err := channel.Subscribe(ctx); err != nil {
		channel.Unsubscribe(ctx)
		return nil, fmt.Errorf("failed to subscribe to session: %w", err)
	}

	meta := map[string]any{
		"user_id":   c.activity.UserID,
		"online_at": c.now().UTC().Format(time.RFC3339),
	}
	if err := channel.Track(ctx, meta); err != nil {
		channel.Unsubscribe(ctx)
		return nil, fmt.Errorf("failed to track session presence: %w", err)
	}
	return channel, nil
}

func (c *Coordinator) fallback(err error) models.SyncMode {
	log.Error().Err(err).
		Str("user_id", c.activity.UserID).
		Str("activity_id", c.activity.ID).
		Msg("Session init failed, falling back to local mode")
	c.setLocal(err.Error())
	return models.ModeLocal
}

func (c *Coordinator) setLocal(errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	c.mode = models.ModeLocal
	c.session = nil
	c.err = errMsg
}

// UpdateState merges patch over the session state. The merge is visible
// through Snapshot before the write is sent. A failed write keeps the merged
// state, sets View.Err and returns the error. No-op in local mode.
func (c *Coordinator) UpdateState(ctx context.Context, patch map[string]any) error {
	c.mu.Lock()
	if c.mode != models.ModeRemote || c.session == nil {
		c.mu.Unlock()
		return nil
	}
	merged, err := models.MergeState(c.session.State, patch)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.session.State = merged
	c.session.UpdatedAt = c.now().UTC()
	sessionID := c.session.ID
	c.mu.Unlock()

	if _, err := c.store.SaveState(ctx, sessionID, merged); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to save session state")
		c.mu.Lock()
		c.err = err.Error()
		c.mu.Unlock()
		return fmt.Errorf("failed to save session state: %w", err)
	}
	return nil
}

// handleChange replaces the local session with the row from a change event
func (c *Coordinator) handleChange(change realtime.Change) {
	if change.Type == realtime.ChangeDelete {
		log.Warn().Str("user_id", c.activity.UserID).Msg("Session row deleted")
		return
	}

	var row models.Session
	if err := json.Unmarshal(change.Record, &row); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed session change")
		return
	}
	row.State = models.NormalizeState(row.State)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.ID != row.ID {
		return
	}
	c.session = &row
}

func (c *Coordinator) handlePresence(state realtime.PresenceState) {
	roster := state.Flatten()
	c.mu.Lock()
	c.participants = roster
	c.mu.Unlock()
}

// Snapshot returns the current view. The session is a copy.
func (c *Coordinator) Snapshot() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return View{
		Initialized:  c.initialized,
		Mode:         c.mode,
		Session:      c.session.Clone(),
		Participants: append([]map[string]any(nil), c.participants...),
		Err:          c.err,
	}
}

// Close leaves the session channel. The session row stays for the next entry.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	channel := c.channel
	c.channel = nil
	c.mu.Unlock()

	if channel == nil {
		return nil
	}
	return channel.Unsubscribe(ctx)
}

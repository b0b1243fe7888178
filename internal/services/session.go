package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"wesal-sync-backend/internal/metrics"
	"wesal-sync-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OpenSessionRequest asks for the remote session of an activity
type OpenSessionRequest struct {
	CoupleID     string              `json:"couple_id"`
	ActivityType models.ActivityType `json:"activity_type"`
	ActivityID   string              `json:"activity_id"`
	State        json.RawMessage     `json:"state,omitempty"`
}

// SessionService owns activity session rows. Writes are last-write-wins.
type SessionService struct {
	sessions SessionStore
	users    UserStore
	pairs    *PairService
	notifier Notifier
	now      func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(sessions SessionStore, users UserStore, pairs *PairService, notifier Notifier) *SessionService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &SessionService{
		sessions: sessions,
		users:    users,
		pairs:    pairs,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// coupleOf returns the couple id of userID, or ErrNotPaired
func (s *SessionService) coupleOf(ctx context.Context, userID string) (models.PairingStatus, error) {
	status, err := s.pairs.Status(ctx, userID)
	if err != nil {
		return status, err
	}
	if !status.IsPaired {
		return status, ErrNotPaired
	}
	return status, nil
}

func validateKey(key models.SessionKey) error {
	if key.CoupleID == "" || key.ActivityID == "" {
		return fmt.Errorf("%w: couple_id and activity_id are required", ErrInvalidArgument)
	}
	if !key.ActivityType.Valid() {
		return fmt.Errorf("%w: unknown activity type %q", ErrInvalidArgument, key.ActivityType)
	}
	return nil
}

// Find returns the session for key. The caller must belong to the couple.
func (s *SessionService) Find(ctx context.Context, userID string, key models.SessionKey) (*models.Session, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	status, err := s.coupleOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status.CoupleID != key.CoupleID {
		return nil, fmt.Errorf("%w: session of another couple", ErrForbidden)
	}
	return s.sessions.GetByKey(ctx, key)
}

// Open returns the session for the request key, creating it with an empty
// state when none exists. Concurrent opens of one key return the same row.
func (s *SessionService) Open(ctx context.Context, userID string, req OpenSessionRequest) (*models.Session, bool, error) {
	status, err := s.coupleOf(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if req.CoupleID == "" {
		req.CoupleID = status.CoupleID
	}
	key := models.SessionKey{CoupleID: req.CoupleID, ActivityType: req.ActivityType, ActivityID: req.ActivityID}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	if status.CoupleID != key.CoupleID {
		return nil, false, fmt.Errorf("%w: session of another couple", ErrForbidden)
	}

	state := models.NormalizeState(req.State)
	if !models.IsStateObject(state) {
		return nil, false, fmt.Errorf("%w: state must be a JSON object", ErrInvalidArgument)
	}

	now := s.now()
	session, created, err := s.sessions.CreateOrGet(ctx, &models.Session{
		ID:           uuid.New().String(),
		CoupleID:     key.CoupleID,
		ActivityType: key.ActivityType,
		ActivityID:   key.ActivityID,
		Mode:         models.ModeRemote,
		State:        state,
		CreatedBy:    userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to open session: %w", err)
	}

	metrics.SessionsOpened.WithLabelValues(string(key.ActivityType), strconv.FormatBool(created)).Inc()
	log.Info().
		Str("user_id", userID).
		Str("session_id", session.ID).
		Str("activity_type", string(session.ActivityType)).
		Bool("created", created).
		Msg("Session opened")

	if created {
		s.invitePartner(ctx, userID, status.PartnerID, session)
	}
	return session, created, nil
}

// invitePartner pushes an invite when the partner is offline with a device token
func (s *SessionService) invitePartner(ctx context.Context, userID, partnerID string, session *models.Session) {
	partner, err := s.users.GetByID(ctx, partnerID)
	if err != nil {
		log.Error().Err(err).Str("user_id", partnerID).Msg("Failed to load partner for invite")
		return
	}
	if partner.IsOnline || partner.PushToken == nil || *partner.PushToken == "" {
		return
	}

	n := Notification{
		Title: "Wesal",
		Body:  "Your partner started a " + string(session.ActivityType) + " together",
		Data: map[string]any{
			"session_id":    session.ID,
			"activity_type": string(session.ActivityType),
			"activity_id":   session.ActivityID,
			"from":          userID,
		},
	}
	if err := s.notifier.Notify(ctx, *partner.PushToken, n); err != nil {
		log.Error().Err(err).Str("user_id", partnerID).Str("session_id", session.ID).Msg("Failed to push session invite")
	}
}

// ReplaceState overwrites the session state. The caller must belong to the couple.
func (s *SessionService) ReplaceState(ctx context.Context, userID, sessionID string, state json.RawMessage) (*models.Session, error) {
	if !models.IsStateObject(state) {
		return nil, fmt.Errorf("%w: state must be a JSON object", ErrInvalidArgument)
	}
	if err := s.authorizeSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	session, err := s.sessions.UpdateState(ctx, sessionID, state, s.now())
	if err != nil {
		return nil, err
	}
	log.Debug().Str("user_id", userID).Str("session_id", sessionID).Msg("Session state replaced")
	return session, nil
}

// authorizeSession checks that sessionID belongs to the couple of userID
func (s *SessionService) authorizeSession(ctx context.Context, userID, sessionID string) error {
	status, err := s.coupleOf(ctx, userID)
	if err != nil {
		return err
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CoupleID != status.CoupleID {
		return fmt.Errorf("%w: session of another couple", ErrForbidden)
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wesal-sync-backend/internal/metrics"
	"wesal-sync-backend/internal/models"
)

// PresenceService writes the caller's presence columns and reads a partner's.
// Presence is advisory: nothing here forces a user offline.
type PresenceService struct {
	users UserStore
	pairs *PairService
	now   func() time.Time
}

// NewPresenceService creates a new presence service
func NewPresenceService(users UserStore, pairs *PairService) *PresenceService {
	return &PresenceService{
		users: users,
		pairs: pairs,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetPresence marks the user online or offline and stamps last_seen_at
func (s *PresenceService) SetPresence(ctx context.Context, userID string, online bool) (*models.Presence, error) {
	at := s.now()
	if err := s.users.SetPresence(ctx, userID, online, at); err != nil {
		return nil, fmt.Errorf("failed to set presence: %w", err)
	}

	kind := "offline"
	if online {
		kind = "online"
	}
	metrics.PresenceWrites.WithLabelValues(kind).Inc()

	return &models.Presence{UserID: userID, IsOnline: online, LastSeenAt: at}, nil
}

// Touch refreshes last_seen_at only
func (s *PresenceService) Touch(ctx context.Context, userID string) error {
	if err := s.users.TouchLastSeen(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to touch presence: %w", err)
	}
	metrics.PresenceWrites.WithLabelValues("touch").Inc()
	return nil
}

// GetPresence returns the presence of targetID if it is the caller or the caller's partner
func (s *PresenceService) GetPresence(ctx context.Context, callerID, targetID string) (*models.Presence, error) {
	if callerID != targetID {
		partnerID, err := s.pairs.PartnerID(ctx, callerID)
		if err != nil {
			if errors.Is(err, ErrNotPaired) {
				return nil, fmt.Errorf("%w: presence of another user", ErrForbidden)
			}
			return nil, err
		}
		if partnerID != targetID {
			return nil, fmt.Errorf("%w: presence of another user", ErrForbidden)
		}
	}
	return s.users.GetPresence(ctx, targetID)
}

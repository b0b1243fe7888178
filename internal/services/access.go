package services

import (
	"context"
	"fmt"
	"strings"

	"wesal-sync-backend/internal/realtime"
	"wesal-sync-backend/internal/repository"
)

// Realtime topic prefixes
const (
	TopicSessionPrefix  = "session:"
	TopicPresencePrefix = "presence:"
)

// AccessPolicy decides which realtime topics and change filters a user may join
type AccessPolicy struct {
	pairs    *PairService
	sessions *SessionService
}

// NewAccessPolicy creates a new access policy
func NewAccessPolicy(pairs *PairService, sessions *SessionService) *AccessPolicy {
	return &AccessPolicy{pairs: pairs, sessions: sessions}
}

// AuthorizeTopic allows `session:<id>` of the caller's couple and
// `presence:<user>` of the caller or partner.
func (p *AccessPolicy) AuthorizeTopic(ctx context.Context, userID, topic string) error {
	switch {
	case strings.HasPrefix(topic, TopicSessionPrefix):
		return p.sessions.authorizeSession(ctx, userID, strings.TrimPrefix(topic, TopicSessionPrefix))
	case strings.HasPrefix(topic, TopicPresencePrefix):
		return p.authorizeUser(ctx, userID, strings.TrimPrefix(topic, TopicPresencePrefix))
	}
	return fmt.Errorf("%w: unknown topic %q", ErrForbidden, topic)
}

// AuthorizeChange allows user rows of the caller or partner and session rows
// of the caller's couple. Filters are required.
func (p *AccessPolicy) AuthorizeChange(ctx context.Context, userID string, filter realtime.ChangeFilter) error {
	column, value, ok := realtime.ParseEqFilter(filter.Filter)
	if !ok {
		return fmt.Errorf("%w: filter %q on %s", ErrForbidden, filter.Filter, filter.Table)
	}

	switch filter.Table {
	case repository.TableUsers:
		if column != "id" {
			break
		}
		return p.authorizeUser(ctx, userID, value)
	case repository.TableSessions:
		switch column {
		case "id":
			return p.sessions.authorizeSession(ctx, userID, value)
		case "couple_id":
			status, err := p.sessions.coupleOf(ctx, userID)
			if err != nil {
				return err
			}
			if status.CoupleID != value {
				return fmt.Errorf("%w: sessions of another couple", ErrForbidden)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: filter %q on %s", ErrForbidden, filter.Filter, filter.Table)
}

func (p *AccessPolicy) authorizeUser(ctx context.Context, userID, targetID string) error {
	if targetID == userID {
		return nil
	}
	partnerID, err := p.pairs.PartnerID(ctx, userID)
	if err != nil {
		return err
	}
	if partnerID != targetID {
		return fmt.Errorf("%w: user %s", ErrForbidden, targetID)
	}
	return nil
}

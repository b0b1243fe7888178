package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wesal-sync-backend/internal/models"
	"wesal-sync-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// PairService handles pairing and resolves pairing status
type PairService struct {
	couples CoupleStore
	users   UserStore
	status  *ttlcache.Cache[string, models.PairingStatus]
}

// NewPairService creates a new pair service. Status lookups are cached for
// cacheTTL; zero disables the cache.
func NewPairService(couples CoupleStore, users UserStore, cacheTTL time.Duration) *PairService {
	s := &PairService{
		couples: couples,
		users:   users,
	}
	if cacheTTL > 0 {
		s.status = ttlcache.New[string, models.PairingStatus](
			ttlcache.WithTTL[string, models.PairingStatus](cacheTTL),
		)
		go s.status.Start()
	}
	return s
}

// Close stops the cache janitor
func (s *PairService) Close() {
	if s.status != nil {
		s.status.Stop()
	}
}

// CreatePair creates a new couple between the user and the owner of partnerCode
func (s *PairService) CreatePair(ctx context.Context, userAID, partnerCode string) (*models.Couple, error) {
	if len(partnerCode) != pairingCodeLength {
		return nil, fmt.Errorf("%w: partner code must be 6 characters", ErrInvalidArgument)
	}

	partnerUser, err := s.users.GetByCode(ctx, partnerCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("partner not found: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}

	userBID := partnerUser.ID
	if userAID == userBID {
		return nil, fmt.Errorf("%w: cannot create pair with yourself", ErrConflict)
	}

	hasPair, err := s.couples.UserHasPair(ctx, userAID)
	if err != nil {
		return nil, fmt.Errorf("failed to check if user has pair: %w", err)
	}
	if hasPair {
		return nil, fmt.Errorf("%w: user is already in a pair", ErrConflict)
	}

	partnerHasPair, err := s.couples.UserHasPair(ctx, userBID)
	if err != nil {
		return nil, fmt.Errorf("failed to check if partner has pair: %w", err)
	}
	if partnerHasPair {
		return nil, fmt.Errorf("%w: partner is already in a pair", ErrConflict)
	}

	// user_a_id is the smaller id
	if userAID > userBID {
		userAID, userBID = userBID, userAID
	}

	couple := &models.Couple{
		ID:        uuid.New().String(),
		UserAID:   userAID,
		UserBID:   userBID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.couples.Create(ctx, couple); err != nil {
		return nil, fmt.Errorf("failed to create pair: %w", err)
	}

	s.invalidate(couple.UserAID, couple.UserBID)
	return couple, nil
}

// DeletePair deletes a couple if the user is a member and returns it
func (s *PairService) DeletePair(ctx context.Context, pairID, userID string) (*models.Couple, error) {
	couple, err := s.couples.GetByID(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if !couple.HasMember(userID) {
		return nil, fmt.Errorf("%w: user is not a member of this pair", ErrForbidden)
	}

	if err := s.couples.Delete(ctx, pairID); err != nil {
		return nil, fmt.Errorf("failed to delete pair: %w", err)
	}

	s.invalidate(couple.UserAID, couple.UserBID)
	return couple, nil
}

// GetPairByUserID gets the couple of a user
func (s *PairService) GetPairByUserID(ctx context.Context, userID string) (*models.Couple, error) {
	return s.couples.GetByUserID(ctx, userID)
}

// Status resolves whether userID is paired, and with whom
func (s *PairService) Status(ctx context.Context, userID string) (models.PairingStatus, error) {
	if s.status != nil {
		if item := s.status.Get(userID); item != nil {
			return item.Value(), nil
		}
	}

	var status models.PairingStatus
	couple, err := s.couples.GetByUserID(ctx, userID)
	switch {
	case err == nil:
		status = models.PairingStatus{
			IsPaired:  true,
			CoupleID:  couple.ID,
			PartnerID: couple.PartnerOf(userID),
		}
	case errors.Is(err, repository.ErrNotFound):
		status = models.PairingStatus{}
	default:
		return models.PairingStatus{}, fmt.Errorf("failed to resolve pairing status: %w", err)
	}

	if s.status != nil {
		s.status.Set(userID, status, ttlcache.DefaultTTL)
	}
	return status, nil
}

// PartnerID returns the partner of userID, or ErrNotPaired
func (s *PairService) PartnerID(ctx context.Context, userID string) (string, error) {
	status, err := s.Status(ctx, userID)
	if err != nil {
		return "", err
	}
	if !status.IsPaired {
		return "", ErrNotPaired
	}
	return status.PartnerID, nil
}

func (s *PairService) invalidate(userIDs ...string) {
	if s.status == nil {
		return
	}
	for _, id := range userIDs {
		s.status.Delete(id)
	}
}

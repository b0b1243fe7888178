package services

import (
	"context"
	"testing"
	"time"

	"wesal-sync-backend/internal/models"
	"wesal-sync-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePairOrdersMembers(t *testing.T) {
	users, _ := pairedFixture()
	couples := newMemCouples()
	svc := NewPairService(couples, users, 0)

	couple, err := svc.CreatePair(context.Background(), bobID, "ALICE1")
	require.NoError(t, err)
	assert.Equal(t, aliceID, couple.UserAID)
	assert.Equal(t, bobID, couple.UserBID)
}

func TestCreatePairErrors(t *testing.T) {
	users, couples := pairedFixture()
	svc := NewPairService(couples, users, 0)
	ctx := context.Background()

	_, err := svc.CreatePair(ctx, carolID, "abc")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.CreatePair(ctx, carolID, "NOPE00")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = svc.CreatePair(ctx, carolID, "CAROL3")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.CreatePair(ctx, carolID, "ALICE1")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeletePairRequiresMember(t *testing.T) {
	users, couples := pairedFixture()
	svc := NewPairService(couples, users, 0)

	_, err := svc.DeletePair(context.Background(), coupleID, carolID)
	assert.ErrorIs(t, err, ErrForbidden)

	couple, err := svc.DeletePair(context.Background(), coupleID, bobID)
	require.NoError(t, err)
	assert.Equal(t, aliceID, couple.PartnerOf(bobID))
}

func TestStatusIsCachedAndInvalidated(t *testing.T) {
	users, couples := pairedFixture()
	svc := NewPairService(couples, users, time.Minute)
	defer svc.Close()
	ctx := context.Background()

	status, err := svc.Status(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, models.PairingStatus{IsPaired: true, CoupleID: coupleID, PartnerID: bobID}, status)

	_, err = svc.Status(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, 1, couples.lookupCount())

	_, err = svc.DeletePair(ctx, coupleID, aliceID)
	require.NoError(t, err)

	status, err = svc.Status(ctx, aliceID)
	require.NoError(t, err)
	assert.False(t, status.IsPaired)

	_, err = svc.PartnerID(ctx, aliceID)
	assert.ErrorIs(t, err, ErrNotPaired)
}

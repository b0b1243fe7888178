package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPresenceStampsLastSeen(t *testing.T) {
	users, couples := pairedFixture()
	svc := NewPresenceService(users, NewPairService(couples, users, 0))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }
	ctx := context.Background()

	p, err := svc.SetPresence(ctx, aliceID, false)
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.Equal(t, at, p.LastSeenAt)

	svc.now = func() time.Time { return at.Add(time.Minute) }
	require.NoError(t, svc.Touch(ctx, aliceID))

	stored, err := users.GetPresence(ctx, aliceID)
	require.NoError(t, err)
	assert.False(t, stored.IsOnline)
	assert.Equal(t, at.Add(time.Minute), stored.LastSeenAt)
}

func TestGetPresenceSelfOrPartnerOnly(t *testing.T) {
	users, couples := pairedFixture()
	svc := NewPresenceService(users, NewPairService(couples, users, 0))
	ctx := context.Background()

	_, err := svc.GetPresence(ctx, aliceID, aliceID)
	require.NoError(t, err)

	p, err := svc.GetPresence(ctx, aliceID, bobID)
	require.NoError(t, err)
	assert.Equal(t, bobID, p.UserID)

	_, err = svc.GetPresence(ctx, aliceID, carolID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GetPresence(ctx, carolID, aliceID)
	assert.ErrorIs(t, err, ErrForbidden)
}

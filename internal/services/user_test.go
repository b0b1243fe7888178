package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserIssuesValidToken(t *testing.T) {
	users := newMemUsers()
	svc := NewUserService(users, "secret")

	user, err := svc.CreateUser(context.Background())
	require.NoError(t, err)
	assert.Len(t, user.Code, pairingCodeLength)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, user.Code)
	assert.False(t, user.LastSeenAt.IsZero())

	id, err := svc.ValidateJWT(user.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)

	stored, err := users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Code, stored.Code)
}

func TestValidateJWTRejectsOtherSecret(t *testing.T) {
	token, err := NewUserService(newMemUsers(), "one").issueToken(aliceID, time.Now())
	require.NoError(t, err)

	_, err = NewUserService(newMemUsers(), "two").ValidateJWT(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateJWTRejectsOtherMethodsAndClaims(t *testing.T) {
	svc := NewUserService(newMemUsers(), "secret")
	now := time.Now()

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, tokenClaims{UserID: aliceID}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateJWT(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken, "only HS256 is accepted")

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateJWT(anonymous)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := svc.issueToken(aliceID, now.Add(-2*tokenTTL))
	require.NoError(t, err)
	_, err = svc.ValidateJWT(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	fresh, err := svc.issueToken(aliceID, now)
	require.NoError(t, err)
	id, err := svc.ValidateJWT(fresh)
	require.NoError(t, err)
	assert.Equal(t, aliceID, id)
}

func TestPairingCodeGivesUpWhenTaken(t *testing.T) {
	svc := NewUserService(takenCodes{newMemUsers()}, "secret")
	_, err := svc.CreateUser(context.Background())
	assert.ErrorContains(t, err, "no free pairing code")
}

func TestUpdatePushToken(t *testing.T) {
	users, _ := pairedFixture()
	svc := NewUserService(users, "secret")
	ctx := context.Background()

	require.NoError(t, svc.UpdatePushToken(ctx, aliceID, "device"))
	u, _ := users.GetByID(ctx, aliceID)
	require.NotNil(t, u.PushToken)
	assert.Equal(t, "device", *u.PushToken)

	require.NoError(t, svc.UpdatePushToken(ctx, aliceID, ""))
	u, _ = users.GetByID(ctx, aliceID)
	assert.Nil(t, u.PushToken)
}

type takenCodes struct {
	*memUsers
}

func (takenCodes) CodeExists(ctx context.Context, code string) (bool, error) { return true, nil }

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"wesal-sync-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sessionAt(id string, updated time.Time) *models.Session {
	return &models.Session{
		ID: id, CoupleID: coupleID, ActivityType: models.ActivityGame, ActivityID: id,
		Mode: models.ModeRemote, State: models.EmptyState, CreatedBy: aliceID,
		CreatedAt: updated, UpdatedAt: updated,
	}
}

func TestSweepArchivesThenDeletesIdle(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	sessions := newMemSessions(
		sessionAt("old", now.Add(-200*time.Hour)),
		sessionAt("stuck", now.Add(-300*time.Hour)),
		sessionAt("fresh", now.Add(-time.Hour)),
	)
	archiver := &mockArchiver{}
	archiver.On("Archive", mock.Anything, mock.MatchedBy(func(s *models.Session) bool { return s.ID == "old" })).Return(nil)
	archiver.On("Archive", mock.Anything, mock.MatchedBy(func(s *models.Session) bool { return s.ID == "stuck" })).Return(errors.New("s3 down"))

	sweeper := NewSweeper(sessions, archiver, 168*time.Hour, 10)
	sweeper.now = func() time.Time { return now }

	deleted, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{"old"}, sessions.deleted)

	_, err = sessions.GetByID(context.Background(), "stuck")
	assert.NoError(t, err, "failed archive keeps the row")
	archiver.AssertExpectations(t)
}

func TestSweepWithoutArchiver(t *testing.T) {
	now := time.Now().UTC()
	sessions := newMemSessions(sessionAt("a", now.Add(-2*time.Hour)), sessionAt("b", now.Add(-3*time.Hour)))
	sweeper := NewSweeper(sessions, nil, time.Hour, 1)

	deleted, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{"b"}, sessions.deleted)
}

func TestSweepMovesPastKeptBatch(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	sessions := newMemSessions(
		sessionAt("stuck-1", now.Add(-300*time.Hour)),
		sessionAt("stuck-2", now.Add(-290*time.Hour)),
		sessionAt("idle", now.Add(-280*time.Hour)),
	)
	stuck := mock.MatchedBy(func(s *models.Session) bool { return s.ID != "idle" })
	archiver := &mockArchiver{}
	archiver.On("Archive", mock.Anything, stuck).Return(errors.New("s3 down"))
	archiver.On("Archive", mock.Anything, mock.MatchedBy(func(s *models.Session) bool { return s.ID == "idle" })).Return(nil)

	sweeper := NewSweeper(sessions, archiver, 168*time.Hour, 2)
	sweeper.now = func() time.Time { return now }
	ctx := context.Background()

	deleted, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{"idle"}, sessions.deleted)

	deleted, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	archiver.AssertNumberOfCalls(t, "Archive", 5)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	sweeper := NewSweeper(newMemSessions(), nil, time.Hour, 1)
	assert.Error(t, sweeper.Start("every now and then"))

	require.NoError(t, sweeper.Start("@every 1h"))
	sweeper.Stop()
}

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "sessions/"+coupleID+"/s1.json", ArchiveKey(sessionAt("s1", time.Now())))
}

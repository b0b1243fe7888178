package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"wesal-sync-backend/internal/models"
	"wesal-sync-backend/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const partnerID = "partner-1"

type staticReader struct {
	presence *models.Presence
	err      error
}

func (r staticReader) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	return r.presence, r.err
}

// storeWriter writes a presence row and publishes the change like the database triggers do
type storeWriter struct {
	broker *realtime.Broker
	userID string
	now    func() time.Time
}

func (w storeWriter) SetPresence(ctx context.Context, online bool) error {
	record, _ := json.Marshal(models.Presence{UserID: w.userID, IsOnline: online, LastSeenAt: w.now()})
	w.broker.Publish(realtime.Change{Table: "users", Type: realtime.ChangeUpdate, Record: record})
	return nil
}

func (w storeWriter) Touch(ctx context.Context) error { return nil }

func TestWatchPartnerFollowsChanges(t *testing.T) {
	broker := realtime.NewBroker()
	seen := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	reader := staticReader{presence: &models.Presence{UserID: partnerID, IsOnline: true, LastSeenAt: seen}}

	var (
		mu      sync.Mutex
		updates []PartnerStatus
	)
	w, err := WatchPartner(context.Background(), reader, realtime.NewLocalClient(broker, "me"), partnerID, func(s PartnerStatus) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, s)
	})
	require.NoError(t, err)
	assert.True(t, w.Status().IsOnline)

	// another user's change is filtered out
	broker.Publish(realtime.Change{Table: "users", Type: realtime.ChangeUpdate, Record: json.RawMessage(`{"id":"stranger","is_online":false}`)})
	assert.True(t, w.Status().IsOnline)

	closedAt := seen.Add(time.Hour)
	writer := storeWriter{broker: broker, userID: partnerID, now: func() time.Time { return closedAt }}
	partner := NewTracker(writer, WithInterval(time.Hour))
	partner.HandleLifecycle(context.Background(), Unload)

	status := w.Status()
	assert.False(t, status.IsOnline)
	assert.True(t, closedAt.Equal(status.LastSeenAt))

	mu.Lock()
	assert.Len(t, updates, 2)
	mu.Unlock()

	require.NoError(t, w.Close(context.Background()))
	broker.Publish(realtime.Change{Table: "users", Type: realtime.ChangeUpdate, Record: json.RawMessage(`{"id":"partner-1","is_online":true}`)})
	assert.False(t, w.Status().IsOnline)
}

func TestWatchPartnerToleratesFetchFailure(t *testing.T) {
	broker := realtime.NewBroker()
	w, err := WatchPartner(context.Background(), staticReader{err: errors.New("offline")}, realtime.NewLocalClient(broker, "me"), partnerID, nil)
	require.NoError(t, err)
	assert.Equal(t, PartnerStatus{UserID: partnerID}, w.Status())
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) OnPostgresChanges(filter realtime.ChangeFilter, fn func(realtime.Change)) {
	m.Called(filter, fn)
}

func (m *mockChannel) OnPresenceSync(fn func(realtime.PresenceState)) {
	m.Called(fn)
}

func (m *mockChannel) Subscribe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockChannel) Track(ctx context.Context, meta map[string]any) error {
	return m.Called(ctx, meta).Error(0)
}

func (m *mockChannel) Unsubscribe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type channelTransport struct {
	channel realtime.Channel
}

func (t channelTransport) Channel(topic string) realtime.Channel { return t.channel }

func TestWatchPartnerSubscribeFailureLeavesChannel(t *testing.T) {
	ch := &mockChannel{}
	ch.On("OnPostgresChanges", mock.Anything, mock.Anything).Return()
	ch.On("Subscribe", mock.Anything).Return(errors.New("join timeout"))
	ch.On("Unsubscribe", mock.Anything).Return(nil).Once()

	reader := staticReader{presence: &models.Presence{UserID: partnerID}}
	w, err := WatchPartner(context.Background(), reader, channelTransport{channel: ch}, partnerID, nil)
	require.Error(t, err)
	assert.Nil(t, w)
	assert.Contains(t, err.Error(), "join timeout")
	ch.AssertExpectations(t)
}

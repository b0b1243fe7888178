package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubFixture() *WSHub {
	users, couples := pairedFixture()
	hub := NewWSHub(NewPairService(couples, users, 0))
	hub.now = func() time.Time { return time.UnixMilli(1_000_000) }
	return hub
}

func decodeFrames(t *testing.T, c *fakeConn) []SocketFrame {
	t.Helper()
	var out []SocketFrame
	for _, raw := range c.received() {
		var f SocketFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

func TestHubRelaysToPartnerOnly(t *testing.T) {
	hub := newHubFixture()
	alice, bob, carol := &fakeConn{}, &fakeConn{}, &fakeConn{}
	hub.Register(NamespaceGame, aliceID, alice)
	hub.Register(NamespaceGame, bobID, bob)
	hub.Register(NamespaceGame, carolID, carol)
	bobPairing := &fakeConn{}
	hub.Register(NamespacePairing, bobID, bobPairing)

	err := hub.HandleFrame(context.Background(), NamespaceGame, aliceID, SocketFrame{
		Event:   "game:ready",
		Payload: json.RawMessage(`{"round":2}`),
	})
	require.NoError(t, err)

	frames := decodeFrames(t, bob)
	require.Len(t, frames, 1)
	assert.Equal(t, "game:ready", frames[0].Event)
	assert.Equal(t, aliceID, frames[0].From)
	assert.Equal(t, int64(1_000_000), frames[0].Timestamp)
	assert.JSONEq(t, `{"round":2}`, string(frames[0].Payload))

	assert.Empty(t, alice.received())
	assert.Empty(t, carol.received())
	assert.Empty(t, bobPairing.received())
}

func TestHubRejectsUnpairedSender(t *testing.T) {
	hub := newHubFixture()
	err := hub.HandleFrame(context.Background(), NamespaceGame, carolID, SocketFrame{Event: "game:ready"})
	assert.ErrorIs(t, err, ErrNotPaired)
}

func TestHubStartTimerGoesToBoth(t *testing.T) {
	hub := newHubFixture()
	alice, bob := &fakeConn{}, &fakeConn{}
	hub.Register(NamespaceConflict, aliceID, alice)
	hub.Register(NamespaceConflict, bobID, bob)

	err := hub.HandleFrame(context.Background(), NamespaceConflict, aliceID, SocketFrame{
		Event:   EventConflictStartTimer,
		Payload: json.RawMessage(`{"duration":90,"phase":"listen"}`),
	})
	require.NoError(t, err)

	for _, c := range []*fakeConn{alice, bob} {
		frames := decodeFrames(t, c)
		require.Len(t, frames, 1)
		assert.JSONEq(t, `{"duration":90,"started_by":"`+aliceID+`","ends_at":1090000,"phase":"listen"}`, string(frames[0].Payload))
	}

	err = hub.HandleFrame(context.Background(), NamespaceConflict, aliceID, SocketFrame{Event: EventConflictStartTimer})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHubRegisterReplacesConnection(t *testing.T) {
	hub := newHubFixture()
	first, second := &fakeConn{}, &fakeConn{}
	p1 := hub.Register(NamespaceGame, aliceID, first)
	hub.Register(NamespaceGame, aliceID, second)
	assert.True(t, first.closed)

	// the old handler exiting must not drop the new connection
	hub.Unregister(NamespaceGame, aliceID, p1)
	assert.True(t, hub.IsOnline(NamespaceGame, aliceID))
}

type recordingRelay struct {
	mu     sync.Mutex
	frames map[string][]byte
}

func (r *recordingRelay) Publish(ctx context.Context, namespace, userID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[RelayChannel(namespace, userID)] = data
	return nil
}

func TestHubUsesRelayWhenPartnerIsRemote(t *testing.T) {
	hub := newHubFixture()
	relay := &recordingRelay{frames: map[string][]byte{}}
	hub.SetRelay(relay)

	require.NoError(t, hub.HandleFrame(context.Background(), NamespaceGame, aliceID, SocketFrame{Event: "game:request-state"}))
	assert.Contains(t, relay.frames, "wesal:socket:game:"+bobID)
}

func TestHubNotifiesPairing(t *testing.T) {
	hub := newHubFixture()
	alice, bob := &fakeConn{}, &fakeConn{}
	hub.Register(NamespacePairing, aliceID, alice)
	hub.Register(NamespacePairing, bobID, bob)

	hub.NotifyPaired(context.Background(), coupleID, aliceID, bobID)
	frames := decodeFrames(t, bob)
	require.Len(t, frames, 1)
	assert.Equal(t, EventPairingSuccess, frames[0].Event)
	assert.JSONEq(t, `{"pair_id":"`+coupleID+`","partner_id":"`+aliceID+`"}`, string(frames[0].Payload))

	hub.NotifyUnpaired(context.Background(), coupleID, aliceID, aliceID, bobID)
	frames = decodeFrames(t, alice)
	require.Len(t, frames, 2)
	assert.Equal(t, EventPairingUnpaired, frames[1].Event)
}

func TestParseRelayChannel(t *testing.T) {
	ns, user, ok := ParseRelayChannel(RelayChannel(NamespaceConflict, bobID))
	require.True(t, ok)
	assert.Equal(t, NamespaceConflict, ns)
	assert.Equal(t, bobID, user)

	_, _, ok = ParseRelayChannel("other:channel")
	assert.False(t, ok)
}

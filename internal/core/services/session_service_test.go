package services_test

import (
	"context"
	"testing"
	"time"

	"pype/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestSetMediaPartialUpdate(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")

	// Toggling alice's video leaves her audio and bob's media untouched.
	err := s.sessions.SetMedia(context.Background(), session.ID, "alice", nil, boolPtr(false))
	require.NoError(t, err)

	got, err := s.sessions.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaState{AudioOn: true, VideoOn: false}, got.Media["alice"])
	assert.Equal(t, domain.MediaState{AudioOn: true, VideoOn: true}, got.Media["bob"])

	err = s.sessions.SetMedia(context.Background(), session.ID, "alice", boolPtr(false), nil)
	require.NoError(t, err)

	got, err = s.sessions.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaState{AudioOn: false, VideoOn: false}, got.Media["alice"])
}

func TestSetMediaNonParticipant(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol")
	session := s.connect(t, "alice", "bob")

	err := s.sessions.SetMedia(context.Background(), session.ID, "carol", boolPtr(false), nil)
	assert.ErrorIs(t, err, domain.ErrNotInSession)
}

func TestAddParticipant(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol")
	session := s.connect(t, "alice", "bob")

	require.NoError(t, s.sessions.AddParticipant(context.Background(), session.ID, "carol"))

	got, err := s.sessions.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"alice", "bob", "carol"}, got.Participants)
	assert.Equal(t, domain.MediaState{AudioOn: true, VideoOn: true}, got.Media["carol"])
	assert.Equal(t, domain.PresenceInCall, s.presenceOf(t, "carol"))

	// Adding again is a no-op.
	require.NoError(t, s.sessions.AddParticipant(context.Background(), session.ID, "carol"))
	got, err = s.sessions.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, 3)
}

func TestAddParticipantAlreadyInCall(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol", "dave")
	first := s.connect(t, "alice", "bob")
	s.connect(t, "carol", "dave")

	// Dave is seated elsewhere; membership is exclusive.
	err := s.sessions.AddParticipant(context.Background(), first.ID, "dave")
	assert.ErrorIs(t, err, domain.ErrPeerUnavailable)
}

func TestMasterHandoff(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol")
	session := s.connect(t, "alice", "bob")
	require.NoError(t, s.sessions.AddParticipant(context.Background(), session.ID, "carol"))

	// Master leaves; mastership passes down the join order.
	require.NoError(t, s.sessions.Leave(context.Background(), session.ID, "alice"))

	got, err := s.sessions.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("bob"), got.Master)
	assert.Equal(t, []domain.PeerID{"bob", "carol"}, got.Participants)
	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "alice"))
}

func TestLeaveIdempotent(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol")
	session := s.connect(t, "alice", "bob")
	require.NoError(t, s.sessions.AddParticipant(context.Background(), session.ID, "carol"))

	require.NoError(t, s.sessions.Leave(context.Background(), session.ID, "alice"))
	require.NoError(t, s.sessions.Leave(context.Background(), session.ID, "alice"))
	require.NoError(t, s.sessions.Leave(context.Background(), "no-such-session", "alice"))

	got, err := s.sessions.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, 2)
}

func TestLastLeaveDestroysSession(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")

	_, err := s.chat.Append(context.Background(), session.ID, "alice", "hello", "")
	require.NoError(t, err)
	require.NoError(t, s.stats.Record(context.Background(), domain.StatSample{
		SessionID: session.ID, PeerID: "alice", Timestamp: time.Now(), RTTMs: 40,
	}))

	require.NoError(t, s.sessions.Leave(context.Background(), session.ID, "alice"))
	require.NoError(t, s.sessions.Leave(context.Background(), session.ID, "bob"))

	// Session and its sub-resources are gone.
	_, err = s.sessions.Get(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrNotInSession)

	_, err = s.chat.Append(context.Background(), session.ID, "alice", "late", "")
	assert.ErrorIs(t, err, domain.ErrNotInSession)

	_, found := s.stats.Smoothed(context.Background(), session.ID, "alice")
	assert.False(t, found)

	// The archive copy is purged too.
	msgs, err := s.archive.Load(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "alice"))
	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "bob"))
}

func TestEndForcesEveryoneOut(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol")
	session := s.connect(t, "alice", "bob")
	require.NoError(t, s.sessions.AddParticipant(context.Background(), session.ID, "carol"))

	events, unsubscribe := s.bus.Subscribe(64)
	defer unsubscribe()

	require.NoError(t, s.sessions.End(context.Background(), session.ID))

	_, err := s.sessions.Get(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrNotInSession)
	for _, id := range []domain.PeerID{"alice", "bob", "carol"} {
		assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, id))
	}

	ended := false
	deadline := time.After(time.Second)
	for !ended {
		select {
		case evt := <-events:
			if evt.Type == domain.EventSessionEnded {
				assert.Equal(t, session.ID, evt.SessionID)
				ended = true
			}
		case <-deadline:
			t.Fatal("no session.ended event")
		}
	}
}

func TestElapsed(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")

	time.Sleep(20 * time.Millisecond)

	elapsed, err := s.sessions.Elapsed(context.Background(), session.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)

	require.NoError(t, s.sessions.End(context.Background(), session.ID))
	_, err = s.sessions.Elapsed(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrNotInSession)
}

func TestListSkipsEndedSessions(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol", "dave")
	first := s.connect(t, "alice", "bob")
	s.connect(t, "carol", "dave")

	require.NoError(t, s.sessions.End(context.Background(), first.ID))

	sessions, err := s.sessions.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.ElementsMatch(t, []domain.PeerID{"carol", "dave"}, sessions[0].Participants)
}

func TestFreedPeersCanCallAgain(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")
	require.NoError(t, s.sessions.End(context.Background(), session.ID))

	// The whole lifecycle works a second time.
	second := s.connect(t, "bob", "alice")
	assert.NotEqual(t, session.ID, second.ID)
	assert.Equal(t, domain.PeerID("bob"), second.Master)
}

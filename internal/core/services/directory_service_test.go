package services_test

import (
	"context"
	"testing"
	"time"

	"pype/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryRegisterAndList(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	peers, err := s.directory.List(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 2)

	// Join order is stable.
	assert.Equal(t, domain.PeerID("alice"), peers[0].ID)
	assert.Equal(t, domain.PeerID("bob"), peers[1].ID)
	assert.Equal(t, domain.PresenceIdle, peers[0].Presence)
}

func TestDirectoryDuplicateID(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice")

	err := s.directory.Register(context.Background(), &domain.Peer{ID: "alice", DisplayName: "other"})
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	// The original registration is untouched.
	peer, err := s.directory.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", peer.DisplayName)
}

func TestDirectoryRegisterForcesIdle(t *testing.T) {
	s := newStack(t, time.Minute)

	err := s.directory.Register(context.Background(), &domain.Peer{
		ID:       "alice",
		Presence: domain.PresenceInCall,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "alice"))
}

func TestDirectoryGetUnknownPeer(t *testing.T) {
	s := newStack(t, time.Minute)

	_, err := s.directory.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownPeer)
}

func TestTransitionPresenceAtomicity(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	// Bob is not idle, so the whole batch must fail and leave alice idle.
	require.NoError(t, s.directory.SetPresence(context.Background(), "bob", domain.PresenceInCall))

	err := s.directory.TransitionPresence(context.Background(), []domain.PresenceChange{
		{PeerID: "alice", From: []domain.Presence{domain.PresenceIdle}, To: domain.PresenceRinging},
		{PeerID: "bob", From: []domain.Presence{domain.PresenceIdle}, To: domain.PresenceRinging},
	})
	assert.ErrorIs(t, err, domain.ErrPeerUnavailable)
	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "alice"))
}

func TestTransitionPresenceUnknownPeer(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice")

	err := s.directory.TransitionPresence(context.Background(), []domain.PresenceChange{
		{PeerID: "ghost", From: []domain.Presence{domain.PresenceIdle}, To: domain.PresenceRinging},
	})
	assert.ErrorIs(t, err, domain.ErrUnknownPeer)
}

func TestDirectoryRemoveCancelsRingingCall(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	// Callee disappears mid-ring.
	require.NoError(t, s.directory.Remove(context.Background(), "bob"))

	_, err = s.negotiator.Get(context.Background(), call.ID)
	assert.ErrorIs(t, err, domain.ErrStaleCall)

	// The survivor is demoted back to idle and can call someone else.
	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "alice"))

	_, err = s.directory.Get(context.Background(), "bob")
	assert.ErrorIs(t, err, domain.ErrUnknownPeer)
}

func TestDirectoryRemoveLeavesSession(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")

	require.NoError(t, s.directory.Remove(context.Background(), "alice"))

	// Bob is alone now and has inherited mastership.
	got, err := s.sessions.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"bob"}, got.Participants)
	assert.Equal(t, domain.PeerID("bob"), got.Master)
}

func TestDirectoryPeerJoinedEvent(t *testing.T) {
	s := newStack(t, time.Minute)

	events, unsubscribe := s.bus.Subscribe(8)
	defer unsubscribe()

	s.register(t, "alice")

	select {
	case evt := <-events:
		assert.Equal(t, domain.EventPeerJoined, evt.Type)
		assert.Equal(t, domain.PeerID("alice"), evt.PeerID)
	case <-time.After(time.Second):
		t.Fatal("no peer.joined event")
	}
}

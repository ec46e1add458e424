package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"pype/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiateAndAccept(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("alice"), call.Caller)
	assert.Equal(t, domain.PeerID("bob"), call.Callee)
	assert.Equal(t, domain.PresenceRinging, s.presenceOf(t, "alice"))
	assert.Equal(t, domain.PresenceRinging, s.presenceOf(t, "bob"))

	session, err := s.negotiator.Accept(context.Background(), call.ID, "bob")
	require.NoError(t, err)

	// Both ends land in the same session, caller is master, all media on.
	assert.ElementsMatch(t, []domain.PeerID{"alice", "bob"}, session.Participants)
	assert.Equal(t, domain.PeerID("alice"), session.Master)
	assert.Equal(t, domain.MediaState{AudioOn: true, VideoOn: true}, session.Media["alice"])
	assert.Equal(t, domain.MediaState{AudioOn: true, VideoOn: true}, session.Media["bob"])
	assert.NotEmpty(t, session.Channels.Audio)
	assert.NotEmpty(t, session.Channels.Video)
	assert.NotEmpty(t, session.Channels.Chat)

	assert.Equal(t, domain.PresenceInCall, s.presenceOf(t, "alice"))
	assert.Equal(t, domain.PresenceInCall, s.presenceOf(t, "bob"))
}

func TestInitiateSelfCall(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice")

	_, err := s.negotiator.Initiate(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrPeerUnavailable)
}

func TestInitiateUnknownCallee(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice")

	_, err := s.negotiator.Initiate(context.Background(), "alice", "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownPeer)
	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "alice"))
}

func TestInitiateBusyCallee(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol")
	s.connect(t, "alice", "bob")

	_, err := s.negotiator.Initiate(context.Background(), "carol", "bob")
	assert.ErrorIs(t, err, domain.ErrPeerUnavailable)
	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "carol"))
}

func TestInitiateSamePairTwice(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	_, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	// Same direction and reversed direction both hit the pair slot.
	_, err = s.negotiator.Initiate(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, domain.ErrAlreadyPending)
	_, err = s.negotiator.Initiate(context.Background(), "bob", "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyPending)
}

func TestSymmetricInitiateRace(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = s.negotiator.Initiate(context.Background(), "alice", "bob")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.negotiator.Initiate(context.Background(), "bob", "alice")
	}()
	wg.Wait()

	// Exactly one side wins the pair slot.
	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, domain.ErrAlreadyPending)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestAcceptByCallerFails(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	_, err = s.negotiator.Accept(context.Background(), call.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrStaleCall)

	// The call is still live for the callee.
	_, err = s.negotiator.Accept(context.Background(), call.ID, "bob")
	assert.NoError(t, err)
}

func TestDoubleAccept(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	_, err = s.negotiator.Accept(context.Background(), call.ID, "bob")
	require.NoError(t, err)

	_, err = s.negotiator.Accept(context.Background(), call.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrStaleCall)
}

func TestRejectOnlyByCallee(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	assert.ErrorIs(t, s.negotiator.Reject(context.Background(), call.ID, "alice"), domain.ErrStaleCall)
	require.NoError(t, s.negotiator.Reject(context.Background(), call.ID, "bob"))

	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "alice"))
	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "bob"))

	// Resolved calls reject further transitions.
	assert.ErrorIs(t, s.negotiator.Cancel(context.Background(), call.ID, "alice"), domain.ErrStaleCall)
}

func TestCancelOnlyByCaller(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	assert.ErrorIs(t, s.negotiator.Cancel(context.Background(), call.ID, "bob"), domain.ErrStaleCall)
	require.NoError(t, s.negotiator.Cancel(context.Background(), call.ID, "alice"))

	_, err = s.negotiator.Accept(context.Background(), call.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrStaleCall)
}

func TestRingingTimeout(t *testing.T) {
	s := newStack(t, 50*time.Millisecond)
	s.register(t, "alice", "bob")

	events, unsubscribe := s.bus.Subscribe(32)
	defer unsubscribe()

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	timedOut := 0
	for timedOut == 0 {
		select {
		case evt := <-events:
			if evt.Type == domain.EventCallTimedOut {
				assert.Equal(t, call.ID, evt.CallID)
				timedOut++
			}
		case <-deadline:
			t.Fatal("no call.timed-out event")
		}
	}

	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "alice"))
	assert.Equal(t, domain.PresenceIdle, s.presenceOf(t, "bob"))

	_, err = s.negotiator.Accept(context.Background(), call.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrStaleCall)

	// The timer fires exactly once; no second timed-out event shows up.
	select {
	case evt := <-events:
		assert.NotEqual(t, domain.EventCallTimedOut, evt.Type)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAcceptBeatsTimer(t *testing.T) {
	s := newStack(t, 80*time.Millisecond)
	s.register(t, "alice", "bob")

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	session, err := s.negotiator.Accept(context.Background(), call.ID, "bob")
	require.NoError(t, err)

	// Wait past the deadline: the accepted session must survive.
	time.Sleep(150 * time.Millisecond)

	got, err := s.sessions.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.PeerID{"alice", "bob"}, got.Participants)
	assert.Equal(t, domain.PresenceInCall, s.presenceOf(t, "alice"))
}

func TestPendingFor(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol")

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)

	pending, err := s.negotiator.PendingFor(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, call.ID, pending[0].ID)
	assert.Equal(t, domain.DirectionIncoming, pending[0].Direction("bob"))

	pending, err = s.negotiator.PendingFor(context.Background(), "carol")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPairFreedAfterResolution(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")

	call, err := s.negotiator.Initiate(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.NoError(t, s.negotiator.Reject(context.Background(), call.ID, "bob"))

	// The pair slot is free for a fresh attempt.
	_, err = s.negotiator.Initiate(context.Background(), "bob", "alice")
	assert.NoError(t, err)
}

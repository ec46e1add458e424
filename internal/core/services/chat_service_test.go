package services_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pype/internal/core/domain"
	"pype/internal/core/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChatAppendAndHistory(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")

	first, err := s.chat.Append(context.Background(), session.ID, "alice", "hello", "")
	require.NoError(t, err)
	second, err := s.chat.Append(context.Background(), session.ID, "bob", "hi", "")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)

	history, err := s.chat.History(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, "hi", history[1].Text)
}

func TestChatNonParticipantRejected(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob", "carol")
	session := s.connect(t, "alice", "bob")

	_, err := s.chat.Append(context.Background(), session.ID, "carol", "let me in", "")
	assert.ErrorIs(t, err, domain.ErrNotInSession)

	_, err = s.chat.Append(context.Background(), "no-such-session", "alice", "hello", "")
	assert.ErrorIs(t, err, domain.ErrNotInSession)
}

func TestChatDuplicateClientMsgID(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")

	first, err := s.chat.Append(context.Background(), session.ID, "alice", "hello", "msg-1")
	require.NoError(t, err)

	// Redelivery returns the committed message, not a new one.
	again, err := s.chat.Append(context.Background(), session.ID, "alice", "hello", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, first.Seq, again.Seq)

	// The same client id from a different sender is a different message.
	other, err := s.chat.Append(context.Background(), session.ID, "bob", "hello", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), other.Seq)

	history, err := s.chat.History(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestChatSeqTotalOrderUnderConcurrency(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2)
	for _, sender := range []domain.PeerID{"alice", "bob"} {
		go func(sender domain.PeerID) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				_, err := s.chat.Append(context.Background(), session.ID, sender, fmt.Sprintf("%s-%d", sender, i), "")
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	history, err := s.chat.History(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, history, 2*n)

	// Seq is gapless and strictly increasing.
	for i, msg := range history {
		assert.Equal(t, uint64(i+1), msg.Seq)
	}
}

func TestChatSeededFromArchive(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")

	_, err := s.chat.Append(context.Background(), session.ID, "alice", "hello", "msg-1")
	require.NoError(t, err)

	// A fresh chat service over the same archive stands in for a restarted
	// process. Its first touch of the session seeds history and dedup state
	// from the archive.
	reborn := services.NewChatService(s.sessions, s.archive, s.bus, zap.NewNop().Sugar())

	again, err := reborn.Append(context.Background(), session.ID, "alice", "hello", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), again.Seq)

	history, err := reborn.History(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Text)
}

func TestChatMessageEvent(t *testing.T) {
	s := newStack(t, time.Minute)
	s.register(t, "alice", "bob")
	session := s.connect(t, "alice", "bob")

	events, unsubscribe := s.bus.Subscribe(16)
	defer unsubscribe()

	_, err := s.chat.Append(context.Background(), session.ID, "alice", "hello", "")
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type != domain.EventChatMessage {
				continue
			}
			msg, ok := evt.Payload.(domain.ChatMessage)
			require.True(t, ok)
			assert.Equal(t, "hello", msg.Text)
			assert.Equal(t, session.ID, evt.SessionID)
			return
		case <-deadline:
			t.Fatal("no chat.message event")
		}
	}
}

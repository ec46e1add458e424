package services

import (
	"context"
	"testing"
	"time"

	"pype/internal/core/domain"
	"pype/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChatLogNotRecreatedForDeadSession(t *testing.T) {
	logg := zap.NewNop().Sugar()
	bus := NewEventBus(logg)
	directory := NewDirectoryService(bus, logg)
	sessions := NewSessionService(directory, bus, logg)
	chat := NewChatService(sessions, memory.NewMemoryChatArchive(), bus, logg).(*chatService)

	ctx := context.Background()
	for _, id := range []domain.PeerID{"alice", "bob"} {
		require.NoError(t, directory.Register(ctx, &domain.Peer{
			ID:          id,
			DisplayName: string(id),
			JoinedAt:    time.Now(),
		}))
	}

	session, err := sessions.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = chat.Append(ctx, session.ID, "alice", "hello", "m1")
	require.NoError(t, err)

	require.NoError(t, sessions.End(ctx, session.ID))

	// An append that passed the participant check just before the session
	// died must not resurrect a log entry no destroy hook will ever purge.
	assert.Nil(t, chat.log(ctx, session.ID))

	chat.mu.RLock()
	_, exists := chat.logs[session.ID]
	chat.mu.RUnlock()
	assert.False(t, exists)

	_, err = chat.Append(ctx, session.ID, "alice", "late", "m2")
	assert.ErrorIs(t, err, domain.ErrNotInSession)
}

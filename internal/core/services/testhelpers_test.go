package services_test

import (
	"context"
	"testing"
	"time"

	"pype/internal/core/domain"
	"pype/internal/core/ports"
	"pype/internal/core/services"
	"pype/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stack wires the real services together the way the daemon does. Most
// behaviour under test spans components (cascades, presence guards), so
// mocking the seams would test the mocks.
type stack struct {
	bus        *services.EventBus
	directory  ports.Directory
	sessions   ports.SessionManager
	chat       ports.ChatChannel
	stats      ports.StatsCollector
	negotiator ports.CallNegotiator
	archive    ports.ChatArchive
}

func newStack(t *testing.T, ringingTimeout time.Duration) *stack {
	t.Helper()

	logg := zap.NewNop().Sugar()
	bus := services.NewEventBus(logg)
	directory := services.NewDirectoryService(bus, logg)
	sessions := services.NewSessionService(directory, bus, logg)
	archive := memory.NewMemoryChatArchive()
	chat := services.NewChatService(sessions, archive, bus, logg)
	stats := services.NewStatsService(sessions, bus, 5*time.Minute, logg)
	negotiator := services.NewCallService(directory, sessions, bus, ringingTimeout, logg)

	return &stack{
		bus:        bus,
		directory:  directory,
		sessions:   sessions,
		chat:       chat,
		stats:      stats,
		negotiator: negotiator,
		archive:    archive,
	}
}

func (s *stack) register(t *testing.T, ids ...domain.PeerID) {
	t.Helper()
	for _, id := range ids {
		err := s.directory.Register(context.Background(), &domain.Peer{
			ID:          id,
			DisplayName: string(id),
			JoinedAt:    time.Now(),
		})
		require.NoError(t, err)
	}
}

// connect runs the full initiate/accept handshake and returns the session.
func (s *stack) connect(t *testing.T, caller, callee domain.PeerID) *domain.Session {
	t.Helper()

	call, err := s.negotiator.Initiate(context.Background(), caller, callee)
	require.NoError(t, err)

	session, err := s.negotiator.Accept(context.Background(), call.ID, callee)
	require.NoError(t, err)
	return session
}

func (s *stack) presenceOf(t *testing.T, id domain.PeerID) domain.Presence {
	t.Helper()
	peer, err := s.directory.Get(context.Background(), id)
	require.NoError(t, err)
	return peer.Presence
}

package ports

import (
	"context"
	"time"

	"pype/internal/core/domain"
)

type Directory interface {
	Register(ctx context.Context, peer *domain.Peer) error
	Get(ctx context.Context, id domain.PeerID) (*domain.Peer, error)
	List(ctx context.Context) ([]*domain.Peer, error)
	SetPresence(ctx context.Context, id domain.PeerID, p domain.Presence) error
	// TransitionPresence applies all changes atomically, or none of them.
	// A peer missing from the directory fails with ErrUnknownPeer; a peer
	// whose current presence is not in the allowed set fails with
	// ErrPeerUnavailable.
	TransitionPresence(ctx context.Context, changes []domain.PresenceChange) error
	Remove(ctx context.Context, id domain.PeerID) error
	// OnRemove registers a cascade hook invoked before a peer is deleted.
	OnRemove(hook func(ctx context.Context, id domain.PeerID))
}

type CallNegotiator interface {
	Initiate(ctx context.Context, caller, callee domain.PeerID) (*domain.PendingCall, error)
	Accept(ctx context.Context, callID domain.CallID, by domain.PeerID) (*domain.Session, error)
	Reject(ctx context.Context, callID domain.CallID, by domain.PeerID) error
	Cancel(ctx context.Context, callID domain.CallID, by domain.PeerID) error
	Get(ctx context.Context, callID domain.CallID) (*domain.PendingCall, error)
	PendingFor(ctx context.Context, id domain.PeerID) ([]*domain.PendingCall, error)
}

type SessionManager interface {
	Create(ctx context.Context, caller, callee domain.PeerID) (*domain.Session, error)
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	List(ctx context.Context) ([]*domain.Session, error)
	AddParticipant(ctx context.Context, id domain.SessionID, peer domain.PeerID) error
	SetMedia(ctx context.Context, id domain.SessionID, peer domain.PeerID, audioOn, videoOn *bool) error
	Leave(ctx context.Context, id domain.SessionID, peer domain.PeerID) error
	End(ctx context.Context, id domain.SessionID) error
	Elapsed(ctx context.Context, id domain.SessionID) (time.Duration, error)
	IsParticipant(ctx context.Context, id domain.SessionID, peer domain.PeerID) bool
	// OnDestroy registers a hook invoked after the last participant leaves,
	// so per-session sub-resources (chat log, stat series) die with the
	// session.
	OnDestroy(hook func(id domain.SessionID))
}

type ChatChannel interface {
	Append(ctx context.Context, id domain.SessionID, sender domain.PeerID, text, clientMsgID string) (*domain.ChatMessage, error)
	History(ctx context.Context, id domain.SessionID) ([]domain.ChatMessage, error)
}

type StatsCollector interface {
	Record(ctx context.Context, sample domain.StatSample) error
	Windowed(ctx context.Context, id domain.SessionID, peer domain.PeerID, window time.Duration) ([]domain.StatSample, error)
	Smoothed(ctx context.Context, id domain.SessionID, peer domain.PeerID) (domain.LatencySummary, bool)
}

// EventPublisher is the write side of the state-change notification bus.
type EventPublisher interface {
	Publish(evt domain.Event)
}

// EventStream is the read side: Subscribe returns a receive channel and an
// unsubscribe function. Slow subscribers drop events rather than blocking
// state transitions.
type EventStream interface {
	Subscribe(buffer int) (<-chan domain.Event, func())
}

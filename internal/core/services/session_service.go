package services

import (
	"context"
	"sync"
	"time"

	"pype/internal/core/domain"
	"pype/internal/core/ports"
	"pype/pkg/utils"

	"go.uber.org/zap"
)

// sessionState guards one session's mutations; operations on different
// sessions proceed in parallel.
type sessionState struct {
	mu      sync.Mutex
	session domain.Session
	ended   bool
}

type sessionService struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionState

	hookMu    sync.RWMutex
	onDestroy []func(id domain.SessionID)

	directory ports.Directory
	bus       ports.EventPublisher
	logger    *zap.SugaredLogger
}

func NewSessionService(directory ports.Directory, bus ports.EventPublisher, logger *zap.SugaredLogger) ports.SessionManager {
	s := &sessionService{
		sessions:  make(map[domain.SessionID]*sessionState),
		directory: directory,
		bus:       bus,
		logger:    logger,
	}

	// A removed peer force-leaves its session before the directory lets it
	// go.
	directory.OnRemove(s.leaveAllFor)

	return s
}

func (s *sessionService) Create(ctx context.Context, caller, callee domain.PeerID) (*domain.Session, error) {
	// Seat both peers atomically. A peer already in a session is InCall and
	// fails the guard, which keeps membership exclusive.
	if err := s.directory.TransitionPresence(ctx, []domain.PresenceChange{
		{PeerID: caller, From: []domain.Presence{domain.PresenceIdle, domain.PresenceRinging}, To: domain.PresenceInCall},
		{PeerID: callee, From: []domain.Presence{domain.PresenceIdle, domain.PresenceRinging}, To: domain.PresenceInCall},
	}); err != nil {
		return nil, err
	}

	state := &sessionState{
		session: domain.Session{
			ID:           domain.SessionID(utils.GenerateSessionID()),
			Participants: []domain.PeerID{caller, callee},
			Master:       caller,
			StartedAt:    time.Now(),
			Media: map[domain.PeerID]domain.MediaState{
				caller: {AudioOn: true, VideoOn: true},
				callee: {AudioOn: true, VideoOn: true},
			},
			Channels: domain.ChannelSet{
				Audio: utils.GenerateChannelLabel("aud"),
				Video: utils.GenerateChannelLabel("vid"),
				Chat:  utils.GenerateChannelLabel("cht"),
			},
		},
	}

	s.mu.Lock()
	s.sessions[state.session.ID] = state
	s.mu.Unlock()

	snapshot := state.session.Clone()
	s.logger.Infow("session started",
		"session_id", snapshot.ID,
		"participants", snapshot.Participants,
		"master", snapshot.Master,
	)
	s.bus.Publish(domain.Event{
		Type:      domain.EventSessionStarted,
		SessionID: snapshot.ID,
		Payload:   snapshot,
	})
	return &snapshot, nil
}

func (s *sessionService) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	state, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.ended {
		return nil, domain.ErrNotInSession
	}
	snapshot := state.session.Clone()
	return &snapshot, nil
}

func (s *sessionService) List(ctx context.Context) ([]*domain.Session, error) {
	s.mu.RLock()
	states := make([]*sessionState, 0, len(s.sessions))
	for _, st := range s.sessions {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]*domain.Session, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if !st.ended {
			snapshot := st.session.Clone()
			out = append(out, &snapshot)
		}
		st.mu.Unlock()
	}
	return out, nil
}

func (s *sessionService) AddParticipant(ctx context.Context, id domain.SessionID, peer domain.PeerID) error {
	state, err := s.lookup(id)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.ended {
		return domain.ErrNotInSession
	}
	if state.session.HasParticipant(peer) {
		return nil
	}

	if err := s.directory.TransitionPresence(ctx, []domain.PresenceChange{{
		PeerID: peer,
		From:   []domain.Presence{domain.PresenceIdle, domain.PresenceRinging},
		To:     domain.PresenceInCall,
	}}); err != nil {
		return err
	}

	state.session.Participants = append(state.session.Participants, peer)
	state.session.Media[peer] = domain.MediaState{AudioOn: true, VideoOn: true}
	snapshot := state.session.Clone()

	s.bus.Publish(domain.Event{
		Type:      domain.EventParticipantSet,
		SessionID: id,
		PeerID:    peer,
		Payload:   snapshot,
	})
	return nil
}

func (s *sessionService) SetMedia(ctx context.Context, id domain.SessionID, peer domain.PeerID, audioOn, videoOn *bool) error {
	state, err := s.lookup(id)
	if err != nil {
		return err
	}

	state.mu.Lock()
	if state.ended || !state.session.HasParticipant(peer) {
		state.mu.Unlock()
		return domain.ErrNotInSession
	}

	media := state.session.Media[peer]
	if audioOn != nil {
		media.AudioOn = *audioOn
	}
	if videoOn != nil {
		media.VideoOn = *videoOn
	}
	state.session.Media[peer] = media
	snapshot := state.session.Clone()
	state.mu.Unlock()

	s.bus.Publish(domain.Event{
		Type:      domain.EventMediaChanged,
		SessionID: id,
		PeerID:    peer,
		Payload:   snapshot,
	})
	return nil
}

// Leave is idempotent: leaving twice, or leaving a session that is already
// gone, is a no-op.
func (s *sessionService) Leave(ctx context.Context, id domain.SessionID, peer domain.PeerID) error {
	state, err := s.lookup(id)
	if err != nil {
		return nil
	}

	state.mu.Lock()
	if state.ended || !state.session.HasParticipant(peer) {
		state.mu.Unlock()
		return nil
	}

	participants := state.session.Participants
	for i, p := range participants {
		if p == peer {
			state.session.Participants = append(participants[:i], participants[i+1:]...)
			break
		}
	}
	delete(state.session.Media, peer)

	// Mastership passes down the join order.
	if state.session.Master == peer && len(state.session.Participants) > 0 {
		state.session.Master = state.session.Participants[0]
	}

	empty := len(state.session.Participants) == 0
	if empty {
		state.ended = true
	}
	snapshot := state.session.Clone()
	state.mu.Unlock()

	// Session destruction is the only path back to Idle.
	_ = s.directory.TransitionPresence(ctx, []domain.PresenceChange{{
		PeerID: peer,
		From:   []domain.Presence{domain.PresenceInCall},
		To:     domain.PresenceIdle,
	}})

	s.bus.Publish(domain.Event{
		Type:      domain.EventParticipantSet,
		SessionID: id,
		PeerID:    peer,
		Payload:   snapshot,
	})

	if empty {
		s.destroy(id)
	}
	return nil
}

func (s *sessionService) End(ctx context.Context, id domain.SessionID) error {
	state, err := s.lookup(id)
	if err != nil {
		return domain.ErrNotInSession
	}

	state.mu.Lock()
	participants := append([]domain.PeerID(nil), state.session.Participants...)
	state.mu.Unlock()

	for _, p := range participants {
		_ = s.Leave(ctx, id, p)
	}
	return nil
}

func (s *sessionService) Elapsed(ctx context.Context, id domain.SessionID) (time.Duration, error) {
	state, err := s.lookup(id)
	if err != nil {
		return 0, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.ended {
		return 0, domain.ErrNotInSession
	}
	return time.Since(state.session.StartedAt), nil
}

func (s *sessionService) IsParticipant(ctx context.Context, id domain.SessionID, peer domain.PeerID) bool {
	state, err := s.lookup(id)
	if err != nil {
		return false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return !state.ended && state.session.HasParticipant(peer)
}

func (s *sessionService) OnDestroy(hook func(id domain.SessionID)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onDestroy = append(s.onDestroy, hook)
}

// leaveAllFor is the directory cascade hook.
func (s *sessionService) leaveAllFor(ctx context.Context, peer domain.PeerID) {
	s.mu.RLock()
	ids := make([]domain.SessionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Leave(ctx, id, peer)
	}
}

func (s *sessionService) destroy(id domain.SessionID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	// Per-session sub-resources (chat log, stat series) die with the
	// session.
	s.hookMu.RLock()
	hooks := make([]func(domain.SessionID), len(s.onDestroy))
	copy(hooks, s.onDestroy)
	s.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(id)
	}

	s.logger.Infow("session ended", "session_id", id)
	s.bus.Publish(domain.Event{
		Type:      domain.EventSessionEnded,
		SessionID: id,
	})
}

func (s *sessionService) lookup(id domain.SessionID) (*sessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.sessions[id]
	if !exists {
		return nil, domain.ErrNotInSession
	}
	return state, nil
}

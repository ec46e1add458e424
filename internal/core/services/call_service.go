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

// pendingCall pairs the call record with its single-resolution latch. Either
// a resolution path (accept/reject/cancel) or the ringing timer wins the
// latch, never both.
type pendingCall struct {
	call domain.PendingCall

	mu    sync.Mutex
	state domain.CallState
	timer *time.Timer
}

// resolve attempts the terminal transition. Returns false when the call was
// already resolved by another path.
func (pc *pendingCall) resolve(to domain.CallState) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.state != domain.CallRinging {
		return false
	}
	pc.state = to
	if pc.timer != nil {
		pc.timer.Stop()
	}
	return true
}

type callService struct {
	mu    sync.Mutex
	pairs map[string]*pendingCall
	byID  map[domain.CallID]*pendingCall

	directory ports.Directory
	sessions  ports.SessionManager
	bus       ports.EventPublisher
	timeout   time.Duration
	logger    *zap.SugaredLogger
}

func NewCallService(
	directory ports.Directory,
	sessions ports.SessionManager,
	bus ports.EventPublisher,
	ringingTimeout time.Duration,
	logger *zap.SugaredLogger,
) ports.CallNegotiator {
	s := &callService{
		pairs:     make(map[string]*pendingCall),
		byID:      make(map[domain.CallID]*pendingCall),
		directory: directory,
		sessions:  sessions,
		bus:       bus,
		timeout:   ringingTimeout,
		logger:    logger,
	}

	// A removed peer force-cancels every call it is involved in before the
	// directory lets it go.
	directory.OnRemove(s.cancelAllFor)

	return s
}

func (s *callService) Initiate(ctx context.Context, caller, callee domain.PeerID) (*domain.PendingCall, error) {
	if caller == callee {
		return nil, domain.ErrPeerUnavailable
	}

	key := domain.PairKey(caller, callee)

	s.mu.Lock()
	if _, exists := s.pairs[key]; exists {
		// Second initiate for a pair already ringing loses, regardless of
		// direction. In the symmetric race the first observed initiation
		// holds the pair slot and the reversed one lands here.
		s.mu.Unlock()
		return nil, domain.ErrAlreadyPending
	}

	if err := s.directory.TransitionPresence(ctx, []domain.PresenceChange{
		{PeerID: caller, From: []domain.Presence{domain.PresenceIdle}, To: domain.PresenceRinging},
		{PeerID: callee, From: []domain.Presence{domain.PresenceIdle}, To: domain.PresenceRinging},
	}); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	now := time.Now()
	pc := &pendingCall{
		call: domain.PendingCall{
			ID:        domain.CallID(utils.GenerateCallID()),
			Caller:    caller,
			Callee:    callee,
			CreatedAt: now,
			Deadline:  now.Add(s.timeout),
		},
		state: domain.CallRinging,
	}
	pc.timer = time.AfterFunc(s.timeout, func() { s.expire(pc.call.ID) })

	s.pairs[key] = pc
	s.byID[pc.call.ID] = pc
	snapshot := pc.call
	s.mu.Unlock()

	s.logger.Infow("call ringing",
		"call_id", snapshot.ID,
		"caller", caller,
		"callee", callee,
		"deadline", snapshot.Deadline,
	)
	s.bus.Publish(domain.Event{
		Type:    domain.EventCallRinging,
		CallID:  snapshot.ID,
		PeerID:  caller,
		Payload: snapshot,
	})
	return &snapshot, nil
}

func (s *callService) Accept(ctx context.Context, callID domain.CallID, by domain.PeerID) (*domain.Session, error) {
	pc, err := s.lookup(callID)
	if err != nil {
		return nil, err
	}

	pc.mu.Lock()
	if pc.state != domain.CallRinging || by != pc.call.Callee {
		pc.mu.Unlock()
		return nil, domain.ErrStaleCall
	}

	// Hand off while still holding the latch: if session creation fails the
	// call stays ringing and the timer stays armed, so a later reject or
	// timeout still resolves it exactly once.
	session, err := s.sessions.Create(ctx, pc.call.Caller, pc.call.Callee)
	if err != nil {
		pc.mu.Unlock()
		return nil, err
	}

	pc.state = domain.CallAccepted
	if pc.timer != nil {
		pc.timer.Stop()
	}
	snapshot := pc.call
	pc.mu.Unlock()

	s.forget(pc)

	s.logger.Infow("call accepted", "call_id", callID, "session_id", session.ID)
	s.bus.Publish(domain.Event{
		Type:      domain.EventCallAccepted,
		CallID:    snapshot.ID,
		SessionID: session.ID,
		PeerID:    by,
		Payload:   snapshot,
	})
	return session, nil
}

func (s *callService) Reject(ctx context.Context, callID domain.CallID, by domain.PeerID) error {
	pc, err := s.lookup(callID)
	if err != nil {
		return err
	}
	if by != pc.call.Callee {
		return domain.ErrStaleCall
	}
	return s.terminate(ctx, pc, domain.CallRejected, domain.EventCallRejected, by)
}

func (s *callService) Cancel(ctx context.Context, callID domain.CallID, by domain.PeerID) error {
	pc, err := s.lookup(callID)
	if err != nil {
		return err
	}
	if by != pc.call.Caller {
		return domain.ErrStaleCall
	}
	return s.terminate(ctx, pc, domain.CallCancelled, domain.EventCallCancelled, by)
}

func (s *callService) Get(ctx context.Context, callID domain.CallID) (*domain.PendingCall, error) {
	pc, err := s.lookup(callID)
	if err != nil {
		return nil, err
	}
	snapshot := pc.call
	return &snapshot, nil
}

func (s *callService) PendingFor(ctx context.Context, id domain.PeerID) ([]*domain.PendingCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.PendingCall
	for _, pc := range s.byID {
		if pc.call.Involves(id) {
			snapshot := pc.call
			out = append(out, &snapshot)
		}
	}
	return out, nil
}

// expire is the timer path of the latch.
func (s *callService) expire(callID domain.CallID) {
	pc, err := s.lookup(callID)
	if err != nil {
		return
	}
	if !pc.resolve(domain.CallTimedOut) {
		return
	}
	s.forget(pc)

	ctx := context.Background()
	s.demote(ctx, pc.call.Caller, pc.call.Callee)

	s.logger.Infow("call timed out", "call_id", callID, "caller", pc.call.Caller, "callee", pc.call.Callee)
	s.bus.Publish(domain.Event{
		Type:    domain.EventCallTimedOut,
		CallID:  pc.call.ID,
		Payload: pc.call,
	})
}

func (s *callService) terminate(ctx context.Context, pc *pendingCall, state domain.CallState, evt domain.EventType, by domain.PeerID) error {
	if !pc.resolve(state) {
		return domain.ErrStaleCall
	}
	s.forget(pc)
	s.demote(ctx, pc.call.Caller, pc.call.Callee)

	s.logger.Infow("call resolved", "call_id", pc.call.ID, "state", state, "by", by)
	s.bus.Publish(domain.Event{
		Type:    evt,
		CallID:  pc.call.ID,
		PeerID:  by,
		Payload: pc.call,
	})
	return nil
}

// cancelAllFor is the directory cascade hook.
func (s *callService) cancelAllFor(ctx context.Context, id domain.PeerID) {
	s.mu.Lock()
	var involved []*pendingCall
	for _, pc := range s.byID {
		if pc.call.Involves(id) {
			involved = append(involved, pc)
		}
	}
	s.mu.Unlock()

	for _, pc := range involved {
		if !pc.resolve(domain.CallCancelled) {
			continue
		}
		s.forget(pc)
		s.demote(ctx, pc.call.Caller, pc.call.Callee)
		s.logger.Infow("call cancelled by peer removal", "call_id", pc.call.ID, "peer_id", id)
		s.bus.Publish(domain.Event{
			Type:    domain.EventCallCancelled,
			CallID:  pc.call.ID,
			PeerID:  id,
			Payload: pc.call,
		})
	}
}

func (s *callService) lookup(callID domain.CallID) (*pendingCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, exists := s.byID[callID]
	if !exists {
		return nil, domain.ErrStaleCall
	}
	return pc, nil
}

func (s *callService) forget(pc *pendingCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, pc.call.ID)
	delete(s.pairs, domain.PairKey(pc.call.Caller, pc.call.Callee))
}

// demote reverts peers that are still Ringing back to Idle. Best effort: a
// peer may already be gone or already in a session.
func (s *callService) demote(ctx context.Context, ids ...domain.PeerID) {
	for _, id := range ids {
		_ = s.directory.TransitionPresence(ctx, []domain.PresenceChange{{
			PeerID: id,
			From:   []domain.Presence{domain.PresenceRinging},
			To:     domain.PresenceIdle,
		}})
	}
}

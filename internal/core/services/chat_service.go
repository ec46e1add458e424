package services

import (
	"context"
	"sync"
	"time"

	"pype/internal/core/domain"
	"pype/internal/core/ports"

	"go.uber.org/zap"
)

// chatLog is one session's append-only message log. The log mutex is the
// session's exclusive append lock: one writer at a time per session, no
// cross-session ordering.
type chatLog struct {
	mu   sync.Mutex
	msgs []domain.ChatMessage
	seen map[string]uint64 // clientMsgID -> assigned seq
}

type chatService struct {
	mu   sync.RWMutex
	logs map[domain.SessionID]*chatLog

	sessions ports.SessionManager
	archive  ports.ChatArchive
	bus      ports.EventPublisher
	logger   *zap.SugaredLogger
}

func NewChatService(
	sessions ports.SessionManager,
	archive ports.ChatArchive,
	bus ports.EventPublisher,
	logger *zap.SugaredLogger,
) ports.ChatChannel {
	s := &chatService{
		logs:     make(map[domain.SessionID]*chatLog),
		sessions: sessions,
		archive:  archive,
		bus:      bus,
		logger:   logger,
	}

	sessions.OnDestroy(s.destroy)

	return s
}

func (s *chatService) Append(ctx context.Context, id domain.SessionID, sender domain.PeerID, text, clientMsgID string) (*domain.ChatMessage, error) {
	if !s.sessions.IsParticipant(ctx, id, sender) {
		return nil, domain.ErrNotInSession
	}

	log := s.log(ctx, id)
	if log == nil {
		return nil, domain.ErrNotInSession
	}

	log.mu.Lock()
	// At-least-once transport: a redelivered frame returns the message it
	// already committed instead of appending twice.
	if clientMsgID != "" {
		if seq, dup := log.seen[string(sender)+":"+clientMsgID]; dup {
			msg := log.msgs[seq-1]
			log.mu.Unlock()
			return &msg, nil
		}
	}

	msg := domain.ChatMessage{
		SessionID:   id,
		Sender:      sender,
		Text:        text,
		SentAt:      time.Now(),
		Seq:         uint64(len(log.msgs)) + 1,
		ClientMsgID: clientMsgID,
	}
	log.msgs = append(log.msgs, msg)
	if clientMsgID != "" {
		log.seen[string(sender)+":"+clientMsgID] = msg.Seq
	}
	log.mu.Unlock()

	// Archive failures are logged, never surfaced: the in-memory log is
	// authoritative and the message is already committed.
	if err := s.archive.Append(ctx, msg); err != nil {
		s.logger.Warnw("chat archive append failed", "session_id", id, "seq", msg.Seq, "error", err)
	}

	s.bus.Publish(domain.Event{
		Type:      domain.EventChatMessage,
		SessionID: id,
		PeerID:    sender,
		Payload:   msg,
	})
	return &msg, nil
}

func (s *chatService) History(ctx context.Context, id domain.SessionID) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	log, exists := s.logs[id]
	s.mu.RUnlock()
	if !exists {
		return nil, nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	return append([]domain.ChatMessage(nil), log.msgs...), nil
}

// log returns the session's log, creating it on first use. A fresh log is
// seeded from the archive so history survives restarts. Returns nil when the
// session is gone: creation and the destroy hook serialize on s.mu, so a log
// created here is always visible to the hook that will purge it.
func (s *chatService) log(ctx context.Context, id domain.SessionID) *chatLog {
	s.mu.RLock()
	log, exists := s.logs[id]
	s.mu.RUnlock()
	if exists {
		return log
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if log, exists = s.logs[id]; exists {
		return log
	}
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return nil
	}

	log = &chatLog{seen: make(map[string]uint64)}
	if archived, err := s.archive.Load(ctx, id); err != nil {
		s.logger.Warnw("chat archive load failed", "session_id", id, "error", err)
	} else if len(archived) > 0 {
		log.msgs = archived
		for _, msg := range archived {
			if msg.ClientMsgID != "" {
				log.seen[string(msg.Sender)+":"+msg.ClientMsgID] = msg.Seq
			}
		}
	}
	s.logs[id] = log
	return log
}

func (s *chatService) destroy(id domain.SessionID) {
	s.mu.Lock()
	delete(s.logs, id)
	s.mu.Unlock()

	if err := s.archive.Purge(context.Background(), id); err != nil {
		s.logger.Warnw("chat archive purge failed", "session_id", id, "error", err)
	}
}

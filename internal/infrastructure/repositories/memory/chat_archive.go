package memory

import (
	"context"
	"sync"

	"pype/internal/core/domain"
	"pype/internal/core/ports"
)

type MemoryChatArchive struct {
	mu   sync.RWMutex
	logs map[domain.SessionID][]domain.ChatMessage
}

func NewMemoryChatArchive() ports.ChatArchive {
	return &MemoryChatArchive{
		logs: make(map[domain.SessionID][]domain.ChatMessage),
	}
}

func (r *MemoryChatArchive) Append(ctx context.Context, msg domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logs[msg.SessionID] = append(r.logs[msg.SessionID], msg)
	return nil
}

func (r *MemoryChatArchive) Load(ctx context.Context, id domain.SessionID) ([]domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs, exists := r.logs[id]
	if !exists {
		return nil, nil
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

func (r *MemoryChatArchive) Purge(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.logs, id)
	return nil
}

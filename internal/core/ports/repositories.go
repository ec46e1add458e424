package ports

import (
	"context"

	"pype/internal/core/domain"
)

// ChatArchive mirrors committed chat messages so history survives restarts
// and late joiners can replay it. The in-memory log in the chat service is
// authoritative for ordering; the archive only stores what was committed.
type ChatArchive interface {
	Append(ctx context.Context, msg domain.ChatMessage) error
	Load(ctx context.Context, id domain.SessionID) ([]domain.ChatMessage, error)
	Purge(ctx context.Context, id domain.SessionID) error
}

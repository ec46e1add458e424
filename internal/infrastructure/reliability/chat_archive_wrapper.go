package reliability

import (
	"context"

	"pype/internal/core/domain"
	"pype/internal/core/ports"
	"pype/pkg/circuitbreaker"
	"pype/pkg/retry"

	"go.uber.org/zap"
)

// ChatArchiveWrapper hardens a remote chat archive: writes and reads are
// retried with backoff behind a circuit breaker, and while the breaker is
// open everything degrades to the in-memory fallback so chat itself never
// fails because the archive is down.
type ChatArchiveWrapper struct {
	primary  ports.ChatArchive
	fallback ports.ChatArchive
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg retry.Config
	logger   *zap.SugaredLogger
}

func NewChatArchiveWrapper(
	primary ports.ChatArchive,
	fallback ports.ChatArchive,
	logger *zap.SugaredLogger,
) *ChatArchiveWrapper {
	w := &ChatArchiveWrapper{
		primary:  primary,
		fallback: fallback,
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig()),
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("chat archive circuit breaker state change",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

func (w *ChatArchiveWrapper) Append(ctx context.Context, msg domain.ChatMessage) error {
	err := w.breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, w.retryCfg, func() error {
			return w.primary.Append(ctx, msg)
		})
	})
	if err != nil {
		w.logger.Warnw("primary chat archive append failed, using fallback",
			"session_id", msg.SessionID,
			"seq", msg.Seq,
			"error", err,
		)
		return w.fallback.Append(ctx, msg)
	}
	// Keep the fallback in sync so a later degrade still replays history.
	_ = w.fallback.Append(ctx, msg)
	return nil
}

func (w *ChatArchiveWrapper) Load(ctx context.Context, id domain.SessionID) ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	err := w.breaker.Execute(ctx, func() error {
		var loadErr error
		msgs, loadErr = w.primary.Load(ctx, id)
		return loadErr
	})
	if err != nil {
		w.logger.Warnw("primary chat archive load failed, using fallback",
			"session_id", id,
			"error", err,
		)
		return w.fallback.Load(ctx, id)
	}
	return msgs, nil
}

func (w *ChatArchiveWrapper) Purge(ctx context.Context, id domain.SessionID) error {
	_ = w.fallback.Purge(ctx, id)
	return w.breaker.Execute(ctx, func() error {
		return w.primary.Purge(ctx, id)
	})
}

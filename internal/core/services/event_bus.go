package services

import (
	"sync"
	"time"

	"pype/internal/core/domain"

	"go.uber.org/zap"
)

// EventBus is the in-process state-change notification fanout. Publishing
// never blocks a state transition: a subscriber whose buffer is full drops
// the event.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan domain.Event
	logger *zap.SugaredLogger
}

func NewEventBus(logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		subs:   make(map[int]chan domain.Event),
		logger: logger,
	}
}

func (b *EventBus) Publish(evt domain.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warnw("dropping event for slow subscriber",
				"subscriber", id,
				"type", evt.Type,
			)
		}
	}
}

func (b *EventBus) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// SubscriberCount is used by the health check.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

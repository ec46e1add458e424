package services

import (
	"context"
	"sync"
	"time"

	"pype/internal/core/domain"
	"pype/internal/core/ports"

	"go.uber.org/zap"
)

type directoryService struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*domain.Peer
	order []domain.PeerID

	hookMu  sync.RWMutex
	onRemove []func(ctx context.Context, id domain.PeerID)

	bus    ports.EventPublisher
	logger *zap.SugaredLogger
}

func NewDirectoryService(bus ports.EventPublisher, logger *zap.SugaredLogger) ports.Directory {
	return &directoryService{
		peers:  make(map[domain.PeerID]*domain.Peer),
		bus:    bus,
		logger: logger,
	}
}

func (d *directoryService) Register(ctx context.Context, peer *domain.Peer) error {
	d.mu.Lock()
	if _, exists := d.peers[peer.ID]; exists {
		d.mu.Unlock()
		return domain.ErrDuplicateID
	}

	p := *peer
	p.Presence = domain.PresenceIdle
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	d.peers[p.ID] = &p
	d.order = append(d.order, p.ID)
	snapshot := p
	d.mu.Unlock()

	d.logger.Infow("peer registered", "peer_id", p.ID, "display_name", p.DisplayName)
	d.bus.Publish(domain.Event{
		Type:    domain.EventPeerJoined,
		PeerID:  p.ID,
		Payload: snapshot,
	})
	return nil
}

func (d *directoryService) Get(ctx context.Context, id domain.PeerID) (*domain.Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	peer, exists := d.peers[id]
	if !exists {
		return nil, domain.ErrUnknownPeer
	}
	snapshot := *peer
	return &snapshot, nil
}

// List returns peers in stable join order.
func (d *directoryService) List(ctx context.Context) ([]*domain.Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*domain.Peer, 0, len(d.order))
	for _, id := range d.order {
		if peer, ok := d.peers[id]; ok {
			snapshot := *peer
			out = append(out, &snapshot)
		}
	}
	return out, nil
}

func (d *directoryService) SetPresence(ctx context.Context, id domain.PeerID, p domain.Presence) error {
	return d.TransitionPresence(ctx, []domain.PresenceChange{{PeerID: id, To: p}})
}

func (d *directoryService) TransitionPresence(ctx context.Context, changes []domain.PresenceChange) error {
	d.mu.Lock()

	// Validate every change before mutating anything.
	for _, ch := range changes {
		peer, exists := d.peers[ch.PeerID]
		if !exists {
			d.mu.Unlock()
			return domain.ErrUnknownPeer
		}
		if len(ch.From) > 0 && !presenceIn(peer.Presence, ch.From) {
			d.mu.Unlock()
			return domain.ErrPeerUnavailable
		}
	}

	updated := make([]domain.Peer, 0, len(changes))
	for _, ch := range changes {
		peer := d.peers[ch.PeerID]
		if peer.Presence == ch.To {
			continue
		}
		peer.Presence = ch.To
		updated = append(updated, *peer)
	}
	d.mu.Unlock()

	for _, snapshot := range updated {
		d.bus.Publish(domain.Event{
			Type:    domain.EventPresenceChanged,
			PeerID:  snapshot.ID,
			Payload: snapshot,
		})
	}
	return nil
}

func (d *directoryService) Remove(ctx context.Context, id domain.PeerID) error {
	d.mu.RLock()
	_, exists := d.peers[id]
	d.mu.RUnlock()
	if !exists {
		return domain.ErrUnknownPeer
	}

	// Cascade first: force-resolve any pending call or session membership so
	// the peer leaves the system consistent. Hooks run outside the directory
	// lock because they call back into TransitionPresence.
	d.hookMu.RLock()
	hooks := make([]func(context.Context, domain.PeerID), len(d.onRemove))
	copy(hooks, d.onRemove)
	d.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, id)
	}

	d.mu.Lock()
	peer, exists := d.peers[id]
	if !exists {
		d.mu.Unlock()
		return domain.ErrUnknownPeer
	}
	snapshot := *peer
	delete(d.peers, id)
	for i, pid := range d.order {
		if pid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	d.logger.Infow("peer removed", "peer_id", id)
	d.bus.Publish(domain.Event{
		Type:    domain.EventPeerLeft,
		PeerID:  id,
		Payload: snapshot,
	})
	return nil
}

func (d *directoryService) OnRemove(hook func(ctx context.Context, id domain.PeerID)) {
	d.hookMu.Lock()
	defer d.hookMu.Unlock()
	d.onRemove = append(d.onRemove, hook)
}

func presenceIn(p domain.Presence, allowed []domain.Presence) bool {
	for _, a := range allowed {
		if p == a {
			return true
		}
	}
	return false
}

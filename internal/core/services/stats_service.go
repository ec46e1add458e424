package services

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"pype/internal/core/domain"
	"pype/internal/core/ports"

	"go.uber.org/zap"
)

type seriesKey struct {
	session domain.SessionID
	peer    domain.PeerID
}

// series is one (session, peer) time series, ordered by timestamp. Writers
// hold the series mutex only for the insert and the opportunistic eviction;
// readers copy the unexpired range.
type series struct {
	mu         sync.Mutex
	samples    []domain.StatSample
	smoothed   float64
	lastUpdate time.Time
}

type statsService struct {
	mu     sync.RWMutex
	series map[seriesKey]*series

	retention time.Duration
	bus       ports.EventPublisher
	logger    *zap.SugaredLogger
}

func NewStatsService(
	sessions ports.SessionManager,
	bus ports.EventPublisher,
	retention time.Duration,
	logger *zap.SugaredLogger,
) ports.StatsCollector {
	s := &statsService{
		series:    make(map[seriesKey]*series),
		retention: retention,
		bus:       bus,
		logger:    logger,
	}

	sessions.OnDestroy(s.destroy)

	return s
}

// expWeight is the exponential moving-average weight over the inter-sample
// gap: a long gap makes the new measurement dominate.
func expWeight(dt time.Duration) float64 {
	return 1 - math.Exp(-dt.Seconds())
}

func (s *statsService) Record(ctx context.Context, sample domain.StatSample) error {
	sr := s.get(seriesKey{session: sample.SessionID, peer: sample.PeerID})

	sr.mu.Lock()
	// Insert keeping timestamp order; an equal timestamp overwrites, which
	// makes redelivered reports idempotent.
	i := sort.Search(len(sr.samples), func(i int) bool {
		return !sr.samples[i].Timestamp.Before(sample.Timestamp)
	})
	switch {
	case i < len(sr.samples) && sr.samples[i].Timestamp.Equal(sample.Timestamp):
		sr.samples[i] = sample
	default:
		sr.samples = append(sr.samples, domain.StatSample{})
		copy(sr.samples[i+1:], sr.samples[i:])
		sr.samples[i] = sample
	}

	if sr.lastUpdate.IsZero() || sr.smoothed == 0 {
		sr.smoothed = sample.RTTMs
	} else {
		w := expWeight(sample.Timestamp.Sub(sr.lastUpdate))
		sr.smoothed = w*sample.RTTMs + (1-w)*sr.smoothed
	}
	if sample.Timestamp.After(sr.lastUpdate) {
		sr.lastUpdate = sample.Timestamp
	}

	// Lazy eviction on write bounds memory without a background sweeper.
	cutoff := time.Now().Add(-s.retention)
	evict := 0
	for evict < len(sr.samples) && sr.samples[evict].Timestamp.Before(cutoff) {
		evict++
	}
	if evict > 0 {
		sr.samples = append([]domain.StatSample(nil), sr.samples[evict:]...)
	}
	sr.mu.Unlock()

	s.bus.Publish(domain.Event{
		Type:      domain.EventStatSample,
		SessionID: sample.SessionID,
		PeerID:    sample.PeerID,
		Payload:   sample,
	})
	return nil
}

// Windowed returns the samples from the last window, oldest first. The
// returned slice is a copy, so iteration is restartable and never races
// with eviction.
func (s *statsService) Windowed(ctx context.Context, id domain.SessionID, peer domain.PeerID, window time.Duration) ([]domain.StatSample, error) {
	s.mu.RLock()
	sr, exists := s.series[seriesKey{session: id, peer: peer}]
	s.mu.RUnlock()
	if !exists {
		return nil, nil
	}

	cutoff := time.Now().Add(-window)

	sr.mu.Lock()
	defer sr.mu.Unlock()
	start := sort.Search(len(sr.samples), func(i int) bool {
		return !sr.samples[i].Timestamp.Before(cutoff)
	})
	return append([]domain.StatSample(nil), sr.samples[start:]...), nil
}

func (s *statsService) Smoothed(ctx context.Context, id domain.SessionID, peer domain.PeerID) (domain.LatencySummary, bool) {
	s.mu.RLock()
	sr, exists := s.series[seriesKey{session: id, peer: peer}]
	s.mu.RUnlock()
	if !exists {
		return domain.LatencySummary{}, false
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.lastUpdate.IsZero() {
		return domain.LatencySummary{}, false
	}
	return domain.LatencySummary{SmoothedRTTMs: sr.smoothed, LastUpdate: sr.lastUpdate}, true
}

func (s *statsService) get(key seriesKey) *series {
	s.mu.RLock()
	sr, exists := s.series[key]
	s.mu.RUnlock()
	if exists {
		return sr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, exists = s.series[key]; exists {
		return sr
	}
	sr = &series{}
	s.series[key] = sr
	return sr
}

func (s *statsService) destroy(id domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.series {
		if key.session == id {
			delete(s.series, key)
		}
	}
}

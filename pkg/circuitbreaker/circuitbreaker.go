package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes the trip and recovery behavior. FailureThreshold consecutive
// failures open the circuit; after Timeout it half-opens and admits up to
// MaxRequestsHalfOpen probes, closing again once SuccessThreshold of them
// succeed.
type Config struct {
	FailureThreshold    int
	SuccessThreshold    int
	Timeout             time.Duration
	MaxRequestsHalfOpen int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

type CircuitBreaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failStreak  int
	probeOKs    int
	probesSent  int
	lastFailure time.Time
	changedAt   time.Time

	notify func(from, to State)
}

func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, changedAt: time.Now()}
}

// OnStateChange registers a callback for state transitions. The callback
// runs on its own goroutine so it cannot deadlock against Execute.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	cb.notify = fn
	cb.mu.Unlock()
}

// Execute runs fn unless the circuit is open. The error from fn, if any, is
// wrapped and counted against the failure streak.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		cb.recordFailure()
		return fmt.Errorf("circuit breaker: %w", err)
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.changedAt) < cb.cfg.Timeout {
			return fmt.Errorf("circuit breaker is open, request rejected")
		}
		cb.moveTo(StateHalfOpen)
		cb.probesSent = 1
		return nil
	case StateHalfOpen:
		if cb.probesSent >= cb.cfg.MaxRequestsHalfOpen {
			return fmt.Errorf("circuit breaker is half-open, probe quota reached")
		}
		cb.probesSent++
	}
	return nil
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failStreak++
	cb.probeOKs = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failStreak >= cb.cfg.FailureThreshold {
			cb.moveTo(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe means the downstream is still sick.
		cb.moveTo(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failStreak = 0
	if cb.state == StateHalfOpen {
		cb.probeOKs++
		if cb.probeOKs >= cb.cfg.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
	}
}

// moveTo must run with cb.mu held.
func (cb *CircuitBreaker) moveTo(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.changedAt = time.Now()
	cb.failStreak = 0
	cb.probeOKs = 0
	cb.probesSent = 0
	if cb.notify != nil {
		go cb.notify(prev, next)
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type Stats struct {
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
	StateChangeTime time.Time
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:           cb.state,
		FailureCount:    cb.failStreak,
		SuccessCount:    cb.probeOKs,
		LastFailureTime: cb.lastFailure,
		StateChangeTime: cb.changedAt,
	}
}

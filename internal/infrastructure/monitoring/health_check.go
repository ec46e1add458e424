package monitoring

import (
	"context"
	"sync"
	"time"
)

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker runs registered checks in the background and serves the
// cached results, so a probe request never blocks on a slow dependency.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	results map[string]string
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		results: make(map[string]string),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
	h.results[name] = "pending"
}

// Start refreshes all checks on the given interval until ctx is cancelled.
func (h *HealthChecker) Start(ctx context.Context, interval time.Duration) {
	go func() {
		h.refresh(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.refresh(ctx)
			}
		}
	}()
}

func (h *HealthChecker) refresh(ctx context.Context) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.Check(checkCtx)
		cancel()

		h.mu.Lock()
		if err != nil {
			h.results[check.Name] = err.Error()
		} else {
			h.results[check.Name] = "healthy"
		}
		h.mu.Unlock()
	}
}

// Status reports the latest cached results.
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(h.results)),
	}
	for name, result := range h.results {
		status.Checks[name] = result
		if result != "healthy" && result != "pending" {
			status.Status = "unhealthy"
		}
	}
	return status
}

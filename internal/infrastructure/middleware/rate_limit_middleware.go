package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"pype/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool keeps one token bucket per caller key and prunes buckets that
// have been idle long enough to be full again anyway.
type limiterPool struct {
	mu    sync.Mutex
	pool  map[string]*keyedLimiter
	rps   rate.Limit
	burst int
}

func newLimiterPool(rps rate.Limit, burst int) *limiterPool {
	p := &limiterPool{
		pool:  make(map[string]*keyedLimiter),
		rps:   rps,
		burst: burst,
	}
	go p.prune()
	return p
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	kl, ok := p.pool[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.pool[key] = kl
	}
	kl.lastSeen = time.Now()
	p.mu.Unlock()
	return kl.limiter.Allow()
}

func (p *limiterPool) prune() {
	for range time.Tick(time.Minute) {
		cutoff := time.Now().Add(-3 * time.Minute)
		p.mu.Lock()
		for key, kl := range p.pool {
			if kl.lastSeen.Before(cutoff) {
				delete(p.pool, key)
			}
		}
		p.mu.Unlock()
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware limits by authenticated peer id when available
// and by client IP otherwise. Must run after AuthMiddleware so the peer id
// is already in the context.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	pool := newLimiterPool(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
	)

	return func(c *gin.Context) {
		key := clientIP(c.Request)
		if peerID, ok := PeerFromContext(c); ok {
			key = "peer:" + string(peerID)
		}

		if !pool.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 1,
			})
			return
		}
		c.Next()
	}
}

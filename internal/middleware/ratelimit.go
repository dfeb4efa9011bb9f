package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/httputil"
)

// RateLimiter keys token buckets by client IP.  Used on the login endpoint
// (5 attempts per 15 minutes per IP).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter granting limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(float64(limit) / window.Seconds()),
		burst:    limit,
	}
	go rl.gcLoop(window)
	return rl
}

// Handler rejects callers over their budget with 429.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			httputil.Error(w, r, apperr.RateLimited())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	ent, ok := rl.limiters[key]
	if !ok {
		ent = &limiterEntry{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = ent
	}
	ent.lastSeen = time.Now()
	rl.mu.Unlock()
	return ent.lim.Allow()
}

// gcLoop drops buckets idle for two windows so the map stays bounded.
func (rl *RateLimiter) gcLoop(window time.Duration) {
	t := time.NewTicker(window)
	defer t.Stop()
	for range t.C {
		cutoff := time.Now().Add(-2 * window)
		rl.mu.Lock()
		for k, ent := range rl.limiters {
			if ent.lastSeen.Before(cutoff) {
				delete(rl.limiters, k)
			}
		}
		rl.mu.Unlock()
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package middleware holds HTTP middleware for the API surface.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is a fixed-window in-memory limiter keyed by client address.
// It fronts the API so one caller cannot burn the upstream provider quota.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*window
	requests int
	span     time.Duration
}

type window struct {
	resetAt time.Time
	count   int
}

// NewRateLimiter allows requests per client within each span.
func NewRateLimiter(requests int, span time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients:  make(map[string]*window),
		requests: requests,
		span:     span,
	}
	go rl.sweep()
	return rl
}

// Middleware rejects clients over their window budget with a 429 carrying
// the API's JSON error shape and a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// RealIP runs before this, so RemoteAddr is the client address.
		allowed, retryAfter := rl.allow(r.RemoteAddr)
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "RateLimitExceeded",
				"message": "Rate limit exceeded. Please try again later.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(clientID string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now().UTC()
	win, ok := rl.clients[clientID]
	if !ok || now.After(win.resetAt) {
		rl.clients[clientID] = &window{count: 1, resetAt: now.Add(rl.span)}
		return true, 0
	}
	if win.count < rl.requests {
		win.count++
		return true, 0
	}
	retryAfter := int(win.resetAt.Sub(now).Seconds()) + 1
	return false, retryAfter
}

// sweep drops expired windows so idle clients do not accumulate.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.span)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now().UTC()
		for clientID, win := range rl.clients {
			if now.After(win.resetAt) {
				delete(rl.clients, clientID)
			}
		}
		rl.mu.Unlock()
	}
}

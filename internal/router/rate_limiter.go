package router

import (
	"sync"
	"time"
)

const (
	DefaultRateLimit  = 100
	DefaultRateWindow = time.Minute
)

// RateLimiter counts events per identity in fixed windows.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	clients map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit events per window for each identity. Zero
// values select the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*clientWindow),
	}
}

// WithClock replaces the time source. Used by tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
	return rl
}

// Allow records one event for identity and reports whether it fits in the
// current window.
func (rl *RateLimiter) Allow(identity string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.clients[identity]
	if !ok || now.Sub(w.windowStart) >= rl.window {
		rl.clients[identity] = &clientWindow{count: 1, windowStart: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Cleanup drops identities whose window started more than idle ago and
// returns how many were removed.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for identity, w := range rl.clients {
		if now.Sub(w.windowStart) > idle {
			delete(rl.clients, identity)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Window returns the configured window length.
func (rl *RateLimiter) Window() time.Duration {
	return rl.window
}

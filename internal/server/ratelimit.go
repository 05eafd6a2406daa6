package server

import (
	"sync"
	"time"

	"github.com/RumyantsevMichael/triangular-tiler/internal/config"
)

// RateLimiter caps generation requests per client address in fixed windows.
type RateLimiter struct {
	mu              sync.Mutex
	windows         map[string]*window
	limit           int
	period          time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter and starts its cleanup loop. A limit of 0
// allows everything.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		windows:         make(map[string]*window),
		limit:           cfg.RequestsPerWindow,
		period:          cfg.Window(),
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}
	if rl.period <= 0 {
		rl.period = time.Minute
	}

	go rl.cleanupLoop()
	return rl
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Allow counts a request from ip. When the window is full it returns false
// and the time until the window resets.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.windows[ip]
	if !exists || now.Sub(w.start) >= rl.period {
		w = &window{start: now}
		rl.windows[ip] = w
	}

	if w.count >= rl.limit {
		return false, w.start.Add(rl.period).Sub(now)
	}
	w.count++
	return true, 0
}

// Remaining returns how many requests ip may still make in its window.
func (rl *RateLimiter) Remaining(ip string) int {
	if rl.limit <= 0 {
		return -1
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists := rl.windows[ip]
	if !exists || rl.now().Sub(w.start) >= rl.period {
		return rl.limit
	}
	return rl.limit - w.count
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops windows that have expired.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, w := range rl.windows {
		if now.Sub(w.start) >= rl.period {
			delete(rl.windows, ip)
		}
	}
}

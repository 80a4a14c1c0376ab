package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	keyIdleTTL      = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// RateLimiter provides global and per-key rate limiting.
type RateLimiter struct {
	global    *rate.Limiter
	perKey    map[string]*keyEntry
	mu        sync.RWMutex
	keyRPS    float64
	keyBurst  int
	cleanupCh chan struct{}
	closeOnce sync.Once
}

// keyEntry tracks last use in Unix nanos so the hot path never takes the write lock.
type keyEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// RateLimiterConfig holds rate limiter configuration.
// A non-positive RPS disables that limit.
type RateLimiterConfig struct {
	GlobalRPS   float64 // Global requests per second
	GlobalBurst int     // Global burst size
	KeyRPS      float64 // Per-key requests per second
	KeyBurst    int     // Per-key burst size
}

// DefaultRateLimiterConfig returns defaults for a single bot identity
// posting into one channel.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GlobalRPS:   50,
		GlobalBurst: 50,
		KeyRPS:      5,
		KeyBurst:    5,
	}
}

// NewRateLimiter creates a new rate limiter. Close stops its cleanup goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		global:    newLimiter(cfg.GlobalRPS, cfg.GlobalBurst),
		perKey:    make(map[string]*keyEntry),
		keyRPS:    cfg.KeyRPS,
		keyBurst:  cfg.KeyBurst,
		cleanupCh: make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until both global and per-key limits allow.
func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	if err := r.global.Wait(ctx); err != nil {
		return err
	}
	return r.getOrCreate(key).Wait(ctx)
}

// Allow returns true if the request is allowed without blocking.
func (r *RateLimiter) Allow(key string) bool {
	if !r.global.Allow() {
		return false
	}
	return r.getOrCreate(key).Allow()
}

// KeyCount returns the number of tracked per-key limiters.
func (r *RateLimiter) KeyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.perKey)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (r *RateLimiter) Close() {
	r.closeOnce.Do(func() { close(r.cleanupCh) })
}

func (r *RateLimiter) getOrCreate(key string) *rate.Limiter {
	now := time.Now().UnixNano()

	r.mu.RLock()
	entry, exists := r.perKey[key]
	r.mu.RUnlock()

	if exists {
		entry.lastUsed.Store(now)
		return entry.limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if entry, exists = r.perKey[key]; exists {
		entry.lastUsed.Store(now)
		return entry.limiter
	}

	entry = &keyEntry{limiter: newLimiter(r.keyRPS, r.keyBurst)}
	entry.lastUsed.Store(now)
	r.perKey[key] = entry
	return entry.limiter
}

func (r *RateLimiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.pruneIdle(time.Now().Add(-keyIdleTTL))
		case <-r.cleanupCh:
			return
		}
	}
}

// pruneIdle drops per-key limiters not used since before.
func (r *RateLimiter) pruneIdle(before time.Time) {
	threshold := before.UnixNano()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.perKey {
		if e.lastUsed.Load() < threshold {
			delete(r.perKey, k)
		}
	}
}

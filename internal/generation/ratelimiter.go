package generation

import (
	"log/slog"
	"sync"
	"time"
)

// RateLimitConfig bounds generation calls per caller per time window.
type RateLimitConfig struct {
	RequestsPerCaller int           `yaml:"requests_per_caller"`
	WindowSize        time.Duration `yaml:"window_size"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupPeriod     time.Duration `yaml:"cleanup_period"`
}

// DefaultRateLimitConfig returns the default generation rate limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerCaller: 10,
		WindowSize:        time.Minute,
		BurstSize:         2,
		CleanupPeriod:     5 * time.Minute,
	}
}

// RateLimiter implements a sliding window rate limiter with per-caller
// tracking. In multi-instance deployments each instance limits its own
// callers; the limiter is load protection, not a correctness mechanism.
type RateLimiter struct {
	cfg         RateLimitConfig
	callers     map[string]*callerState
	mu          sync.RWMutex
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// callerState tracks request counts for a single caller.
type callerState struct {
	count     int64
	windowEnd time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerCaller <= 0 {
		cfg.RequestsPerCaller = 10
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = time.Minute
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 5 * time.Minute
	}

	rl := &RateLimiter{
		cfg:         cfg,
		callers:     make(map[string]*callerState),
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow checks whether a generation call from the given caller may
// proceed. Returns (allowed, remaining, resetTime).
func (rl *RateLimiter) Allow(caller string) (bool, int, time.Time) {
	now := time.Now()

	rl.mu.Lock()
	state, exists := rl.callers[caller]
	if !exists {
		state = &callerState{windowEnd: now.Add(rl.cfg.WindowSize)}
		rl.callers[caller] = state
	}
	rl.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	if now.After(state.windowEnd) {
		state.count = 0
		state.windowEnd = now.Add(rl.cfg.WindowSize)
	}

	limit := int64(rl.cfg.RequestsPerCaller + rl.cfg.BurstSize)
	remaining := limit - state.count - 1

	if state.count >= limit {
		return false, 0, state.windowEnd
	}

	state.count++
	if remaining < 0 {
		remaining = 0
	}
	return true, int(remaining), state.windowEnd
}

// cleanupLoop periodically removes expired caller entries.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	now := time.Now()
	expiredThreshold := now.Add(-rl.cfg.WindowSize * 2)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for caller, state := range rl.callers {
		state.mu.Lock()
		if state.windowEnd.Before(expiredThreshold) {
			delete(rl.callers, caller)
			removed++
		}
		state.mu.Unlock()
	}

	if removed > 0 {
		slog.Debug("generation rate limiter cleanup", "removed", removed, "remaining", len(rl.callers))
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

package notifier

import (
	"sync"
	"time"
)

// RateLimiter implements a sliding window rate limiter per recipient.
type RateLimiter struct {
	mu           sync.Mutex
	maxPerWindow int
	window       time.Duration
	timestamps   map[string][]time.Time
	dropped      int64
	enabled      bool
	now          func() time.Time
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerWindow int           // Maximum notifications per recipient per window (default: 10)
	Window       time.Duration // Time window (default: 1 minute)
	Enabled      bool          // Whether rate limiting is enabled (default: true)
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return &RateLimiter{
		maxPerWindow: config.MaxPerWindow,
		window:       config.Window,
		timestamps:   make(map[string][]time.Time),
		enabled:      config.Enabled,
		now:          time.Now,
	}
}

// Allow reports whether key may receive another notification now, and
// consumes one slot if so.
func (r *RateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ts := r.cleanup(key, now.Add(-r.window))

	if len(ts) >= r.maxPerWindow {
		r.dropped++
		return false
	}

	r.timestamps[key] = append(ts, now)
	return true
}

// Release refunds the most recently consumed slot for key.
// Call this when a notification attempt fails after Allow() returned true.
func (r *RateLimiter) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.timestamps[key]
	if len(ts) == 0 {
		return
	}
	if len(ts) == 1 {
		delete(r.timestamps, key)
		return
	}
	r.timestamps[key] = ts[:len(ts)-1]
}

// cleanup removes timestamps older than the cutoff time for key.
// Must be called with mutex held.
func (r *RateLimiter) cleanup(key string, cutoff time.Time) []time.Time {
	ts := r.timestamps[key]
	idx := 0
	for idx < len(ts) && ts[idx].Before(cutoff) {
		idx++
	}
	if idx == len(ts) {
		delete(r.timestamps, key)
		return nil
	}
	if idx > 0 {
		copy(ts, ts[idx:])
		ts = ts[:len(ts)-idx]
		r.timestamps[key] = ts
	}
	return ts
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RateLimitStats{
		Dropped:      r.dropped,
		Recipients:   len(r.timestamps),
		MaxPerWindow: r.maxPerWindow,
		Window:       r.window,
		Enabled:      r.enabled,
	}
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped      int64         // Total notifications refused
	Recipients   int           // Recipients with sends in the current window
	MaxPerWindow int           // Maximum allowed per recipient per window
	Window       time.Duration // Window duration
	Enabled      bool          // Whether rate limiting is enabled
}

// Reset clears the rate limiter state.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timestamps = make(map[string][]time.Time)
	r.dropped = 0
}

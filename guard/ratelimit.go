package guard

import "time"

// LimiterConfig configures a FixedWindowLimiter.
type LimiterConfig struct {
	// Window is the length of one counting window.
	Window time.Duration
	// MaxRequests is the number of requests allowed inside one window.
	MaxRequests int
	// MaxKeys bounds the number of tracked keys. Zero means DefaultMaxKeys.
	MaxKeys int
	// PruneInterval is the minimum spacing between expiry sweeps.
	// Zero means one window.
	PruneInterval time.Duration
}

type window struct {
	start time.Time
	count int
}

// FixedWindowLimiter counts requests per key in fixed windows anchored at
// the first request of each window.
type FixedWindowLimiter struct {
	windows     *store[window]
	length      time.Duration
	maxRequests int
}

// NewFixedWindowLimiter creates a limiter from cfg.
func NewFixedWindowLimiter(cfg LimiterConfig) *FixedWindowLimiter {
	interval := cfg.PruneInterval
	if interval <= 0 {
		interval = cfg.Window
	}
	return &FixedWindowLimiter{
		windows:     newStore[window](cfg.MaxKeys, interval),
		length:      cfg.Window,
		maxRequests: cfg.MaxRequests,
	}
}

// IsRateLimited records a request for key at now and reports whether it
// exceeds the allowance of the current window. A request that opens a new
// window is never limited.
func (l *FixedWindowLimiter) IsRateLimited(key string, now time.Time) bool {
	l.windows.sweep(now, func(w window) bool {
		return now.Sub(w.start) >= l.length
	})

	e, ok := l.windows.get(key)
	if !ok || now.Sub(e.value.start) >= l.length {
		l.windows.put(key, window{start: now, count: 1})
		return false
	}
	e.value.count++
	return e.value.count > l.maxRequests
}

// Size returns the number of tracked keys.
func (l *FixedWindowLimiter) Size() int {
	return l.windows.size()
}

// Clear forgets every key.
func (l *FixedWindowLimiter) Clear() {
	l.windows.clear()
}

package guard

import "time"

// CounterConfig configures a BoundedCounter.
type CounterConfig struct {
	// TTL resets a key's count once it has been idle this long.
	// Zero disables expiry.
	TTL time.Duration
	// MaxKeys bounds the number of tracked keys. Zero means DefaultMaxKeys.
	MaxKeys int
	// PruneInterval is the minimum spacing between expiry sweeps.
	// Zero means one TTL.
	PruneInterval time.Duration
}

type tally struct {
	updatedAt time.Time
	count     int
}

// BoundedCounter counts events per key with a key ceiling and an optional
// idle TTL.
type BoundedCounter struct {
	tallies *store[tally]
	ttl     time.Duration
}

// NewBoundedCounter creates a counter from cfg.
func NewBoundedCounter(cfg CounterConfig) *BoundedCounter {
	interval := cfg.PruneInterval
	if interval <= 0 {
		interval = cfg.TTL
	}
	return &BoundedCounter{
		tallies: newStore[tally](cfg.MaxKeys, interval),
		ttl:     cfg.TTL,
	}
}

func (c *BoundedCounter) idle(t tally, now time.Time) bool {
	return c.ttl > 0 && now.Sub(t.updatedAt) > c.ttl
}

// Increment bumps the count for key and returns the new value.
func (c *BoundedCounter) Increment(key string, now time.Time) int {
	c.tallies.sweep(now, func(t tally) bool { return c.idle(t, now) })

	e, ok := c.tallies.get(key)
	if !ok {
		c.tallies.put(key, tally{count: 1, updatedAt: now})
		return 1
	}
	if c.idle(e.value, now) {
		e.value.count = 0
	}
	e.value.count++
	e.value.updatedAt = now
	return e.value.count
}

// Count returns the current count for key without touching its recency.
func (c *BoundedCounter) Count(key string, now time.Time) int {
	el, ok := c.tallies.index[key]
	if !ok || c.idle(el.Value.value, now) {
		return 0
	}
	return el.Value.value.count
}

// Size returns the number of tracked keys.
func (c *BoundedCounter) Size() int {
	return c.tallies.size()
}

// Clear forgets every key.
func (c *BoundedCounter) Clear() {
	c.tallies.clear()
}

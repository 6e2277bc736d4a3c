package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"observatory-ops/internal/observability/metrics"
)

// ComputeFunc produces the value for a cache key.
type ComputeFunc func(ctx context.Context) (any, error)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) live(now time.Time) bool {
	return now.Sub(e.storedAt) < e.ttl
}

// Cache memoizes expensive fetches per key with a per-key TTL. Concurrent
// lookups for the same expired key collapse into a single computation and
// all callers receive that computation's result or error.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	flight  singleflight.Group
	clock   Clock
}

// Option configures the cache.
type Option func(*Cache)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New constructs a cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the live value for key or invokes compute to refresh
// it. Failed computations are not stored; the error propagates to every
// caller waiting on the in-flight computation and a later call retries.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, error) {
	if c == nil {
		return nil, errors.New("cache: nil cache")
	}
	if key == "" {
		return nil, errors.New("cache: empty key")
	}
	if compute == nil {
		return nil, errors.New("cache: nil compute func")
	}

	if value, ok := c.lookup(key); ok {
		metrics.IncCacheOp("hit")
		return value, nil
	}

	value, err, shared := c.flight.Do(key, func() (any, error) {
		// Another waiter may have already refreshed the entry while this
		// caller was queued on the flight group.
		if value, ok := c.lookup(key); ok {
			return value, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, value, ttl)
		return value, nil
	})
	if err != nil {
		metrics.IncCacheOp("error")
		return nil, err
	}
	if shared {
		metrics.IncCacheOp("shared")
	} else {
		metrics.IncCacheOp("miss")
	}
	return value, nil
}

// Invalidate forcibly expires an entry.
func (c *Cache) Invalidate(key string) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.flight.Forget(key)
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	for key := range c.entries {
		delete(c.entries, key)
		c.flight.Forget(key)
	}
	c.mu.Unlock()
}

// Len returns the number of stored entries, live or expired.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (any, bool) {
	now := c.clock.Now()
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !e.live(now) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.clock.Now(), ttl: ttl}
	c.mu.Unlock()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

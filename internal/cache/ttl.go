// Package cache holds the executor's short-lived state: a generic TTL entry
// used for the price quote, and the token decimals cache.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultPriceTTL is how long a price quote is served without refetching.
const DefaultPriceTTL = 5 * time.Minute

// Entry is a cached value. A zero ExpiresAt never expires.
type Entry[T any] struct {
	Value     T
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the entry may be served at now.
func (e Entry[T]) Valid(now time.Time) bool {
	return e.ExpiresAt.IsZero() || now.Before(e.ExpiresAt)
}

// TTL caches a single value for a fixed window after each successful fetch.
// Concurrent misses share one fetch.
type TTL[T any] struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu    sync.Mutex
	entry *Entry[T]
}

// NewTTL returns a cache with the given window. ttl <= 0 caches forever;
// a nil now uses time.Now.
func NewTTL[T any](ttl time.Duration, now func() time.Time) *TTL[T] {
	if now == nil {
		now = time.Now
	}
	return &TTL[T]{ttl: ttl, now: now}
}

// NewPrice returns the price quote cache.
func NewPrice(ttl time.Duration, now func() time.Time) *TTL[float64] {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return NewTTL[float64](ttl, now)
}

// Get serves the cached value while valid and otherwise calls fetch. A failed
// fetch leaves the previous entry untouched.
func (c *TTL[T]) Get(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	if e, ok := c.Peek(); ok {
		return e.Value, nil
	}
	v, err, _ := c.group.Do("value", func() (any, error) {
		// a concurrent caller may have refreshed while we waited
		if e, ok := c.Peek(); ok {
			return e.Value, nil
		}
		val, err := fetch(ctx)
		if err != nil {
			return val, err
		}
		c.Set(val)
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Set replaces the entry wholesale, stamped with the current time.
func (c *TTL[T]) Set(v T) {
	now := c.now()
	e := &Entry[T]{Value: v, FetchedAt: now}
	if c.ttl > 0 {
		e.ExpiresAt = now.Add(c.ttl)
	}
	c.mu.Lock()
	c.entry = e
	c.mu.Unlock()
}

// Peek returns the entry if it is still valid.
func (c *TTL[T]) Peek() (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil || !c.entry.Valid(c.now()) {
		return Entry[T]{}, false
	}
	return *c.entry, true
}

// Clear forces the next Get to refetch.
func (c *TTL[T]) Clear() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}

// Package cache provides a size-bounded LRU cache with per-entry TTL.
//
// The clock is injected so expiry can be tested without sleeping.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is used when a non-positive size is given.
const DefaultSize = 512

// Clock returns the current time.
type Clock func() time.Time

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is an LRU cache whose entries expire ttl after insertion.
// It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	ttl   time.Duration
	clock Clock
	lru   *lru.Cache[K, entry[V]]

	// one load per key at a time
	loads singleflight.Group
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// New creates a cache holding at most size entries for ttl each.
// A zero ttl means entries never expire.
func New[K comparable, V any](size int, ttl time.Duration, opts ...Option) *Cache[K, V] {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if size <= 0 {
		size = DefaultSize
	}
	l, _ := lru.New[K, entry[V]](size)
	return &Cache[K, V]{ttl: ttl, clock: o.clock, lru: l}
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.ttl > 0 && !c.clock().Before(e.expiresAt) {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.lru.Add(key, entry[V]{value: value, expiresAt: c.clock().Add(c.ttl)})
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}

// Purge removes all entries.
func (c *Cache[K, V]) Purge() {
	c.lru.Purge()
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Concurrent misses on one key share a single load; misses on different
// keys load in parallel. A caller stops waiting when its ctx is done.
// Errors are not cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	// Keys of one type print distinctly for the comparable types used here.
	flight := fmt.Sprint(key)
	for {
		ch := c.loads.DoChan(flight, func() (any, error) {
			if v, ok := c.Get(key); ok {
				return v, nil
			}
			v, err := load(ctx, key)
			if err != nil {
				return v, err
			}
			c.Set(key, v)
			return v, nil
		})

		var zero V
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res := <-ch:
			// The load belonged to a caller that gave up; ours may still succeed.
			if res.Err != nil && res.Shared && errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
				continue
			}
			v, _ := res.Val.(V)
			return v, res.Err
		}
	}
}

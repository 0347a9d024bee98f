// Package memo memoizes inference results by the content of their input.
//
// A Cache fingerprints the raw input bytes, serves repeated inputs from a
// FIFO-bounded in-process map, optionally falls back to a shared Store, and
// collapses concurrent misses on the same fingerprint into one computation.
package memo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/dermai-api/internal/logging"
	"github.com/Brownie44l1/dermai-api/internal/metrics"
)

// Compute produces the value for raw on a cache miss.
type Compute[V any] func(ctx context.Context, raw []byte) (V, error)

// Fingerprint returns the hex SHA-256 of raw.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Cache memoizes Compute results keyed by Fingerprint.
type Cache[V any] struct {
	entries *Bounded[V]
	shared  Store[V]
	group   singleflight.Group
}

type flight[V any] struct {
	value V
	hit   bool
}

// New returns a Cache bounded to capacity entries. shared may be nil.
func New[V any](capacity int, shared Store[V]) *Cache[V] {
	return &Cache[V]{
		entries: NewBounded[V](capacity),
		shared:  shared,
	}
}

// GetOrCompute returns the memoized value for raw, calling fn only when no
// value is cached and no identical computation is in flight. The boolean
// reports whether the value came from a cache. Failed computations are not
// cached.
//
// Cancelling ctx releases this caller but not the in-flight computation,
// which finishes and populates the cache for later callers.
func (c *Cache[V]) GetOrCompute(ctx context.Context, raw []byte, fn Compute[V]) (V, bool, error) {
	key := Fingerprint(raw)
	if v, ok := c.entries.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return v, true, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fill(flightCtx, key, raw, fn)
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		f := res.Val.(flight[V])
		return f.value, f.hit, nil
	}
}

func (c *Cache[V]) fill(ctx context.Context, key string, raw []byte, fn Compute[V]) (flight[V], error) {
	// A flight for key may have completed between the lookup and DoChan.
	if v, ok := c.entries.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return flight[V]{value: v, hit: true}, nil
	}

	logger := logging.FromContext(ctx)
	if c.shared != nil {
		v, ok, err := c.shared.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn("shared prediction cache lookup failed", "fingerprint", key, "error", err)
		case ok:
			metrics.CacheLookups.WithLabelValues("l2_hit").Inc()
			return flight[V]{value: c.add(key, v), hit: true}, nil
		}
	}

	metrics.CacheLookups.WithLabelValues("miss").Inc()
	v, err := fn(ctx, raw)
	if err != nil {
		return flight[V]{}, err
	}
	v = c.add(key, v)

	if c.shared != nil {
		if err := c.shared.Set(ctx, key, v); err != nil {
			logger.Warn("shared prediction cache write failed", "fingerprint", key, "error", err)
		}
	}
	return flight[V]{value: v}, nil
}

func (c *Cache[V]) add(key string, v V) V {
	stored, evicted := c.entries.Add(key, v)
	if evicted > 0 {
		metrics.CacheEvictions.Add(float64(evicted))
	}
	metrics.CacheEntries.Set(float64(c.entries.Len()))
	return stored
}

func (c *Cache[V]) peek(raw []byte) (V, bool) {
	return c.entries.Get(Fingerprint(raw))
}

// Len returns the number of in-process entries.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// Capacity returns the in-process entry bound.
func (c *Cache[V]) Capacity() int {
	return c.entries.Capacity()
}

// Purge drops every in-process entry and returns how many were held. The
// shared store is left alone.
func (c *Cache[V]) Purge() int {
	n := c.entries.Clear()
	metrics.CacheEntries.Set(0)
	return n
}

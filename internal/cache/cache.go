// Package cache memoizes expensive lookups keyed by (service, query, params)
// with time-based expiry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/metrics"
)

// Default TTLs per service family.
const (
	DefaultTTL   = 24 * time.Hour
	GeocodeTTL   = 7 * 24 * time.Hour
	CityTTL      = 30 * 24 * time.Hour
	EstimatorTTL = 30 * 24 * time.Hour

	DefaultSweepProbability = 0.01
)

// Store persists serialized cache entries. Get reports expired entries as a
// miss and removes them.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SweepExpired(ctx context.Context) (int, error)
}

// Cache is a cache-aside wrapper over a Store. It is safe for concurrent use
// when its Store is. A nil *Cache disables caching.
type Cache struct {
	store            Store
	sweepProbability float64
	draw             func() float64
}

// Option configures a Cache.
type Option func(*Cache)

// WithSweepProbability sets the chance that a read first sweeps expired entries.
func WithSweepProbability(p float64) Option {
	return func(c *Cache) { c.sweepProbability = p }
}

// WithDraw replaces the random source used for the sweep decision.
func WithDraw(fn func() float64) Option {
	return func(c *Cache) { c.draw = fn }
}

// New creates a Cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:            store,
		sweepProbability: DefaultSweepProbability,
		draw:             rand.Float64,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type keyDoc struct {
	Service string         `json:"service"`
	Query   string         `json:"query"`
	Params  map[string]any `json:"params"`
}

// Key derives the cache key for a lookup: the hex SHA-256 of the JSON
// encoding of service, query and params. Map keys are encoded in sorted
// order, so the key does not depend on parameter insertion order.
func Key(service, query string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(keyDoc{Service: service, Query: query, Params: params})
	if err != nil {
		return "", eris.Wrap(err, "cache: encode key")
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// Get returns the stored bytes for key. Store failures are logged and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	if c.sweepProbability > 0 && c.draw() < c.sweepProbability {
		if n, err := c.store.SweepExpired(ctx); err != nil {
			zap.L().Warn("cache: sweep failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Debug("cache: swept expired entries", zap.Int("count", n))
		}
	}
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		zap.L().Warn("cache: read failed", zap.String("key", shortKey(key)), zap.Error(err))
		return nil, false
	}
	return data, ok
}

// Put stores value under key for ttl. Failures are logged.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Put(ctx, key, value, ttl); err != nil {
		zap.L().Warn("cache: write failed", zap.String("key", shortKey(key)), zap.Error(err))
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	if c == nil || c.store == nil {
		return 0, nil
	}
	n, err := c.store.SweepExpired(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "cache: sweep")
	}
	return n, nil
}

// GetOrCompute returns the cached value for (service, query, params) or runs
// fn, stores its result for ttl and returns it. Errors from fn are returned
// and nothing is cached. A corrupt cached entry is recomputed.
func GetOrCompute[T any](ctx context.Context, c *Cache, service, query string, params map[string]any, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if c == nil || c.store == nil {
		return fn(ctx)
	}

	key, err := Key(service, query, params)
	if err != nil {
		var zero T
		return zero, err
	}

	if data, ok := c.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			metrics.CacheRequests.WithLabelValues(service, metrics.CacheHit).Inc()
			zap.L().Debug("cache hit", zap.String("service", service), zap.String("key", shortKey(key)))
			return v, nil
		}
		metrics.CacheRequests.WithLabelValues(service, metrics.CacheError).Inc()
		zap.L().Warn("cache: discarding undecodable entry", zap.String("service", service), zap.String("key", shortKey(key)))
	} else {
		metrics.CacheRequests.WithLabelValues(service, metrics.CacheMiss).Inc()
	}

	v, err := fn(ctx)
	if err != nil {
		return v, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return v, eris.Wrapf(err, "cache: encode %s value", service)
	}
	c.Put(ctx, key, data, ttl)
	return v, nil
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

package geocode

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/cache"
	"github.com/sells-group/site-finder/internal/metrics"
)

// Cache service names.
const (
	ServiceGeocode = "geocode"
	ServiceReverse = "reverse_geocode"
)

// ErrUnavailable is returned when every available provider failed. It is
// never cached, so the next call retries the providers.
var ErrUnavailable = eris.New("geocode: every provider failed")

// Provider represents a single geocoding backend.
type Provider interface {
	Name() string
	Available() bool
	Geocode(ctx context.Context, query string) (*Result, error)
	Reverse(ctx context.Context, lat, lng float64) (*ReverseResult, error)
}

// CascadeClient tries geocode providers in order until one matches.
type CascadeClient struct {
	providers  []Provider
	cache      *cache.Cache
	geocodeTTL time.Duration
	reverseTTL time.Duration
}

// CascadeOption configures the CascadeClient.
type CascadeOption func(*CascadeClient)

// WithCascadeCache memoizes results, matched or not, in c.
func WithCascadeCache(c *cache.Cache) CascadeOption {
	return func(cc *CascadeClient) {
		cc.cache = c
	}
}

// WithCascadeTTL sets the cache TTLs for forward and reverse lookups.
func WithCascadeTTL(geocodeTTL, reverseTTL time.Duration) CascadeOption {
	return func(cc *CascadeClient) {
		if geocodeTTL > 0 {
			cc.geocodeTTL = geocodeTTL
		}
		if reverseTTL > 0 {
			cc.reverseTTL = reverseTTL
		}
	}
}

// NewCascadeClient creates a CascadeClient that tries providers in order.
func NewCascadeClient(providers []Provider, opts ...CascadeOption) *CascadeClient {
	c := &CascadeClient{
		providers:  providers,
		geocodeTTL: cache.GeocodeTTL,
		reverseTTL: cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Geocode implements Client by trying each provider in order. Provider
// errors are logged and the next provider is tried. If at least one provider
// answered without a match, an unmatched result is returned without error;
// if every provider failed, ErrUnavailable is returned.
func (c *CascadeClient) Geocode(ctx context.Context, query string) (*Result, error) {
	normalized := NormalizeQuery(query)
	if normalized == "" {
		return &Result{Matched: false, Source: "cascade"}, nil
	}

	return cache.GetOrCompute(ctx, c.cache, ServiceGeocode, normalized, nil, c.geocodeTTL,
		func(ctx context.Context) (*Result, error) {
			return c.geocodeUncached(ctx, query)
		})
}

func (c *CascadeClient) geocodeUncached(ctx context.Context, query string) (*Result, error) {
	var (
		lastResult *Result
		lastErr    error
		answered   bool
	)
	for _, p := range c.providers {
		if !p.Available() {
			continue
		}
		result, err := p.Geocode(ctx, query)
		metrics.ObserveExternal(p.Name()+"_geocode", err)
		if err != nil {
			lastErr = err
			zap.L().Warn("cascade: provider error, trying next",
				zap.String("provider", p.Name()),
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}
		answered = true
		if result != nil && result.Matched {
			return result, nil
		}
		if result != nil {
			lastResult = result
		}
	}
	if !answered && lastErr != nil {
		return nil, eris.Wrapf(ErrUnavailable, "geocode %q: %v", query, lastErr)
	}

	noMatch := &Result{Matched: false, Source: "cascade"}
	if lastResult != nil {
		noMatch.Source = lastResult.Source
	}
	zap.L().Info("cascade: no match", zap.String("query", query))
	return noMatch, nil
}

// ReverseGeocode implements Client by trying each provider in order.
func (c *CascadeClient) ReverseGeocode(ctx context.Context, lat, lng float64) (*ReverseResult, error) {
	query := fmt.Sprintf("%.6f,%.6f", lat, lng)
	return cache.GetOrCompute(ctx, c.cache, ServiceReverse, query, nil, c.reverseTTL,
		func(ctx context.Context) (*ReverseResult, error) {
			var answered bool
			var lastErr error
			for _, p := range c.providers {
				if !p.Available() {
					continue
				}
				result, err := p.Reverse(ctx, lat, lng)
				metrics.ObserveExternal(p.Name()+"_reverse", err)
				if err != nil {
					lastErr = err
					zap.L().Warn("cascade: reverse provider error, trying next",
						zap.String("provider", p.Name()),
						zap.String("latlng", query),
						zap.Error(err),
					)
					continue
				}
				answered = true
				if result != nil && result.Matched {
					return result, nil
				}
			}
			if !answered && lastErr != nil {
				return nil, eris.Wrapf(ErrUnavailable, "reverse geocode %s: %v", query, lastErr)
			}
			return &ReverseResult{Matched: false, Source: "cascade"}, nil
		})
}

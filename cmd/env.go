package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/site-finder/internal/cache"
	"github.com/sells-group/site-finder/internal/competitor"
	"github.com/sells-group/site-finder/internal/estimate"
	"github.com/sells-group/site-finder/internal/events"
	"github.com/sells-group/site-finder/internal/grid"
	"github.com/sells-group/site-finder/internal/resilience"
	"github.com/sells-group/site-finder/internal/scorer"
	"github.com/sells-group/site-finder/internal/search"
	"github.com/sells-group/site-finder/internal/store"
	"github.com/sells-group/site-finder/pkg/geocode"
	"github.com/sells-group/site-finder/pkg/google"
)

// Breaker names.
const (
	breakerPlaces = "google_places"
)

// searchEnv holds everything the search, serve and heatmap commands need.
type searchEnv struct {
	Store     store.Store
	Cache     *cache.Cache
	Geocoder  *geocode.CascadeClient
	Grid      *grid.Generator
	Finder    *competitor.Finder
	Service   *search.Service
	Publisher events.Publisher
}

// Close releases the store and the event connection.
func (e *searchEnv) Close() {
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store and applies migrations.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initSearch wires store, cache, providers, estimators, scorer and
// orchestrator. Callers should defer env.Close().
func initSearch(ctx context.Context) (*searchEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &searchEnv{Store: st}

	env.Cache = cache.New(st, cache.WithSweepProbability(cfg.Cache.SweepProbability))
	env.Geocoder = newGeocoder(env.Cache)

	breakers := resilience.NewBreakers(resilience.FromSettings(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeout))
	env.Finder = competitor.New(newPlacesClient(),
		competitor.WithCache(env.Cache, cfg.Cache.DefaultTTL),
		competitor.WithBreaker(breakers.Get(breakerPlaces)),
	)

	est := estimate.NewSimulated(
		estimate.WithWalkingSpeed(cfg.Search.WalkingSpeedKMH),
		estimate.WithCache(env.Cache, cfg.Cache.EstimatorTTL),
	)
	env.Grid = grid.New(grid.Config{
		Resolution:        cfg.Search.GridResolution,
		DensityResolution: cfg.Search.DensityGridResolution,
		DensityMinIndex:   cfg.Search.DensityMinIndex,
	}, est)

	sc, err := scorer.New(scorer.FromSettings(cfg.Search, cfg.Scoring), env.Geocoder, env.Finder, est)
	if err != nil {
		env.Close()
		return nil, err
	}

	orch := search.NewOrchestrator(search.Config{
		PopulationMin: cfg.Search.PopulationMin,
		MinScore:      cfg.Search.MinScore,
		Concurrency:   cfg.Search.Concurrency,
		Country:       cfg.Search.Country,
		CityTTL:       cfg.Cache.CityTTL,
	}, env.Geocoder, env.Grid, sc, search.WithCache(env.Cache))

	env.Publisher = newPublisher()
	env.Service = search.NewService(orch, st, env.Publisher)
	return env, nil
}

func newGeocoder(c *cache.Cache) *geocode.CascadeClient {
	providers := []geocode.Provider{
		geocode.NewGoogleProvider(cfg.Google.APIKey,
			geocode.WithBaseURL(cfg.Google.GeocodeBaseURL),
			geocode.WithRateLimit(cfg.Google.RateLimit),
			geocode.WithRegion("fr"),
		),
	}
	if cfg.Nominatim.Enabled {
		providers = append(providers, geocode.NewNominatimProvider(
			geocode.WithBaseURL(cfg.Nominatim.BaseURL),
			geocode.WithUserAgent(cfg.Nominatim.UserAgent),
			geocode.WithRateLimit(cfg.Nominatim.RateLimit),
		))
	}
	return geocode.NewCascadeClient(providers,
		geocode.WithCascadeCache(c),
		geocode.WithCascadeTTL(cfg.Cache.GeocodeTTL, cfg.Cache.DefaultTTL),
	)
}

// newPlacesClient returns nil without an API key; competitor lookups then
// report no competitors.
func newPlacesClient() google.Client {
	if cfg.Google.APIKey == "" {
		zap.L().Warn("SITEFINDER_GOOGLE_API_KEY not set, competitor lookups disabled")
		return nil
	}
	opts := []google.Option{google.WithBaseURL(cfg.Google.PlacesBaseURL)}
	if cfg.Google.RateLimit > 0 {
		opts = append(opts, google.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.Google.RateLimit), 1)))
	}
	return google.NewClient(cfg.Google.APIKey, opts...)
}

// newPublisher connects to NATS when configured. A failed connection is
// logged and notifications are dropped.
func newPublisher() events.Publisher {
	if cfg.NATS.URL == "" {
		return events.Noop{}
	}
	pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.Subject)
	if err != nil {
		zap.L().Warn("nats unavailable, search events disabled", zap.Error(err))
		return events.Noop{}
	}
	return pub
}

// Package search runs a laundromat site search: resolve the city center,
// generate candidate coordinates, score them concurrently, then filter and
// rank the accepted sites.
package search

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/site-finder/internal/cache"
	"github.com/sells-group/site-finder/internal/metrics"
	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/internal/scorer"
	"github.com/sells-group/site-finder/pkg/geocode"
)

// ServiceCity is the cache service name for resolved city centers.
const ServiceCity = "city_coordinates"

// State is a step of the search state machine.
type State string

// Search states in execution order.
const (
	StateResolving  State = "resolving-center"
	StateGenerating State = "generating-candidates"
	StateScoring    State = "scoring"
	StateFiltering  State = "filtering"
	StateRanking    State = "ranking"
	StateDone       State = "done"
)

// Geocoder resolves a free-text place to a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (*geocode.Result, error)
}

// CandidateGenerator produces the coordinates to score around a center.
type CandidateGenerator interface {
	Candidates(ctx context.Context, center model.Coordinate, radiusKM float64) ([]model.Coordinate, error)
}

// Evaluator scores one candidate.
type Evaluator interface {
	Evaluate(ctx context.Context, req scorer.Request) (*model.Location, error)
}

// Config holds the acceptance rules and worker pool size.
type Config struct {
	PopulationMin int
	MinScore      float64
	Concurrency   int
	Country       string
	CityTTL       time.Duration
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		PopulationMin: 2000,
		MinScore:      0.4,
		Concurrency:   4,
		Country:       "France",
		CityTTL:       cache.CityTTL,
	}
}

// Orchestrator drives one search through its states. It holds no per-search
// state and is safe for concurrent use.
type Orchestrator struct {
	cfg        Config
	geocoder   Geocoder
	candidates CandidateGenerator
	evaluator  Evaluator
	cache      *cache.Cache
	now        func() time.Time
	onState    func(State)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache memoizes resolved city centers in c.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithClock overrides the result timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config, geocoder Geocoder, candidates CandidateGenerator, evaluator Evaluator, opts ...Option) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CityTTL <= 0 {
		cfg.CityTTL = cache.CityTTL
	}
	o := &Orchestrator{
		cfg:        cfg,
		geocoder:   geocoder,
		candidates: candidates,
		evaluator:  evaluator,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Outcome is a finished search with the facts the caller needs for
// bookkeeping.
type Outcome struct {
	Results    *model.SearchResults
	Center     *model.Coordinate // nil when the query did not resolve
	Candidates int
}

// Run executes a search. Not-found conditions yield an empty, well-formed
// result. Only cancellation and candidate generation failures are returned
// as errors.
func (o *Orchestrator) Run(ctx context.Context, params model.SearchParameters) (*model.SearchResults, error) {
	out, err := o.Execute(ctx, params)
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Execute is Run with the resolved center and candidate count.
func (o *Orchestrator) Execute(ctx context.Context, params model.SearchParameters) (*Outcome, error) {
	out := &Outcome{Results: model.NewSearchResults(params, o.now().UTC())}
	log := zap.L().With(zap.String("query", params.Query), zap.Int("radius_m", params.RadiusM))

	o.enter(StateResolving)
	center, ok := o.resolveCenter(ctx, params.Query)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "search: resolve center")
		}
		log.Warn("search: city not found")
		o.enter(StateDone)
		return out, nil
	}
	out.Center = &center
	log = log.With(zap.String("center", center.String()))

	o.enter(StateGenerating)
	coords, err := o.candidates.Candidates(ctx, center, params.RadiusKM())
	if err != nil {
		return nil, eris.Wrap(err, "search: generate candidates")
	}
	out.Candidates = len(coords)
	log.Info("search: candidates generated", zap.Int("count", len(coords)))

	o.enter(StateScoring)
	scored, err := o.score(ctx, params, coords)
	if err != nil {
		return nil, err
	}

	o.enter(StateFiltering)
	accepted := o.filter(scored)

	o.enter(StateRanking)
	out.Results.SetLocations(accepted)

	o.enter(StateDone)
	log.Info("search: complete",
		zap.Int("scored", len(coords)),
		zap.Int("accepted", out.Results.TotalCount),
	)
	return out, nil
}

func (o *Orchestrator) enter(s State) {
	if o.onState != nil {
		o.onState(s)
	}
}

// resolveCenter geocodes "<query>, <country>". Misses and provider errors
// both report false.
func (o *Orchestrator) resolveCenter(ctx context.Context, query string) (model.Coordinate, bool) {
	if o.geocoder == nil {
		return model.Coordinate{}, false
	}
	full := geocode.WithCountry(query, o.cfg.Country)
	normalized := geocode.NormalizeQuery(full)
	if normalized == "" {
		return model.Coordinate{}, false
	}

	res, err := cache.GetOrCompute(ctx, o.cache, ServiceCity, normalized, nil, o.cfg.CityTTL,
		func(ctx context.Context) (*geocode.Result, error) {
			return o.geocoder.Geocode(ctx, full)
		})
	if err != nil {
		zap.L().Warn("search: geocode city failed", zap.String("query", full), zap.Error(err))
		return model.Coordinate{}, false
	}
	if res == nil || !res.Matched {
		return model.Coordinate{}, false
	}
	return model.Coordinate{Latitude: res.Latitude, Longitude: res.Longitude}, true
}

// score evaluates every candidate on a bounded worker pool. Each worker
// writes its own slot so discovery order survives for the stable ranking.
func (o *Orchestrator) score(ctx context.Context, params model.SearchParameters, coords []model.Coordinate) ([]*model.Location, error) {
	slots := make([]*model.Location, len(coords))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for i, c := range coords {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "search: scoring")
			}
			loc, err := o.evaluator.Evaluate(gctx, scorer.Request{
				Coordinate:     c,
				WalkingMinutes: params.WalkingTime,
				Keywords:       params.CompetitorKeywords,
			})
			metrics.CandidatesScored.Inc()
			if err != nil {
				if ctx.Err() != nil {
					return eris.Wrap(ctx.Err(), "search: scoring")
				}
				zap.L().Warn("search: candidate skipped", zap.String("coordinate", c.String()), zap.Error(err))
				return nil
			}
			slots[i] = loc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slots, nil
}

// filter keeps the sites with enough reachable population and a score above
// the acceptance bar, in discovery order.
func (o *Orchestrator) filter(scored []*model.Location) []model.Location {
	accepted := []model.Location{}
	for _, loc := range scored {
		if loc == nil {
			continue
		}
		if Accept(*loc, o.cfg.PopulationMin, o.cfg.MinScore) {
			accepted = append(accepted, *loc)
		}
	}
	return accepted
}

// Accept reports whether a scored location passes the acceptance rules.
func Accept(loc model.Location, populationMin int, minScore float64) bool {
	return loc.Population >= populationMin && loc.Score > minScore
}

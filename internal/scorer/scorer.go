package scorer

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/estimate"
	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/pkg/geocode"
)

// AddressResolver turns a coordinate into a postal address.
type AddressResolver interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (*geocode.ReverseResult, error)
}

// CompetitorFinder lists competitors within a radius, nearest first. It
// never fails; a provider outage yields an empty list.
type CompetitorFinder interface {
	Find(ctx context.Context, c model.Coordinate, radiusM float64, keywords []string) []model.Competitor
}

// Request is one evaluation. Zero fields fall back to the scorer Config.
type Request struct {
	Coordinate     model.Coordinate
	Address        string
	WalkingMinutes int
	Keywords       []string
}

// Scorer evaluates candidate sites. It is safe for concurrent use when its
// collaborators are.
type Scorer struct {
	cfg         Config
	addresses   AddressResolver
	competitors CompetitorFinder
	estimator   estimate.Estimator
	newID       func() string
}

// New creates a Scorer. addresses and competitors may be nil, in which case
// placeholder addresses and zero competitors are used.
func New(cfg Config, addresses AddressResolver, competitors CompetitorFinder, estimator estimate.Estimator) (*Scorer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if estimator == nil {
		return nil, eris.New("scorer: estimator is required")
	}
	return &Scorer{
		cfg:         cfg,
		addresses:   addresses,
		competitors: competitors,
		estimator:   estimator,
		newID:       uuid.NewString,
	}, nil
}

// Config returns the scorer settings.
func (s *Scorer) Config() Config { return s.cfg }

// Evaluate scores one coordinate. Failed lookups degrade to neutral values
// and are logged. Only cancellation of ctx is returned as an error.
func (s *Scorer) Evaluate(ctx context.Context, req Request) (*model.Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "scorer: evaluate")
	}

	c := req.Coordinate
	walking := req.WalkingMinutes
	if walking <= 0 {
		walking = s.cfg.WalkingTimeMinutes
	}
	keywords := req.Keywords
	if len(keywords) == 0 {
		keywords = s.cfg.CompetitorKeywords
	}
	log := zap.L().With(zap.String("coordinate", c.String()))

	address := req.Address
	if address == "" {
		address = s.resolveAddress(ctx, c, log)
	}
	loc := model.NewLocation(s.newID(), address, c)

	// Population.
	population, err := s.estimator.AccessiblePopulation(ctx, c, walking)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "scorer: population")
		}
		log.Warn("scorer: population estimate failed", zap.Error(err))
		population = 0
	}
	loc.Population = population
	loc.Details["population_data"] = map[string]any{
		"walking_time_minutes":               walking,
		"population_within_walking_distance": population,
		"minimum_threshold":                  s.cfg.PopulationMin,
		"sufficiency":                        populationSufficiency(population, s.cfg.PopulationMin),
	}

	// Competition.
	var competitors []model.Competitor
	if s.competitors != nil {
		competitors = s.competitors.Find(ctx, c, s.cfg.CompetitorRadiusM, keywords)
	}
	loc.SetCompetitors(competitors)
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "scorer: competitors")
	}
	competition := map[string]any{
		"nearest_competitor":   nil,
		"competitors_count":    len(loc.Competitors),
		"search_radius_meters": s.cfg.CompetitorRadiusM,
	}
	if n := loc.NearestCompetitor; n != nil {
		competition["nearest_competitor"] = map[string]any{
			"name":            n.Name,
			"address":         n.Address,
			"distance_meters": n.Distance,
		}
	}
	loc.Details["competition_data"] = competition

	// Residential density.
	index, err := s.estimator.ResidentialDensityIndex(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "scorer: density")
		}
		log.Warn("scorer: residential density failed", zap.Error(err))
		index = 0
	}
	loc.DensityIndex = index * DensityScale
	loc.Details["density_data"] = map[string]any{
		"residential_density_index": index,
		"density_value":             loc.DensityIndex,
		"threshold":                 s.cfg.DensityThreshold,
		"sufficiency":               densitySufficiency(index),
	}

	// Composite.
	b := Breakdown{
		Population:  PopulationScore(loc.Population),
		Competition: CompetitionScore(loc.NearestCompetitorDistance),
		Density:     DensityScore(loc.DensityIndex),
		Weights:     s.cfg.Weights,
	}
	b.Total = b.Composite()
	loc.Score = b.Total
	loc.Details["score_details"] = b.detail()

	return loc, nil
}

func (s *Scorer) resolveAddress(ctx context.Context, c model.Coordinate, log *zap.Logger) string {
	if s.addresses != nil {
		res, err := s.addresses.ReverseGeocode(ctx, c.Latitude, c.Longitude)
		switch {
		case err != nil:
			log.Warn("scorer: reverse geocode failed", zap.Error(err))
		case res != nil && res.Matched && res.Address != "":
			return res.Address
		}
	}
	return PlaceholderAddress(c)
}

// PlaceholderAddress is the address used when reverse geocoding finds nothing.
func PlaceholderAddress(c model.Coordinate) string {
	return fmt.Sprintf("Adresse inconnue (%.6f, %.6f)", c.Latitude, c.Longitude)
}

// Breakdown is the audit trail of one composite score.
type Breakdown struct {
	Total       float64
	Population  float64
	Competition float64
	Density     float64
	Weights     Weights
}

// Composite returns the weighted sum of the sub-scores.
func (b Breakdown) Composite() float64 {
	return b.Population*b.Weights.Population +
		b.Competition*b.Weights.Competition +
		b.Density*b.Weights.Density
}

func (b Breakdown) detail() map[string]any {
	return map[string]any{
		"total_score":       b.Total,
		"population_score":  b.Population,
		"competition_score": b.Competition,
		"density_score":     b.Density,
		"weights": map[string]any{
			"population":  b.Weights.Population,
			"competition": b.Weights.Competition,
			"density":     b.Weights.Density,
		},
	}
}

// PopulationScore normalizes an accessible population to [0,1].
func PopulationScore(population int) float64 {
	return clamp01(float64(population) / PopulationSaturation)
}

// CompetitionScore normalizes the nearest competitor distance to [0,1]. An
// infinite distance (no competitor) scores 1.
func CompetitionScore(nearestM float64) float64 {
	if math.IsInf(nearestM, 1) {
		return 1
	}
	return clamp01(nearestM / CompetitionSaturation)
}

// DensityScore normalizes a scaled density index to [0,1].
func DensityScore(scaled float64) float64 {
	return clamp01(scaled / DensitySaturation)
}

func populationSufficiency(population, minimum int) string {
	if population >= minimum {
		return "sufficient"
	}
	return "insufficient"
}

func densitySufficiency(index float64) string {
	switch {
	case index > 0.7:
		return "high"
	case index > 0.4:
		return "medium"
	default:
		return "low"
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package estimate provides the simulated population and residential-density
// estimators. No geodata provider backs them: every value is a deterministic
// function of the coordinate and the configured constants.
package estimate

import (
	"context"
	"math"
	"time"

	"github.com/sells-group/site-finder/internal/cache"
	"github.com/sells-group/site-finder/internal/model"
)

// DefaultWalkingSpeedKMH is the average walking speed.
const DefaultWalkingSpeedKMH = 5.0

// Cache service names.
const (
	ServicePopulation  = "smappen"
	ServiceResidential = "geoportail"
)

// Estimator produces geodemographic estimates for a coordinate.
type Estimator interface {
	AccessiblePopulation(ctx context.Context, c model.Coordinate, walkingMinutes int) (int, error)
	PopulationDensity(ctx context.Context, c model.Coordinate) (float64, error)
	ResidentialDensityIndex(ctx context.Context, c model.Coordinate) (float64, error)
}

// Simulated is the synthetic Estimator. It is stateless apart from its
// optional cache and safe for concurrent use.
type Simulated struct {
	walkingSpeedKMH float64
	cache           *cache.Cache
	ttl             time.Duration
}

// Option configures a Simulated estimator.
type Option func(*Simulated)

// WithWalkingSpeed overrides the walking speed in km/h.
func WithWalkingSpeed(kmh float64) Option {
	return func(s *Simulated) { s.walkingSpeedKMH = kmh }
}

// WithCache memoizes estimates in c for ttl.
func WithCache(c *cache.Cache, ttl time.Duration) Option {
	return func(s *Simulated) {
		s.cache = c
		s.ttl = ttl
	}
}

// NewSimulated creates a Simulated estimator.
func NewSimulated(opts ...Option) *Simulated {
	s := &Simulated{
		walkingSpeedKMH: DefaultWalkingSpeedKMH,
		ttl:             cache.EstimatorTTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PopulationDensity returns the estimated density in habitants/km².
func (s *Simulated) PopulationDensity(ctx context.Context, c model.Coordinate) (float64, error) {
	return cache.GetOrCompute(ctx, s.cache, ServicePopulation, "density:"+c.String(), nil, s.ttl,
		func(context.Context) (float64, error) {
			return Density(c), nil
		})
}

// AccessiblePopulation returns the residents within walkingMinutes of c.
func (s *Simulated) AccessiblePopulation(ctx context.Context, c model.Coordinate, walkingMinutes int) (int, error) {
	params := map[string]any{"walking_time": walkingMinutes, "walking_speed": s.walkingSpeedKMH}
	return cache.GetOrCompute(ctx, s.cache, ServicePopulation, "population:"+c.String(), params, s.ttl,
		func(ctx context.Context) (int, error) {
			density, err := s.PopulationDensity(ctx, c)
			if err != nil {
				return 0, err
			}
			return PopulationWithin(density, WalkingRadiusM(s.walkingSpeedKMH, walkingMinutes)), nil
		})
}

// ResidentialDensityIndex returns the blended [0,1] residential index for c.
func (s *Simulated) ResidentialDensityIndex(ctx context.Context, c model.Coordinate) (float64, error) {
	return cache.GetOrCompute(ctx, s.cache, ServiceResidential, "residential:"+c.String(), nil, s.ttl,
		func(ctx context.Context) (float64, error) {
			density, err := s.PopulationDensity(ctx, c)
			if err != nil {
				return 0, err
			}
			return BlendIndex(density, ResidentialIndex(c, density)), nil
		})
}

// WalkingRadiusM converts a walking time into a radius in meters.
func WalkingRadiusM(speedKMH float64, minutes int) float64 {
	return speedKMH * 1000 / 60 * float64(minutes)
}

// PopulationWithin returns the population of a disk of radiusM at the given
// density, truncated to an integer.
func PopulationWithin(density, radiusM float64) int {
	km := radiusM / 1000
	return int(math.Pi * km * km * density)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

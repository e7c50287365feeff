// Package scorer evaluates one candidate coordinate for a new laundromat:
// reachable population, distance to the nearest competitor and residential
// density, blended into a weighted composite score.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-finder/internal/competitor"
	"github.com/sells-group/site-finder/internal/config"
	"github.com/sells-group/site-finder/internal/model"
)

// Normalization constants for the sub-scores.
const (
	PopulationSaturation  = 10000.0 // residents for a full population score
	CompetitionSaturation = 1000.0  // meters to nearest competitor for a full score
	DensityScale          = 10000.0 // residential index [0,1] scaled for scoring
	DensitySaturation     = 5000.0  // scaled density for a full density score
)

// Weights are the composite score weights. They must sum to 1.
type Weights struct {
	Population  float64 `json:"population"`
	Competition float64 `json:"competition"`
	Density     float64 `json:"density"`
}

// Config holds the scorer settings.
type Config struct {
	Weights            Weights
	WalkingTimeMinutes int
	CompetitorRadiusM  float64
	CompetitorKeywords []string
	PopulationMin      int
	DensityThreshold   float64
}

// DefaultConfig returns the scorer defaults. Weights sum to 1.
func DefaultConfig() Config {
	return Config{
		Weights:            Weights{Population: 0.4, Competition: 0.4, Density: 0.2},
		WalkingTimeMinutes: 10,
		CompetitorRadiusM:  competitor.DefaultRadiusM,
		CompetitorKeywords: model.DefaultCompetitorKeywords,
		PopulationMin:      2000,
		DensityThreshold:   1000,
	}
}

// FromSettings builds a Config from loaded application settings.
func FromSettings(search config.SearchConfig, scoring config.ScoringConfig) Config {
	cfg := DefaultConfig()
	cfg.Weights = Weights{
		Population:  scoring.WeightPopulation,
		Competition: scoring.WeightCompetition,
		Density:     scoring.WeightDensity,
	}
	if search.WalkingTimeMinutes > 0 {
		cfg.WalkingTimeMinutes = search.WalkingTimeMinutes
	}
	if search.CompetitorRadiusM > 0 {
		cfg.CompetitorRadiusM = search.CompetitorRadiusM
	}
	if len(search.CompetitorKeywords) > 0 {
		cfg.CompetitorKeywords = search.CompetitorKeywords
	}
	cfg.PopulationMin = search.PopulationMin
	cfg.DensityThreshold = search.DensityThreshold
	return cfg
}

// WeightSum returns the sum of all component weights.
func WeightSum(w Weights) float64 {
	return w.Population + w.Competition + w.Density
}

// ValidateConfig checks that a Config is internally consistent.
func ValidateConfig(c Config) error {
	var errs []string

	weights := []struct {
		name string
		v    float64
	}{
		{"weight_population", c.Weights.Population},
		{"weight_competition", c.Weights.Competition},
		{"weight_density", c.Weights.Density},
	}
	for _, w := range weights {
		if w.v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", w.name))
		}
	}

	if sum := WeightSum(c.Weights); math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.3f", sum))
	}
	if c.WalkingTimeMinutes <= 0 {
		errs = append(errs, "walking_time_minutes must be > 0")
	}
	if c.CompetitorRadiusM <= 0 {
		errs = append(errs, "competitor_radius_m must be > 0")
	}
	if c.PopulationMin < 0 {
		errs = append(errs, "population_min must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

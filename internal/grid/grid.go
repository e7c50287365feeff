// Package grid generates candidate coordinates for a site search: a uniform
// lattice over the search disk plus the pockets of high residential density
// a coarse lattice would miss.
package grid

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/geo"
	"github.com/sells-group/site-finder/internal/model"
)

// Defaults for candidate generation.
const (
	DefaultResolution        = 15
	DefaultDensityResolution = 10
	DefaultDensityMinIndex   = 0.5
	DefaultHeatmapResolution = 20
)

// DensityEstimator is the subset of the estimators the generator needs.
type DensityEstimator interface {
	PopulationDensity(ctx context.Context, c model.Coordinate) (float64, error)
	ResidentialDensityIndex(ctx context.Context, c model.Coordinate) (float64, error)
}

// Config controls lattice resolutions.
type Config struct {
	Resolution        int
	DensityResolution int
	DensityMinIndex   float64
}

// DefaultConfig returns the generator defaults.
func DefaultConfig() Config {
	return Config{
		Resolution:        DefaultResolution,
		DensityResolution: DefaultDensityResolution,
		DensityMinIndex:   DefaultDensityMinIndex,
	}
}

// DensityPoint is a lattice point with its residential-density index.
type DensityPoint struct {
	Coordinate   model.Coordinate `json:"coordinates"`
	DensityIndex float64          `json:"density_index"`
	Distance     float64          `json:"distance"`
}

// HeatPoint is a lattice point with its population density in habitants/km².
type HeatPoint struct {
	Coordinate model.Coordinate `json:"coordinates"`
	Density    float64          `json:"density"`
	Distance   float64          `json:"distance"`
}

// Generator builds candidate sets around a center.
type Generator struct {
	cfg Config
	est DensityEstimator
}

// New creates a Generator. Non-positive config values fall back to defaults.
func New(cfg Config, est DensityEstimator) *Generator {
	def := DefaultConfig()
	if cfg.Resolution < 2 {
		cfg.Resolution = def.Resolution
	}
	if cfg.DensityResolution < 2 {
		cfg.DensityResolution = def.DensityResolution
	}
	if cfg.DensityMinIndex <= 0 {
		cfg.DensityMinIndex = def.DensityMinIndex
	}
	return &Generator{cfg: cfg, est: est}
}

// Lattice returns the uniform lattice points within radiusKM of center.
func (g *Generator) Lattice(center model.Coordinate, radiusKM float64) []model.Coordinate {
	return geo.Lattice(center, radiusKM, g.cfg.Resolution)
}

// HighDensity returns the points of a coarser lattice whose residential
// index is at least the configured minimum, highest index first. Points
// whose estimate fails are skipped.
func (g *Generator) HighDensity(ctx context.Context, center model.Coordinate, radiusKM float64) ([]DensityPoint, error) {
	var out []DensityPoint
	for _, c := range geo.Lattice(center, radiusKM, g.cfg.DensityResolution) {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "grid: high density")
		}
		idx, err := g.est.ResidentialDensityIndex(ctx, c)
		if err != nil {
			zap.L().Warn("grid: residential index failed", zap.String("coordinate", c.String()), zap.Error(err))
			continue
		}
		if idx >= g.cfg.DensityMinIndex {
			out = append(out, DensityPoint{Coordinate: c, DensityIndex: idx, Distance: geo.Distance(center, c)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DensityIndex > out[j].DensityIndex })
	return out, nil
}

// Candidates returns the lattice points followed by the high-density points
// not already on the lattice.
func (g *Generator) Candidates(ctx context.Context, center model.Coordinate, radiusKM float64) ([]model.Coordinate, error) {
	lattice := g.Lattice(center, radiusKM)
	dense, err := g.HighDensity(ctx, center, radiusKM)
	if err != nil {
		return nil, err
	}

	extra := make([]model.Coordinate, len(dense))
	for i, p := range dense {
		extra[i] = p.Coordinate
	}
	out := Union(lattice, extra)

	zap.L().Debug("grid: candidates generated",
		zap.String("center", center.String()),
		zap.Int("lattice", len(lattice)),
		zap.Int("high_density", len(dense)),
		zap.Int("total", len(out)),
	)
	return out, nil
}

// Union concatenates sets in order, dropping exact duplicates.
func Union(sets ...[]model.Coordinate) []model.Coordinate {
	seen := make(map[model.Coordinate]struct{})
	out := []model.Coordinate{}
	for _, set := range sets {
		for _, c := range set {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Heatmap returns every lattice point within radiusKM of center with its
// population density.
func (g *Generator) Heatmap(ctx context.Context, center model.Coordinate, radiusKM float64, resolution int) ([]HeatPoint, error) {
	if resolution < 2 {
		resolution = DefaultHeatmapResolution
	}
	points := geo.Lattice(center, radiusKM, resolution)
	out := make([]HeatPoint, 0, len(points))
	for _, c := range points {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "grid: heatmap")
		}
		d, err := g.est.PopulationDensity(ctx, c)
		if err != nil {
			zap.L().Warn("grid: population density failed", zap.String("coordinate", c.String()), zap.Error(err))
			continue
		}
		out = append(out, HeatPoint{Coordinate: c, Density: d, Distance: geo.Distance(center, c)})
	}
	return out, nil
}

package estimate

import (
	"math"

	"github.com/sells-group/site-finder/internal/geo"
	"github.com/sells-group/site-finder/internal/model"
)

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min, Max float64
}

func (r Range) at(u float64) float64 {
	return r.Min + u*(r.Max-r.Min)
}

// DensityRanges maps each area type to its population density (habitants/km²).
var DensityRanges = map[geo.AreaType]Range{
	geo.AreaUrbanCenter: {10000, 25000},
	geo.AreaUrban:       {5000, 10000},
	geo.AreaSuburban:    {1000, 5000},
	geo.AreaTown:        {500, 2000},
	geo.AreaRural:       {50, 500},
}

const (
	densityVariation     = 0.2
	residentialVariation = 0.1
	densityFloorShare    = 0.5

	// Density mapped to a normalized value of 1 in the blend.
	densityNormalizer = 10000.0
	blendDensityShare = 0.7
)

// ResidentialType is the housing band inferred from population density.
type ResidentialType string

// Residential bands.
const (
	ResidentialHigh    ResidentialType = "high_density"
	ResidentialMedium  ResidentialType = "medium_density"
	ResidentialLow     ResidentialType = "low_density"
	ResidentialVeryLow ResidentialType = "very_low_density"
)

// ResidentialRanges maps each residential band to its index range.
var ResidentialRanges = map[ResidentialType]Range{
	ResidentialHigh:    {0.8, 1.0},
	ResidentialMedium:  {0.5, 0.8},
	ResidentialLow:     {0.2, 0.5},
	ResidentialVeryLow: {0.0, 0.2},
}

// Density returns the simulated population density at c. The base value is
// drawn uniformly in the area type's range, perturbed by a 20% Gaussian and
// floored at half the range minimum.
func Density(c model.Coordinate) float64 {
	return DensityFor(geo.Classify(c), c)
}

// DensityFor is Density for an already classified coordinate.
func DensityFor(area geo.AreaType, c model.Coordinate) float64 {
	r, ok := DensityRanges[area]
	if !ok {
		r = DensityRanges[geo.AreaRural]
	}
	rng := geo.NewRand(c, geo.SaltArea)
	base := r.at(rng.Float64())
	density := base * (1 + rng.NormFloat64()*densityVariation)
	return math.Max(r.Min*densityFloorShare, density)
}

// ClassifyResidential returns the residential band for a population density.
func ClassifyResidential(density float64) ResidentialType {
	switch {
	case density > 5000:
		return ResidentialHigh
	case density > 2000:
		return ResidentialMedium
	case density > 500:
		return ResidentialLow
	default:
		return ResidentialVeryLow
	}
}

// ResidentialIndex draws the residential multiplier for c within the band
// implied by density, perturbed by a 10% Gaussian and clamped to [0,1].
func ResidentialIndex(c model.Coordinate, density float64) float64 {
	r := ResidentialRanges[ClassifyResidential(density)]
	rng := geo.NewRand(c, geo.SaltResidential)
	base := r.at(rng.Float64())
	return clamp01(base * (1 + rng.NormFloat64()*residentialVariation))
}

// BlendIndex combines normalized density with the residential multiplier:
// 0.7 * min(1, density/10000) + 0.3 * residential, clamped to [0,1].
func BlendIndex(density, residential float64) float64 {
	normalized := math.Min(1, density/densityNormalizer)
	return clamp01(blendDensityShare*normalized + (1-blendDensityShare)*residential)
}

package geo

import (
	"math"

	"github.com/sells-group/site-finder/internal/model"
)

// AreaType is the urban classification of a coordinate.
type AreaType string

// Area types, from densest to sparsest.
const (
	AreaUrbanCenter AreaType = "urban_center"
	AreaUrban       AreaType = "urban"
	AreaSuburban    AreaType = "suburban"
	AreaTown        AreaType = "town"
	AreaRural       AreaType = "rural"
)

// Distance bands to the nearest reference city (kilometers).
const (
	urbanCenterThreshold = 2.0
	urbanThreshold       = 10.0
	suburbanThreshold    = 30.0
	townThreshold        = 100.0

	// Probability of the band's majority type beyond the suburban ring.
	majorityShare = 0.7
)

// ReferenceCity is a named urban center used as a classification anchor.
type ReferenceCity struct {
	Name       string
	Coordinate model.Coordinate
}

// ReferenceCities are the major French urban centers.
var ReferenceCities = []ReferenceCity{
	{"Paris", model.Coordinate{Latitude: 48.8566, Longitude: 2.3522}},
	{"Marseille", model.Coordinate{Latitude: 43.2965, Longitude: 5.3698}},
	{"Lyon", model.Coordinate{Latitude: 45.7578, Longitude: 4.8320}},
	{"Toulouse", model.Coordinate{Latitude: 43.6043, Longitude: 1.4437}},
	{"Nantes", model.Coordinate{Latitude: 47.2173, Longitude: -1.5534}},
	{"Nice", model.Coordinate{Latitude: 43.7102, Longitude: 7.2620}},
	{"Strasbourg", model.Coordinate{Latitude: 48.5734, Longitude: 7.7521}},
	{"Lille", model.Coordinate{Latitude: 50.6333, Longitude: 3.0667}},
	{"Bordeaux", model.Coordinate{Latitude: 44.8378, Longitude: -0.5792}},
	{"Tours", model.Coordinate{Latitude: 47.3900, Longitude: 0.6889}},
}

// NearestCityKM returns the distance in kilometers from c to the closest
// reference city.
func NearestCityKM(c model.Coordinate) float64 {
	nearest := math.Inf(1)
	for _, city := range ReferenceCities {
		if d := DistanceKM(c, city.Coordinate); d < nearest {
			nearest = d
		}
	}
	return nearest
}

// Classify returns the area type for c.
// Rules:
//   - urban_center: < 2 km from a reference city
//   - urban: < 10 km
//   - suburban: < 30 km
//   - < 100 km: town (70%) or rural (30%)
//   - >= 100 km: rural (70%) or town (30%)
//
// The draw in the outer bands comes from a generator seeded by c, so the same
// coordinate always gets the same type.
func Classify(c model.Coordinate) AreaType {
	return ClassifyWithRand(c, NewRand(c, SaltArea).Float64)
}

// ClassifyWithRand classifies c using draw for the outer bands. draw is only
// called when the band is probabilistic.
func ClassifyWithRand(c model.Coordinate, draw func() float64) AreaType {
	d := NearestCityKM(c)
	switch {
	case d < urbanCenterThreshold:
		return AreaUrbanCenter
	case d < urbanThreshold:
		return AreaUrban
	case d < suburbanThreshold:
		return AreaSuburban
	case d < townThreshold:
		if draw() < majorityShare {
			return AreaTown
		}
		return AreaRural
	default:
		if draw() < majorityShare {
			return AreaRural
		}
		return AreaTown
	}
}

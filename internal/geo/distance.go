// Package geo provides geodesy helpers and the area-type classification used
// by the population estimators.
package geo

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/sells-group/site-finder/internal/model"
)

// EarthRadiusM is the mean Earth radius used for great-circle distances.
const EarthRadiusM = 6371000.0

// KMPerDegree is the approximate length of one degree of latitude.
const KMPerDegree = 111.0

// Distance returns the Haversine great-circle distance between a and b in meters.
func Distance(a, b model.Coordinate) float64 {
	lat1 := toRad(a.Latitude)
	lat2 := toRad(b.Latitude)
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceKM is Distance expressed in kilometers.
func DistanceKM(a, b model.Coordinate) float64 {
	return Distance(a, b) / 1000
}

// Span returns the latitude and longitude half-extents, in degrees, of a
// square that bounds a disk of radiusKM around center.
func Span(center model.Coordinate, radiusKM float64) (latDeg, lonDeg float64) {
	latDeg = radiusKM / KMPerDegree
	lonDeg = radiusKM / (KMPerDegree * math.Cos(toRad(center.Latitude)))
	return latDeg, lonDeg
}

// Bound returns the bounding box of the disk of radiusKM around center.
func Bound(center model.Coordinate, radiusKM float64) orb.Bound {
	latDeg, lonDeg := Span(center, radiusKM)
	return orb.Bound{
		Min: orb.Point{center.Longitude - lonDeg, center.Latitude - latDeg},
		Max: orb.Point{center.Longitude + lonDeg, center.Latitude + latDeg},
	}
}

// Lattice builds an n x n grid over the square bounding radiusKM around
// center and keeps only the points within radiusKM of center. Points are
// returned in row-major order (latitude outer, longitude inner).
func Lattice(center model.Coordinate, radiusKM float64, n int) []model.Coordinate {
	if n < 2 || radiusKM <= 0 {
		return []model.Coordinate{}
	}
	bound := Bound(center, radiusKM)
	latStep := (bound.Max.Lat() - bound.Min.Lat()) / float64(n-1)
	lonStep := (bound.Max.Lon() - bound.Min.Lon()) / float64(n-1)
	radiusM := radiusKM * 1000

	points := make([]model.Coordinate, 0, n*n)
	for i := 0; i < n; i++ {
		lat := bound.Min.Lat() + float64(i)*latStep
		for j := 0; j < n; j++ {
			c := model.Coordinate{Latitude: lat, Longitude: bound.Min.Lon() + float64(j)*lonStep}
			if Distance(center, c) <= radiusM {
				points = append(points, c)
			}
		}
	}
	return points
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

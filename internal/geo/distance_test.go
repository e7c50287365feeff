package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-finder/internal/model"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name  string
		a, b  model.Coordinate
		wantM float64
		delta float64
	}{
		{"same point", paris, paris, 0, 1e-9},
		{"Paris to Lyon", paris, model.Coordinate{Latitude: 45.7578, Longitude: 4.8320}, 392_000, 2_000},
		{"one degree of latitude", model.Coordinate{}, model.Coordinate{Latitude: 1}, 111_195, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantM, Distance(tt.a, tt.b), tt.delta)
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	lyon := model.Coordinate{Latitude: 45.7578, Longitude: 4.8320}
	assert.InDelta(t, Distance(paris, lyon), Distance(lyon, paris), 1e-6)
}

func TestDistance_NaNPropagates(t *testing.T) {
	assert.True(t, math.IsNaN(Distance(paris, model.Coordinate{Latitude: math.NaN()})))
}

func TestBound(t *testing.T) {
	b := Bound(paris, 11.1)
	assert.InDelta(t, 48.7566, b.Min.Lat(), 1e-9)
	assert.InDelta(t, 48.9566, b.Max.Lat(), 1e-9)
	assert.True(t, b.Contains(paris.Point()))
	assert.Greater(t, b.Max.Lon()-b.Min.Lon(), b.Max.Lat()-b.Min.Lat())
}

func TestLattice_WithinRadius(t *testing.T) {
	for _, n := range []int{2, 5, 10, 15, 20} {
		for _, r := range []float64{0.5, 1, 5} {
			points := Lattice(paris, r, n)
			require.NotEmpty(t, points, "n=%d r=%v", n, r)
			assert.LessOrEqual(t, len(points), n*n)
			for _, p := range points {
				assert.LessOrEqual(t, Distance(paris, p), r*1000+1e-6)
			}
		}
	}
}

func TestLattice_CornersExcluded(t *testing.T) {
	points := Lattice(paris, 1, 15)
	latDeg, lonDeg := Span(paris, 1)
	corner := model.Coordinate{Latitude: paris.Latitude - latDeg, Longitude: paris.Longitude - lonDeg}
	assert.NotContains(t, points, corner)
	// Odd resolution puts a point on the center.
	var nearCenter bool
	for _, p := range points {
		if Distance(paris, p) < 1 {
			nearCenter = true
		}
	}
	assert.True(t, nearCenter)
}

func TestLattice_Degenerate(t *testing.T) {
	assert.Empty(t, Lattice(paris, 1, 1))
	assert.Empty(t, Lattice(paris, 0, 10))
}

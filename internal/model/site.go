// Package model defines the core domain types shared across the site finder.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
// It is a comparable value type so it can be used as a map key for dedupe.
type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Point returns the coordinate as an orb.Point ([lng, lat]).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Competitor is an existing laundromat-like business found near a query point.
// Distance is relative to the query point that produced it.
type Competitor struct {
	Name       string     `json:"name" yaml:"name"`
	Address    string     `json:"address" yaml:"address"`
	Coordinate Coordinate `json:"coordinates" yaml:"coordinates"`
	Distance   float64    `json:"distance_m" yaml:"distance_m"`
	PlaceID    string     `json:"place_id,omitempty" yaml:"place_id,omitempty"`
}

// Location is one evaluated candidate site with its full scoring detail.
type Location struct {
	ID                        string         `json:"id"`
	Address                   string         `json:"address"`
	Coordinate                Coordinate     `json:"coordinates"`
	Population                int            `json:"population_within_walking_distance"`
	NearestCompetitorDistance float64        `json:"nearest_competitor_distance_m"`
	NearestCompetitor         *Competitor    `json:"nearest_competitor,omitempty"`
	DensityIndex              float64        `json:"density_index"`
	Score                     float64        `json:"score"`
	Details                   map[string]any `json:"details,omitempty"`
	Competitors               []Competitor   `json:"competitors_within_radius"`
}

// NewLocation creates a Location with no competitors attached.
func NewLocation(id, address string, c Coordinate) *Location {
	return &Location{
		ID:                        id,
		Address:                   address,
		Coordinate:                c,
		NearestCompetitorDistance: math.Inf(1),
		Details:                   map[string]any{},
		Competitors:               []Competitor{},
	}
}

// SetCompetitors attaches the competitors found within the search radius and
// derives the nearest one. An empty list resets the nearest distance to +Inf.
func (l *Location) SetCompetitors(cs []Competitor) {
	sorted := make([]Competitor, len(cs))
	copy(sorted, cs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Distance < sorted[j].Distance })

	l.Competitors = sorted
	if len(sorted) == 0 {
		l.NearestCompetitor = nil
		l.NearestCompetitorDistance = math.Inf(1)
		return
	}
	nearest := sorted[0]
	l.NearestCompetitor = &nearest
	l.NearestCompetitorDistance = nearest.Distance
}

// HasCompetitor reports whether any competitor was found within the radius.
func (l *Location) HasCompetitor() bool {
	return len(l.Competitors) > 0
}

// locationJSON mirrors Location with a nullable nearest distance, since JSON
// cannot represent +Inf.
type locationJSON struct {
	ID                        string         `json:"id"`
	Address                   string         `json:"address"`
	Coordinate                Coordinate     `json:"coordinates"`
	Population                int            `json:"population_within_walking_distance"`
	NearestCompetitorDistance *float64       `json:"nearest_competitor_distance_m"`
	NearestCompetitor         *Competitor    `json:"nearest_competitor,omitempty"`
	DensityIndex              float64        `json:"density_index"`
	Score                     float64        `json:"score"`
	Details                   map[string]any `json:"details,omitempty"`
	Competitors               []Competitor   `json:"competitors_within_radius"`
}

// MarshalJSON encodes an infinite nearest distance as null.
func (l Location) MarshalJSON() ([]byte, error) {
	out := locationJSON{
		ID:                l.ID,
		Address:           l.Address,
		Coordinate:        l.Coordinate,
		Population:        l.Population,
		NearestCompetitor: l.NearestCompetitor,
		DensityIndex:      l.DensityIndex,
		Score:             l.Score,
		Details:           l.Details,
		Competitors:       l.Competitors,
	}
	if out.Competitors == nil {
		out.Competitors = []Competitor{}
	}
	if !math.IsInf(l.NearestCompetitorDistance, 1) {
		d := l.NearestCompetitorDistance
		out.NearestCompetitorDistance = &d
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a null nearest distance back into +Inf.
func (l *Location) UnmarshalJSON(data []byte) error {
	var in locationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*l = Location{
		ID:                        in.ID,
		Address:                   in.Address,
		Coordinate:                in.Coordinate,
		Population:                in.Population,
		NearestCompetitorDistance: math.Inf(1),
		NearestCompetitor:         in.NearestCompetitor,
		DensityIndex:              in.DensityIndex,
		Score:                     in.Score,
		Details:                   in.Details,
		Competitors:               in.Competitors,
	}
	if in.NearestCompetitorDistance != nil {
		l.NearestCompetitorDistance = *in.NearestCompetitorDistance
	}
	return nil
}

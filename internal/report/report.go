// Package report renders a completed search for people: a ranked summary
// with score breakdowns, a GeoJSON map and spreadsheet/GIS exports.
package report

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/internal/scorer"
)

// Band is the qualitative class of a composite score.
type Band string

// Score bands, best first.
const (
	BandExcellent Band = "excellent"
	BandGood      Band = "good"
	BandAverage   Band = "average"
	BandWeak      Band = "weak"
)

// BandOf classifies a composite score.
func BandOf(score float64) Band {
	switch {
	case score >= 0.8:
		return BandExcellent
	case score >= 0.6:
		return BandGood
	case score >= 0.4:
		return BandAverage
	default:
		return BandWeak
	}
}

// Color is the map marker color of the band.
func (b Band) Color() string {
	switch b {
	case BandExcellent:
		return "green"
	case BandGood:
		return "blue"
	case BandAverage:
		return "orange"
	default:
		return "red"
	}
}

// Breakdown holds the three sub-scores of one site.
type Breakdown struct {
	Population  float64 `json:"population" yaml:"population"`
	Competition float64 `json:"competition" yaml:"competition"`
	Density     float64 `json:"density" yaml:"density"`
}

// BreakdownOf recomputes the sub-scores from a location's raw values.
func BreakdownOf(loc model.Location) Breakdown {
	return Breakdown{
		Population:  scorer.PopulationScore(loc.Population),
		Competition: scorer.CompetitionScore(loc.NearestCompetitorDistance),
		Density:     scorer.DensityScore(loc.DensityIndex),
	}
}

// Entry is one ranked site in a report.
type Entry struct {
	Rank                      int                `json:"rank" yaml:"rank"`
	ID                        string             `json:"id" yaml:"id"`
	Address                   string             `json:"address" yaml:"address"`
	Coordinate                model.Coordinate   `json:"coordinates" yaml:"coordinates"`
	Population                int                `json:"population_within_walking_distance" yaml:"population_within_walking_distance"`
	NearestCompetitorDistance *float64           `json:"nearest_competitor_distance_m" yaml:"nearest_competitor_distance_m"`
	NearestCompetitor         string             `json:"nearest_competitor,omitempty" yaml:"nearest_competitor,omitempty"`
	CompetitorCount           int                `json:"competitor_count" yaml:"competitor_count"`
	DensityIndex              float64            `json:"density_index" yaml:"density_index"`
	Score                     float64            `json:"score" yaml:"score"`
	Band                      Band               `json:"band" yaml:"band"`
	Breakdown                 Breakdown          `json:"breakdown" yaml:"breakdown"`
	Details                   map[string]any     `json:"details,omitempty" yaml:"details,omitempty"`
	Competitors               []model.Competitor `json:"competitors,omitempty" yaml:"competitors,omitempty"`
}

// Report is a rendered search.
type Report struct {
	Title       string                     `json:"title" yaml:"title"`
	SearchID    string                     `json:"search_id,omitempty" yaml:"search_id,omitempty"`
	Query       string                     `json:"query" yaml:"query"`
	Params      model.SearchParameters     `json:"search_params" yaml:"search_params"`
	SearchedAt  time.Time                  `json:"searched_at" yaml:"searched_at"`
	GeneratedAt time.Time                  `json:"generated_at" yaml:"generated_at"`
	TotalCount  int                        `json:"total_count" yaml:"total_count"`
	Entries     []Entry                    `json:"locations" yaml:"locations"`
	Summary     string                     `json:"summary" yaml:"summary"`
	Map         *geojson.FeatureCollection `json:"map,omitempty" yaml:"-"`
}

// Build renders results under cfg. Locations beyond MaxLocations are
// dropped; a non-positive MaxLocations keeps them all.
func Build(results *model.SearchResults, cfg model.ReportConfig, now time.Time) *Report {
	if cfg.Title == "" {
		cfg.Title = model.DefaultReportConfig(results.Params.Query).Title
	}
	locs := Top(results.Locations, cfg.MaxLocations)

	rep := &Report{
		Title:       cfg.Title,
		SearchID:    results.ID,
		Query:       results.Params.Query,
		Params:      results.Params,
		SearchedAt:  results.Timestamp,
		GeneratedAt: now.UTC(),
		TotalCount:  results.TotalCount,
		Entries:     make([]Entry, 0, len(locs)),
	}
	for i, loc := range locs {
		rep.Entries = append(rep.Entries, newEntry(i+1, loc, cfg.IncludeDetails))
	}
	rep.Summary = summarize(rep)
	if cfg.IncludeMap {
		rep.Map = Map(locs)
	}
	return rep
}

// Top returns the first n locations, or all of them when n <= 0.
func Top(locs []model.Location, n int) []model.Location {
	if n <= 0 || n >= len(locs) {
		return locs
	}
	return locs[:n]
}

func newEntry(rank int, loc model.Location, details bool) Entry {
	e := Entry{
		Rank:            rank,
		ID:              loc.ID,
		Address:         loc.Address,
		Coordinate:      loc.Coordinate,
		Population:      loc.Population,
		CompetitorCount: len(loc.Competitors),
		DensityIndex:    loc.DensityIndex,
		Score:           loc.Score,
		Band:            BandOf(loc.Score),
		Breakdown:       BreakdownOf(loc),
	}
	if !math.IsInf(loc.NearestCompetitorDistance, 1) {
		d := loc.NearestCompetitorDistance
		e.NearestCompetitorDistance = &d
	}
	if loc.NearestCompetitor != nil {
		e.NearestCompetitor = loc.NearestCompetitor.Name
	}
	if details {
		e.Details = loc.Details
		e.Competitors = loc.Competitors
	}
	return e
}

func summarize(rep *Report) string {
	if len(rep.Entries) == 0 {
		return fmt.Sprintf("No site in %s meets the minimum criteria. Widen the search radius or relax the criteria.", rep.Query)
	}
	best := rep.Entries[0]
	return fmt.Sprintf("%d candidate sites found in %s. Best site: %s (score %.2f, %s).",
		rep.TotalCount, rep.Query, best.Address, best.Score, best.Band)
}

// Map builds a feature collection with one point per site, colored by score
// band, and one point per competitor seen from each site.
func Map(locs []model.Location) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, loc := range locs {
		band := BandOf(loc.Score)
		f := geojson.NewFeature(loc.Coordinate.Point())
		f.ID = loc.ID
		f.Properties["kind"] = "site"
		f.Properties["rank"] = i + 1
		f.Properties["address"] = loc.Address
		f.Properties["score"] = loc.Score
		f.Properties["band"] = string(band)
		f.Properties["marker-color"] = band.Color()
		f.Properties["population"] = loc.Population
		f.Properties["density_index"] = loc.DensityIndex
		fc.Append(f)

		for _, c := range loc.Competitors {
			cf := geojson.NewFeature(c.Coordinate.Point())
			cf.Properties["kind"] = "competitor"
			cf.Properties["name"] = c.Name
			cf.Properties["address"] = c.Address
			cf.Properties["distance_m"] = c.Distance
			cf.Properties["site_id"] = loc.ID
			cf.Properties["marker-color"] = "red"
			if c.PlaceID != "" {
				cf.Properties["place_id"] = c.PlaceID
			}
			fc.Append(cf)
		}
	}
	return fc
}

// entryLocations rebuilds the located part of each entry for map rendering.
func entryLocations(rep *Report) []model.Location {
	locs := make([]model.Location, len(rep.Entries))
	for i, e := range rep.Entries {
		locs[i] = model.Location{
			ID:           e.ID,
			Address:      e.Address,
			Coordinate:   e.Coordinate,
			Population:   e.Population,
			DensityIndex: e.DensityIndex,
			Score:        e.Score,
			Competitors:  e.Competitors,
		}
	}
	return locs
}

package model

import (
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultCompetitorKeywords are the place-search keywords used to find competitors.
var DefaultCompetitorKeywords = []string{
	"laverie",
	"laundromat",
	"pressing",
	"laverie automatique",
	"laverie libre service",
}

// SearchParameters describes one site search. Immutable once a search begins.
type SearchParameters struct {
	Query              string   `json:"city_or_postal_code" yaml:"city_or_postal_code"`
	RadiusM            int      `json:"radius" yaml:"radius"`             // meters
	WalkingTime        int      `json:"walking_time" yaml:"walking_time"` // minutes
	CompetitorKeywords []string `json:"competitor_keywords" yaml:"competitor_keywords"`
}

// Validate checks that the parameters can drive a search.
func (p SearchParameters) Validate() error {
	var errs []string
	if strings.TrimSpace(p.Query) == "" {
		errs = append(errs, "city_or_postal_code is required")
	}
	if p.RadiusM <= 0 {
		errs = append(errs, "radius must be > 0")
	}
	if p.WalkingTime <= 0 {
		errs = append(errs, "walking_time must be > 0")
	}
	if len(errs) > 0 {
		return eris.Errorf("search parameters: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RadiusKM returns the search radius in kilometers.
func (p SearchParameters) RadiusKM() float64 {
	return float64(p.RadiusM) / 1000
}

// SearchResults is the ranked outcome of one search.
type SearchResults struct {
	ID         string           `json:"id,omitempty"`
	Params     SearchParameters `json:"search_params"`
	Locations  []Location       `json:"locations"`
	Timestamp  time.Time        `json:"timestamp"`
	TotalCount int              `json:"total_count"`
}

// NewSearchResults creates an empty result set for the given parameters.
func NewSearchResults(params SearchParameters, now time.Time) *SearchResults {
	return &SearchResults{
		Params:    params,
		Locations: []Location{},
		Timestamp: now,
	}
}

// SetLocations replaces the location list, keeps TotalCount in sync and
// re-derives the descending score order.
func (r *SearchResults) SetLocations(locs []Location) {
	if locs == nil {
		locs = []Location{}
	}
	r.Locations = locs
	r.TotalCount = len(locs)
	r.SortByScore()
}

// SortByScore orders locations by descending score. Ties keep their
// discovery order.
func (r *SearchResults) SortByScore() {
	SortLocations(r.Locations)
}

// SortLocations stable-sorts locations by descending score.
func SortLocations(locs []Location) {
	sort.SliceStable(locs, func(i, j int) bool { return locs[i].Score > locs[j].Score })
}

// TopScore returns the highest location score, or 0 for an empty result.
func (r *SearchResults) TopScore() float64 {
	var top float64
	for i := range r.Locations {
		if r.Locations[i].Score > top {
			top = r.Locations[i].Score
		}
	}
	return top
}

// SearchSummary is a lightweight view of a persisted search used for listings.
type SearchSummary struct {
	ID         string           `json:"id"`
	Query      string           `json:"query"`
	Params     SearchParameters `json:"params"`
	TotalCount int              `json:"total_count"`
	TopScore   float64          `json:"top_score"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ReportConfig controls how a completed search is rendered.
type ReportConfig struct {
	Title          string `json:"title"`
	IncludeMap     bool   `json:"include_map"`
	MaxLocations   int    `json:"max_locations"`
	IncludeDetails bool   `json:"include_details"`
}

// DefaultReportConfig returns the report settings used when none are given.
func DefaultReportConfig(query string) ReportConfig {
	return ReportConfig{
		Title:          "Laundromat site analysis - " + query,
		IncludeMap:     true,
		MaxLocations:   10,
		IncludeDetails: true,
	}
}

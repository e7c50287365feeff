package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/internal/report"
	"github.com/sells-group/site-finder/internal/store"
)

// Pagination bounds for GET /searches.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type searchResponse struct {
	SearchID     string           `json:"search_id,omitempty"`
	Query        string           `json:"query"`
	Timestamp    time.Time        `json:"timestamp"`
	TotalResults int              `json:"total_results"`
	Locations    []model.Location `json:"locations"`
}

func newSearchResponse(r *model.SearchResults) searchResponse {
	locs := r.Locations
	if locs == nil {
		locs = []model.Location{}
	}
	return searchResponse{
		SearchID:     r.ID,
		Query:        r.Params.Query,
		Timestamp:    r.Timestamp,
		TotalResults: r.TotalCount,
		Locations:    locs,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.opts.Now().UTC(),
		"version":   Version,
	})
}

// searchLocations handles GET /locations/search?city_or_postal_code=&radius_km=&walking_time_min=.
func (s *Server) searchLocations(w http.ResponseWriter, r *http.Request) {
	params, err := s.searchParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.searcher.Search(r.Context(), params)
	if err != nil {
		zap.L().Error("api: search failed", zap.String("query", params.Query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, newSearchResponse(results))
}

func (s *Server) searchParams(r *http.Request) (model.SearchParameters, error) {
	q := r.URL.Query()

	params := model.SearchParameters{
		Query:              q.Get("city_or_postal_code"),
		RadiusM:            int(s.opts.Defaults.RadiusM),
		WalkingTime:        s.opts.Defaults.WalkingTimeMinutes,
		CompetitorKeywords: s.opts.Defaults.CompetitorKeywords,
	}
	if len(params.CompetitorKeywords) == 0 {
		params.CompetitorKeywords = model.DefaultCompetitorKeywords
	}

	if v := q.Get("radius_km"); v != "" {
		km, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(km) || math.IsInf(km, 0) {
			return params, eris.Errorf("radius_km must be a number, got %q", v)
		}
		params.RadiusM = int(math.Round(km * 1000))
	}
	if v := q.Get("walking_time_min"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return params, eris.Errorf("walking_time_min must be an integer, got %q", v)
		}
		params.WalkingTime = m
	}

	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// getLocation handles GET /locations/{id}.
func (s *Server) getLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	loc, err := s.history.GetLocation(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "location", id)
		return
	}
	writeJSON(w, http.StatusOK, s.withNearestDetails(r.Context(), loc))
}

// withNearestDetails returns a copy of loc whose details carry the nearest
// competitor's provider details, when they can be fetched.
func (s *Server) withNearestDetails(ctx context.Context, loc *model.Location) *model.Location {
	if s.opts.Places == nil || !loc.HasCompetitor() || loc.NearestCompetitor == nil || loc.NearestCompetitor.PlaceID == "" {
		return loc
	}
	place := s.opts.Places.Details(ctx, loc.NearestCompetitor.PlaceID)
	if place == nil {
		return loc
	}
	out := *loc
	out.Details = maps.Clone(loc.Details)
	if out.Details == nil {
		out.Details = map[string]any{}
	}
	out.Details["nearest_competitor_details"] = place
	return &out
}

// listSearches handles GET /searches?skip=&limit=, newest first.
func (s *Server) listSearches(w http.ResponseWriter, r *http.Request) {
	skip, err := intParam(r, "skip", 0)
	if err != nil || skip < 0 {
		writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
		return
	}
	limit, err := intParam(r, "limit", DefaultPageSize)
	if err != nil || limit < 1 || limit > MaxPageSize {
		writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
		return
	}

	searches, err := s.history.ListSearches(r.Context(), limit, skip)
	if err != nil {
		zap.L().Error("api: list searches failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list searches")
		return
	}
	if searches == nil {
		searches = []model.SearchSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    len(searches),
		"searches": searches,
	})
}

func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	results, err := s.history.GetSearch(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "search", id)
		return
	}
	writeJSON(w, http.StatusOK, newSearchResponse(results))
}

// createReport handles POST /reports/{search_id}?format=. The optional JSON
// body overrides fields of the default report config.
func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "search_id")

	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if format == report.FormatShape {
		writeError(w, http.StatusBadRequest, "shapefile export is only available from the command line")
		return
	}

	results, err := s.history.GetSearch(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "search", id)
		return
	}

	cfg := model.DefaultReportConfig(results.Params.Query)
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid report config: "+err.Error())
		return
	}

	rep := report.Build(results, cfg, s.opts.Now())
	var buf bytes.Buffer
	if err := report.Render(&buf, rep, format); err != nil {
		zap.L().Error("api: render report failed", zap.String("search_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not render report")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(rep)+format.Extension()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) storeError(w http.ResponseWriter, err error, kind, id string) {
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found: "+id)
		return
	}
	zap.L().Error("api: store lookup failed", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "could not load "+kind)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// Package store persists searches, their ranked locations and competitors,
// and backs the result cache with a SQL table.
package store

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/site-finder/internal/cache"
	"github.com/sells-group/site-finder/internal/config"
	"github.com/sells-group/site-finder/internal/model"
)

// ErrNotFound is returned when a search or location id does not exist.
var ErrNotFound = eris.New("store: not found")

// Store is the persistence collaborator of the search service. Saving then
// loading a search reproduces its parameters, location order and scores.
type Store interface {
	// Searches
	SaveSearch(ctx context.Context, r *model.SearchResults) (string, error)
	GetSearch(ctx context.Context, id string) (*model.SearchResults, error)
	ListSearches(ctx context.Context, limit, offset int) ([]model.SearchSummary, error)
	GetLocation(ctx context.Context, id string) (*model.Location, error)

	// Result cache
	cache.Store

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// DefaultListLimit is used when ListSearches is called with limit <= 0.
const DefaultListLimit = 20

// Open connects to the configured backend. It does not run migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func listWindow(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// nullableDistance maps the +Inf "no competitor" distance to SQL NULL.
func nullableDistance(d float64) *float64 {
	if math.IsInf(d, 1) || math.IsNaN(d) {
		return nil
	}
	return &d
}

func encodeParams(p model.SearchParameters) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal search params")
	}
	return string(data), nil
}

func decodeParams(data []byte) (model.SearchParameters, error) {
	var p model.SearchParameters
	if err := json.Unmarshal(data, &p); err != nil {
		return p, eris.Wrap(err, "store: unmarshal search params")
	}
	return p, nil
}

func encodeDetails(d map[string]any) (string, error) {
	if d == nil {
		d = map[string]any{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal location details")
	}
	return string(data), nil
}

func decodeDetails(data []byte) (map[string]any, error) {
	d := map[string]any{}
	if len(data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal location details")
	}
	return d, nil
}

// locationRow is a location as stored, before its competitors are attached.
type locationRow struct {
	loc      model.Location
	searchID string
}

// finish attaches the competitors and restores the derived nearest fields.
func (r *locationRow) finish(competitors []model.Competitor) model.Location {
	loc := r.loc
	loc.SetCompetitors(competitors)
	return loc
}

// expiresAt returns the absolute expiry for a cache entry written now.
func expiresAt(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl).UTC()
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/site-finder/internal/db"
	"github.com/sells-group/site-finder/internal/model"
)

// SRID of every stored geometry (WGS84).
const SRID = 4326

// PostgresStore implements Store using pgxpool. Location geometries are kept
// in a PostGIS column next to the plain coordinates.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool. Connections
// carry no session state tied to the schema, so the pool can be opened
// against an empty database and migrated afterwards.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := newPoolConfig(connString, poolCfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// newPoolConfig parses connString and applies pool sizing. Statements are
// prepared lazily by pgx's per-connection statement cache.
func newPoolConfig(connString string, poolCfg *PoolConfig) (*pgxpool.Config, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	return pgxCfg, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// WithClock overrides the clock used for cache expiry.
func (s *PostgresStore) WithClock(now func() time.Time) *PostgresStore {
	s.now = now
	return s
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS searches (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	params      JSONB NOT NULL,
	total_count INTEGER NOT NULL DEFAULT 0,
	top_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS locations (
	id                          TEXT PRIMARY KEY,
	search_id                   TEXT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
	position                    INTEGER NOT NULL,
	address                     TEXT NOT NULL,
	latitude                    DOUBLE PRECISION NOT NULL,
	longitude                   DOUBLE PRECISION NOT NULL,
	geom                        geometry(Point, 4326),
	population                  INTEGER NOT NULL,
	nearest_competitor_distance DOUBLE PRECISION,
	density_index               DOUBLE PRECISION NOT NULL,
	score                       DOUBLE PRECISION NOT NULL,
	details                     JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS competitors (
	location_id TEXT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	name        TEXT NOT NULL,
	address     TEXT NOT NULL,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	distance    DOUBLE PRECISION NOT NULL,
	place_id    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (location_id, position)
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_searches_created_at ON searches(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_locations_search_id ON locations(search_id, position);
CREATE INDEX IF NOT EXISTS idx_locations_geom ON locations USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

const postgresPutCache = `INSERT INTO cache_entries (key, value, created_at, expires_at) VALUES ($1, $2, $3, $4)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`

const postgresLocationSelect = `SELECT id, search_id, address, latitude, longitude, population,
	density_index, score, details FROM locations`

var competitorColumns = []string{"location_id", "position", "name", "address", "latitude", "longitude", "distance", "place_id"}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// EncodePoint returns the EWKB encoding of c as a WGS84 point.
func EncodePoint(c model.Coordinate) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{c.Longitude, c.Latitude}).SetSRID(SRID)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode point")
	}
	return data, nil
}

// SaveSearch writes the search and its locations in one transaction.
// Competitors are bulk-loaded with COPY.
func (s *PostgresStore) SaveSearch(ctx context.Context, r *model.SearchResults) (string, error) {
	if r == nil {
		return "", eris.New("postgres: save nil search")
	}
	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}
	params, err := encodeParams(r.Params)
	if err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin save search")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO searches (id, query, params, total_count, top_score, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, r.Params.Query, params, r.TotalCount, r.TopScore(), r.Timestamp.UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert search %s", id)
	}

	var competitorRows [][]any
	for i := range r.Locations {
		loc := &r.Locations[i]
		if loc.ID == "" {
			loc.ID = uuid.New().String()
		}
		details, err := encodeDetails(loc.Details)
		if err != nil {
			return "", err
		}
		point, err := EncodePoint(loc.Coordinate)
		if err != nil {
			return "", err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO locations (id, search_id, position, address, latitude, longitude, geom, population,
				nearest_competitor_distance, density_index, score, details)
			 VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromEWKB($7), $8, $9, $10, $11, $12)`,
			loc.ID, id, i, loc.Address, loc.Coordinate.Latitude, loc.Coordinate.Longitude, point,
			loc.Population, nullableDistance(loc.NearestCompetitorDistance), loc.DensityIndex, loc.Score, details,
		)
		if err != nil {
			return "", eris.Wrapf(err, "postgres: insert location %s", loc.ID)
		}
		for j, c := range loc.Competitors {
			competitorRows = append(competitorRows, []any{
				loc.ID, j, c.Name, c.Address, c.Coordinate.Latitude, c.Coordinate.Longitude, c.Distance, c.PlaceID,
			})
		}
	}

	if _, err := db.CopyFrom(ctx, tx, "competitors", competitorColumns, competitorRows); err != nil {
		return "", eris.Wrap(err, "postgres: copy competitors")
	}
	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit save search")
	}
	return id, nil
}

// GetSearch reconstructs a saved search with its ranked locations.
func (s *PostgresStore) GetSearch(ctx context.Context, id string) (*model.SearchResults, error) {
	var (
		params    []byte
		total     int
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT params, total_count, created_at FROM searches WHERE id = $1`, id,
	).Scan(&params, &total, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "search %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get search %s", id)
	}
	p, err := decodeParams(params)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, postgresLocationSelect+` WHERE search_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list locations of %s", id)
	}
	var locRows []*locationRow
	for rows.Next() {
		lr, err := scanPostgresLocation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		locRows = append(locRows, lr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate locations")
	}

	byLocation, err := s.competitorsForSearch(ctx, id)
	if err != nil {
		return nil, err
	}
	locs := make([]model.Location, 0, len(locRows))
	for _, lr := range locRows {
		locs = append(locs, lr.finish(byLocation[lr.loc.ID]))
	}

	return &model.SearchResults{
		ID:         id,
		Params:     p,
		Locations:  locs,
		Timestamp:  createdAt.UTC(),
		TotalCount: total,
	}, nil
}

func (s *PostgresStore) competitorsForSearch(ctx context.Context, searchID string) (map[string][]model.Competitor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.location_id, c.name, c.address, c.latitude, c.longitude, c.distance, c.place_id
		 FROM competitors c JOIN locations l ON l.id = c.location_id
		 WHERE l.search_id = $1 ORDER BY c.location_id, c.position`, searchID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list competitors of %s", searchID)
	}
	defer rows.Close()

	out := map[string][]model.Competitor{}
	for rows.Next() {
		var (
			locID string
			c     model.Competitor
		)
		if err := rows.Scan(&locID, &c.Name, &c.Address, &c.Coordinate.Latitude, &c.Coordinate.Longitude, &c.Distance, &c.PlaceID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan competitor")
		}
		out[locID] = append(out[locID], c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate competitors")
}

// ListSearches returns search summaries, newest first.
func (s *PostgresStore) ListSearches(ctx context.Context, limit, offset int) ([]model.SearchSummary, error) {
	limit, offset = listWindow(limit, offset)
	rows, err := s.pool.Query(ctx,
		`SELECT id, query, params, total_count, top_score, created_at FROM searches
		 ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list searches")
	}
	defer rows.Close()

	out := []model.SearchSummary{}
	for rows.Next() {
		var (
			sum    model.SearchSummary
			params []byte
		)
		if err := rows.Scan(&sum.ID, &sum.Query, &params, &sum.TotalCount, &sum.TopScore, &sum.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search summary")
		}
		if sum.Params, err = decodeParams(params); err != nil {
			return nil, err
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate searches")
}

// GetLocation returns one location with its competitors ordered by distance.
func (s *PostgresStore) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	lr, err := scanPostgresLocation(s.pool.QueryRow(ctx, postgresLocationSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, eris.Wrapf(ErrNotFound, "location %s", id)
		}
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, address, latitude, longitude, distance, place_id FROM competitors
		 WHERE location_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list competitors of %s", id)
	}
	defer rows.Close()

	cs := []model.Competitor{}
	for rows.Next() {
		var c model.Competitor
		if err := rows.Scan(&c.Name, &c.Address, &c.Coordinate.Latitude, &c.Coordinate.Longitude, &c.Distance, &c.PlaceID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan competitor")
		}
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate competitors")
	}
	loc := lr.finish(cs)
	return &loc, nil
}

// Get implements cache.Store. An expired entry is deleted and reported as a
// miss.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value   []byte
		expires time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT value, expires_at FROM cache_entries WHERE key = $1`, key).Scan(&value, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get cache entry")
	}
	if !s.now().Before(expires) {
		if _, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1 AND expires_at = $2`, key, expires); err != nil {
			return nil, false, eris.Wrap(err, "postgres: delete expired cache entry")
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Put implements cache.Store with last-writer-wins semantics.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.pool.Exec(ctx, postgresPutCache, key, value, now.UTC(), expiresAt(now, ttl))
	return eris.Wrap(err, "postgres: put cache entry")
}

// SweepExpired implements cache.Store.
func (s *PostgresStore) SweepExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep cache")
	}
	return int(tag.RowsAffected()), nil
}

func scanPostgresLocation(row pgx.Row) (*locationRow, error) {
	var (
		lr      locationRow
		details []byte
	)
	err := row.Scan(&lr.loc.ID, &lr.searchID, &lr.loc.Address, &lr.loc.Coordinate.Latitude, &lr.loc.Coordinate.Longitude,
		&lr.loc.Population, &lr.loc.DensityIndex, &lr.loc.Score, &details)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan location")
	}
	if lr.loc.Details, err = decodeDetails(details); err != nil {
		return nil, err
	}
	return &lr, nil
}

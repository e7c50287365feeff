package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/site-finder/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// sqliteDSN appends the connection pragmas to dsn. Write transactions take
// the lock up front so concurrent writers wait on busy_timeout instead of
// failing on a lock upgrade.
func sqliteDSN(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep + "_pragma=" + p)
		sep = "&"
	}
	b.WriteString("&_txlock=immediate")
	return b.String()
}

// NewSQLite opens a SQLite database at the given path in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Each connection to an in-memory database is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// WithClock overrides the clock used for cache expiry.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS searches (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	params      TEXT NOT NULL,
	total_count INTEGER NOT NULL DEFAULT 0,
	top_score   REAL NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS locations (
	id                          TEXT PRIMARY KEY,
	search_id                   TEXT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
	position                    INTEGER NOT NULL,
	address                     TEXT NOT NULL,
	latitude                    REAL NOT NULL,
	longitude                   REAL NOT NULL,
	population                  INTEGER NOT NULL,
	nearest_competitor_distance REAL,
	density_index               REAL NOT NULL,
	score                       REAL NOT NULL,
	details                     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS competitors (
	location_id TEXT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	name        TEXT NOT NULL,
	address     TEXT NOT NULL,
	latitude    REAL NOT NULL,
	longitude   REAL NOT NULL,
	distance    REAL NOT NULL,
	place_id    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (location_id, position)
);

CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_searches_created_at ON searches(created_at);
CREATE INDEX IF NOT EXISTS idx_locations_search_id ON locations(search_id, position);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSearch writes the search, its locations in rank order and their
// competitors in one transaction. A missing search or location id is
// generated.
func (s *SQLiteStore) SaveSearch(ctx context.Context, r *model.SearchResults) (string, error) {
	if r == nil {
		return "", eris.New("sqlite: save nil search")
	}
	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}
	params, err := encodeParams(r.Params)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin save search")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO searches (id, query, params, total_count, top_score, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, r.Params.Query, params, r.TotalCount, r.TopScore(), r.Timestamp.UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert search %s", id)
	}

	for i := range r.Locations {
		if err := s.insertLocation(ctx, tx, id, i, &r.Locations[i]); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit save search")
	}
	return id, nil
}

func (s *SQLiteStore) insertLocation(ctx context.Context, tx *sql.Tx, searchID string, position int, loc *model.Location) error {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	details, err := encodeDetails(loc.Details)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO locations (id, search_id, position, address, latitude, longitude, population,
			nearest_competitor_distance, density_index, score, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loc.ID, searchID, position, loc.Address, loc.Coordinate.Latitude, loc.Coordinate.Longitude,
		loc.Population, nullableDistance(loc.NearestCompetitorDistance), loc.DensityIndex, loc.Score, details,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert location %s", loc.ID)
	}

	for j, c := range loc.Competitors {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO competitors (location_id, position, name, address, latitude, longitude, distance, place_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			loc.ID, j, c.Name, c.Address, c.Coordinate.Latitude, c.Coordinate.Longitude, c.Distance, c.PlaceID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert competitor %d of %s", j, loc.ID)
		}
	}
	return nil
}

// GetSearch reconstructs a saved search with its ranked locations.
func (s *SQLiteStore) GetSearch(ctx context.Context, id string) (*model.SearchResults, error) {
	var (
		params    string
		createdAt time.Time
		total     int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT params, total_count, created_at FROM searches WHERE id = ?`, id,
	).Scan(&params, &total, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "search %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get search %s", id)
	}

	p, err := decodeParams([]byte(params))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqliteLocationSelect+` WHERE search_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list locations of %s", id)
	}
	var locRows []*locationRow
	for rows.Next() {
		lr, err := scanLocation(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, err
		}
		locRows = append(locRows, lr)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: iterate locations")
	}
	rows.Close() //nolint:errcheck

	locs := make([]model.Location, 0, len(locRows))
	for _, lr := range locRows {
		cs, err := s.competitors(ctx, lr.loc.ID)
		if err != nil {
			return nil, err
		}
		locs = append(locs, lr.finish(cs))
	}

	return &model.SearchResults{
		ID:         id,
		Params:     p,
		Locations:  locs,
		Timestamp:  createdAt.UTC(),
		TotalCount: total,
	}, nil
}

// ListSearches returns search summaries, newest first.
func (s *SQLiteStore) ListSearches(ctx context.Context, limit, offset int) ([]model.SearchSummary, error) {
	limit, offset = listWindow(limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, params, total_count, top_score, created_at FROM searches
		 ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list searches")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.SearchSummary{}
	for rows.Next() {
		var (
			sum    model.SearchSummary
			params string
		)
		if err := rows.Scan(&sum.ID, &sum.Query, &params, &sum.TotalCount, &sum.TopScore, &sum.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan search summary")
		}
		if sum.Params, err = decodeParams([]byte(params)); err != nil {
			return nil, err
		}
		sum.CreatedAt = sum.CreatedAt.UTC()
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate searches")
}

// GetLocation returns one location with its competitors ordered by distance.
func (s *SQLiteStore) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	lr, err := scanLocation(s.db.QueryRowContext(ctx, sqliteLocationSelect+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, eris.Wrapf(ErrNotFound, "location %s", id)
		}
		return nil, err
	}
	cs, err := s.competitors(ctx, id)
	if err != nil {
		return nil, err
	}
	loc := lr.finish(cs)
	return &loc, nil
}

func (s *SQLiteStore) competitors(ctx context.Context, locationID string) ([]model.Competitor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, address, latitude, longitude, distance, place_id FROM competitors
		 WHERE location_id = ? ORDER BY position`, locationID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list competitors of %s", locationID)
	}
	defer rows.Close() //nolint:errcheck

	out := []model.Competitor{}
	for rows.Next() {
		var c model.Competitor
		if err := rows.Scan(&c.Name, &c.Address, &c.Coordinate.Latitude, &c.Coordinate.Longitude, &c.Distance, &c.PlaceID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan competitor")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate competitors")
}

// Get implements cache.Store. An expired entry is deleted and reported as a
// miss.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value   []byte
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get cache entry")
	}
	if s.now().UnixNano() >= expires {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ? AND expires_at = ?`, key, expires); err != nil {
			return nil, false, eris.Wrap(err, "sqlite: delete expired cache entry")
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Put implements cache.Store with last-writer-wins semantics.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, value, now.UnixNano(), expiresAt(now, ttl).UnixNano(),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

// SweepExpired implements cache.Store.
func (s *SQLiteStore) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep cache")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep rows affected")
	}
	return int(n), nil
}

const sqliteLocationSelect = `SELECT id, search_id, address, latitude, longitude, population,
	density_index, score, details FROM locations`

type scannable interface {
	Scan(dest ...any) error
}

func scanLocation(row scannable) (*locationRow, error) {
	var (
		lr      locationRow
		details string
	)
	err := row.Scan(&lr.loc.ID, &lr.searchID, &lr.loc.Address, &lr.loc.Coordinate.Latitude, &lr.loc.Coordinate.Longitude,
		&lr.loc.Population, &lr.loc.DensityIndex, &lr.loc.Score, &details)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan location")
	}
	if lr.loc.Details, err = decodeDetails([]byte(details)); err != nil {
		return nil, err
	}
	return &lr, nil
}

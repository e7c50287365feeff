package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/site-finder/internal/cache"
	"github.com/sells-group/site-finder/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleResults(query string, ts time.Time) *model.SearchResults {
	r := model.NewSearchResults(model.SearchParameters{
		Query:              query,
		RadiusM:            1000,
		WalkingTime:        10,
		CompetitorKeywords: []string{"laverie", "pressing"},
	}, ts)

	withCompetitors := model.NewLocation("loc-a", "12 Rue Oberkampf, 75011 Paris", model.Coordinate{Latitude: 48.8652, Longitude: 2.3781})
	withCompetitors.Population = 14231
	withCompetitors.DensityIndex = 8123.456789
	withCompetitors.Score = 0.8123456789
	withCompetitors.SetCompetitors([]model.Competitor{
		{Name: "Laverie du Marché", Address: "3 Rue Saint-Maur", Coordinate: model.Coordinate{Latitude: 48.8661, Longitude: 2.3802}, Distance: 612.5, PlaceID: "p2"},
		{Name: "Lavomatic", Address: "40 Rue Oberkampf", Coordinate: model.Coordinate{Latitude: 48.8650, Longitude: 2.3790}, Distance: 71.25, PlaceID: "p1"},
	})
	withCompetitors.Details["score_details"] = map[string]any{"total_score": 0.8123456789, "competition_score": 0.07125}

	alone := model.NewLocation("loc-b", "Adresse inconnue (48.860000, 2.370000)", model.Coordinate{Latitude: 48.86, Longitude: 2.37})
	alone.Population = 9000
	alone.DensityIndex = 6000
	alone.Score = 0.64
	alone.Details["score_details"] = map[string]any{"competition_score": 1.0}

	r.SetLocations([]model.Location{*alone, *withCompetitors})
	return r
}

func TestSQLite_SaveAndGetSearch_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	in := sampleResults("Paris", ts)

	id, err := st.SaveSearch(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	out, err := st.GetSearch(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, out.ID)
	assert.Equal(t, in.Params, out.Params)
	assert.Equal(t, in.TotalCount, out.TotalCount)
	assert.True(t, ts.Equal(out.Timestamp), "timestamp %s", out.Timestamp)
	require.Len(t, out.Locations, len(in.Locations))
	for i := range in.Locations {
		want, got := in.Locations[i], out.Locations[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Address, got.Address)
		assert.InDelta(t, want.Score, got.Score, 1e-6)
		assert.InDelta(t, want.DensityIndex, got.DensityIndex, 1e-6)
		assert.Equal(t, want.Population, got.Population)
		assert.InDelta(t, want.Coordinate.Latitude, got.Coordinate.Latitude, 1e-9)
		assert.Len(t, got.Competitors, len(want.Competitors))
	}

	assert.Equal(t, "loc-a", out.Locations[0].ID)
	assert.InDelta(t, 71.25, out.Locations[0].NearestCompetitorDistance, 1e-9)
	require.NotNil(t, out.Locations[0].NearestCompetitor)
	assert.Equal(t, "Lavomatic", out.Locations[0].NearestCompetitor.Name)
	assert.Equal(t, "loc-b", out.Locations[1].ID)
	assert.True(t, math.IsInf(out.Locations[1].NearestCompetitorDistance, 1))
	assert.Nil(t, out.Locations[1].NearestCompetitor, "no competitor survives the NULL distance column as +Inf")

	sd, ok := out.Locations[0].Details["score_details"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.07125, sd["competition_score"], 1e-12)
}

func TestSQLite_SaveSearch_EmptyResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	in := model.NewSearchResults(model.SearchParameters{Query: "Nulle-Part", RadiusM: 1000, WalkingTime: 10}, time.Now().UTC())
	id, err := st.SaveSearch(ctx, in)
	require.NoError(t, err)

	out, err := st.GetSearch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, out.TotalCount)
	assert.NotNil(t, out.Locations)
	assert.Empty(t, out.Locations)
}

func TestSQLite_SaveSearch_KeepsGivenID(t *testing.T) {
	st := newTestSQLiteStore(t)
	in := sampleResults("Lyon", time.Now().UTC())
	in.ID = "fixed-id"

	id, err := st.SaveSearch(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)

	_, err = st.SaveSearch(context.Background(), in)
	assert.Error(t, err, "duplicate id")
}

func TestSQLite_SaveSearch_GeneratesLocationIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	in := model.NewSearchResults(model.SearchParameters{Query: "Nantes", RadiusM: 500, WalkingTime: 5}, time.Now().UTC())
	in.SetLocations([]model.Location{{Score: 0.5, Population: 3000, NearestCompetitorDistance: math.Inf(1)}})

	id, err := st.SaveSearch(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, in.Locations[0].ID)

	out, err := st.GetSearch(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, in.Locations[0].ID, out.Locations[0].ID)
}

func TestSQLite_GetSearch_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetSearch(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_GetLocation(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, err := st.SaveSearch(ctx, sampleResults("Paris", time.Now().UTC()))
	require.NoError(t, err)

	loc, err := st.GetLocation(ctx, "loc-a")
	require.NoError(t, err)
	assert.Equal(t, "12 Rue Oberkampf, 75011 Paris", loc.Address)
	require.Len(t, loc.Competitors, 2)
	assert.Equal(t, "Lavomatic", loc.Competitors[0].Name)
	assert.Equal(t, "p1", loc.Competitors[0].PlaceID)
	assert.LessOrEqual(t, loc.Competitors[0].Distance, loc.Competitors[1].Distance)

	_, err = st.GetLocation(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListSearches_NewestFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		r := sampleResults(fmt.Sprintf("city-%d", i), base.Add(time.Duration(i)*time.Hour))
		for j := range r.Locations {
			r.Locations[j].ID = ""
		}
		_, err := st.SaveSearch(ctx, r)
		require.NoError(t, err)
	}

	page, err := st.ListSearches(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "city-4", page[0].Query)
	assert.Equal(t, "city-3", page[1].Query)
	assert.Equal(t, 2, page[0].TotalCount)
	assert.InDelta(t, 0.8123456789, page[0].TopScore, 1e-9)
	assert.Equal(t, 1000, page[0].Params.RadiusM)

	page, err = st.ListSearches(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "city-0", page[0].Query)

	all, err := st.ListSearches(ctx, 0, -3)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestSQLite_ListSearches_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	out, err := st.ListSearches(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

// --- Result cache ---

func TestSQLite_Cache_PutGetExpire(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st.WithClock(func() time.Time { return now })

	require.NoError(t, st.Put(ctx, "k1", []byte(`{"lat":48.85}`), time.Hour))

	data, ok, err := st.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"lat":48.85}`, string(data))

	now = now.Add(time.Hour)
	_, ok, err = st.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	// The expired row was removed on read.
	n, err := st.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLite_Cache_LastWriterWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "k", []byte("first"), time.Hour))
	require.NoError(t, st.Put(ctx, "k", []byte("second"), time.Hour))

	data, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(data))
}

func TestSQLite_Cache_Sweep(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st.WithClock(func() time.Time { return now })

	require.NoError(t, st.Put(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, st.Put(ctx, "long", []byte("2"), 24*time.Hour))
	now = now.Add(time.Hour)

	n, err := st.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := st.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_BacksCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	c := cache.New(st, cache.WithSweepProbability(0))
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (model.Coordinate, error) {
		calls++
		return model.Coordinate{Latitude: 45.764, Longitude: 4.8357}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := cache.GetOrCompute(ctx, c, "city_coordinates", "lyon, france", nil, cache.CityTTL, compute)
		require.NoError(t, err)
		assert.InDelta(t, 45.764, v.Latitude, 1e-9)
	}
	assert.Equal(t, 1, calls)
}

func TestSQLite_Cache_RecordsCreationTime(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st.WithClock(func() time.Time { return now })

	require.NoError(t, st.Put(ctx, "k", []byte("v"), time.Hour))

	var created, expires int64
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT created_at, expires_at FROM cache_entries WHERE key = ?`, "k").Scan(&created, &expires))
	assert.Equal(t, now.UnixNano(), created)
	assert.Equal(t, now.Add(time.Hour).UnixNano(), expires)
}

func TestSQLite_PragmasOnEveryConnection(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Hold several connections at once so the pool has to open new ones.
	for i := 0; i < 3; i++ {
		conn, err := st.db.Conn(ctx)
		require.NoError(t, err)
		defer conn.Close() //nolint:errcheck

		var timeout, fk int
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA busy_timeout`).Scan(&timeout))
		require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&fk))
		assert.Equal(t, 5000, timeout, "connection %d", i)
		assert.Equal(t, 1, fk, "connection %d", i)
	}
}

func TestSQLite_ConcurrentWriters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	const writers, perWriter = 8, 100
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < writers; w++ {
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				if err := st.Put(gctx, key, []byte(key), time.Hour); err != nil {
					return err
				}
				if _, _, err := st.Get(gctx, fmt.Sprintf("w%d-%d", (w+1)%writers, i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			r := sampleResults(fmt.Sprintf("Ville %d", i), time.Now())
			for j := range r.Locations {
				r.Locations[j].ID = ""
			}
			_, err := st.SaveSearch(gctx, r)
			return err
		})
	}
	require.NoError(t, g.Wait())

	var n int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n))
	assert.Equal(t, writers*perWriter, n)

	searches, err := st.ListSearches(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, searches, 4)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"site.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		sqliteDSN("site.db"))
	assert.Contains(t, sqliteDSN("file:site.db?cache=shared"), "cache=shared&_pragma=journal_mode(WAL)")
}

package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-finder/internal/cache"
	"github.com/sells-group/site-finder/internal/config"
)

var (
	_ Store       = (*SQLiteStore)(nil)
	_ Store       = (*PostgresStore)(nil)
	_ cache.Store = (*SQLiteStore)(nil)
)

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(ctx))
	// Migrations are idempotent.
	require.NoError(t, st.Migrate(ctx))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "mongo"`)
}

func TestNullableDistance(t *testing.T) {
	assert.Nil(t, nullableDistance(math.Inf(1)))
	assert.Nil(t, nullableDistance(math.NaN()))
	d := nullableDistance(500)
	require.NotNil(t, d)
	assert.InDelta(t, 500, *d, 1e-12)
}

func TestListWindow(t *testing.T) {
	limit, offset := listWindow(0, -1)
	assert.Equal(t, DefaultListLimit, limit)
	assert.Equal(t, 0, offset)

	limit, offset = listWindow(5, 10)
	assert.Equal(t, 5, limit)
	assert.Equal(t, 10, offset)
}

func TestDecodeDetails_Empty(t *testing.T) {
	d, err := decodeDetails(nil)
	require.NoError(t, err)
	assert.NotNil(t, d)

	_, err = decodeDetails([]byte("{not json"))
	assert.Error(t, err)
}

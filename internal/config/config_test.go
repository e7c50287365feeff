package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// inTempDir changes to an empty directory so no config.yaml or .env is found.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 5.0, cfg.Search.WalkingSpeedKMH, 0.001)
	assert.Equal(t, 10, cfg.Search.WalkingTimeMinutes)
	assert.InDelta(t, 800, cfg.Search.CompetitorRadiusM, 0.001)
	assert.Equal(t, 2000, cfg.Search.PopulationMin)
	assert.InDelta(t, 0.4, cfg.Search.MinScore, 0.001)
	assert.Equal(t, 15, cfg.Search.GridResolution)
	assert.Equal(t, 10, cfg.Search.DensityGridResolution)
	assert.InDelta(t, 0.5, cfg.Search.DensityMinIndex, 0.001)
	assert.Equal(t, "France", cfg.Search.Country)
	assert.Len(t, cfg.Search.CompetitorKeywords, 5)
	assert.InDelta(t, 0.4, cfg.Scoring.WeightPopulation, 0.001)
	assert.InDelta(t, 0.4, cfg.Scoring.WeightCompetition, 0.001)
	assert.InDelta(t, 0.2, cfg.Scoring.WeightDensity, 0.001)
	assert.Equal(t, 24*time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.GeocodeTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.CityTTL)
	assert.InDelta(t, 0.01, cfg.Cache.SweepProbability, 0.0001)
	assert.Equal(t, "sitefinder.search.completed", cfg.NATS.Subject)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/sitefinder
log:
  level: debug
  format: console
search:
  grid_resolution: 20
cache:
  default_ttl: 2h
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 20, cfg.Search.GridResolution)
	assert.Equal(t, 2*time.Hour, cfg.Cache.DefaultTTL)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Search.DensityGridResolution)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := inTempDir(t)

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("SITEFINDER_LOG_LEVEL", "warn")
	t.Setenv("SITEFINDER_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SITEFINDER_GOOGLE_API_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SITEFINDER_GOOGLE_API_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Google.APIKey)
}

func TestLoadRejectsInvalidWeights(t *testing.T) {
	inTempDir(t)
	t.Setenv("SITEFINDER_SCORING_WEIGHT_DENSITY", "0.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring weights must sum to 1")
}

// validDefaults returns a Config populated with valid values for validation tests.
func validDefaults() *Config {
	return &Config{
		Store:   StoreConfig{Driver: "sqlite"},
		Scoring: ScoringConfig{WeightPopulation: 0.4, WeightCompetition: 0.4, WeightDensity: 0.2},
		Search: SearchConfig{
			WalkingSpeedKMH:       5,
			WalkingTimeMinutes:    10,
			RadiusM:               1000,
			CompetitorRadiusM:     800,
			GridResolution:        15,
			DensityGridResolution: 10,
			Concurrency:           4,
		},
		Cache:  CacheConfig{SweepProbability: 0.01},
		Server: ServerConfig{Port: 8080},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"weights sum", func(c *Config) { c.Scoring.WeightDensity = 0.3 }, "sum to 1"},
		{"negative weight", func(c *Config) {
			c.Scoring.WeightPopulation = 1.2
			c.Scoring.WeightCompetition = -0.4
		}, "non-negative"},
		{"walking speed", func(c *Config) { c.Search.WalkingSpeedKMH = 0 }, "walking_speed_kmh"},
		{"walking time", func(c *Config) { c.Search.WalkingTimeMinutes = -1 }, "walking_time_minutes"},
		{"radius", func(c *Config) { c.Search.RadiusM = 0 }, "search.radius_m"},
		{"competitor radius", func(c *Config) { c.Search.CompetitorRadiusM = -5 }, "competitor_radius_m"},
		{"resolution", func(c *Config) { c.Search.GridResolution = 1 }, "resolutions"},
		{"concurrency", func(c *Config) { c.Search.Concurrency = 0 }, "concurrency"},
		{"sweep probability", func(c *Config) { c.Cache.SweepProbability = 1.5 }, "sweep_probability"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = ""
	cfg.Search.Concurrency = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "concurrency")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

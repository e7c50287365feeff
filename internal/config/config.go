package config

import (
	"math"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. SITEFINDER_GOOGLE_API_KEY.
const EnvPrefix = "SITEFINDER"

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Google    GoogleConfig    `yaml:"google" mapstructure:"google"`
	Nominatim NominatimConfig `yaml:"nominatim" mapstructure:"nominatim"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	NATS      NATSConfig      `yaml:"nats" mapstructure:"nats"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GoogleConfig configures the Places and Geocoding APIs.
type GoogleConfig struct {
	APIKey         string  `yaml:"api_key" mapstructure:"api_key"`
	PlacesBaseURL  string  `yaml:"places_base_url" mapstructure:"places_base_url"`
	GeocodeBaseURL string  `yaml:"geocode_base_url" mapstructure:"geocode_base_url"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// NominatimConfig configures the OpenStreetMap geocoder used as fallback.
type NominatimConfig struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SearchConfig holds the site search constants.
type SearchConfig struct {
	WalkingSpeedKMH       float64  `yaml:"walking_speed_kmh" mapstructure:"walking_speed_kmh"`
	WalkingTimeMinutes    int      `yaml:"walking_time_minutes" mapstructure:"walking_time_minutes"`
	RadiusM               float64  `yaml:"radius_m" mapstructure:"radius_m"`
	CompetitorRadiusM     float64  `yaml:"competitor_radius_m" mapstructure:"competitor_radius_m"`
	CompetitorKeywords    []string `yaml:"competitor_keywords" mapstructure:"competitor_keywords"`
	PopulationMin         int      `yaml:"population_min" mapstructure:"population_min"`
	DensityThreshold      float64  `yaml:"density_threshold" mapstructure:"density_threshold"`
	MinScore              float64  `yaml:"min_score" mapstructure:"min_score"`
	GridResolution        int      `yaml:"grid_resolution" mapstructure:"grid_resolution"`
	DensityGridResolution int      `yaml:"density_grid_resolution" mapstructure:"density_grid_resolution"`
	DensityMinIndex       float64  `yaml:"density_min_index" mapstructure:"density_min_index"`
	Concurrency           int      `yaml:"concurrency" mapstructure:"concurrency"`
	Country               string   `yaml:"country" mapstructure:"country"`
}

// ScoringConfig holds the composite score weights.
type ScoringConfig struct {
	WeightPopulation  float64 `yaml:"weight_population" mapstructure:"weight_population"`
	WeightCompetition float64 `yaml:"weight_competition" mapstructure:"weight_competition"`
	WeightDensity     float64 `yaml:"weight_density" mapstructure:"weight_density"`
}

// CacheConfig controls result cache lifetimes.
type CacheConfig struct {
	DefaultTTL       time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	GeocodeTTL       time.Duration `yaml:"geocode_ttl" mapstructure:"geocode_ttl"`
	CityTTL          time.Duration `yaml:"city_ttl" mapstructure:"city_ttl"`
	EstimatorTTL     time.Duration `yaml:"estimator_ttl" mapstructure:"estimator_ttl"`
	SweepProbability float64       `yaml:"sweep_probability" mapstructure:"sweep_probability"`
}

// CircuitConfig configures the breakers guarding external providers.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	APIKey      string   `yaml:"api_key" mapstructure:"api_key"`
	Debug       bool     `yaml:"debug" mapstructure:"debug"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// NATSConfig configures search-completed notifications. An empty URL
// disables publishing.
type NATSConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Subject string `yaml:"subject" mapstructure:"subject"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment, then validates it.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "site-finder.db")
	v.SetDefault("google.places_base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.geocode_base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("google.rate_limit", 10)
	v.SetDefault("nominatim.enabled", true)
	v.SetDefault("nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("nominatim.user_agent", "site-finder/1.0")
	v.SetDefault("nominatim.rate_limit", 1)
	v.SetDefault("search.walking_speed_kmh", 5.0)
	v.SetDefault("search.walking_time_minutes", 10)
	v.SetDefault("search.radius_m", 1000.0)
	v.SetDefault("search.competitor_radius_m", 800.0)
	v.SetDefault("search.competitor_keywords", []string{
		"laverie", "laundromat", "pressing", "laverie automatique", "laverie libre service",
	})
	v.SetDefault("search.population_min", 2000)
	v.SetDefault("search.density_threshold", 1000.0)
	v.SetDefault("search.min_score", 0.4)
	v.SetDefault("search.grid_resolution", 15)
	v.SetDefault("search.density_grid_resolution", 10)
	v.SetDefault("search.density_min_index", 0.5)
	v.SetDefault("search.concurrency", 4)
	v.SetDefault("search.country", "France")
	v.SetDefault("scoring.weight_population", 0.4)
	v.SetDefault("scoring.weight_competition", 0.4)
	v.SetDefault("scoring.weight_density", 0.2)
	v.SetDefault("cache.default_ttl", 24*time.Hour)
	v.SetDefault("cache.geocode_ttl", 7*24*time.Hour)
	v.SetDefault("cache.city_ttl", 30*24*time.Hour)
	v.SetDefault("cache.estimator_ttl", 30*24*time.Hour)
	v.SetDefault("cache.sweep_probability", 0.01)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout", 30*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("nats.subject", "sitefinder.search.completed")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate collects every configuration problem into one error.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres, got "+quote(c.Store.Driver))
	}

	w := c.Scoring
	if w.WeightPopulation < 0 || w.WeightCompetition < 0 || w.WeightDensity < 0 {
		errs = append(errs, "scoring weights must be non-negative")
	}
	if sum := w.WeightPopulation + w.WeightCompetition + w.WeightDensity; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, "scoring weights must sum to 1")
	}

	s := c.Search
	if s.WalkingSpeedKMH <= 0 {
		errs = append(errs, "search.walking_speed_kmh must be positive")
	}
	if s.WalkingTimeMinutes <= 0 {
		errs = append(errs, "search.walking_time_minutes must be positive")
	}
	if s.RadiusM <= 0 {
		errs = append(errs, "search.radius_m must be positive")
	}
	if s.CompetitorRadiusM <= 0 {
		errs = append(errs, "search.competitor_radius_m must be positive")
	}
	if s.GridResolution < 2 || s.DensityGridResolution < 2 {
		errs = append(errs, "search grid resolutions must be at least 2")
	}
	if s.Concurrency < 1 {
		errs = append(errs, "search.concurrency must be at least 1")
	}
	if s.PopulationMin < 0 {
		errs = append(errs, "search.population_min must be non-negative")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if p := c.Cache.SweepProbability; p < 0 || p > 1 {
		errs = append(errs, "cache.sweep_probability must be within [0,1]")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func quote(s string) string { return "\"" + s + "\"" }

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

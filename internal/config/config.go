package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the feed service
type Config struct {
	// HTTP
	Port           string   `yaml:"port" validate:"required,numeric"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	StaticDir      string   `yaml:"staticDir"`

	// Real-time feed
	FeedURLs            []string      `yaml:"feedURLs" validate:"required,min=1,dive,url"`
	FeedTimeout         time.Duration `yaml:"feedTimeout" validate:"gt=0"`
	CacheTTL            time.Duration `yaml:"cacheTTL" validate:"gt=0"`
	RefreshInterval     time.Duration `yaml:"refreshInterval" validate:"gte=0"`
	SeedFromTripUpdates bool          `yaml:"seedFromTripUpdates"`

	// Schedule store
	StoreDriver    string        `yaml:"storeDriver" validate:"oneof=sqlite postgres"`
	SQLitePath     string        `yaml:"sqliteDatabase" validate:"required_if=StoreDriver sqlite"`
	DatabaseURL    string        `yaml:"databaseURL" validate:"required_if=StoreDriver postgres"`
	StatsDatabase  string        `yaml:"statsDatabase"`
	StatsRetention time.Duration `yaml:"statsRetention" validate:"gte=0"`
	MaxRouteCount  int           `yaml:"maxRouteCount" validate:"gt=0"`
	ShapeCacheSize int           `yaml:"shapeCacheSize" validate:"gt=0"`
	Timezone       string        `yaml:"timezone" validate:"required"`

	// Static schedule refresh (sqlite store only)
	StaticGTFSURL string        `yaml:"staticGTFSURL" validate:"omitempty,url"`
	StaticMaxAge  time.Duration `yaml:"staticMaxAge" validate:"gte=0"`

	// Fan-out
	NATSURL     string `yaml:"natsURL" validate:"omitempty,url"`
	NATSSubject string `yaml:"natsSubject"`
	MetricsAddr string `yaml:"metricsAddr"`

	// Logging
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`

	Location *time.Location `yaml:"-"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Port:            "8081",
		AllowedOrigins:  []string{"http://localhost:5173"},
		FeedTimeout:     15 * time.Second,
		CacheTTL:        10 * time.Second,
		RefreshInterval: 0,
		StoreDriver:     "sqlite",
		SQLitePath:      "data/transit.db",
		MaxRouteCount:   10,
		ShapeCacheSize:  512,
		StatsRetention:  7 * 24 * time.Hour,
		StaticMaxAge:    7 * 24 * time.Hour,
		Timezone:        "Australia/Brisbane",
		NATSSubject:     "transit.snapshot",
		LogLevel:        "info",
	}
}

// Load reads .env files, an optional YAML file named by CONFIG_FILE and
// environment variables, in that order of increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.StaticDir = getEnv("STATIC_DIR", cfg.StaticDir)

	// GTFS_REALTIME_URL is the single combined feed; FEED_URLS wins when both are set
	if legacy := os.Getenv("GTFS_REALTIME_URL"); legacy != "" {
		cfg.FeedURLs = []string{legacy}
	}
	cfg.FeedURLs = getEnvList("FEED_URLS", cfg.FeedURLs)
	cfg.FeedTimeout = getEnvDuration("FEED_TIMEOUT", cfg.FeedTimeout)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", cfg.CacheTTL)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.SeedFromTripUpdates = getEnvBool("SEED_FROM_TRIP_UPDATES", cfg.SeedFromTripUpdates)

	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.SQLitePath = getEnv("SQLITE_DATABASE", cfg.SQLitePath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.StatsDatabase = getEnv("STATS_DATABASE", cfg.StatsDatabase)
	cfg.StatsRetention = getEnvDuration("STATS_RETENTION", cfg.StatsRetention)
	cfg.MaxRouteCount = getEnvInt("MAX_ROUTE_COUNT", cfg.MaxRouteCount)
	cfg.ShapeCacheSize = getEnvInt("SHAPE_CACHE_SIZE", cfg.ShapeCacheSize)
	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)
	cfg.StaticGTFSURL = getEnv("GTFS_STATIC_URL", cfg.StaticGTFSURL)
	cfg.StaticMaxAge = getEnvDuration("STATIC_MAX_AGE", cfg.StaticMaxAge)

	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = getEnv("NATS_SUBJECT", cfg.NATSSubject)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
}

// Validate checks struct constraints and resolves the timezone
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	c.Location = loc
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15s") or plain milliseconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

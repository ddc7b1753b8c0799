// Package config provides configuration management for the application.
//
// Precedence, lowest to highest: built-in defaults, config.yaml (with
// ${VAR} and ${VAR:-default} expansion), environment variables. A .env file
// in the working directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Storage types. "memory" keeps reference data in process and disables history.
const (
	StorageMemory     = "memory"
	StorageSQLite     = "sqlite"
	StoragePostgreSQL = "postgresql"
	StorageMongoDB    = "mongodb"
)

// Cache types.
const (
	CacheNone  = "none"
	CacheLocal = "local"
	CacheRedis = "redis"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Engine  EngineConfig  `yaml:"engine"`
	History HistoryConfig `yaml:"history"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey enables bearer authentication when non-empty.
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit uses echo's size syntax, e.g. "4M".
	BodySizeLimit string `yaml:"body_size_limit"`
}

// StorageConfig selects where reference data and history live.
type StorageConfig struct {
	Type string `yaml:"type"`
	// Seed loads the built-in demo dataset at startup when the store is empty.
	Seed       bool             `yaml:"seed"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration.
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration.
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// CacheConfig controls the reference-data read cache.
type CacheConfig struct {
	Type       string      `yaml:"type"`
	TTLSeconds int         `yaml:"ttl_seconds"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// EngineConfig tunes the pricing engine.
type EngineConfig struct {
	// Accumulation is "score" or "staged".
	Accumulation string `yaml:"accumulation"`
	// MaxSkipSteps caps condition-failure trace steps per claim (0 = unlimited).
	MaxSkipSteps     int `yaml:"max_skip_steps"`
	BatchConcurrency int `yaml:"batch_concurrency"`
	BatchMaxClaims   int `yaml:"batch_max_claims"`
}

// HistoryConfig controls pricing history recording.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// BufferSize is the number of entries held in memory before dropping.
	BufferSize int `yaml:"buffer_size"`
	// BatchSize is how many entries are written per store call.
	BatchSize int `yaml:"batch_size"`
	// FlushInterval is in seconds.
	FlushInterval int `yaml:"flush_interval"`
	// RetentionDays is how long entries are kept (0 = forever).
	RetentionDays int `yaml:"retention_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig controls process logging.
type LogConfig struct {
	// Format is "json", "text" or "trace".
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// buildDefaultConfig returns the configuration used when nothing is set.
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "4M",
		},
		Storage: StorageConfig{
			Type: StorageSQLite,
			SQLite: SQLiteConfig{
				Path: "data/claimpricer.db",
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 10,
			},
			MongoDB: MongoDBConfig{
				Database: "claimpricer",
			},
		},
		Cache: CacheConfig{
			Type:       CacheLocal,
			TTLSeconds: 300,
			Redis: RedisConfig{
				Prefix: "claimpricer:refdata",
			},
		},
		Engine: EngineConfig{
			Accumulation:     "score",
			MaxSkipSteps:     0,
			BatchConcurrency: 8,
			BatchMaxClaims:   1000,
		},
		History: HistoryConfig{
			Enabled:       true,
			BufferSize:    1000,
			BatchSize:     100,
			FlushInterval: 5,
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()

	if path := configPath(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expandString(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configPath returns PRICER_CONFIG, or the first default location that exists.
func configPath() string {
	if p := os.Getenv("PRICER_CONFIG"); p != "" {
		return p
	}
	for _, p := range []string{"config/config.yaml", "config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A ${VAR} that is unset
// or empty is left as written so the mistake stays visible.
func expandString(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides lets environment variables override file values.
func applyEnvOverrides(cfg *Config) error {
	v := viper.New()
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if !v.IsSet(key) {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		if !v.IsSet(key) {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}

	str("PORT", &cfg.Server.Port)
	str("PRICER_MASTER_KEY", &cfg.Server.MasterKey)
	str("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	flag("STORAGE_SEED", &cfg.Storage.Seed)
	str("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	str("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	num("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	str("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	str("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	str("CACHE_TYPE", &cfg.Cache.Type)
	num("CACHE_TTL_SECONDS", &cfg.Cache.TTLSeconds)
	str("REDIS_URL", &cfg.Cache.Redis.URL)
	str("REDIS_PREFIX", &cfg.Cache.Redis.Prefix)

	str("ENGINE_ACCUMULATION", &cfg.Engine.Accumulation)
	num("ENGINE_MAX_SKIP_STEPS", &cfg.Engine.MaxSkipSteps)
	num("ENGINE_BATCH_CONCURRENCY", &cfg.Engine.BatchConcurrency)
	num("ENGINE_BATCH_MAX_CLAIMS", &cfg.Engine.BatchMaxClaims)

	flag("HISTORY_ENABLED", &cfg.History.Enabled)
	num("HISTORY_BUFFER_SIZE", &cfg.History.BufferSize)
	num("HISTORY_BATCH_SIZE", &cfg.History.BatchSize)
	num("HISTORY_FLUSH_INTERVAL", &cfg.History.FlushInterval)
	num("HISTORY_RETENTION_DAYS", &cfg.History.RetentionDays)

	flag("METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_LEVEL", &cfg.Log.Level)

	return errors.Join(errs...)
}

// Validate rejects unknown enum values and impossible limits.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case StorageMemory, StorageSQLite:
	case StoragePostgreSQL:
		if c.Storage.PostgreSQL.URL == "" {
			errs = append(errs, fmt.Errorf("storage.postgresql.url is required for postgresql storage"))
		}
	case StorageMongoDB:
		if c.Storage.MongoDB.URL == "" {
			errs = append(errs, fmt.Errorf("storage.mongodb.url is required for mongodb storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q (valid: memory, sqlite, postgresql, mongodb)", c.Storage.Type))
	}

	switch c.Cache.Type {
	case CacheNone, CacheLocal:
	case CacheRedis:
		if c.Cache.Redis.URL == "" {
			errs = append(errs, fmt.Errorf("cache.redis.url is required for redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.type %q (valid: none, local, redis)", c.Cache.Type))
	}

	switch c.Engine.Accumulation {
	case "score", "staged":
	default:
		errs = append(errs, fmt.Errorf("unknown engine.accumulation %q (valid: score, staged)", c.Engine.Accumulation))
	}
	if c.Engine.MaxSkipSteps < 0 {
		errs = append(errs, fmt.Errorf("engine.max_skip_steps must not be negative"))
	}
	if c.Engine.BatchMaxClaims <= 0 {
		errs = append(errs, fmt.Errorf("engine.batch_max_claims must be positive"))
	}

	switch c.Log.Format {
	case "json", "text", "trace":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q (valid: json, text, trace)", c.Log.Format))
	}

	return errors.Join(errs...)
}

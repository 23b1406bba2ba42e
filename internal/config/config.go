// Package config defines the scoreboard process configuration and its
// loading from defaults, an optional YAML file and the environment.
package config

import (
	"fmt"
	"time"

	"github.com/okian/scoreboard/internal/domain/model"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Rank index backends.
const (
	RankTreap = "treap"
	RankRedis = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8008".
	Addr string `koanf:"addr"`
	// RequestTimeoutMS bounds every HTTP request.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	StorageDriver string `koanf:"storage_driver"`
	SQLitePath    string `koanf:"sqlite_path"`
	PostgresDSN   string `koanf:"postgres_dsn"`
	// PostgresMaxConns sizes the pgx pool; 0 keeps the driver default.
	PostgresMaxConns int `koanf:"postgres_max_conns"`

	RankBackend   string `koanf:"rank_backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`

	// ScorePolicy is latest or best.
	ScorePolicy string `koanf:"score_policy"`

	// DefaultLeaderboardMax is used when a request gives no max.
	DefaultLeaderboardMax int `koanf:"default_leaderboard_max"`
	// MaxLeaderboardLimit caps any requested max.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	TokenSecret  string `koanf:"token_secret"`
	TokenIssuer  string `koanf:"token_issuer"`
	LegacyAPIKey string `koanf:"legacy_api_key"`
	// LegacySeedFile names a YAML list of legacy users imported at startup.
	LegacySeedFile string `koanf:"legacy_seed_file"`

	ReindexQueueSize int `koanf:"reindex_queue_size"`
	ReindexWorkers   int `koanf:"reindex_workers"`
	DedupeSize       int `koanf:"dedupe_size"`

	// RateLimitRPS and RateLimitBurst throttle mutations per client; a
	// non-positive rate disables the limiter.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	MetricsEnabled bool `koanf:"metrics_enabled"`
	// MetricsRefreshMS is how often runtime and engine gauges are refreshed.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":8008",
		RequestTimeoutMS:      5000,
		StorageDriver:         StorageMemory,
		SQLitePath:            "scoreboard.db",
		RankBackend:           RankTreap,
		RedisAddr:             "localhost:6379",
		RedisPrefix:           "scoreboard",
		ScorePolicy:           string(model.PolicyLatest),
		DefaultLeaderboardMax: 50,
		MaxLeaderboardLimit:   1000,
		ReindexQueueSize:      1024,
		ReindexWorkers:        2,
		DedupeSize:            50_000,
		RateLimitRPS:          20,
		RateLimitBurst:        40,
		MetricsEnabled:        true,
		MetricsRefreshMS:      10_000,
	}
}

// RequestTimeout is RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// MetricsRefresh is MetricsRefreshMS as a duration.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshMS) * time.Millisecond
}

// Policy returns the parsed score policy. Call after Validate.
func (c *Config) Policy() model.Policy {
	p, _ := model.ParsePolicy(c.ScorePolicy)
	return p
}

// Validate checks field domains and cross-field requirements.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.RequestTimeoutMS <= 0:
		return fmt.Errorf("%w: request_timeout_ms must be positive", ErrInvalidConfig)
	case c.DefaultLeaderboardMax <= 0 || c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: leaderboard limits must be positive", ErrInvalidConfig)
	case c.DefaultLeaderboardMax > c.MaxLeaderboardLimit:
		return fmt.Errorf("%w: default_leaderboard_max exceeds max_leaderboard_limit", ErrInvalidConfig)
	case c.ReindexQueueSize <= 0 || c.ReindexWorkers <= 0 || c.DedupeSize <= 0:
		return fmt.Errorf("%w: queue, worker and dedupe sizes must be positive", ErrInvalidConfig)
	case c.TokenSecret == "":
		return fmt.Errorf("%w: token_secret must be set", ErrInvalidConfig)
	case c.MetricsRefreshMS <= 0:
		return fmt.Errorf("%w: metrics_refresh_ms must be positive", ErrInvalidConfig)
	}
	if _, err := model.ParsePolicy(c.ScorePolicy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.StorageDriver {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path must be set for the sqlite driver", ErrInvalidConfig)
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres_dsn must be set for the postgres driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage_driver %q", ErrInvalidConfig, c.StorageDriver)
	}

	switch c.RankBackend {
	case RankTreap:
	case RankRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr must be set for the redis rank backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown rank_backend %q", ErrInvalidConfig, c.RankBackend)
	}
	return nil
}

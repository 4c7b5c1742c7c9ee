// Package config provides configuration management for the stats pipeline.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (DATABASE_URL, SERVER_PORT, QUALIFIER_MIN_KILLS, ...)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Log         LogConfig         `mapstructure:"log"`
	River       RiverConfig       `mapstructure:"river"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Qualifier   QualifierConfig   `mapstructure:"qualifier"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	GlobalStats GlobalStatsConfig `mapstructure:"global_stats"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	// AllowCredentials is ignored when every origin is allowed.
	AllowCredentials      bool `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One pgxpool is shared by the repositories and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River queue settings. Each pipeline stage gets its own
// queue so a classification backlog never starves aggregation or batch jobs.
type RiverConfig struct {
	TelemetryWorkers            int           `mapstructure:"telemetry_workers"`
	AggregationWorkers          int           `mapstructure:"aggregation_workers"`
	BatchWorkers                int           `mapstructure:"batch_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains goroutine pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	BatchPoolSize   int `mapstructure:"batch_pool_size"`
}

// CacheConfig contains the stats cache settings.
type CacheConfig struct {
	// Path is the Badger directory. Empty runs the cache in memory, which is
	// fine because every entry can be rebuilt from PostgreSQL.
	Path          string        `mapstructure:"path"`
	RollupTTL     time.Duration `mapstructure:"rollup_ttl"`
	QualifiersTTL time.Duration `mapstructure:"qualifiers_ttl"`
}

// PipelineConfig controls the per-event classification and aggregation jobs.
type PipelineConfig struct {
	// Tenants lists the tenants that get periodic batch jobs.
	Tenants      []int64       `mapstructure:"tenants"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// QualifierConfig is the fixed, time-boxed qualification rule set.
type QualifierConfig struct {
	WindowStart    time.Time     `mapstructure:"window_start"`
	WindowEnd      time.Time     `mapstructure:"window_end"`
	MinKills       int           `mapstructure:"min_kills"`
	MinPlayMinutes float64       `mapstructure:"min_play_minutes"`
	Regions        []string      `mapstructure:"regions"`
	KillView       string        `mapstructure:"kill_view"`
	Interval       time.Duration `mapstructure:"interval"`
}

// LeaderboardConfig contains leaderboard build settings.
type LeaderboardConfig struct {
	Size     int           `mapstructure:"size"`
	Interval time.Duration `mapstructure:"interval"`
}

// GlobalStatsConfig controls the upstream global stats poller. An empty URL
// disables it.
type GlobalStatsConfig struct {
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/gamestats")

	// database.max_conns → DATABASE_MAX_CONNS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.RetryBackoff <= 0 {
		return fmt.Errorf("pipeline.retry_backoff must be positive")
	}
	if !c.Qualifier.WindowEnd.After(c.Qualifier.WindowStart) {
		return fmt.Errorf("qualifier.window_end must be after qualifier.window_start")
	}
	if c.Qualifier.MinKills < 0 || c.Qualifier.MinPlayMinutes < 0 {
		return fmt.Errorf("qualifier thresholds must not be negative")
	}
	switch c.Qualifier.KillView {
	case "overview", "qualifier", "elimination":
	default:
		return fmt.Errorf("qualifier.kill_view %q is not a known view", c.Qualifier.KillView)
	}
	if c.Leaderboard.Size < 1 {
		return fmt.Errorf("leaderboard.size must be at least 1")
	}
	if c.GlobalStats.URL != "" && c.GlobalStats.Timeout <= 0 {
		return fmt.Errorf("global_stats.timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", false)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gamestats")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "gamestats")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.telemetry_workers", 20)
	v.SetDefault("river.aggregation_workers", 10)
	v.SetDefault("river.batch_workers", 2)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.batch_pool_size", 16)

	// Cache
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.rollup_ttl", "1h")
	v.SetDefault("cache.qualifiers_ttl", "60s")

	// Pipeline
	v.SetDefault("pipeline.tenants", []int64{})
	v.SetDefault("pipeline.max_attempts", 10)
	v.SetDefault("pipeline.retry_backoff", "30s")

	// Qualifier
	v.SetDefault("qualifier.window_start", "2024-12-03T00:00:00Z")
	v.SetDefault("qualifier.window_end", "2024-12-04T16:00:00Z")
	v.SetDefault("qualifier.min_kills", 25)
	v.SetDefault("qualifier.min_play_minutes", 15)
	v.SetDefault("qualifier.regions", []string{"North America", "Europe"})
	v.SetDefault("qualifier.kill_view", "qualifier")
	v.SetDefault("qualifier.interval", "15m")

	// Leaderboard
	v.SetDefault("leaderboard.size", 10)
	v.SetDefault("leaderboard.interval", "5m")

	// Global stats poller
	v.SetDefault("global_stats.url", "")
	v.SetDefault("global_stats.interval", "1m")
	v.SetDefault("global_stats.timeout", "60s")
}

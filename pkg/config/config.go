package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for noema-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8484"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional, for cross-process fan-out)
	Redis RedisConfig `yaml:"redis"`

	// Blob store configuration
	Blob BlobConfig `yaml:"blob"`

	// Command pipeline configuration
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"noema"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"noema_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis connection configuration. Redis is optional; when
// Host is empty the engine runs with in-process fan-out only.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// BlobConfig holds content-addressed blob store configuration.
type BlobConfig struct {
	// Root is the directory blobs are stored under.
	Root string `yaml:"root" env:"BLOB_ROOT" env-default:"./data/blobs"`
}

// PipelineConfig tunes the command pipeline.
type PipelineConfig struct {
	// MaxConcurrentPerAggregate bounds in-flight commands per aggregate type.
	MaxConcurrentPerAggregate int `yaml:"max_concurrent_per_aggregate" env:"PIPELINE_MAX_CONCURRENT" env-default:"10"`

	// StepTimeout is the deadline for a single executor step.
	StepTimeout time.Duration `yaml:"step_timeout" env:"PIPELINE_STEP_TIMEOUT" env-default:"30s"`

	// MaxAttempts bounds redelivery of a failed event before it is recorded
	// as terminally failed.
	MaxAttempts int `yaml:"max_attempts" env:"PIPELINE_MAX_ATTEMPTS" env-default:"5"`

	// InitialBackoff is the first retry delay; doubled up to MaxBackoff.
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"PIPELINE_INITIAL_BACKOFF" env-default:"2s"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"PIPELINE_MAX_BACKOFF" env-default:"30s"`

	// HeartbeatInterval is how often idle real-time connections are pinged.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"PIPELINE_HEARTBEAT_INTERVAL" env-default:"30s"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; environment variables and defaults apply.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.MaxConcurrentPerAggregate < 1 {
		return fmt.Errorf("pipeline.max_concurrent_per_aggregate must be at least 1")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.StepTimeout <= 0 {
		return fmt.Errorf("pipeline.step_timeout must be positive")
	}
	return nil
}

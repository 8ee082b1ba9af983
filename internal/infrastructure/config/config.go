package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/emiliopalmerini/msplit/internal/adapters/otel"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreTurso  = "turso"
	StoreMemory = "memory"
)

// Split holds engine and CLI settings, read from SPLIT_*.
type Split struct {
	Store                    string   `envconfig:"STORE" default:"redis"`
	AllowMultipleExperiments bool     `envconfig:"ALLOW_MULTIPLE_EXPERIMENTS" default:"false"`
	DBFailover               bool     `envconfig:"DB_FAILOVER" default:"false"`
	IgnoreIPAddresses        []string `envconfig:"IGNORE_IP_ADDRESSES"`
	LogLevel                 string   `envconfig:"LOG_LEVEL" default:"info"`
	LogNoColor               bool     `envconfig:"LOG_NO_COLOR" default:"false"`
}

// Redis holds Redis connection settings, read from SPLIT_REDIS_*.
type Redis struct {
	URL         string        `envconfig:"URL" default:"redis://localhost:6379/0"`
	PoolSize    int           `envconfig:"POOL_SIZE" default:"10"`
	DialTimeout time.Duration `envconfig:"DIAL_TIMEOUT" default:"2s"`
}

// Database holds Turso database configuration.
type Database struct {
	URL       string `envconfig:"TURSO_DATABASE_URL"`
	AuthToken string `envconfig:"TURSO_AUTH_TOKEN"`
}

// Config is the full process configuration.
type Config struct {
	Split    Split
	Redis    Redis
	Database Database
	OTEL     otel.Config
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SPLIT", &cfg.Split); err != nil {
		return nil, err
	}
	if err := envconfig.Process("SPLIT_REDIS", &cfg.Redis); err != nil {
		return nil, err
	}
	if err := envconfig.Process("", &cfg.Database); err != nil {
		return nil, err
	}
	if err := envconfig.Process("MSPLIT_OTEL", &cfg.OTEL); err != nil {
		return nil, err
	}
	cfg.Split.Store = strings.ToLower(strings.TrimSpace(cfg.Split.Store))
	return &cfg, nil
}

// Validate checks settings that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Split.Store {
	case StoreRedis, StoreMemory:
	case StoreTurso:
		if c.Database.URL == "" {
			return fmt.Errorf("TURSO_DATABASE_URL is required when SPLIT_STORE=%s", StoreTurso)
		}
	default:
		return fmt.Errorf("unknown store %q: want %s, %s or %s", c.Split.Store, StoreRedis, StoreTurso, StoreMemory)
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("SPLIT_REDIS_POOL_SIZE must not be negative")
	}
	return nil
}

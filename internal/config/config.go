package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServerPort      string        `env:"SERVER_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	DatabaseURL      string        `env:"DATABASE_URL"`
	StoreDriver      string        `env:"STORE_DRIVER" envDefault:"postgres"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	StoreMaxAttempts uint          `env:"STORE_MAX_ATTEMPTS" envDefault:"3"`
	CatalogCacheTTL  time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"5m"`

	JWT struct {
		Secret string `env:"SECRET,required,notEmpty"`
		Issuer string `env:"ISSUER"`
	} `envPrefix:"JWT_"`

	RateLimit struct {
		RPS   float64 `env:"RPS" envDefault:"10"`
		Burst int     `env:"BURST" envDefault:"20"`
	} `envPrefix:"RATE_LIMIT_"`

	Log struct {
		Level string `env:"LEVEL" envDefault:"info"`
		Dev   bool   `env:"DEV"`
	} `envPrefix:"LOG_"`

	// Content sync is disabled when APIURL is empty.
	Content struct {
		APIURL       string        `env:"API_URL"`
		ClientID     string        `env:"CLIENT_ID"`
		APIKey       string        `env:"API_KEY"`
		SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"10m"`
	} `envPrefix:"CONTENT_"`
}

func Load() (*Config, error) {
	// Load .env file if it exists (useful for local dev)
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.StoreMaxAttempts == 0 {
		return fmt.Errorf("STORE_MAX_ATTEMPTS must be at least 1")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.Content.APIURL != "" && c.Content.SyncInterval <= 0 {
		return fmt.Errorf("CONTENT_SYNC_INTERVAL must be positive")
	}
	return nil
}

// ContentSyncEnabled reports whether a content API is configured.
func (c *Config) ContentSyncEnabled() bool {
	return c.Content.APIURL != ""
}

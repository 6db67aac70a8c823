package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

const minSecretLen = 32

type Config struct {
	Server   ServerConfig  `envPrefix:"SERVER_"`
	FoodAPI  FoodAPIConfig `envPrefix:"FOODAPI_"`
	Store    StoreConfig   `envPrefix:"STORE_"`
	Session  SessionConfig `envPrefix:"SESSION_"`
	Catalog  CatalogConfig `envPrefix:"CATALOG_"`
	Metrics  MetricsConfig `envPrefix:"METRICS_"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type FoodAPIConfig struct {
	BaseURL   string        `env:"BASE_URL" envDefault:"https://world.openfoodfacts.org"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"10s"`
	UserAgent string        `env:"USER_AGENT" envDefault:"pantry/1.0"`
}

type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, redis.
	Driver string `env:"DRIVER" envDefault:"memory"`
	DSN    string `env:"DSN"`
}

type SessionConfig struct {
	Secret    string        `env:"SECRET"`
	TTL       time.Duration `env:"TTL" envDefault:"720h"`
	Idle      time.Duration `env:"IDLE" envDefault:"30m"`
	RateLimit int           `env:"RATE_LIMIT" envDefault:"20"`
}

type CatalogConfig struct {
	Debounce     time.Duration `env:"DEBOUNCE" envDefault:"300ms"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"15s"`
}

type MetricsConfig struct {
	Token string `env:"TOKEN"`
}

var ErrWeakSecret = errors.New("SESSION_SECRET is required and must be at least 32 chars")

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings `serve` cannot start without.
func (c *Config) Validate() error {
	if len(c.Session.Secret) < minSecretLen {
		return ErrWeakSecret
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres", "redis":
		if c.Store.DSN == "" {
			return errors.New("STORE_DSN is required for driver " + c.Store.Driver)
		}
	default:
		return errors.New("unknown STORE_DRIVER " + c.Store.Driver)
	}
	return nil
}

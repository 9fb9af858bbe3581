package ondemand

import (
	"errors"
	"time"

	"github.com/lookout-labs/lookout-go/internal/platform/env"
)

type Config struct {
	// TTL is the default freshness window when a caller passes maxAge <= 0.
	TTL time.Duration
	// RefreshTimeout bounds one synchronous capture and primary-only cycle.
	RefreshTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{TTL: 30 * time.Minute, RefreshTimeout: 60 * time.Second}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	ttl, err := env.Duration("LOOKOUT_CACHE_TTL", def.TTL)
	if err != nil {
		return Config{}, err
	}
	refreshTimeout, err := env.Duration("LOOKOUT_CACHE_REFRESH_TIMEOUT", def.RefreshTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{TTL: ttl, RefreshTimeout: refreshTimeout}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TTL <= 0 {
		return errors.New("LOOKOUT_CACHE_TTL must be positive")
	}
	if c.RefreshTimeout <= 0 {
		return errors.New("LOOKOUT_CACHE_REFRESH_TIMEOUT must be positive")
	}
	return nil
}

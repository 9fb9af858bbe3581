// Package redisstore configures the optional Redis client used for shared
// cache entries.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lookout-labs/lookout-go/internal/platform/env"
)

type Config struct {
	URL         string
	KeyPrefix   string
	EntryTTL    time.Duration
	PingTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	entryTTL, err := env.Duration("LOOKOUT_REDIS_ENTRY_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	pingTimeout, err := env.Duration("LOOKOUT_REDIS_PING_TIMEOUT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		URL:         strings.TrimSpace(env.String("LOOKOUT_REDIS_URL", "")),
		KeyPrefix:   env.String("LOOKOUT_REDIS_KEY_PREFIX", "lookout:"),
		EntryTTL:    entryTTL,
		PingTimeout: pingTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Enabled reports whether a Redis URL was configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

func (c Config) Validate() error {
	if c.EntryTTL < 0 {
		return errors.New("LOOKOUT_REDIS_ENTRY_TTL must be >= 0")
	}
	if c.Enabled() && c.PingTimeout <= 0 {
		return errors.New("LOOKOUT_REDIS_PING_TIMEOUT must be positive")
	}
	if c.Enabled() && strings.TrimSpace(c.KeyPrefix) == "" {
		return errors.New("LOOKOUT_REDIS_KEY_PREFIX is required")
	}
	return nil
}

// Open parses the URL and verifies the connection with a bounded ping.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, errors.New("LOOKOUT_REDIS_URL is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

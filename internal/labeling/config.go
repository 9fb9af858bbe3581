package labeling

import (
	"errors"
	"time"

	"github.com/lookout-labs/lookout-go/internal/platform/env"
)

type EngineConfig struct {
	AttemptTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	PersistTimeout time.Duration
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AttemptTimeout: 20 * time.Second,
		MaxAttempts:    3,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		PersistTimeout: 5 * time.Second,
	}
}

func EngineConfigFromEnv() (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	var err error
	if cfg.AttemptTimeout, err = env.Duration("LOOKOUT_LABEL_ATTEMPT_TIMEOUT", cfg.AttemptTimeout); err != nil {
		return EngineConfig{}, err
	}
	if cfg.MaxAttempts, err = env.Int("LOOKOUT_LABEL_MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return EngineConfig{}, err
	}
	if cfg.BaseBackoff, err = env.Duration("LOOKOUT_LABEL_BASE_BACKOFF", cfg.BaseBackoff); err != nil {
		return EngineConfig{}, err
	}
	if cfg.MaxBackoff, err = env.Duration("LOOKOUT_LABEL_MAX_BACKOFF", cfg.MaxBackoff); err != nil {
		return EngineConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func (c EngineConfig) Validate() error {
	if c.AttemptTimeout <= 0 {
		return errors.New("LOOKOUT_LABEL_ATTEMPT_TIMEOUT must be > 0")
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return errors.New("LOOKOUT_LABEL_MAX_ATTEMPTS must be between 1 and 10")
	}
	if c.BaseBackoff < 0 {
		return errors.New("LOOKOUT_LABEL_BASE_BACKOFF must be >= 0")
	}
	if c.MaxBackoff < c.BaseBackoff {
		return errors.New("LOOKOUT_LABEL_MAX_BACKOFF must be >= LOOKOUT_LABEL_BASE_BACKOFF")
	}
	if c.PersistTimeout <= 0 {
		return errors.New("persist timeout must be > 0")
	}
	return nil
}

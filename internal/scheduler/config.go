package scheduler

import (
	"errors"
	"time"

	"github.com/lookout-labs/lookout-go/internal/platform/env"
)

type Config struct {
	Enabled  bool
	Interval time.Duration
	Workers  int
	// CycleTimeout bounds one webcam's capture and cycle.
	CycleTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	enabled, err := env.Bool("LOOKOUT_SCHEDULER_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	interval, err := env.Duration("LOOKOUT_SCHEDULER_INTERVAL", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	workers, err := env.Int("LOOKOUT_SCHEDULER_WORKERS", 4)
	if err != nil {
		return Config{}, err
	}
	cycleTimeout, err := env.Duration("LOOKOUT_SCHEDULER_CYCLE_TIMEOUT", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Enabled: enabled, Interval: interval, Workers: workers, CycleTimeout: cycleTimeout}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("LOOKOUT_SCHEDULER_INTERVAL must be positive")
	}
	if c.Workers < 1 {
		return errors.New("LOOKOUT_SCHEDULER_WORKERS must be >= 1")
	}
	if c.CycleTimeout <= 0 {
		return errors.New("LOOKOUT_SCHEDULER_CYCLE_TIMEOUT must be positive")
	}
	return nil
}

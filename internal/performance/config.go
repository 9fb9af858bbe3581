package performance

import (
	"errors"
	"fmt"

	"github.com/lookout-labs/lookout-go/internal/platform/env"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

const DefaultDisagreementThreshold = 20.0

type Config struct {
	// DisagreementThreshold is the score delta above which a capture needs review.
	DisagreementThreshold float64
	// PageSize is the number of executions read per query while aggregating.
	PageSize int
}

func ConfigFromEnv() (Config, error) {
	threshold, err := env.Float("LOOKOUT_DISAGREEMENT_THRESHOLD", DefaultDisagreementThreshold)
	if err != nil {
		return Config{}, err
	}
	pageSize, err := env.Int("LOOKOUT_PERFORMANCE_PAGE_SIZE", 5000)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{DisagreementThreshold: threshold, PageSize: pageSize}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DisagreementThreshold < 0 || c.DisagreementThreshold > 100 {
		return errors.New("LOOKOUT_DISAGREEMENT_THRESHOLD must be within [0, 100]")
	}
	if c.PageSize < 1 || c.PageSize > repo.MaxListLimit {
		return fmt.Errorf("LOOKOUT_PERFORMANCE_PAGE_SIZE must be within [1, %d]", repo.MaxListLimit)
	}
	return nil
}

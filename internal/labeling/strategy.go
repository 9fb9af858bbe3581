package labeling

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

// Strategy assesses one image. Implementations must honour ctx and report
// retryability through *StrategyError.
type Strategy interface {
	Assess(ctx context.Context, image domain.Image, camera domain.CameraContext) (domain.Result, error)
}

// StrategyFactory builds a strategy from a labeler's kind and config.
type StrategyFactory interface {
	Build(labeler domain.Labeler) (Strategy, error)
}

const (
	CodeTimeout       = "timeout"
	CodeCanceled      = "canceled"
	CodeNetwork       = "network"
	CodeRateLimited   = "rate_limited"
	CodeUnavailable   = "unavailable"
	CodeAuth          = "auth"
	CodeBadRequest    = "bad_request"
	CodeBadResponse   = "bad_response"
	CodeInvalidConfig = "invalid_config"
	CodeInvalidResult = "invalid_result"
	CodeUnknownKind   = "unknown_kind"
	CodePanic         = "panic"
	CodeUnknown       = "unknown"
)

type StrategyError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *StrategyError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

func Transient(code string, err error) *StrategyError {
	return &StrategyError{Code: code, Retryable: true, Err: err}
}

func Permanent(code string, err error) *StrategyError {
	return &StrategyError{Code: code, Retryable: false, Err: err}
}

var errInvalidResult = errors.New("result out of range")

// ValidateResult enforces score in [0,100], confidence in [0,1] and a
// non-negative cost.
func ValidateResult(r domain.Result) error {
	if math.IsNaN(r.Score) || r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("%w: score %v", errInvalidResult, r.Score)
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v", errInvalidResult, r.Confidence)
	}
	if math.IsNaN(r.CostUnits) || r.CostUnits < 0 {
		return fmt.Errorf("%w: cost_units %v", errInvalidResult, r.CostUnits)
	}
	return nil
}

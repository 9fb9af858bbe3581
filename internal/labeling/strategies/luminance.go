package strategies

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/labeling"
)

const (
	CategoryDark        = "dark"
	CategoryLowContrast = "low_contrast"
	CategoryClear       = "clear"
)

type LuminanceConfig struct {
	DarkThreshold     float64 `json:"dark_threshold"`
	ContrastThreshold float64 `json:"contrast_threshold"`
	SampleStride      int     `json:"sample_stride"`
}

// LuminanceStrategy scores brightness and contrast locally. It costs nothing
// and serves as a baseline for shadow comparisons.
type LuminanceStrategy struct {
	cfg LuminanceConfig
}

func NewLuminanceStrategy(labeler domain.Labeler) (*LuminanceStrategy, error) {
	cfg := LuminanceConfig{DarkThreshold: 0.15, ContrastThreshold: 0.08, SampleStride: 4}
	if err := decodeConfig(labeler.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.DarkThreshold < 0 || cfg.DarkThreshold >= 1 {
		return nil, errors.New("dark_threshold must be in [0,1)")
	}
	if cfg.ContrastThreshold < 0 || cfg.ContrastThreshold >= 1 {
		return nil, errors.New("contrast_threshold must be in [0,1)")
	}
	if cfg.SampleStride <= 0 {
		cfg.SampleStride = 1
	}
	return &LuminanceStrategy{cfg: cfg}, nil
}

func (s *LuminanceStrategy) Assess(ctx context.Context, img domain.Image, camera domain.CameraContext) (domain.Result, error) {
	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return domain.Result{}, labeling.Permanent(labeling.CodeBadRequest, fmt.Errorf("decode image: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}

	brightness, contrast := s.measure(decoded)
	category := CategoryClear
	confidence := 0.6
	switch {
	case brightness < s.cfg.DarkThreshold:
		category = CategoryDark
		confidence = 0.9
	case contrast < s.cfg.ContrastThreshold:
		category = CategoryLowContrast
		confidence = 0.7
	}

	contrastScore := math.Min(contrast/0.25, 1)
	exposureScore := 1 - math.Abs(brightness-0.5)*2
	score := math.Round(100 * (0.6*contrastScore + 0.4*exposureScore))

	return domain.Result{
		Score:      math.Max(0, math.Min(100, score)),
		Category:   category,
		Confidence: confidence,
		Rationale:  fmt.Sprintf("mean luminance %.2f, contrast %.2f", brightness, contrast),
	}, nil
}

// measure returns mean relative luminance and its standard deviation, both in [0,1].
func (s *LuminanceStrategy) measure(img image.Image) (float64, float64) {
	bounds := img.Bounds()
	var sum, sumSq float64
	var n int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += s.cfg.SampleStride {
		for x := bounds.Min.X; x < bounds.Max.X; x += s.cfg.SampleStride {
			r, g, b, _ := img.At(x, y).RGBA()
			l := (0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)) / 0xffff
			sum += l
			sumSq += l * l
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

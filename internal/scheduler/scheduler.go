// Package scheduler runs a full labeling cycle for every active webcam on a
// fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/labeling"
)

// WebcamLister is satisfied by *postgres.WebcamStore.
type WebcamLister interface {
	ListActive(ctx context.Context) ([]domain.Webcam, error)
	Get(ctx context.Context, id string) (domain.Webcam, error)
}

// WebcamRunner is satisfied by *pipeline.Runner.
type WebcamRunner interface {
	RunWebcam(ctx context.Context, webcam domain.Webcam, opts labeling.CycleOptions) (labeling.CycleResult, error)
}

// LatestWriter is satisfied by *ondemand.Cache.
type LatestWriter interface {
	Put(ctx context.Context, a domain.Assessment) error
}

// Report summarises one pass.
type Report struct {
	Webcams        int
	Failed         int
	Labeled        int
	WithPrimary    int
	FailedWebcams  []string
	DurationMillis int64
}

type Scheduler struct {
	cfg     Config
	webcams WebcamLister
	runner  WebcamRunner
	latest  LatestWriter
	logger  *slog.Logger
}

func New(cfg Config, webcams WebcamLister, runner WebcamRunner, latest LatestWriter, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if webcams == nil || runner == nil {
		return nil, errors.New("webcams and runner are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, webcams: webcams, runner: runner, latest: latest, logger: logger}, nil
}

// Start runs the ticker loop in the background until ctx is done. It is a
// no-op when the scheduler is disabled.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("scheduler disabled")
		return
	}
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.cfg.Interval.String(), "workers", s.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, ""); err != nil {
				s.logger.Error("scheduled pass failed", "error", err)
			}
		}
	}
}

// RunOnce runs one pass over every active webcam, or only webcamID when it is
// set. Per-webcam failures are logged and counted, never returned.
func (s *Scheduler) RunOnce(ctx context.Context, webcamID string) (Report, error) {
	start := time.Now()
	webcams, err := s.targets(ctx, webcamID)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report = Report{Webcams: len(webcams)}
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for _, webcam := range webcams {
		g.Go(func() error {
			labeled, primary, err := s.runWebcam(ctx, webcam)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.FailedWebcams = append(report.FailedWebcams, webcam.ID)
				return nil
			}
			if labeled {
				report.Labeled++
			}
			if primary {
				report.WithPrimary++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.DurationMillis = time.Since(start).Milliseconds()
	s.logger.Info("scheduled pass complete",
		"webcams", report.Webcams,
		"labeled", report.Labeled,
		"with_primary", report.WithPrimary,
		"failed", report.Failed,
		"duration_ms", report.DurationMillis,
	)
	return report, ctx.Err()
}

func (s *Scheduler) targets(ctx context.Context, webcamID string) ([]domain.Webcam, error) {
	if webcamID == "" {
		webcams, err := s.webcams.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("list active webcams: %w", err)
		}
		return webcams, nil
	}
	webcam, err := s.webcams.Get(ctx, webcamID)
	if err != nil {
		return nil, fmt.Errorf("load webcam %s: %w", webcamID, err)
	}
	return []domain.Webcam{webcam}, nil
}

func (s *Scheduler) runWebcam(ctx context.Context, webcam domain.Webcam) (labeled, primary bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	result, err := s.runner.RunWebcam(ctx, webcam, labeling.CycleOptions{Scope: labeling.ScopeAll})
	if err != nil && len(result.Executions) == 0 {
		s.logger.Warn("webcam cycle failed", "webcam_id", webcam.ID, "capture_id", result.Capture.ID, "error", err)
		return false, false, err
	}
	if result.Primary == nil {
		s.logger.Info("webcam cycle without primary", "webcam_id", webcam.ID, "capture_id", result.Capture.ID, "executions", len(result.Executions))
		return true, false, nil
	}
	if s.latest != nil {
		a := domain.AssessmentFrom(webcam.ID, result.Capture.CapturedAt, *result.Primary)
		if err := s.latest.Put(ctx, a); err != nil {
			s.logger.Warn("cache write-through failed", "webcam_id", webcam.ID, "error", err)
		}
	}
	return true, true, nil
}

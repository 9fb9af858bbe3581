// Package pipeline ties capture, labeling and the durable store together for
// one webcam at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/labeling"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

var ErrNoPrimary = errors.New("no primary assessment produced")

// Capturer is satisfied by *capture.Capturer.
type Capturer interface {
	Capture(ctx context.Context, webcam domain.Webcam) (domain.CaptureRecord, domain.Image, error)
}

// CycleRunner is satisfied by *labeling.Engine.
type CycleRunner interface {
	RunCycle(ctx context.Context, job labeling.Job, opts labeling.CycleOptions) (labeling.CycleResult, error)
}

type Runner struct {
	webcams  repo.WebcamRepository
	capturer Capturer
	engine   CycleRunner
	logger   *slog.Logger
}

func NewRunner(webcams repo.WebcamRepository, capturer Capturer, engine CycleRunner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{webcams: webcams, capturer: capturer, engine: engine, logger: logger}
}

// RunWebcam captures one frame and labels it. A capture failure ends the
// cycle with no executions.
func (r *Runner) RunWebcam(ctx context.Context, webcam domain.Webcam, opts labeling.CycleOptions) (labeling.CycleResult, error) {
	record, image, err := r.capturer.Capture(ctx, webcam)
	if err != nil {
		return labeling.CycleResult{Capture: record}, err
	}
	return r.engine.RunCycle(ctx, labeling.Job{Webcam: webcam, Capture: record, Image: image}, opts)
}

// Refresh runs a primary-only cycle for webcamID and returns its primary.
func (r *Runner) Refresh(ctx context.Context, webcamID string) (domain.Assessment, error) {
	webcam, err := r.webcams.Get(ctx, webcamID)
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("load webcam %s: %w", webcamID, err)
	}
	result, err := r.RunWebcam(ctx, webcam, labeling.CycleOptions{Scope: labeling.ScopePrimaryOnly, WaitPrimary: true})
	if err != nil && result.Primary == nil {
		return domain.Assessment{}, err
	}
	if result.Primary == nil {
		return domain.Assessment{}, fmt.Errorf("%w: webcam %s capture %s", ErrNoPrimary, webcamID, result.Capture.ID)
	}
	return domain.AssessmentFrom(webcam.ID, result.Capture.CapturedAt, *result.Primary), nil
}

// SnapshotSource is satisfied by *labeling.Registry.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*labeling.Snapshot, error)
}

// Reader derives assessments from stored executions.
type Reader struct {
	executions repo.ExecutionRepository
	registry   SnapshotSource
}

func NewReader(executions repo.ExecutionRepository, registry SnapshotSource) *Reader {
	return &Reader{executions: executions, registry: registry}
}

// latestWalkLimit bounds how many labeled captures Latest inspects before
// giving up.
const latestWalkLimit = 500

// Latest returns the primary assessment of the newest capture that has one,
// or repo.ErrNotFound. Captures whose successes all come from labelers that
// are no longer eligible are skipped.
func (r *Reader) Latest(ctx context.Context, webcamID string) (domain.Assessment, error) {
	snap, err := r.registry.Snapshot(ctx)
	if err != nil {
		return domain.Assessment{}, err
	}
	var cursor repo.CaptureCursor
	for range latestWalkLimit {
		records, err := r.executions.LatestSuccessful(ctx, webcamID, cursor)
		if err != nil {
			return domain.Assessment{}, err
		}
		if len(records) == 0 {
			return domain.Assessment{}, repo.ErrNotFound
		}
		if assessments := primaries(snap, records); len(assessments) > 0 {
			return assessments[0], nil
		}
		cursor = repo.CaptureCursor{CapturedAt: records[0].CapturedAt, CaptureID: records[0].CaptureID}
	}
	return domain.Assessment{}, fmt.Errorf("%w: no eligible primary in the newest %d captures of %s", repo.ErrNotFound, latestWalkLimit, webcamID)
}

// History returns one primary assessment per capture in [from, to), newest first.
func (r *Reader) History(ctx context.Context, webcamID string, from, to time.Time) ([]domain.Assessment, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, fmt.Errorf("from must be before to")
	}
	var records []repo.ExecutionRecord
	filter := repo.ExecutionFilter{
		WebcamID:     webcamID,
		Outcome:      domain.OutcomeSuccess,
		CapturedFrom: from,
		CapturedTo:   to,
	}
	err := repo.WalkExecutions(ctx, r.executions, filter, func(page []repo.ExecutionRecord) error {
		records = append(records, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	snap, err := r.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return primaries(snap, records), nil
}

// primaries groups records by capture and applies primary selection to each.
func primaries(snap *labeling.Snapshot, records []repo.ExecutionRecord) []domain.Assessment {
	type group struct {
		webcamID   string
		capturedAt time.Time
		executions []domain.LabelExecution
	}
	groups := make(map[string]*group)
	for _, rec := range records {
		g, ok := groups[rec.CaptureID]
		if !ok {
			g = &group{webcamID: rec.WebcamID, capturedAt: rec.CapturedAt}
			groups[rec.CaptureID] = g
		}
		g.executions = append(g.executions, rec.LabelExecution)
	}

	out := make([]domain.Assessment, 0, len(groups))
	for _, g := range groups {
		primary := snap.SelectPrimary(g.executions)
		if primary == nil {
			continue
		}
		out = append(out, domain.AssessmentFrom(g.webcamID, g.capturedAt, *primary))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].CaptureID < out[j].CaptureID
	})
	return out
}

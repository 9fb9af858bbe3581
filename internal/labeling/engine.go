package labeling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

var ErrCaptureNotUsable = errors.New("capture not usable for labeling")

// SnapshotSource is satisfied by *Registry.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// ExecutionWriter persists executions idempotently.
type ExecutionWriter interface {
	Insert(ctx context.Context, exec domain.LabelExecution) (domain.LabelExecution, bool, error)
}

type Scope int

const (
	// ScopeAll dispatches every enabled, non-deprecated labeler.
	ScopeAll Scope = iota
	// ScopePrimaryOnly dispatches production labelers, or every dispatchable
	// labeler when none is in production.
	ScopePrimaryOnly
)

func (s Scope) String() string {
	if s == ScopePrimaryOnly {
		return "primary_only"
	}
	return "all"
}

type Job struct {
	Webcam  domain.Webcam
	Capture domain.CaptureRecord
	Image   domain.Image
}

type CycleOptions struct {
	Scope Scope
	// WaitPrimary returns once the primary is known. Remaining non-production
	// labelers finish in the background and are still persisted.
	WaitPrimary bool
}

type CycleResult struct {
	Capture domain.CaptureRecord
	// Executions in completion order.
	Executions []domain.LabelExecution
	Primary    *domain.LabelExecution
	// Pending counts labelers still running when the cycle returned.
	Pending int
}

// Engine runs labeler strategies against captures. It is safe for
// concurrent use.
type Engine struct {
	registry   SnapshotSource
	executions ExecutionWriter
	cfg        EngineConfig
	logger     *slog.Logger

	now    func() time.Time
	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error
	newID  func() string

	background sync.WaitGroup
}

func NewEngine(registry SnapshotSource, executions ExecutionWriter, cfg EngineConfig, logger *slog.Logger) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if executions == nil {
		return nil, errors.New("execution writer is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:   registry,
		executions: executions,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		jitter:     fullJitter,
		sleep:      sleepContext,
		newID:      uuid.NewString,
	}, nil
}

// Wait blocks until labelers left running by WaitPrimary cycles finish.
func (e *Engine) Wait() {
	e.background.Wait()
}

type completion struct {
	exec     domain.LabelExecution
	critical bool
}

func (e *Engine) RunCycle(ctx context.Context, job Job, opts CycleOptions) (CycleResult, error) {
	result := CycleResult{Capture: job.Capture}
	if job.Capture.Status != domain.CaptureStatusSuccess {
		return result, fmt.Errorf("%w: capture %s has status %q", ErrCaptureNotUsable, job.Capture.ID, job.Capture.Status)
	}

	snap, err := e.registry.Snapshot(ctx)
	if err != nil {
		return result, err
	}
	selected, critical := selectScope(snap.SelectForDispatch(), opts.Scope)
	log := e.logger.With("webcam_id", job.Webcam.ID, "capture_id", job.Capture.ID, "scope", opts.Scope.String())
	if len(selected) == 0 {
		log.Warn("no labelers to dispatch")
		return result, nil
	}

	completions := make(chan completion, len(selected))
	criticalTotal := 0
	for _, labeler := range selected {
		isCritical := critical[labeler.Name]
		if isCritical {
			criticalTotal++
		}
		runCtx := ctx
		if opts.WaitPrimary && !isCritical {
			runCtx = context.WithoutCancel(ctx)
		}
		e.background.Add(1)
		go func(labeler domain.Labeler) {
			defer e.background.Done()
			exec := e.execute(runCtx, snap, labeler, job)
			exec = e.persist(ctx, log, exec)
			completions <- completion{exec: exec, critical: isCritical}
		}(labeler)
	}

	criticalDone, criticalSucceeded := 0, false
	var waitErr error
collect:
	for received := 0; received < len(selected); received++ {
		var c completion
		if opts.WaitPrimary {
			select {
			case c = <-completions:
			case <-ctx.Done():
				waitErr = ctx.Err()
				break collect
			}
		} else {
			c = <-completions
		}
		result.Executions = append(result.Executions, c.exec)
		if c.critical {
			criticalDone++
			criticalSucceeded = criticalSucceeded || c.exec.Succeeded()
		}
		if opts.WaitPrimary && criticalDone == criticalTotal && criticalSucceeded {
			break
		}
	}

	result.Pending = len(selected) - len(result.Executions)
	result.Primary = snap.SelectPrimary(result.Executions)
	primary := ""
	if result.Primary != nil {
		primary = result.Primary.LabelerName
	}
	log.Info("label cycle finished", "executions", len(result.Executions), "pending", result.Pending, "primary", primary)
	return result, waitErr
}

// selectScope narrows dispatchable labelers to the scope and marks which of
// them decide the primary.
func selectScope(dispatchable []domain.Labeler, scope Scope) ([]domain.Labeler, map[string]bool) {
	production := make([]domain.Labeler, 0, len(dispatchable))
	for _, l := range dispatchable {
		if l.Mode == domain.LabelerModeProduction {
			production = append(production, l)
		}
	}
	critical := make(map[string]bool, len(dispatchable))
	decisive := production
	if len(production) == 0 {
		decisive = dispatchable
	}
	for _, l := range decisive {
		critical[l.Name] = true
	}
	if scope == ScopePrimaryOnly {
		return decisive, critical
	}
	return dispatchable, critical
}

func (e *Engine) execute(ctx context.Context, snap *Snapshot, labeler domain.Labeler, job Job) domain.LabelExecution {
	start := e.now()
	exec := domain.LabelExecution{
		ID:             e.newID(),
		CaptureID:      job.Capture.ID,
		LabelerName:    labeler.Name,
		LabelerMode:    labeler.Mode,
		LabelerVersion: labeler.Version,
		StartedAt:      start.UTC(),
	}
	finish := func(outcome domain.Outcome, err error) domain.LabelExecution {
		exec.Outcome = outcome
		exec.DurationMs = e.now().Sub(start).Milliseconds()
		if err != nil {
			code, _, _ := classify(err)
			exec.ErrorCode = code
			exec.ErrorMessage = err.Error()
		}
		return exec
	}

	strategy, err := snap.Strategy(labeler.Name)
	if err != nil {
		return finish(domain.OutcomeFailure, err)
	}

	camera := job.Webcam.Context()
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		exec.Attempts = attempt
		res, err := e.attempt(ctx, strategy, job.Image, camera)
		if err == nil {
			if verr := ValidateResult(res); verr != nil {
				err = Permanent(CodeInvalidResult, verr)
			} else {
				exec.Score = res.Score
				exec.Category = res.Category
				exec.Confidence = res.Confidence
				exec.Rationale = res.Rationale
				exec.CostUnits = res.CostUnits
				return finish(domain.OutcomeSuccess, nil)
			}
		}
		lastErr = err
		code, retryable, _ := classify(err)
		e.logger.Debug("label attempt failed",
			"capture_id", job.Capture.ID, "labeler", labeler.Name, "attempt", attempt, "code", code, "retryable", retryable, "error", err.Error())
		if !retryable || attempt == e.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}
		if err := e.sleep(ctx, e.jitter(backoff(e.cfg.BaseBackoff, e.cfg.MaxBackoff, attempt))); err != nil {
			break
		}
	}

	if _, _, timedOut := classify(lastErr); timedOut {
		return finish(domain.OutcomeTimeout, lastErr)
	}
	return finish(domain.OutcomeFailure, lastErr)
}

type attemptResult struct {
	res domain.Result
	err error
}

// attempt runs one strategy call under AttemptTimeout. The deadline holds even
// if the strategy ignores its context; panics become permanent failures.
func (e *Engine) attempt(ctx context.Context, strategy Strategy, image domain.Image, camera domain.CameraContext) (domain.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- attemptResult{err: Permanent(CodePanic, fmt.Errorf("strategy panic: %v", rec))}
			}
		}()
		res, err := strategy.Assess(attemptCtx, image, camera)
		done <- attemptResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && attemptCtx.Err() != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return domain.Result{}, Transient(CodeTimeout, fmt.Errorf("attempt exceeded %s: %w", e.cfg.AttemptTimeout, context.DeadlineExceeded))
		}
		return out.res, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return domain.Result{}, ctx.Err()
		}
		return domain.Result{}, Transient(CodeTimeout, fmt.Errorf("attempt exceeded %s: %w", e.cfg.AttemptTimeout, context.DeadlineExceeded))
	}
}

// persist writes exec on a context detached from the caller. Failures are
// logged and the in-memory execution is kept.
func (e *Engine) persist(ctx context.Context, log *slog.Logger, exec domain.LabelExecution) domain.LabelExecution {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PersistTimeout)
	defer cancel()

	stored, created, err := e.executions.Insert(writeCtx, exec)
	fields := []any{
		"labeler", exec.LabelerName,
		"mode", string(exec.LabelerMode),
		"attempt", exec.Attempts,
		"outcome", string(exec.Outcome),
		"duration_ms", exec.DurationMs,
	}
	switch {
	case err != nil:
		log.Error("label execution not persisted", append(fields, "error", err.Error())...)
		return exec
	case !created:
		log.Info("label execution already recorded", fields...)
		return stored
	default:
		if exec.Outcome == domain.OutcomeSuccess {
			log.Info("label execution", fields...)
		} else {
			log.Warn("label execution", append(fields, "error_code", exec.ErrorCode)...)
		}
		return stored
	}
}

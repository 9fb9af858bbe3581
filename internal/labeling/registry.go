package labeling

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/platform/auditlog"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

var (
	ErrInvalidMode    = errors.New("invalid labeler mode")
	ErrInvalidLabeler = errors.New("invalid labeler")
)

// AuditRecorder is satisfied by auditlog.Recorder.
type AuditRecorder interface {
	Record(ctx context.Context, event auditlog.Event) error
}

// Registry reads and administers labelers. Dispatch always goes through a
// Snapshot so that a cycle never mixes configurations.
type Registry struct {
	labelers repo.LabelerRepository
	factory  StrategyFactory
	audit    AuditRecorder
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	strategies map[string]cachedStrategy
}

type cachedStrategy struct {
	fingerprint string
	strategy    Strategy
}

func NewRegistry(labelers repo.LabelerRepository, factory StrategyFactory, audit AuditRecorder, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		labelers:   labelers,
		factory:    factory,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
		strategies: make(map[string]cachedStrategy),
	}
}

func (r *Registry) Snapshot(ctx context.Context) (*Snapshot, error) {
	labelers, err := r.labelers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot labelers: %w", err)
	}
	return NewSnapshot(labelers, r.strategyFor), nil
}

// List returns labelers, optionally only those in mode.
func (r *Registry) List(ctx context.Context, mode *domain.LabelerMode) ([]domain.Labeler, error) {
	if mode != nil && !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, *mode)
	}
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	all := snap.Labelers()
	if mode == nil {
		return all, nil
	}
	out := make([]domain.Labeler, 0, len(all))
	for _, l := range all {
		if l.Mode == *mode {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *Registry) Get(ctx context.Context, name string) (domain.Labeler, error) {
	return r.labelers.Get(ctx, strings.TrimSpace(name))
}

func (r *Registry) SetMode(ctx context.Context, name string, mode domain.LabelerMode, actor string) (domain.Labeler, error) {
	if !mode.Valid() {
		return domain.Labeler{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	before, err := r.labelers.Get(ctx, name)
	if err != nil {
		return domain.Labeler{}, err
	}
	after, err := r.labelers.SetMode(ctx, name, mode, actor)
	if err != nil {
		return domain.Labeler{}, err
	}
	r.record(ctx, actor, "labeler.mode_changed", after.Name, map[string]any{
		"from": before.Mode,
		"to":   after.Mode,
	})
	return after, nil
}

func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool, actor string) (domain.Labeler, error) {
	before, err := r.labelers.Get(ctx, name)
	if err != nil {
		return domain.Labeler{}, err
	}
	after, err := r.labelers.SetEnabled(ctx, name, enabled, actor)
	if err != nil {
		return domain.Labeler{}, err
	}
	r.record(ctx, actor, "labeler.enabled_changed", after.Name, map[string]any{
		"from": before.Enabled,
		"to":   after.Enabled,
	})
	return after, nil
}

// Register inserts a labeler or updates kind, version and config of an
// existing one. Mode and enabled only apply on insert. The config must build.
func (r *Registry) Register(ctx context.Context, labeler domain.Labeler, actor string) (domain.Labeler, bool, error) {
	labeler.Name = strings.TrimSpace(labeler.Name)
	labeler.Kind = strings.TrimSpace(labeler.Kind)
	if labeler.Name == "" || labeler.Kind == "" {
		return domain.Labeler{}, false, fmt.Errorf("%w: name and kind are required", ErrInvalidLabeler)
	}
	if labeler.Mode == "" {
		labeler.Mode = domain.LabelerModeExperimental
	}
	if !labeler.Mode.Valid() {
		return domain.Labeler{}, false, fmt.Errorf("%w: %q", ErrInvalidMode, labeler.Mode)
	}
	if r.factory != nil {
		if _, err := r.factory.Build(labeler); err != nil {
			return domain.Labeler{}, false, fmt.Errorf("%w: %v", ErrInvalidLabeler, err)
		}
	}
	labeler.UpdatedBy = actor

	stored, created, err := r.labelers.Upsert(ctx, labeler)
	if err != nil {
		return domain.Labeler{}, false, err
	}
	action := "labeler.updated"
	if created {
		action = "labeler.registered"
	}
	r.record(ctx, actor, action, stored.Name, map[string]any{
		"kind":    stored.Kind,
		"version": stored.Version,
		"mode":    stored.Mode,
		"enabled": stored.Enabled,
	})
	return stored, created, nil
}

func (r *Registry) record(ctx context.Context, actor, action, name string, payload map[string]any) {
	r.logger.Info("labeler changed", "labeler", name, "action", action, "actor", actor)
	if r.audit == nil {
		return
	}
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}
	err := r.audit.Record(ctx, auditlog.Event{
		OccurredAt:   r.now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: "labeler",
		ResourceID:   name,
		Payload:      payload,
	})
	if err != nil {
		r.logger.Warn("labeler audit failed", "labeler", name, "action", action, "error", err.Error())
	}
}

// strategyFor builds or reuses the strategy for l. Strategies are rebuilt when
// kind, version or config change.
func (r *Registry) strategyFor(l domain.Labeler) (Strategy, error) {
	if r.factory == nil {
		return nil, Permanent(CodeInvalidConfig, errors.New("no strategy factory configured"))
	}
	fingerprint, err := strategyFingerprint(l)
	if err != nil {
		return nil, Permanent(CodeInvalidConfig, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.strategies[l.Name]; ok && cached.fingerprint == fingerprint {
		return cached.strategy, nil
	}
	strategy, err := r.factory.Build(l)
	if err != nil {
		var se *StrategyError
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, Permanent(CodeInvalidConfig, err)
	}
	r.strategies[l.Name] = cachedStrategy{fingerprint: fingerprint, strategy: strategy}
	return strategy, nil
}

func strategyFingerprint(l domain.Labeler) (string, error) {
	config, err := json.Marshal(l.Config)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	sum := sha256.New()
	sum.Write([]byte(l.Kind))
	sum.Write([]byte{0})
	sum.Write([]byte(l.Version))
	sum.Write([]byte{0})
	sum.Write(config)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

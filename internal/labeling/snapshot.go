package labeling

import (
	"fmt"
	"sort"
	"time"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

// Snapshot is an immutable view of the labeler table taken once per cycle.
type Snapshot struct {
	takenAt  time.Time
	labelers []domain.Labeler
	byName   map[string]domain.Labeler
	resolve  func(domain.Labeler) (Strategy, error)
}

// NewSnapshot copies labelers; resolve may be nil when strategies are not needed.
func NewSnapshot(labelers []domain.Labeler, resolve func(domain.Labeler) (Strategy, error)) *Snapshot {
	sorted := make([]domain.Labeler, 0, len(labelers))
	byName := make(map[string]domain.Labeler, len(labelers))
	for _, l := range labelers {
		l.Config = l.Config.Clone()
		sorted = append(sorted, l)
		byName[l.Name] = l
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Snapshot{
		takenAt:  time.Now().UTC(),
		labelers: sorted,
		byName:   byName,
		resolve:  resolve,
	}
}

func (s *Snapshot) TakenAt() time.Time {
	return s.takenAt
}

func (s *Snapshot) Labelers() []domain.Labeler {
	return append([]domain.Labeler(nil), s.labelers...)
}

func (s *Snapshot) Labeler(name string) (domain.Labeler, bool) {
	l, ok := s.byName[name]
	return l, ok
}

// SelectForDispatch returns enabled, non-deprecated labelers sorted by name.
func (s *Snapshot) SelectForDispatch() []domain.Labeler {
	out := make([]domain.Labeler, 0, len(s.labelers))
	for _, l := range s.labelers {
		if l.Dispatchable() {
			out = append(out, l)
		}
	}
	return out
}

// SelectPrimary picks the representative execution of one capture:
//  1. a successful execution that ran in production mode, earliest first;
//  2. otherwise the earliest successful execution whose labeler is enabled and
//     not deprecated in this snapshot (labelers absent from it stay eligible);
//  3. otherwise nil.
//
// Ties on StartedAt are broken by labeler name so completion order never matters.
func (s *Snapshot) SelectPrimary(executions []domain.LabelExecution) *domain.LabelExecution {
	var production, fallback *domain.LabelExecution
	for i := range executions {
		exec := &executions[i]
		if !exec.Succeeded() {
			continue
		}
		if exec.LabelerMode == domain.LabelerModeProduction {
			if earlier(exec, production) {
				production = exec
			}
			continue
		}
		if l, ok := s.byName[exec.LabelerName]; ok && !l.Dispatchable() {
			continue
		}
		if earlier(exec, fallback) {
			fallback = exec
		}
	}
	chosen := production
	if chosen == nil {
		chosen = fallback
	}
	if chosen == nil {
		return nil
	}
	out := *chosen
	return &out
}

func earlier(candidate, current *domain.LabelExecution) bool {
	if current == nil {
		return true
	}
	if !candidate.StartedAt.Equal(current.StartedAt) {
		return candidate.StartedAt.Before(current.StartedAt)
	}
	return candidate.LabelerName < current.LabelerName
}

// Strategy resolves the strategy for a labeler in this snapshot.
func (s *Snapshot) Strategy(name string) (Strategy, error) {
	l, ok := s.byName[name]
	if !ok {
		return nil, Permanent(CodeInvalidConfig, fmt.Errorf("labeler %q not in snapshot", name))
	}
	if s.resolve == nil {
		return nil, Permanent(CodeInvalidConfig, fmt.Errorf("no strategy resolver for %q", name))
	}
	return s.resolve(l)
}

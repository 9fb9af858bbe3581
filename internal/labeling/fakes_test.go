package labeling

import (
	"context"
	"sort"
	"sync"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/platform/auditlog"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

type fakeLabelerRepo struct {
	mu       sync.Mutex
	labelers map[string]domain.Labeler
	lists    int
}

func newFakeLabelerRepo(labelers ...domain.Labeler) *fakeLabelerRepo {
	r := &fakeLabelerRepo{labelers: make(map[string]domain.Labeler)}
	for _, l := range labelers {
		r.labelers[l.Name] = l
	}
	return r
}

func (r *fakeLabelerRepo) List(ctx context.Context) ([]domain.Labeler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	out := make([]domain.Labeler, 0, len(r.labelers))
	for _, l := range r.labelers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeLabelerRepo) Get(ctx context.Context, name string) (domain.Labeler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.labelers[name]
	if !ok {
		return domain.Labeler{}, repo.ErrNotFound
	}
	return l, nil
}

func (r *fakeLabelerRepo) Upsert(ctx context.Context, labeler domain.Labeler) (domain.Labeler, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.labelers[labeler.Name]
	if ok {
		existing.Kind = labeler.Kind
		existing.Version = labeler.Version
		existing.Config = labeler.Config
		existing.UpdatedBy = labeler.UpdatedBy
		r.labelers[labeler.Name] = existing
		return existing, false, nil
	}
	r.labelers[labeler.Name] = labeler
	return labeler, true, nil
}

func (r *fakeLabelerRepo) SetMode(ctx context.Context, name string, mode domain.LabelerMode, actor string) (domain.Labeler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.labelers[name]
	if !ok {
		return domain.Labeler{}, repo.ErrNotFound
	}
	l.Mode = mode
	l.UpdatedBy = actor
	r.labelers[name] = l
	return l, nil
}

func (r *fakeLabelerRepo) SetEnabled(ctx context.Context, name string, enabled bool, actor string) (domain.Labeler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.labelers[name]
	if !ok {
		return domain.Labeler{}, repo.ErrNotFound
	}
	l.Enabled = enabled
	l.UpdatedBy = actor
	r.labelers[name] = l
	return l, nil
}

type fakeExecutionWriter struct {
	mu      sync.Mutex
	records map[string]domain.LabelExecution
	order   []string
	err     error
}

func newFakeExecutionWriter() *fakeExecutionWriter {
	return &fakeExecutionWriter{records: make(map[string]domain.LabelExecution)}
}

func (w *fakeExecutionWriter) Insert(ctx context.Context, exec domain.LabelExecution) (domain.LabelExecution, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return domain.LabelExecution{}, false, w.err
	}
	key := exec.CaptureID + "/" + exec.LabelerName
	if existing, ok := w.records[key]; ok {
		return existing, false, nil
	}
	w.records[key] = exec
	w.order = append(w.order, exec.LabelerName)
	return exec, true, nil
}

func (w *fakeExecutionWriter) get(captureID, labeler string) (domain.LabelExecution, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	exec, ok := w.records[captureID+"/"+labeler]
	return exec, ok
}

func (w *fakeExecutionWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

type strategyFunc func(ctx context.Context, image domain.Image, camera domain.CameraContext) (domain.Result, error)

func (f strategyFunc) Assess(ctx context.Context, image domain.Image, camera domain.CameraContext) (domain.Result, error) {
	return f(ctx, image, camera)
}

// nameFactory builds strategies by labeler name and counts builds.
type nameFactory struct {
	mu         sync.Mutex
	strategies map[string]Strategy
	builds     int
}

func (f *nameFactory) Build(labeler domain.Labeler) (Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	s, ok := f.strategies[labeler.Name]
	if !ok {
		return nil, Permanent(CodeUnknownKind, nil)
	}
	return s, nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []auditlog.Event
}

func (a *fakeAudit) Record(ctx context.Context, event auditlog.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

package repo

import (
	"context"
	"errors"
	"time"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type CaptureFilter struct {
	WebcamID string
	Status   domain.CaptureStatus
	From     time.Time
	To       time.Time
	Limit    int
}

// ExecutionFilter narrows execution reads. Zero values match everything.
// From/To bound the execution start and CapturedFrom/CapturedTo the capture
// time; both ranges are half open. Rows come ordered by capture time, capture
// ID and labeler name, all descending; After resumes strictly past a row.
type ExecutionFilter struct {
	WebcamID     string
	LabelerName  string
	Outcome      domain.Outcome
	From         time.Time
	To           time.Time
	CapturedFrom time.Time
	CapturedTo   time.Time
	After        ExecutionCursor
	Limit        int
}

// ExecutionCursor is the List ordering key of one row.
type ExecutionCursor struct {
	CapturedAt  time.Time
	CaptureID   string
	LabelerName string
}

func (c ExecutionCursor) IsZero() bool {
	return c.CapturedAt.IsZero()
}

func CursorOf(rec ExecutionRecord) ExecutionCursor {
	return ExecutionCursor{CapturedAt: rec.CapturedAt, CaptureID: rec.CaptureID, LabelerName: rec.LabelerName}
}

// CaptureCursor positions a newest-first walk over captures. The zero value
// starts at the newest capture.
type CaptureCursor struct {
	CapturedAt time.Time
	CaptureID  string
}

func (c CaptureCursor) IsZero() bool {
	return c.CapturedAt.IsZero()
}

// ExecutionRecord is an execution joined with its capture.
type ExecutionRecord struct {
	domain.LabelExecution
	WebcamID   string
	CapturedAt time.Time
}

// WebcamRepository is the inventory view the pipeline reads.
type WebcamRepository interface {
	Upsert(ctx context.Context, webcam domain.Webcam) error
	Get(ctx context.Context, id string) (domain.Webcam, error)
	List(ctx context.Context) ([]domain.Webcam, error)
	ListActive(ctx context.Context) ([]domain.Webcam, error)
}

// CaptureRepository stores immutable capture records.
type CaptureRepository interface {
	Insert(ctx context.Context, record domain.CaptureRecord) error
	Get(ctx context.Context, id string) (domain.CaptureRecord, error)
	List(ctx context.Context, filter CaptureFilter) ([]domain.CaptureRecord, error)
}

// LabelerRepository stores labeler configuration. List is a single statement
// so callers get a consistent view of the whole table.
type LabelerRepository interface {
	List(ctx context.Context) ([]domain.Labeler, error)
	Get(ctx context.Context, name string) (domain.Labeler, error)
	Upsert(ctx context.Context, labeler domain.Labeler) (domain.Labeler, bool, error)
	SetMode(ctx context.Context, name string, mode domain.LabelerMode, actor string) (domain.Labeler, error)
	SetEnabled(ctx context.Context, name string, enabled bool, actor string) (domain.Labeler, error)
}

// ExecutionRepository stores label executions. Insert is idempotent on
// (capture_id, labeler_name): a replay returns the stored row and created=false.
type ExecutionRepository interface {
	Insert(ctx context.Context, exec domain.LabelExecution) (domain.LabelExecution, bool, error)
	ListByCapture(ctx context.Context, captureID string) ([]domain.LabelExecution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, error)
	// LatestSuccessful returns the successful executions of the newest capture
	// of webcamID ordered strictly before the cursor that has at least one, or
	// ErrNotFound.
	LatestSuccessful(ctx context.Context, webcamID string, before CaptureCursor) ([]ExecutionRecord, error)
}

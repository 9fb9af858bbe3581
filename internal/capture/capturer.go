package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/repo"
	"github.com/lookout-labs/lookout-go/internal/storage/objectstore"
)

// CaptureError marks a capture attempt that produced no usable image. The
// failure record has already been written when it is returned.
type CaptureError struct {
	WebcamID  string
	CaptureID string
	Stage     string
	Err       error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s (%s): %s: %v", e.WebcamID, e.CaptureID, e.Stage, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Capturer fetches a frame, stores the blob and records the attempt.
type Capturer struct {
	Source   Source
	Blobs    objectstore.Store
	Captures repo.CaptureRepository
	Logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewCapturer(source Source, blobs objectstore.Store, captures repo.CaptureRepository, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{
		Source:   source,
		Blobs:    blobs,
		Captures: captures,
		Logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (c *Capturer) Capture(ctx context.Context, webcam domain.Webcam) (domain.CaptureRecord, domain.Image, error) {
	if c == nil || c.Source == nil || c.Blobs == nil || c.Captures == nil {
		return domain.CaptureRecord{}, domain.Image{}, errors.New("capturer not initialized")
	}

	record := domain.CaptureRecord{
		ID:         c.newID(),
		WebcamID:   webcam.ID,
		CapturedAt: c.now().UTC(),
		Status:     domain.CaptureStatusSuccess,
	}

	image, err := c.Source.Fetch(ctx, webcam)
	if err != nil {
		return c.fail(ctx, record, "fetch", err)
	}
	if !image.CapturedAt.IsZero() {
		record.CapturedAt = image.CapturedAt.UTC()
	}
	record.ContentType = image.ContentType
	record.SizeBytes = int64(len(image.Data))

	ref, err := c.Blobs.Put(ctx, BlobKey(webcam.ID, record.ID, record.CapturedAt, image.ContentType), image.Data, image.ContentType)
	if err != nil {
		return c.fail(ctx, record, "store", err)
	}
	record.StorageRef = ref
	image.StorageRef = ref
	image.CapturedAt = record.CapturedAt

	if err := c.Captures.Insert(ctx, record); err != nil {
		return domain.CaptureRecord{}, domain.Image{}, &CaptureError{WebcamID: webcam.ID, CaptureID: record.ID, Stage: "persist", Err: err}
	}
	c.Logger.Debug("capture stored", "webcam_id", webcam.ID, "capture_id", record.ID, "size_bytes", record.SizeBytes)
	return record, image, nil
}

func (c *Capturer) fail(ctx context.Context, record domain.CaptureRecord, stage string, cause error) (domain.CaptureRecord, domain.Image, error) {
	record.Status = domain.CaptureStatusFailure
	record.Error = stage + ": " + cause.Error()
	record.ContentType = ""
	record.SizeBytes = 0
	captureErr := &CaptureError{WebcamID: record.WebcamID, CaptureID: record.ID, Stage: stage, Err: cause}

	if err := c.Captures.Insert(context.WithoutCancel(ctx), record); err != nil {
		c.Logger.Warn("capture failure not recorded", "webcam_id", record.WebcamID, "capture_id", record.ID, "error", err.Error())
		return domain.CaptureRecord{}, domain.Image{}, captureErr
	}
	c.Logger.Warn("capture failed", "webcam_id", record.WebcamID, "capture_id", record.ID, "stage", stage, "error", cause.Error())
	return record, domain.Image{}, captureErr
}

// BlobKey lays captures out by webcam and UTC day.
func BlobKey(webcamID, captureID string, capturedAt time.Time, contentType string) string {
	t := capturedAt.UTC()
	return fmt.Sprintf("captures/%s/%04d/%02d/%02d/%s%s",
		strings.TrimSpace(webcamID), t.Year(), int(t.Month()), t.Day(), captureID, extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}

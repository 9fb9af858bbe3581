package capture

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/repo"
	"github.com/lookout-labs/lookout-go/internal/storage/objectstore"
)

type fakeCaptureRepo struct {
	mu      sync.Mutex
	records []domain.CaptureRecord
	err     error
}

func (r *fakeCaptureRepo) Insert(ctx context.Context, record domain.CaptureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, record)
	return nil
}

func (r *fakeCaptureRepo) Get(ctx context.Context, id string) (domain.CaptureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.ID == id {
			return record, nil
		}
	}
	return domain.CaptureRecord{}, repo.ErrNotFound
}

func (r *fakeCaptureRepo) List(ctx context.Context, filter repo.CaptureFilter) ([]domain.CaptureRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CaptureRecord(nil), r.records...), nil
}

type failingStore struct{}

func (failingStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (failingStore) Get(ctx context.Context, ref string) ([]byte, objectstore.ObjectInfo, error) {
	return nil, objectstore.ObjectInfo{}, objectstore.ErrObjectNotFound
}

func newTestCapturer(source Source, blobs objectstore.Store, captures repo.CaptureRepository) *Capturer {
	c := NewCapturer(source, blobs, captures, nil)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) }
	c.newID = func() string { return "cap-1" }
	return c
}

func TestCapture_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	source := NewHTTPSource(time.Second)
	source.Now = func() time.Time { return time.Date(2026, 3, 1, 8, 31, 0, 0, time.UTC) }
	blobs := objectstore.NewMemoryStore("caps")
	captures := &fakeCaptureRepo{}

	record, image, err := newTestCapturer(source, blobs, captures).Capture(context.Background(), domain.Webcam{ID: "summit", SourceURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, domain.CaptureStatusSuccess, record.Status)
	assert.Equal(t, "caps/captures/summit/2026/03/01/cap-1.jpg", record.StorageRef)
	assert.Equal(t, record.StorageRef, image.StorageRef)
	assert.Equal(t, int64(3), record.SizeBytes)
	assert.Equal(t, 1, blobs.Len())
	require.Len(t, captures.records, 1)
	assert.Equal(t, "image/jpeg", captures.records[0].ContentType)
}

func TestCapture_FetchFailureRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	blobs := objectstore.NewMemoryStore("caps")
	captures := &fakeCaptureRepo{}
	record, _, err := newTestCapturer(NewHTTPSource(time.Second), blobs, captures).Capture(context.Background(), domain.Webcam{ID: "summit", SourceURL: srv.URL})

	var captureErr *CaptureError
	require.ErrorAs(t, err, &captureErr)
	assert.Equal(t, "fetch", captureErr.Stage)
	assert.Equal(t, domain.CaptureStatusFailure, record.Status)
	assert.Equal(t, 0, blobs.Len())
	require.Len(t, captures.records, 1)
	assert.Equal(t, domain.CaptureStatusFailure, captures.records[0].Status)
}

func TestCapture_StoreFailure(t *testing.T) {
	source := sourceFunc(func(ctx context.Context, webcam domain.Webcam) (domain.Image, error) {
		return domain.Image{Data: []byte{1}, ContentType: "image/png"}, nil
	})
	captures := &fakeCaptureRepo{}
	_, _, err := newTestCapturer(source, failingStore{}, captures).Capture(context.Background(), domain.Webcam{ID: "harbor"})

	var captureErr *CaptureError
	require.ErrorAs(t, err, &captureErr)
	assert.Equal(t, "store", captureErr.Stage)
	require.Len(t, captures.records, 1)
	assert.Contains(t, captures.records[0].Error, "bucket unavailable")
}

func TestHTTPSource_RejectsOversizedImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	source := NewHTTPSource(time.Second)
	source.MaxBytes = 32
	_, err := source.Fetch(context.Background(), domain.Webcam{ID: "a", SourceURL: srv.URL})
	require.Error(t, err)
}

func TestBlobKey(t *testing.T) {
	at := time.Date(2026, 12, 31, 23, 59, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "captures/summit/2026/12/31/x.png", BlobKey("summit", "x", at, "image/png"))
	assert.Equal(t, "captures/summit/2026/12/31/x.bin", BlobKey("summit", "x", at, "application/octet-stream"))
}

type sourceFunc func(ctx context.Context, webcam domain.Webcam) (domain.Image, error)

func (f sourceFunc) Fetch(ctx context.Context, webcam domain.Webcam) (domain.Image, error) {
	return f(ctx, webcam)
}

package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

var webcamRowColumns = []string{"webcam_id", "name", "latitude", "longitude", "source_url", "active", "created_at", "updated_at"}

func TestWebcamStore_ListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE active = TRUE")).
		WillReturnRows(sqlmock.NewRows(webcamRowColumns).
			AddRow("summit", "Summit", 46.5, 7.9, "http://cams/summit.jpg", true, now, now))

	webcams, err := NewWebcamStore(db).ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive() err=%v", err)
	}
	if len(webcams) != 1 || webcams[0].ID != "summit" || !webcams[0].Active {
		t.Fatalf("unexpected webcams: %+v", webcams)
	}
}

func TestWebcamStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM webcams WHERE webcam_id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(webcamRowColumns))

	if _, err := NewWebcamStore(db).Get(context.Background(), "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestWebcamStore_UpsertDefaultsName(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO webcams")).
		WithArgs("harbor", "harbor", 0.0, 0.0, "http://cams/harbor.jpg", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewWebcamStore(db).Upsert(context.Background(), domain.Webcam{
		ID:        "harbor",
		SourceURL: "http://cams/harbor.jpg",
		Active:    true,
	})
	if err != nil {
		t.Fatalf("Upsert() err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCaptureStore_InsertFailureRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	capturedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO capture_records")).
		WithArgs("cap-1", "summit", capturedAt, nil, nil, int64(0), "failure", "fetch: connection refused").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewCaptureStore(db).Insert(context.Background(), domain.CaptureRecord{
		ID:         "cap-1",
		WebcamID:   "summit",
		CapturedAt: capturedAt,
		Status:     domain.CaptureStatusFailure,
		Error:      "fetch: connection refused",
	})
	if err != nil {
		t.Fatalf("Insert() err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCaptureStore_InsertRejectsUnknownStatus(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	err = NewCaptureStore(db).Insert(context.Background(), domain.CaptureRecord{ID: "c", WebcamID: "w", Status: "partial"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

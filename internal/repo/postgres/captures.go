package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

type CaptureStore struct {
	db DB
}

const (
	captureColumns = `capture_id, webcam_id, captured_at, storage_ref, content_type, size_bytes, status, error_message`

	insertCaptureQuery = `INSERT INTO capture_records (` + captureColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	selectCaptureQuery = `SELECT ` + captureColumns + ` FROM capture_records WHERE capture_id = $1`

	listCapturesQuery = `SELECT ` + captureColumns + `
	 FROM capture_records
	 WHERE ($1 = '' OR webcam_id = $1)
	   AND ($2 = '' OR status = $2)
	   AND ($3::timestamptz IS NULL OR captured_at >= $3)
	   AND ($4::timestamptz IS NULL OR captured_at < $4)
	 ORDER BY captured_at DESC, capture_id ASC
	 LIMIT $5`
)

func NewCaptureStore(db DB) *CaptureStore {
	if db == nil {
		return nil
	}
	return &CaptureStore{db: db}
}

func (s *CaptureStore) Insert(ctx context.Context, record domain.CaptureRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("capture store not initialized")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("capture id is required")
	}
	if strings.TrimSpace(record.WebcamID) == "" {
		return fmt.Errorf("webcam id is required")
	}
	if !record.Status.Valid() {
		return fmt.Errorf("invalid capture status %q", record.Status)
	}

	_, err := s.db.ExecContext(
		ctx,
		insertCaptureQuery,
		strings.TrimSpace(record.ID),
		strings.TrimSpace(record.WebcamID),
		normalizeTime(record.CapturedAt),
		nullIfEmpty(record.StorageRef),
		nullIfEmpty(record.ContentType),
		record.SizeBytes,
		string(record.Status),
		nullIfEmpty(record.Error),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return repo.ErrNotFound
		}
		return fmt.Errorf("insert capture record: %w", err)
	}
	return nil
}

func (s *CaptureStore) Get(ctx context.Context, id string) (domain.CaptureRecord, error) {
	if s == nil || s.db == nil {
		return domain.CaptureRecord{}, fmt.Errorf("capture store not initialized")
	}
	record, err := scanCapture(s.db.QueryRowContext(ctx, selectCaptureQuery, strings.TrimSpace(id)))
	if err != nil {
		return domain.CaptureRecord{}, handleNotFound(err)
	}
	return record, nil
}

func (s *CaptureStore) List(ctx context.Context, filter repo.CaptureFilter) ([]domain.CaptureRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("capture store not initialized")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(
		ctx,
		listCapturesQuery,
		strings.TrimSpace(filter.WebcamID),
		string(filter.Status),
		nullTime(filter.From),
		nullTime(filter.To),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list capture records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CaptureRecord, 0)
	for rows.Next() {
		record, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capture record: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capture records: %w", err)
	}
	return out, nil
}

func scanCapture(row rowScanner) (domain.CaptureRecord, error) {
	var (
		record      domain.CaptureRecord
		storageRef  sql.NullString
		contentType sql.NullString
		status      string
		errMessage  sql.NullString
	)
	if err := row.Scan(
		&record.ID,
		&record.WebcamID,
		&record.CapturedAt,
		&storageRef,
		&contentType,
		&record.SizeBytes,
		&status,
		&errMessage,
	); err != nil {
		return domain.CaptureRecord{}, err
	}
	record.CapturedAt = record.CapturedAt.UTC()
	record.StorageRef = storageRef.String
	record.ContentType = contentType.String
	record.Status = domain.CaptureStatus(status)
	record.Error = errMessage.String
	return record, nil
}

package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

type WebcamStore struct {
	db DB
}

const (
	webcamColumns = `webcam_id, name, latitude, longitude, source_url, active, created_at, updated_at`

	upsertWebcamQuery = `INSERT INTO webcams (` + webcamColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
	ON CONFLICT (webcam_id) DO UPDATE SET
		name = EXCLUDED.name,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		source_url = EXCLUDED.source_url,
		active = EXCLUDED.active,
		updated_at = EXCLUDED.updated_at`

	selectWebcamQuery = `SELECT ` + webcamColumns + ` FROM webcams WHERE webcam_id = $1`

	listWebcamsQuery = `SELECT ` + webcamColumns + ` FROM webcams ORDER BY webcam_id ASC`

	listActiveWebcamsQuery = `SELECT ` + webcamColumns + ` FROM webcams WHERE active = TRUE ORDER BY webcam_id ASC`
)

func NewWebcamStore(db DB) *WebcamStore {
	if db == nil {
		return nil
	}
	return &WebcamStore{db: db}
}

func (s *WebcamStore) Upsert(ctx context.Context, webcam domain.Webcam) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("webcam store not initialized")
	}
	id := strings.TrimSpace(webcam.ID)
	if id == "" {
		return fmt.Errorf("webcam id is required")
	}
	if strings.TrimSpace(webcam.SourceURL) == "" {
		return fmt.Errorf("webcam source url is required")
	}
	name := strings.TrimSpace(webcam.Name)
	if name == "" {
		name = id
	}

	_, err := s.db.ExecContext(
		ctx,
		upsertWebcamQuery,
		id,
		name,
		webcam.Latitude,
		webcam.Longitude,
		strings.TrimSpace(webcam.SourceURL),
		webcam.Active,
		normalizeTime(webcam.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert webcam: %w", err)
	}
	return nil
}

func (s *WebcamStore) Get(ctx context.Context, id string) (domain.Webcam, error) {
	if s == nil || s.db == nil {
		return domain.Webcam{}, fmt.Errorf("webcam store not initialized")
	}
	webcam, err := scanWebcam(s.db.QueryRowContext(ctx, selectWebcamQuery, strings.TrimSpace(id)))
	if err != nil {
		return domain.Webcam{}, handleNotFound(err)
	}
	return webcam, nil
}

func (s *WebcamStore) List(ctx context.Context) ([]domain.Webcam, error) {
	return s.list(ctx, listWebcamsQuery)
}

func (s *WebcamStore) ListActive(ctx context.Context) ([]domain.Webcam, error) {
	return s.list(ctx, listActiveWebcamsQuery)
}

func (s *WebcamStore) list(ctx context.Context, query string) ([]domain.Webcam, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("webcam store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list webcams: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Webcam, 0)
	for rows.Next() {
		webcam, err := scanWebcam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webcam: %w", err)
		}
		out = append(out, webcam)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webcams: %w", err)
	}
	return out, nil
}

func scanWebcam(row rowScanner) (domain.Webcam, error) {
	var w domain.Webcam
	if err := row.Scan(
		&w.ID,
		&w.Name,
		&w.Latitude,
		&w.Longitude,
		&w.SourceURL,
		&w.Active,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		return domain.Webcam{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

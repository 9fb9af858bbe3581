package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

type LabelerStore struct {
	db  DB
	now func() time.Time
}

const (
	labelerColumns = `name, kind, mode, enabled, version, config, updated_at, updated_by`

	// Mode and enabled are only written on insert; updates go through SetMode
	// and SetEnabled.
	upsertLabelerQuery = `INSERT INTO labelers (` + labelerColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (name) DO UPDATE SET
		kind = EXCLUDED.kind,
		version = EXCLUDED.version,
		config = EXCLUDED.config,
		updated_at = EXCLUDED.updated_at,
		updated_by = EXCLUDED.updated_by
	RETURNING ` + labelerColumns + `, (xmax = 0) AS created`

	selectLabelerQuery = `SELECT ` + labelerColumns + ` FROM labelers WHERE name = $1`

	listLabelersQuery = `SELECT ` + labelerColumns + ` FROM labelers ORDER BY name ASC`

	setLabelerModeQuery = `UPDATE labelers
	 SET mode = $2, updated_at = $3, updated_by = $4
	 WHERE name = $1
	 RETURNING ` + labelerColumns

	setLabelerEnabledQuery = `UPDATE labelers
	 SET enabled = $2, updated_at = $3, updated_by = $4
	 WHERE name = $1
	 RETURNING ` + labelerColumns
)

func NewLabelerStore(db DB) *LabelerStore {
	if db == nil {
		return nil
	}
	return &LabelerStore{db: db, now: time.Now}
}

func (s *LabelerStore) List(ctx context.Context) ([]domain.Labeler, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("labeler store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listLabelersQuery)
	if err != nil {
		return nil, fmt.Errorf("list labelers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Labeler, 0)
	for rows.Next() {
		labeler, err := scanLabeler(rows)
		if err != nil {
			return nil, fmt.Errorf("scan labeler: %w", err)
		}
		out = append(out, labeler)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labelers: %w", err)
	}
	return out, nil
}

func (s *LabelerStore) Get(ctx context.Context, name string) (domain.Labeler, error) {
	if s == nil || s.db == nil {
		return domain.Labeler{}, fmt.Errorf("labeler store not initialized")
	}
	labeler, err := scanLabeler(s.db.QueryRowContext(ctx, selectLabelerQuery, strings.TrimSpace(name)))
	if err != nil {
		return domain.Labeler{}, handleNotFound(err)
	}
	return labeler, nil
}

func (s *LabelerStore) Upsert(ctx context.Context, labeler domain.Labeler) (domain.Labeler, bool, error) {
	if s == nil || s.db == nil {
		return domain.Labeler{}, false, fmt.Errorf("labeler store not initialized")
	}
	name := strings.TrimSpace(labeler.Name)
	if name == "" {
		return domain.Labeler{}, false, fmt.Errorf("labeler name is required")
	}
	kind := strings.TrimSpace(labeler.Kind)
	if kind == "" {
		return domain.Labeler{}, false, fmt.Errorf("labeler kind is required")
	}
	mode := labeler.Mode
	if mode == "" {
		mode = domain.LabelerModeExperimental
	}
	if !mode.Valid() {
		return domain.Labeler{}, false, fmt.Errorf("invalid labeler mode %q", labeler.Mode)
	}
	configJSON, err := encodeMetadata(labeler.Config)
	if err != nil {
		return domain.Labeler{}, false, fmt.Errorf("marshal labeler config: %w", err)
	}

	var (
		out     domain.Labeler
		created bool
	)
	row := s.db.QueryRowContext(
		ctx,
		upsertLabelerQuery,
		name,
		kind,
		string(mode),
		labeler.Enabled,
		strings.TrimSpace(labeler.Version),
		configJSON,
		s.now().UTC(),
		strings.TrimSpace(labeler.UpdatedBy),
	)
	out, err = scanLabeler(row, &created)
	if err != nil {
		return domain.Labeler{}, false, fmt.Errorf("upsert labeler: %w", err)
	}
	return out, created, nil
}

func (s *LabelerStore) SetMode(ctx context.Context, name string, mode domain.LabelerMode, actor string) (domain.Labeler, error) {
	if s == nil || s.db == nil {
		return domain.Labeler{}, fmt.Errorf("labeler store not initialized")
	}
	if !mode.Valid() {
		return domain.Labeler{}, fmt.Errorf("invalid labeler mode %q", mode)
	}
	return s.update(ctx, setLabelerModeQuery, name, string(mode), actor)
}

func (s *LabelerStore) SetEnabled(ctx context.Context, name string, enabled bool, actor string) (domain.Labeler, error) {
	if s == nil || s.db == nil {
		return domain.Labeler{}, fmt.Errorf("labeler store not initialized")
	}
	return s.update(ctx, setLabelerEnabledQuery, name, enabled, actor)
}

func (s *LabelerStore) update(ctx context.Context, query, name string, value any, actor string) (domain.Labeler, error) {
	labeler, err := scanLabeler(s.db.QueryRowContext(
		ctx,
		query,
		strings.TrimSpace(name),
		value,
		s.now().UTC(),
		strings.TrimSpace(actor),
	))
	if err != nil {
		return domain.Labeler{}, handleNotFound(err)
	}
	return labeler, nil
}

// scanLabeler reads labelerColumns followed by any extra destinations.
func scanLabeler(row rowScanner, extra ...any) (domain.Labeler, error) {
	var (
		l          domain.Labeler
		mode       string
		configJSON []byte
	)
	dest := []any{
		&l.Name,
		&l.Kind,
		&mode,
		&l.Enabled,
		&l.Version,
		&configJSON,
		&l.UpdatedAt,
		&l.UpdatedBy,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Labeler{}, err
	}
	config, err := decodeMetadata(configJSON)
	if err != nil {
		return domain.Labeler{}, fmt.Errorf("decode labeler config: %w", err)
	}
	l.Mode = domain.LabelerMode(mode)
	l.Config = config
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

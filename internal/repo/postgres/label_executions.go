package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

type LabelExecutionStore struct {
	db DB
}

const (
	executionColumns = `execution_id, capture_id, labeler_name, labeler_mode, labeler_version, started_at, duration_ms, attempts, outcome, score, category, confidence, rationale, cost_units, error_code, error_message`

	executionColumnsQualified = `e.execution_id, e.capture_id, e.labeler_name, e.labeler_mode, e.labeler_version, e.started_at, e.duration_ms, e.attempts, e.outcome, e.score, e.category, e.confidence, e.rationale, e.cost_units, e.error_code, e.error_message`

	insertExecutionQuery = `INSERT INTO label_executions (` + executionColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	ON CONFLICT (capture_id, labeler_name) DO NOTHING
	RETURNING ` + executionColumns

	selectExecutionQuery = `SELECT ` + executionColumns + `
	 FROM label_executions
	 WHERE capture_id = $1 AND labeler_name = $2`

	listExecutionsByCaptureQuery = `SELECT ` + executionColumns + `
	 FROM label_executions
	 WHERE capture_id = $1
	 ORDER BY started_at ASC, labeler_name ASC`

	listExecutionsQuery = `SELECT ` + executionColumnsQualified + `, c.webcam_id, c.captured_at
	 FROM label_executions e
	 JOIN capture_records c ON c.capture_id = e.capture_id
	 WHERE ($1 = '' OR c.webcam_id = $1)
	   AND ($2 = '' OR e.labeler_name = $2)
	   AND ($3 = '' OR e.outcome = $3)
	   AND ($4::timestamptz IS NULL OR e.started_at >= $4)
	   AND ($5::timestamptz IS NULL OR e.started_at < $5)
	   AND ($6::timestamptz IS NULL OR c.captured_at >= $6)
	   AND ($7::timestamptz IS NULL OR c.captured_at < $7)
	   AND ($8::timestamptz IS NULL OR (c.captured_at, e.capture_id, e.labeler_name) < ($8::timestamptz, $9::text, $10::text))
	 ORDER BY c.captured_at DESC, e.capture_id DESC, e.labeler_name DESC
	 LIMIT $11`

	latestSuccessfulQuery = `SELECT ` + executionColumnsQualified + `, c.webcam_id, c.captured_at
	 FROM label_executions e
	 JOIN capture_records c ON c.capture_id = e.capture_id
	 WHERE e.outcome = 'success'
	   AND e.capture_id = (
		SELECT c2.capture_id
		FROM capture_records c2
		JOIN label_executions e2 ON e2.capture_id = c2.capture_id
		WHERE c2.webcam_id = $1 AND e2.outcome = 'success'
		  AND ($2::timestamptz IS NULL OR (c2.captured_at, c2.capture_id) < ($2::timestamptz, $3::text))
		ORDER BY c2.captured_at DESC, c2.capture_id DESC
		LIMIT 1
	   )
	 ORDER BY e.started_at ASC, e.labeler_name ASC`
)

func NewLabelExecutionStore(db DB) *LabelExecutionStore {
	if db == nil {
		return nil
	}
	return &LabelExecutionStore{db: db}
}

// Insert writes exec unless (capture_id, labeler_name) already exists, in
// which case the stored row is returned with created=false.
func (s *LabelExecutionStore) Insert(ctx context.Context, exec domain.LabelExecution) (domain.LabelExecution, bool, error) {
	if s == nil || s.db == nil {
		return domain.LabelExecution{}, false, fmt.Errorf("label execution store not initialized")
	}
	captureID := strings.TrimSpace(exec.CaptureID)
	labelerName := strings.TrimSpace(exec.LabelerName)
	if captureID == "" {
		return domain.LabelExecution{}, false, fmt.Errorf("capture id is required")
	}
	if labelerName == "" {
		return domain.LabelExecution{}, false, fmt.Errorf("labeler name is required")
	}
	if !exec.Outcome.Valid() {
		return domain.LabelExecution{}, false, fmt.Errorf("invalid outcome %q", exec.Outcome)
	}
	if !exec.LabelerMode.Valid() {
		return domain.LabelExecution{}, false, fmt.Errorf("invalid labeler mode %q", exec.LabelerMode)
	}
	if exec.Attempts < 0 {
		return domain.LabelExecution{}, false, fmt.Errorf("attempts must be >= 0")
	}

	id := strings.TrimSpace(exec.ID)
	if id == "" {
		id = uuid.NewString()
	}

	var score, confidence sql.NullFloat64
	var category, rationale sql.NullString
	if exec.Outcome == domain.OutcomeSuccess {
		score = sql.NullFloat64{Float64: exec.Score, Valid: true}
		confidence = sql.NullFloat64{Float64: exec.Confidence, Valid: true}
		category = nullIfEmpty(exec.Category)
		rationale = nullIfEmpty(exec.Rationale)
	}

	inserted, err := scanExecution(s.db.QueryRowContext(
		ctx,
		insertExecutionQuery,
		id,
		captureID,
		labelerName,
		string(exec.LabelerMode),
		strings.TrimSpace(exec.LabelerVersion),
		normalizeTime(exec.StartedAt),
		exec.DurationMs,
		exec.Attempts,
		string(exec.Outcome),
		score,
		category,
		confidence,
		rationale,
		exec.CostUnits,
		nullIfEmpty(exec.ErrorCode),
		nullIfEmpty(exec.ErrorMessage),
	))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.LabelExecution{}, false, fmt.Errorf("insert label execution: %w", err)
		}
		existing, err := scanExecution(s.db.QueryRowContext(ctx, selectExecutionQuery, captureID, labelerName))
		if err != nil {
			return domain.LabelExecution{}, false, handleNotFound(err)
		}
		return existing, false, nil
	}
	return inserted, true, nil
}

func (s *LabelExecutionStore) ListByCapture(ctx context.Context, captureID string) ([]domain.LabelExecution, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("label execution store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listExecutionsByCaptureQuery, strings.TrimSpace(captureID))
	if err != nil {
		return nil, fmt.Errorf("list label executions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.LabelExecution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan label execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate label executions: %w", err)
	}
	return out, nil
}

func (s *LabelExecutionStore) List(ctx context.Context, filter repo.ExecutionFilter) ([]repo.ExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("label execution store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		listExecutionsQuery,
		strings.TrimSpace(filter.WebcamID),
		strings.TrimSpace(filter.LabelerName),
		string(filter.Outcome),
		nullTime(filter.From),
		nullTime(filter.To),
		nullTime(filter.CapturedFrom),
		nullTime(filter.CapturedTo),
		nullTime(filter.After.CapturedAt),
		filter.After.CaptureID,
		filter.After.LabelerName,
		repo.ClampLimit(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list label executions: %w", err)
	}
	return scanExecutionRecords(rows)
}

func (s *LabelExecutionStore) LatestSuccessful(ctx context.Context, webcamID string, before repo.CaptureCursor) ([]repo.ExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("label execution store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, latestSuccessfulQuery, strings.TrimSpace(webcamID), nullTime(before.CapturedAt), before.CaptureID)
	if err != nil {
		return nil, fmt.Errorf("latest successful executions: %w", err)
	}
	out, err := scanExecutionRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, repo.ErrNotFound
	}
	return out, nil
}

func scanExecutionRecords(rows *sql.Rows) ([]repo.ExecutionRecord, error) {
	defer rows.Close()

	out := make([]repo.ExecutionRecord, 0)
	for rows.Next() {
		var record repo.ExecutionRecord
		exec, err := scanExecution(rows, &record.WebcamID, &record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("scan label execution: %w", err)
		}
		record.LabelExecution = exec
		record.CapturedAt = record.CapturedAt.UTC()
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate label executions: %w", err)
	}
	return out, nil
}

// scanExecution reads executionColumns followed by any extra destinations.
func scanExecution(row rowScanner, extra ...any) (domain.LabelExecution, error) {
	var (
		e          domain.LabelExecution
		mode       string
		outcome    string
		score      sql.NullFloat64
		category   sql.NullString
		confidence sql.NullFloat64
		rationale  sql.NullString
		errCode    sql.NullString
		errMessage sql.NullString
	)
	dest := []any{
		&e.ID,
		&e.CaptureID,
		&e.LabelerName,
		&mode,
		&e.LabelerVersion,
		&e.StartedAt,
		&e.DurationMs,
		&e.Attempts,
		&outcome,
		&score,
		&category,
		&confidence,
		&rationale,
		&e.CostUnits,
		&errCode,
		&errMessage,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.LabelExecution{}, err
	}
	e.LabelerMode = domain.LabelerMode(mode)
	e.Outcome = domain.Outcome(outcome)
	e.StartedAt = e.StartedAt.UTC()
	e.Score = score.Float64
	e.Category = category.String
	e.Confidence = confidence.Float64
	e.Rationale = rationale.String
	e.ErrorCode = errCode.String
	e.ErrorMessage = errMessage.String
	return e, nil
}

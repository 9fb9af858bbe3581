package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/labeling"
	"github.com/lookout-labs/lookout-go/internal/ondemand"
	"github.com/lookout-labs/lookout-go/internal/performance"
	"github.com/lookout-labs/lookout-go/internal/platform/auth"
	"github.com/lookout-labs/lookout-go/internal/platform/httpserver"
	"github.com/lookout-labs/lookout-go/internal/repo"
	"github.com/lookout-labs/lookout-go/internal/storage/objectstore"
)

const defaultHistoryWindow = 24 * time.Hour

type latestService interface {
	GetLatest(ctx context.Context, webcamID string, maxAge time.Duration) (domain.Assessment, error)
	GetHistory(ctx context.Context, webcamID string, from, to time.Time) ([]domain.Assessment, error)
	Invalidate(ctx context.Context, webcamID string) error
}

type labelerAdmin interface {
	List(ctx context.Context, mode *domain.LabelerMode) ([]domain.Labeler, error)
	Register(ctx context.Context, labeler domain.Labeler, actor string) (domain.Labeler, bool, error)
	SetMode(ctx context.Context, name string, mode domain.LabelerMode, actor string) (domain.Labeler, error)
	SetEnabled(ctx context.Context, name string, enabled bool, actor string) (domain.Labeler, error)
}

type performanceReader interface {
	Summary(ctx context.Context) ([]performance.LabelerSummary, error)
	Daily(ctx context.Context, from, to time.Time) ([]performance.DailyPerformance, error)
	Comparison(ctx context.Context, from, to time.Time, threshold float64) (performance.ComparisonReport, error)
}

type captureReader interface {
	Get(ctx context.Context, id string) (domain.CaptureRecord, error)
}

type conditionsAPI struct {
	logger      *slog.Logger
	latest      latestService
	labelers    labelerAdmin
	performance performanceReader
	captures    captureReader
	blobs       objectstore.Store
	now         func() time.Time
}

func newConditionsAPI(logger *slog.Logger, latest latestService, labelers labelerAdmin, perf performanceReader, captures captureReader, blobs objectstore.Store) *conditionsAPI {
	return &conditionsAPI{
		logger:      logger,
		latest:      latest,
		labelers:    labelers,
		performance: perf,
		captures:    captures,
		blobs:       blobs,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (api *conditionsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /webcams/{webcam_id}/latest", api.handleLatest)
	mux.HandleFunc("GET /webcams/{webcam_id}/history", api.handleHistory)
	mux.HandleFunc("DELETE /cache/webcams/{webcam_id}", api.handleInvalidate)

	mux.HandleFunc("GET /captures/{capture_id}/image", api.handleCaptureImage)

	mux.HandleFunc("GET /labelers", api.handleListLabelers)
	mux.HandleFunc("PUT /labelers/{name}", api.handleRegisterLabeler)
	mux.HandleFunc("PUT /labelers/{name}/mode", api.handleSetMode)
	mux.HandleFunc("PUT /labelers/{name}/enabled", api.handleSetEnabled)

	mux.HandleFunc("GET /performance/summary", api.handleSummary)
	mux.HandleFunc("GET /performance/daily", api.handleDaily)
	mux.HandleFunc("GET /performance/comparison", api.handleComparison)
}

func (api *conditionsAPI) handleLatest(w http.ResponseWriter, r *http.Request) {
	webcamID := strings.TrimSpace(r.PathValue("webcam_id"))
	var maxAge time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("max_age")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_max_age")
			return
		}
		maxAge = d
	}

	a, err := api.latest.GetLatest(r.Context(), webcamID, maxAge)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	if a.IsStale {
		w.Header().Set("Warning", `110 - "assessment is stale"`)
	}
	httpserver.WriteJSON(w, http.StatusOK, a)
}

func (api *conditionsAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	from, to, ok := api.parseRange(w, r)
	if !ok {
		return
	}
	history, err := api.latest.GetHistory(r.Context(), r.PathValue("webcam_id"), from, to)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	if history == nil {
		history = []domain.Assessment{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"webcam_id":   r.PathValue("webcam_id"),
		"from":        from,
		"to":          to,
		"assessments": history,
	})
}

func (api *conditionsAPI) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := api.latest.Invalidate(r.Context(), r.PathValue("webcam_id")); err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *conditionsAPI) handleCaptureImage(w http.ResponseWriter, r *http.Request) {
	record, err := api.captures.Get(r.Context(), r.PathValue("capture_id"))
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	if record.Status != domain.CaptureStatusSuccess || record.StorageRef == "" {
		api.writeError(w, r, http.StatusNotFound, "image_not_available")
		return
	}
	data, info, err := api.blobs.Get(r.Context(), record.StorageRef)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			api.writeError(w, r, http.StatusNotFound, "image_not_available")
			return
		}
		api.logger.Error("capture image read failed", "capture_id", record.ID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = record.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type labelerView struct {
	Name      string             `json:"name"`
	Kind      string             `json:"kind"`
	Mode      domain.LabelerMode `json:"mode"`
	Enabled   bool               `json:"enabled"`
	Version   string             `json:"version"`
	Config    map[string]any     `json:"config"`
	UpdatedAt time.Time          `json:"updated_at"`
	UpdatedBy string             `json:"updated_by,omitempty"`
}

// newLabelerView hides credentials held in strategy config.
func newLabelerView(l domain.Labeler) labelerView {
	cfg := make(map[string]any, len(l.Config))
	for k, v := range l.Config {
		if isSecretKey(k) {
			cfg[k] = "***"
			continue
		}
		cfg[k] = v
	}
	return labelerView{
		Name:      l.Name,
		Kind:      l.Kind,
		Mode:      l.Mode,
		Enabled:   l.Enabled,
		Version:   l.Version,
		Config:    cfg,
		UpdatedAt: l.UpdatedAt,
		UpdatedBy: l.UpdatedBy,
	}
}

func labelerViews(labelers []domain.Labeler) []labelerView {
	out := make([]labelerView, 0, len(labelers))
	for _, l := range labelers {
		out = append(out, newLabelerView(l))
	}
	return out
}

func isSecretKey(key string) bool {
	key = strings.ToLower(key)
	return key == "api_key" || key == "oauth2" || strings.Contains(key, "secret") || strings.Contains(key, "password")
}

func (api *conditionsAPI) handleListLabelers(w http.ResponseWriter, r *http.Request) {
	var mode *domain.LabelerMode
	if raw := strings.TrimSpace(r.URL.Query().Get("mode")); raw != "" {
		parsed, err := domain.ParseLabelerMode(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_mode")
			return
		}
		mode = &parsed
	}
	labelers, err := api.labelers.List(r.Context(), mode)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"labelers": labelerViews(labelers)})
}

type registerLabelerRequest struct {
	Kind    string         `json:"kind"`
	Version string         `json:"version"`
	Mode    string         `json:"mode,omitempty"`
	Enabled *bool          `json:"enabled,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
}

func (api *conditionsAPI) handleRegisterLabeler(w http.ResponseWriter, r *http.Request) {
	actor, ok := api.actor(w, r)
	if !ok {
		return
	}
	var req registerLabelerRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	labeler := domain.Labeler{
		Name:    r.PathValue("name"),
		Kind:    req.Kind,
		Version: req.Version,
		Enabled: true,
		Config:  domain.Metadata(req.Config),
	}
	if req.Enabled != nil {
		labeler.Enabled = *req.Enabled
	}
	if req.Mode != "" {
		mode, err := domain.ParseLabelerMode(req.Mode)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_mode")
			return
		}
		labeler.Mode = mode
	}

	stored, created, err := api.labelers.Register(r.Context(), labeler, actor)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpserver.WriteJSON(w, status, newLabelerView(stored))
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (api *conditionsAPI) handleSetMode(w http.ResponseWriter, r *http.Request) {
	actor, ok := api.actor(w, r)
	if !ok {
		return
	}
	var req setModeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	mode, err := domain.ParseLabelerMode(req.Mode)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_mode")
		return
	}
	l, err := api.labelers.SetMode(r.Context(), r.PathValue("name"), mode, actor)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, newLabelerView(l))
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (api *conditionsAPI) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	actor, ok := api.actor(w, r)
	if !ok {
		return
	}
	var req setEnabledRequest
	if err := decodeJSON(r, &req); err != nil || req.Enabled == nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	l, err := api.labelers.SetEnabled(r.Context(), r.PathValue("name"), *req.Enabled, actor)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, newLabelerView(l))
}

func (api *conditionsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := api.performance.Summary(r.Context())
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"labelers": summary})
}

func (api *conditionsAPI) handleDaily(w http.ResponseWriter, r *http.Request) {
	from, to, ok := api.parseRange(w, r)
	if !ok {
		return
	}
	daily, err := api.performance.Daily(r.Context(), from, to)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "days": daily})
}

func (api *conditionsAPI) handleComparison(w http.ResponseWriter, r *http.Request) {
	from, to, ok := api.parseRange(w, r)
	if !ok {
		return
	}
	threshold := -1.0
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_threshold")
			return
		}
		threshold = v
	}
	report, err := api.performance.Comparison(r.Context(), from, to, threshold)
	if err != nil {
		api.writeDomainError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, report)
}

// parseRange reads RFC 3339 from/to. Missing bounds default to the trailing
// day ending now.
func (api *conditionsAPI) parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	to := api.now()
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_to")
			return time.Time{}, time.Time{}, false
		}
		to = t.UTC()
	}
	from := to.Add(-defaultHistoryWindow)
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_from")
			return time.Time{}, time.Time{}, false
		}
		from = t.UTC()
	}
	if !from.Before(to) {
		api.writeError(w, r, http.StatusBadRequest, "invalid_range")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (api *conditionsAPI) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return "", false
	}
	return identity.Subject, true
}

func (api *conditionsAPI) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ondemand.ErrNoAssessmentAvailable):
		api.writeError(w, r, http.StatusNotFound, "no_assessment_available")
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, labeling.ErrInvalidMode):
		api.writeError(w, r, http.StatusBadRequest, "invalid_mode")
	case errors.Is(err, labeling.ErrInvalidLabeler):
		api.writeError(w, r, http.StatusBadRequest, "invalid_labeler")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		api.writeError(w, r, http.StatusServiceUnavailable, "timeout")
	default:
		requestID, _ := httpserver.RequestIDFromContext(r.Context())
		api.logger.Error("request failed", "request_id", requestID, "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *conditionsAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteError(w, r, status, code)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

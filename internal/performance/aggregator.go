// Package performance derives read-only statistics from stored label
// executions. Nothing here writes.
package performance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

// ExecutionSource is satisfied by *postgres.LabelExecutionStore. Every
// aggregate pages through the full matching history.
type ExecutionSource = repo.ExecutionLister

// LabelerSource is satisfied by *postgres.LabelerStore.
type LabelerSource interface {
	List(ctx context.Context) ([]domain.Labeler, error)
}

type LabelerSummary struct {
	Labeler       string             `json:"labeler"`
	Mode          domain.LabelerMode `json:"mode"`
	Enabled       bool               `json:"enabled"`
	Executions    int                `json:"executions"`
	Successes     int                `json:"successes"`
	Failures      int                `json:"failures"`
	Timeouts      int                `json:"timeouts"`
	SuccessRate   float64            `json:"success_rate"`
	AvgLatencyMs  float64            `json:"avg_latency_ms"`
	P50LatencyMs  float64            `json:"p50_latency_ms"`
	P95LatencyMs  float64            `json:"p95_latency_ms"`
	AvgConfidence float64            `json:"avg_confidence"`
	TotalCost     float64            `json:"total_cost"`
	Last24h       int                `json:"last_24h"`
}

type DailyPerformance struct {
	Day           string  `json:"day"`
	Labeler       string  `json:"labeler"`
	Executions    int     `json:"executions"`
	Successes     int     `json:"successes"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	AvgConfidence float64 `json:"avg_confidence"`
	TotalCost     float64 `json:"total_cost"`
}

type LabelerScore struct {
	Labeler    string  `json:"labeler"`
	Score      float64 `json:"score"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type CaptureComparison struct {
	CaptureID   string         `json:"capture_id"`
	WebcamID    string         `json:"webcam_id"`
	CapturedAt  time.Time      `json:"captured_at"`
	Scores      []LabelerScore `json:"scores"`
	MaxDelta    float64        `json:"max_delta"`
	NeedsReview bool           `json:"needs_review"`
}

type PairStats struct {
	LabelerA          string  `json:"labeler_a"`
	LabelerB          string  `json:"labeler_b"`
	Captures          int     `json:"captures"`
	MeanAbsDelta      float64 `json:"mean_abs_delta"`
	CategoryAgreement float64 `json:"category_agreement"`
	NeedsReview       int     `json:"needs_review"`
}

type ComparisonReport struct {
	Threshold float64             `json:"threshold"`
	Captures  []CaptureComparison `json:"captures"`
	Pairs     []PairStats         `json:"pairs"`
}

type Aggregator struct {
	executions ExecutionSource
	labelers   LabelerSource
	cfg        Config
	now        func() time.Time
}

func NewAggregator(executions ExecutionSource, labelers LabelerSource, cfg Config) (*Aggregator, error) {
	if executions == nil {
		return nil, errors.New("execution source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		executions: executions,
		labelers:   labelers,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Summary reports every configured labeler plus any labeler that only appears
// in history. Latency and confidence averages cover successful executions.
func (a *Aggregator) Summary(ctx context.Context) ([]LabelerSummary, error) {
	byName := make(map[string]*LabelerSummary)
	if a.labelers != nil {
		labelers, err := a.labelers.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list labelers: %w", err)
		}
		for _, l := range labelers {
			byName[l.Name] = &LabelerSummary{Labeler: l.Name, Mode: l.Mode, Enabled: l.Enabled}
		}
	}

	cutoff := a.now().Add(-24 * time.Hour)
	latencies := make(map[string][]float64)
	confidences := make(map[string][]float64)
	err := repo.WalkExecutions(ctx, a.executions, repo.ExecutionFilter{Limit: a.cfg.PageSize}, func(page []repo.ExecutionRecord) error {
		for _, rec := range page {
			s, ok := byName[rec.LabelerName]
			if !ok {
				s = &LabelerSummary{Labeler: rec.LabelerName, Mode: rec.LabelerMode}
				byName[rec.LabelerName] = s
			}
			s.Executions++
			switch rec.Outcome {
			case domain.OutcomeSuccess:
				s.Successes++
				latencies[rec.LabelerName] = append(latencies[rec.LabelerName], float64(rec.DurationMs))
				confidences[rec.LabelerName] = append(confidences[rec.LabelerName], rec.Confidence)
			case domain.OutcomeTimeout:
				s.Timeouts++
			default:
				s.Failures++
			}
			s.TotalCost += rec.CostUnits
			if !rec.StartedAt.Before(cutoff) {
				s.Last24h++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	out := make([]LabelerSummary, 0, len(byName))
	for name, s := range byName {
		if s.Executions > 0 {
			s.SuccessRate = float64(s.Successes) / float64(s.Executions)
		}
		if lat := latencies[name]; len(lat) > 0 {
			sort.Float64s(lat)
			s.AvgLatencyMs = stat.Mean(lat, nil)
			s.P50LatencyMs = stat.Quantile(0.5, stat.Empirical, lat, nil)
			s.P95LatencyMs = stat.Quantile(0.95, stat.Empirical, lat, nil)
		}
		if conf := confidences[name]; len(conf) > 0 {
			s.AvgConfidence = stat.Mean(conf, nil)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Labeler < out[j].Labeler })
	return out, nil
}

// Daily rolls executions started in [from, to) up per UTC day and labeler.
func (a *Aggregator) Daily(ctx context.Context, from, to time.Time) ([]DailyPerformance, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	type key struct{ day, labeler string }
	type acc struct {
		row         DailyPerformance
		latencies   []float64
		confidences []float64
	}
	buckets := make(map[key]*acc)
	filter := repo.ExecutionFilter{From: from, To: to, Limit: a.cfg.PageSize}
	err := repo.WalkExecutions(ctx, a.executions, filter, func(page []repo.ExecutionRecord) error {
		for _, rec := range page {
			k := key{day: rec.StartedAt.UTC().Format(time.DateOnly), labeler: rec.LabelerName}
			b, ok := buckets[k]
			if !ok {
				b = &acc{row: DailyPerformance{Day: k.day, Labeler: k.labeler}}
				buckets[k] = b
			}
			b.row.Executions++
			b.row.TotalCost += rec.CostUnits
			if rec.Succeeded() {
				b.row.Successes++
				b.latencies = append(b.latencies, float64(rec.DurationMs))
				b.confidences = append(b.confidences, rec.Confidence)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	out := make([]DailyPerformance, 0, len(buckets))
	for _, b := range buckets {
		if len(b.latencies) > 0 {
			b.row.AvgLatencyMs = stat.Mean(b.latencies, nil)
			b.row.AvgConfidence = stat.Mean(b.confidences, nil)
		}
		out = append(out, b.row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Labeler < out[j].Labeler
	})
	return out, nil
}

// Comparison measures pairwise score disagreement on captures taken in
// [from, to) that have at least two successful executions. threshold < 0
// selects the configured default.
func (a *Aggregator) Comparison(ctx context.Context, from, to time.Time, threshold float64) (ComparisonReport, error) {
	if err := checkRange(from, to); err != nil {
		return ComparisonReport{}, err
	}
	if threshold < 0 {
		threshold = a.cfg.DisagreementThreshold
	}
	var records []repo.ExecutionRecord
	filter := repo.ExecutionFilter{
		Outcome:      domain.OutcomeSuccess,
		CapturedFrom: from,
		CapturedTo:   to,
		Limit:        a.cfg.PageSize,
	}
	err := repo.WalkExecutions(ctx, a.executions, filter, func(page []repo.ExecutionRecord) error {
		records = append(records, page...)
		return nil
	})
	if err != nil {
		return ComparisonReport{}, fmt.Errorf("list executions: %w", err)
	}
	return Compare(records, threshold), nil
}

// Compare is the pure part of Comparison.
func Compare(records []repo.ExecutionRecord, threshold float64) ComparisonReport {
	byCapture := make(map[string]*CaptureComparison)
	for _, rec := range records {
		if !rec.Succeeded() {
			continue
		}
		c, ok := byCapture[rec.CaptureID]
		if !ok {
			c = &CaptureComparison{CaptureID: rec.CaptureID, WebcamID: rec.WebcamID, CapturedAt: rec.CapturedAt}
			byCapture[rec.CaptureID] = c
		}
		c.Scores = append(c.Scores, LabelerScore{
			Labeler:    rec.LabelerName,
			Score:      rec.Score,
			Category:   rec.Category,
			Confidence: rec.Confidence,
		})
	}

	type pairKey struct{ a, b string }
	type pairAcc struct {
		deltas      []float64
		agreements  int
		needsReview int
	}
	pairs := make(map[pairKey]*pairAcc)

	report := ComparisonReport{Threshold: threshold, Captures: []CaptureComparison{}, Pairs: []PairStats{}}
	for _, c := range byCapture {
		if len(c.Scores) < 2 {
			continue
		}
		sort.Slice(c.Scores, func(i, j int) bool { return c.Scores[i].Labeler < c.Scores[j].Labeler })
		for i := 0; i < len(c.Scores); i++ {
			for j := i + 1; j < len(c.Scores); j++ {
				delta := math.Abs(c.Scores[i].Score - c.Scores[j].Score)
				if delta > c.MaxDelta {
					c.MaxDelta = delta
				}
				k := pairKey{a: c.Scores[i].Labeler, b: c.Scores[j].Labeler}
				p, ok := pairs[k]
				if !ok {
					p = &pairAcc{}
					pairs[k] = p
				}
				p.deltas = append(p.deltas, delta)
				if c.Scores[i].Category == c.Scores[j].Category {
					p.agreements++
				}
				if delta > threshold {
					p.needsReview++
				}
			}
		}
		c.NeedsReview = c.MaxDelta > threshold
		report.Captures = append(report.Captures, *c)
	}

	for k, p := range pairs {
		report.Pairs = append(report.Pairs, PairStats{
			LabelerA:          k.a,
			LabelerB:          k.b,
			Captures:          len(p.deltas),
			MeanAbsDelta:      stat.Mean(p.deltas, nil),
			CategoryAgreement: float64(p.agreements) / float64(len(p.deltas)),
			NeedsReview:       p.needsReview,
		})
	}

	sort.Slice(report.Captures, func(i, j int) bool {
		if !report.Captures[i].CapturedAt.Equal(report.Captures[j].CapturedAt) {
			return report.Captures[i].CapturedAt.After(report.Captures[j].CapturedAt)
		}
		return report.Captures[i].CaptureID < report.Captures[j].CaptureID
	})
	sort.Slice(report.Pairs, func(i, j int) bool {
		if report.Pairs[i].LabelerA != report.Pairs[j].LabelerA {
			return report.Pairs[i].LabelerA < report.Pairs[j].LabelerA
		}
		return report.Pairs[i].LabelerB < report.Pairs[j].LabelerB
	})
	return report
}

func checkRange(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return errors.New("from must be before to")
	}
	return nil
}

package domain

import "time"

// Result is what a strategy reports for one image.
type Result struct {
	Score      float64 `json:"score"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	CostUnits  float64 `json:"cost_units"`
}

// Assessment is the public view of a primary execution.
type Assessment struct {
	WebcamID   string    `json:"webcam_id"`
	CaptureID  string    `json:"capture_id"`
	Labeler    string    `json:"labeler"`
	Score      float64   `json:"score"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	Timestamp  time.Time `json:"timestamp"`
	IsStale    bool      `json:"is_stale"`
}

// AssessmentFrom projects a successful execution onto its capture.
func AssessmentFrom(webcamID string, capturedAt time.Time, exec LabelExecution) Assessment {
	return Assessment{
		WebcamID:   webcamID,
		CaptureID:  exec.CaptureID,
		Labeler:    exec.LabelerName,
		Score:      exec.Score,
		Category:   exec.Category,
		Confidence: exec.Confidence,
		Rationale:  exec.Rationale,
		Timestamp:  capturedAt.UTC(),
	}
}

// Age is measured from capture time, not from when the entry was cached.
func (a Assessment) Age(now time.Time) time.Duration {
	return now.Sub(a.Timestamp)
}

// CacheEntry is a derived view; the durable store remains the source of truth.
type CacheEntry struct {
	WebcamID   string     `json:"webcam_id"`
	Assessment Assessment `json:"assessment"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

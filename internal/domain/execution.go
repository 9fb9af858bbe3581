package domain

import "time"

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeTimeout:
		return true
	default:
		return false
	}
}

// LabelExecution records one labeler run against one capture. At most one
// exists per (CaptureID, LabelerName).
type LabelExecution struct {
	ID             string
	CaptureID      string
	LabelerName    string
	LabelerMode    LabelerMode
	LabelerVersion string
	StartedAt      time.Time
	DurationMs     int64
	Attempts       int
	Outcome        Outcome
	Score          float64
	Category       string
	Confidence     float64
	Rationale      string
	CostUnits      float64
	ErrorCode      string
	ErrorMessage   string
}

func (e LabelExecution) Succeeded() bool {
	return e.Outcome == OutcomeSuccess
}

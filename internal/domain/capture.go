package domain

import "time"

type CaptureStatus string

const (
	CaptureStatusSuccess CaptureStatus = "success"
	CaptureStatusFailure CaptureStatus = "failure"
)

func (s CaptureStatus) Valid() bool {
	switch s {
	case CaptureStatusSuccess, CaptureStatusFailure:
		return true
	default:
		return false
	}
}

// CaptureRecord is written once per capture attempt and never updated.
type CaptureRecord struct {
	ID          string
	WebcamID    string
	CapturedAt  time.Time
	StorageRef  string
	ContentType string
	SizeBytes   int64
	Status      CaptureStatus
	Error       string
}

// Image is a captured frame as handed to strategies.
type Image struct {
	Data        []byte
	ContentType string
	StorageRef  string
	CapturedAt  time.Time
}

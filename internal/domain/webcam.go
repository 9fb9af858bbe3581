package domain

import "time"

// Webcam is a camera known to the inventory. Only active webcams are scheduled.
type Webcam struct {
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
	SourceURL string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CameraContext is the subset of a webcam handed to labeler strategies.
type CameraContext struct {
	WebcamID  string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (w Webcam) Context() CameraContext {
	return CameraContext{
		WebcamID:  w.ID,
		Name:      w.Name,
		Latitude:  w.Latitude,
		Longitude: w.Longitude,
	}
}

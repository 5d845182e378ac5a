package models

import "time"

// Coordinates is a latitude/longitude pair in degrees.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationSample is a position accepted by the location sampler.
type LocationSample struct {
	Coordinates
	Accuracy     float64   `json:"accuracy"`
	IsMoving     bool      `json:"isMoving"`
	BatteryLevel *int      `json:"batteryLevel,omitempty"`
	CapturedAt   time.Time `json:"capturedAt"`
}

// Payload converts the sample to its queue/dispatch payload.
func (s LocationSample) Payload() TrackLocationPayload {
	return TrackLocationPayload{
		Latitude:     s.Latitude,
		Longitude:    s.Longitude,
		Accuracy:     s.Accuracy,
		IsMoving:     s.IsMoving,
		BatteryLevel: s.BatteryLevel,
	}
}

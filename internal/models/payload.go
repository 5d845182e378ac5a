package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownKind    = errors.New("unknown action kind")
	ErrInvalidPayload = errors.New("invalid action payload")
)

// Payload is the kind-specific body of an action.
type Payload interface {
	Kind() Kind
	Validate() error
}

// TaskLocation is the optional position attached to a task status change.
type TaskLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type UpdateStatusPayload struct {
	TaskID   string        `json:"taskId"`
	Status   string        `json:"status"`
	Notes    string        `json:"notes,omitempty"`
	Location *TaskLocation `json:"location,omitempty"`
}

func (UpdateStatusPayload) Kind() Kind { return KindUpdateStatus }

func (p UpdateStatusPayload) Validate() error {
	if strings.TrimSpace(p.TaskID) == "" {
		return fmt.Errorf("%w: taskId is required", ErrInvalidPayload)
	}
	switch p.Status {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
	default:
		return fmt.Errorf("%w: unsupported status %q", ErrInvalidPayload, p.Status)
	}
	return validateTaskLocation(p.Location)
}

type StartTaskPayload struct {
	TaskID string `json:"taskId"`
}

func (StartTaskPayload) Kind() Kind { return KindStart }

func (p StartTaskPayload) Validate() error {
	if strings.TrimSpace(p.TaskID) == "" {
		return fmt.Errorf("%w: taskId is required", ErrInvalidPayload)
	}
	return nil
}

type CompleteTaskPayload struct {
	TaskID   string        `json:"taskId"`
	Notes    string        `json:"notes,omitempty"`
	Location *TaskLocation `json:"location,omitempty"`
}

func (CompleteTaskPayload) Kind() Kind { return KindComplete }

func (p CompleteTaskPayload) Validate() error {
	if strings.TrimSpace(p.TaskID) == "" {
		return fmt.Errorf("%w: taskId is required", ErrInvalidPayload)
	}
	return validateTaskLocation(p.Location)
}

// TrackLocationPayload is one location sample sent to the backend.
type TrackLocationPayload struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Accuracy     float64 `json:"accuracy"`
	IsMoving     bool    `json:"isMoving"`
	BatteryLevel *int    `json:"batteryLevel,omitempty"`
}

func (TrackLocationPayload) Kind() Kind { return KindTrackLocation }

func (p TrackLocationPayload) Validate() error {
	if err := validateCoordinates(p.Latitude, p.Longitude); err != nil {
		return err
	}
	if p.Accuracy < 0 {
		return fmt.Errorf("%w: negative accuracy", ErrInvalidPayload)
	}
	if p.BatteryLevel != nil && (*p.BatteryLevel < 0 || *p.BatteryLevel > 100) {
		return fmt.Errorf("%w: battery level out of range", ErrInvalidPayload)
	}
	return nil
}

func validateTaskLocation(loc *TaskLocation) error {
	if loc == nil {
		return nil
	}
	return validateCoordinates(loc.Latitude, loc.Longitude)
}

func validateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPayload, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPayload, lng)
	}
	return nil
}

// DecodePayload parses raw into the payload type registered for kind and validates it.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindUpdateStatus:
		var v UpdateStatusPayload
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindStart:
		var v StartTaskPayload
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindComplete:
		var v CompleteTaskPayload
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindTrackLocation:
		var v TrackLocationPayload
		if err := decodeStrict(raw, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodePayload validates p and returns its JSON form.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	if !p.Kind().Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return raw, nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

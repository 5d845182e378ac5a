package models

import (
	"encoding/json"
	"time"
)

// Kind selects the remote operation a queued action replays against.
type Kind string

const (
	KindUpdateStatus  Kind = "update-status"
	KindStart         Kind = "start"
	KindComplete      Kind = "complete"
	KindTrackLocation Kind = "track-location"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{KindUpdateStatus, KindStart, KindComplete, KindTrackLocation}

// Valid reports whether k belongs to the closed set of kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindUpdateStatus, KindStart, KindComplete, KindTrackLocation:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// QueuedAction is a unit of deferred work waiting for connectivity.
type QueuedAction struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
}

// Decode returns the typed payload of the action.
func (a QueuedAction) Decode() (Payload, error) {
	return DecodePayload(a.Kind, a.Payload)
}

// Clone returns a deep copy so callers cannot alias the queue's payload bytes.
func (a QueuedAction) Clone() QueuedAction {
	dup := a
	if a.Payload != nil {
		dup.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	return dup
}

// DeadLetter records an action that was dropped without being replayed.
type DeadLetter struct {
	Action    QueuedAction `json:"action"`
	Reason    string       `json:"reason"`
	LastError string       `json:"lastError,omitempty"`
	DroppedAt time.Time    `json:"droppedAt"`
}

package domain

import (
	"context"
	"errors"

	"fieldsync/internal/models"
)

// ErrQuotaExceeded is returned by KVStorage.Set when the backend is out of space.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// KVStorage is the persisted key-value storage holding the serialized queue.
type KVStorage interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// DeadLetterStore keeps actions that were dropped without a successful replay.
type DeadLetterStore interface {
	Push(ctx context.Context, entry models.DeadLetter) error
	// List returns the newest entries first; limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]models.DeadLetter, error)
}

// ActionQueue is the producer side of the offline queue.
type ActionQueue interface {
	Enqueue(ctx context.Context, p models.Payload) (string, error)
	Len() int
}

// SyncWorker sends actions to the backend, directly or by draining the queue.
type SyncWorker interface {
	Dispatch(ctx context.Context, p models.Payload) error
	Trigger()
}

// NetworkState reports whether the device currently has connectivity.
type NetworkState interface {
	IsOnline() bool
}

package models

import "time"

const (
	// MaxQueueSize caps the number of pending actions kept on the device.
	MaxQueueSize = 500

	// MaxRetries is the number of failed replays after which an action is dropped.
	MaxRetries = 3

	// SyncBatchSize is the number of actions dispatched concurrently per batch.
	SyncBatchSize = 10

	// SyncBatchDelay is the pause between two consecutive batches of a drain.
	SyncBatchDelay = 100 * time.Millisecond

	// QueueStorageKey is the storage key holding the serialized queue.
	QueueStorageKey = "offline_actions_queue"

	// DeadLetterLimit bounds the number of dead letters kept by list-backed stores.
	DeadLetterLimit = 1000
)

const (
	// LocationInterval is the period between two location samples.
	LocationInterval = 5 * time.Minute

	// LocationTimeout bounds a single position acquisition.
	LocationTimeout = 10 * time.Second

	// LocationMaximumAge is how old a cached fix may be and still be accepted.
	LocationMaximumAge = 60 * time.Second

	// MovementThreshold is the per-axis delta in degrees (~10 meters) that counts as movement.
	MovementThreshold = 0.0001
)

const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
)

const (
	DropReasonRetriesExhausted = "retries_exhausted"
	DropReasonPermanent        = "permanent_failure"
	DropReasonEvicted          = "evicted"
)

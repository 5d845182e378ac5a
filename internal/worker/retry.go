package worker

import "fieldsync/internal/models"

// RetryPolicy bounds how many failed replays an action may accumulate.
type RetryPolicy struct {
	MaxRetries int
}

// DefaultRetryPolicy drops an action on its third failed replay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: models.MaxRetries}
}

// Exhausted reports whether a failure on the given attempt (1-based) is final.
func (r RetryPolicy) Exhausted(attempt int) bool {
	limit := r.MaxRetries
	if limit <= 0 {
		limit = models.MaxRetries
	}
	return attempt >= limit
}

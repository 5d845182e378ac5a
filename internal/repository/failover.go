package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStorage writes to primary until it fails, then serves from fallback
// and probes primary again once recoveryInterval has passed.
type FailoverStorage struct {
	primary  domain.KVStorage
	fallback domain.KVStorage
	logger   *zerolog.Logger
	now      func() time.Time

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStorage(primary, fallback domain.KVStorage, logger *zerolog.Logger) *FailoverStorage {
	return &FailoverStorage{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverStorage) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary storage failed, falling back")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

func (r *FailoverStorage) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary storage recovered")
	}
}

// shouldProbe reports whether the primary is down long enough to be retried.
func (r *FailoverStorage) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastCheck) <= recoveryInterval {
		return false
	}
	r.lastCheck = r.now()
	return true
}

func (r *FailoverStorage) usePrimary() bool {
	return !r.isDown.Load() || r.shouldProbe()
}

func (r *FailoverStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if r.usePrimary() {
		val, ok, err := r.primary.Get(ctx, key)
		if err == nil {
			r.markUp()
			return val, ok, nil
		}
		r.markDown(err)
	}

	return r.fallback.Get(ctx, key)
}

// Set treats a quota error from the primary as a real answer rather than an
// outage, so the queue can shrink its snapshot and retry.
func (r *FailoverStorage) Set(ctx context.Context, key, value string) error {
	if r.usePrimary() {
		err := r.primary.Set(ctx, key, value)
		if err == nil || errors.Is(err, domain.ErrQuotaExceeded) {
			if err == nil {
				r.markUp()
			}
			return err
		}
		r.markDown(err)
	}

	return r.fallback.Set(ctx, key, value)
}

func (r *FailoverStorage) Remove(ctx context.Context, key string) error {
	if r.usePrimary() {
		err := r.primary.Remove(ctx, key)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Remove(ctx, key)
}

package service

import (
	"context"

	"fieldsync/internal/domain"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
)

// SubmitResult tells the producer where an action went.
type SubmitResult struct {
	// ID is set only when the action was queued.
	ID     string `json:"id,omitempty"`
	Queued bool   `json:"queued"`
}

// ActionService is the single entry point for producers of actions. Online
// actions go straight to the backend; offline ones wait in the queue.
type ActionService struct {
	queue   domain.ActionQueue
	worker  domain.SyncWorker
	network domain.NetworkState
	logger  *zerolog.Logger
}

func NewActionService(queue domain.ActionQueue, worker domain.SyncWorker, network domain.NetworkState, logger *zerolog.Logger) *ActionService {
	return &ActionService{
		queue:   queue,
		worker:  worker,
		network: network,
		logger:  logger,
	}
}

// Submit validates p and either dispatches it or enqueues it. A failed
// direct dispatch is returned to the caller and nothing is queued.
func (s *ActionService) Submit(ctx context.Context, p models.Payload) (SubmitResult, error) {
	if p == nil || !p.Kind().Valid() {
		return SubmitResult{}, models.ErrUnknownKind
	}
	if err := p.Validate(); err != nil {
		return SubmitResult{}, err
	}

	if !s.network.IsOnline() {
		id, err := s.queue.Enqueue(ctx, p)
		if err != nil {
			return SubmitResult{}, err
		}
		s.logger.Info().Str("kind", p.Kind().String()).Str("action_id", id).Msg("Offline, action queued")
		return SubmitResult{ID: id, Queued: true}, nil
	}

	if err := s.worker.Dispatch(ctx, p); err != nil {
		s.logger.Error().Err(err).Str("kind", p.Kind().String()).Msg("Direct dispatch failed")
		return SubmitResult{}, err
	}

	if s.queue.Len() > 0 {
		s.worker.Trigger()
	}
	return SubmitResult{}, nil
}

// SubmitLocation is Submit for location samples; it records the outcome metric.
func (s *ActionService) SubmitLocation(ctx context.Context, p models.TrackLocationPayload) (SubmitResult, error) {
	res, err := s.Submit(ctx, p)
	switch {
	case err != nil:
		metrics.LocationSample("failed")
	case res.Queued:
		metrics.LocationSample("queued")
	default:
		metrics.LocationSample("dispatched")
	}
	return res, err
}

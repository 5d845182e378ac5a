package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/clock"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Queue is the part of the queue store the engine drains.
type Queue interface {
	List() []models.QueuedAction
	Remove(ctx context.Context, id string)
	IncrementRetry(ctx context.Context, id string)
}

// Connectivity reports the online state and its transitions.
type Connectivity interface {
	IsOnline() bool
	OnTransition(fn func(online bool)) func()
}

type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	Retry      RetryPolicy
	Clock      clock.Clock
	// DeadLetters is optional; without it dropped actions are only logged and counted.
	DeadLetters domain.DeadLetterStore
}

// SyncResult summarizes one call to SyncPendingActions.
type SyncResult struct {
	Snapshot   int    `json:"snapshot"`
	Synced     int    `json:"synced"`
	Retried    int    `json:"retried"`
	Dropped    int    `json:"dropped"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skipReason,omitempty"`
}

const (
	skipBusy    = "busy"
	skipOffline = "offline"
)

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSynced
	outcomeRetried
	outcomeDropped
)

// Engine replays queued actions against the registry. At most one drain
// runs at a time; concurrent triggers return immediately.
type Engine struct {
	queue    Queue
	network  Connectivity
	registry Registry
	opts     Options
	bus      *events.EventBus
	logger   zerolog.Logger

	running atomic.Bool
	syncing *events.Value[bool]

	mu      sync.Mutex
	baseCtx context.Context
	bg      sync.WaitGroup
}

func NewEngine(q Queue, network Connectivity, registry Registry, opts Options, bus *events.EventBus, logger *zerolog.Logger) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = models.SyncBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Engine{
		queue:    q,
		network:  network,
		registry: registry,
		opts:     opts,
		bus:      bus,
		logger:   logger.With().Str("component", "sync").Logger(),
		syncing:  events.NewValue(false),
		baseCtx:  context.Background(),
	}
}

// Syncing is true while a drain is in progress.
func (e *Engine) Syncing() *events.Value[bool] {
	return e.syncing
}

// Start flushes the queue whenever connectivity comes back, and once now if
// already online. The returned function stops listening and waits for
// background drains to finish.
func (e *Engine) Start(ctx context.Context) func() {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	unsubscribe := e.network.OnTransition(func(online bool) {
		if online {
			e.Trigger()
		}
	})

	if e.network.IsOnline() {
		e.Trigger()
	}

	e.logger.Info().Int("batch_size", e.opts.BatchSize).Dur("batch_delay", e.opts.BatchDelay).Msg("Sync engine started")

	return func() {
		unsubscribe()
		e.bg.Wait()
		e.logger.Info().Msg("Sync engine stopped")
	}
}

// Trigger starts a best-effort drain in the background.
func (e *Engine) Trigger() {
	e.mu.Lock()
	ctx := e.baseCtx
	e.mu.Unlock()

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		e.SyncPendingActions(ctx)
	}()
}

// Dispatch sends p straight to its handler without touching the queue.
func (e *Engine) Dispatch(ctx context.Context, p models.Payload) error {
	if err := e.registry.Dispatch(ctx, p); err != nil {
		return err
	}
	metrics.ActionSynced(p.Kind().String(), "direct")
	return nil
}

// SyncPendingActions drains a snapshot of the queue in batches. It does
// nothing while offline or while another drain is running. Actions enqueued
// after the snapshot wait for the next drain.
func (e *Engine) SyncPendingActions(ctx context.Context) SyncResult {
	if !e.network.IsOnline() {
		metrics.SyncSession(skipOffline)
		return SyncResult{Skipped: true, SkipReason: skipOffline}
	}
	if !e.running.CompareAndSwap(false, true) {
		metrics.SyncSession(skipBusy)
		e.logger.Debug().Msg("Sync already in progress")
		return SyncResult{Skipped: true, SkipReason: skipBusy}
	}

	var result SyncResult
	e.syncing.Set(true)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Sync aborted")
		}
		e.syncing.Set(false)
		e.running.Store(false)
	}()

	snapshot := e.queue.List()
	result.Snapshot = len(snapshot)
	if len(snapshot) == 0 {
		metrics.SyncSession("empty")
		return result
	}

	started := e.opts.Clock.Now()
	_ = e.bus.PublishJSON(events.EventSyncStarted, events.SyncEventPayload{Snapshot: len(snapshot)})
	e.logger.Info().Int("pending", len(snapshot)).Msg("Syncing offline actions")

	for start := 0; start < len(snapshot); start += e.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			e.logger.Warn().Err(err).Int("remaining", len(snapshot)-start).Msg("Sync interrupted")
			break
		}

		end := start + e.opts.BatchSize
		if end > len(snapshot) {
			end = len(snapshot)
		}
		e.runBatch(ctx, snapshot[start:end], &result)

		if end < len(snapshot) {
			if err := e.opts.Clock.Sleep(ctx, e.opts.BatchDelay); err != nil {
				e.logger.Warn().Err(err).Int("remaining", len(snapshot)-end).Msg("Sync interrupted")
				break
			}
		}
	}

	elapsed := e.opts.Clock.Now().Sub(started)
	metrics.SyncSession("completed")
	metrics.ObserveSyncDuration(elapsed)
	_ = e.bus.PublishJSON(events.EventSyncCompleted, events.SyncEventPayload{
		Snapshot: result.Snapshot,
		Synced:   result.Synced,
		Retried:  result.Retried,
		Dropped:  result.Dropped,
		Duration: elapsed,
	})
	e.logger.Info().
		Int("synced", result.Synced).
		Int("retried", result.Retried).
		Int("dropped", result.Dropped).
		Dur("duration", elapsed).
		Msg("Sync completed")

	return result
}

// runBatch replays every action of the batch concurrently and waits for all
// of them to settle, whatever their outcome.
func (e *Engine) runBatch(ctx context.Context, batch []models.QueuedAction, result *SyncResult) {
	outcomes := make([]outcome, len(batch))

	var wg conc.WaitGroup
	for i := range batch {
		i := i
		wg.Go(func() {
			outcomes[i] = e.replay(ctx, batch[i])
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		e.logger.Error().Str("panic", recovered.String()).Msg("Action handler panicked")
	}

	for _, o := range outcomes {
		switch o {
		case outcomeSynced:
			result.Synced++
		case outcomeRetried:
			result.Retried++
		case outcomeDropped:
			result.Dropped++
		}
	}
}

func (e *Engine) replay(ctx context.Context, action models.QueuedAction) outcome {
	payload, err := action.Decode()
	if err != nil {
		e.drop(ctx, action, models.DropReasonPermanent, err)
		return outcomeDropped
	}

	if err := e.dispatch(ctx, payload); err != nil {
		if errors.Is(err, models.ErrUnknownKind) || errors.Is(err, models.ErrInvalidPayload) {
			e.drop(ctx, action, models.DropReasonPermanent, err)
			return outcomeDropped
		}
		// Прерванная остановкой отправка не считается попыткой.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			e.logger.Debug().Err(err).Str("action_id", action.ID).Msg("Replay cancelled, action kept")
			return outcomeNone
		}
		return e.retryOrDrop(ctx, action, err)
	}

	e.queue.Remove(ctx, action.ID)
	metrics.ActionSynced(action.Kind.String(), "queue")
	_ = e.bus.PublishJSON(events.EventActionSynced, events.ActionEventPayload{
		ActionID:   action.ID,
		Kind:       action.Kind.String(),
		RetryCount: action.RetryCount,
	})
	e.logger.Debug().Str("action_id", action.ID).Str("kind", action.Kind.String()).Msg("Action synced")
	return outcomeSynced
}

// dispatch runs the handler, turning a panic into an ordinary failed attempt.
func (e *Engine) dispatch(ctx context.Context, payload models.Payload) (err error) {
	if recovered := panics.Try(func() { err = e.registry.Dispatch(ctx, payload) }); recovered != nil {
		e.logger.Error().Str("panic", recovered.String()).Str("kind", payload.Kind().String()).Msg("Action handler panicked")
		return recovered.AsError()
	}
	return err
}

func (e *Engine) retryOrDrop(ctx context.Context, action models.QueuedAction, cause error) outcome {
	attempt := action.RetryCount + 1
	if e.opts.Retry.Exhausted(attempt) {
		e.drop(ctx, action, models.DropReasonRetriesExhausted, cause)
		return outcomeDropped
	}

	e.queue.IncrementRetry(ctx, action.ID)
	metrics.ActionRetried(action.Kind.String())
	e.logger.Warn().
		Err(cause).
		Str("action_id", action.ID).
		Str("kind", action.Kind.String()).
		Int("attempt", attempt).
		Msg("Action replay failed, will retry")
	return outcomeRetried
}

func (e *Engine) drop(ctx context.Context, action models.QueuedAction, reason string, cause error) {
	e.queue.Remove(ctx, action.ID)

	metrics.ActionDropped(action.Kind.String(), reason)
	_ = e.bus.PublishJSON(events.EventActionDropped, events.ActionEventPayload{
		ActionID:   action.ID,
		Kind:       action.Kind.String(),
		RetryCount: action.RetryCount,
		Reason:     reason,
	})
	e.logger.Error().
		Err(cause).
		Str("action_id", action.ID).
		Str("kind", action.Kind.String()).
		Str("reason", reason).
		Msg("Action dropped")

	if e.opts.DeadLetters == nil {
		return
	}
	entry := models.DeadLetter{
		Action:    action,
		Reason:    reason,
		DroppedAt: e.opts.Clock.Now(),
	}
	if cause != nil {
		entry.LastError = cause.Error()
	}
	if err := e.opts.DeadLetters.Push(ctx, entry); err != nil {
		e.logger.Error().Err(err).Str("action_id", action.ID).Msg("Failed to record dead letter")
	}
}

// Package queue implements the durable offline action queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"fieldsync/internal/clock"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a Store. Zero values fall back to package defaults.
type Options struct {
	Key      string
	Capacity int
	Clock    clock.Clock
	NewID    func() string
	// DeadLetters optionally receives actions evicted by capacity or quota pressure.
	DeadLetters domain.DeadLetterStore
}

// Store is an ordered, bounded list of pending actions mirrored into a
// KVStorage under a single key. The in-memory list is loaded once by Open and
// every mutation is written through while holding the store mutex.
type Store struct {
	mu      sync.Mutex
	storage domain.KVStorage
	opts    Options
	actions []models.QueuedAction
	pending *events.Value[int]
	bus     *events.EventBus
	logger  zerolog.Logger
}

// Open loads the persisted queue. Unreadable or corrupt data yields an empty queue.
func Open(ctx context.Context, storage domain.KVStorage, opts Options, bus *events.EventBus, logger *zerolog.Logger) *Store {
	if opts.Key == "" {
		opts.Key = models.QueueStorageKey
	}
	if opts.Capacity <= 0 {
		opts.Capacity = models.MaxQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	s := &Store{
		storage: storage,
		opts:    opts,
		bus:     bus,
		logger:  logger.With().Str("component", "queue").Logger(),
	}
	s.actions = s.load(ctx)
	s.pending = events.NewValue(len(s.actions))
	metrics.SetPending(len(s.actions))

	s.logger.Info().Int("pending", len(s.actions)).Str("key", opts.Key).Msg("Offline queue loaded")
	return s
}

func (s *Store) load(ctx context.Context) []models.QueuedAction {
	raw, ok, err := s.storage.Get(ctx, s.opts.Key)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read queue, starting empty")
		return nil
	}
	if !ok || raw == "" {
		return nil
	}

	var actions []models.QueuedAction
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse queue, starting empty")
		return nil
	}
	if len(actions) > s.opts.Capacity {
		actions = actions[len(actions)-s.opts.Capacity:]
	}
	return actions
}

// Enqueue appends an action built from p and returns its id. When the queue
// is full the oldest entries are evicted first. Only payload validation fails.
func (s *Store) Enqueue(ctx context.Context, p models.Payload) (string, error) {
	raw, err := models.EncodePayload(p)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	action := models.QueuedAction{
		ID:         s.opts.NewID(),
		Kind:       p.Kind(),
		Payload:    raw,
		EnqueuedAt: s.opts.Clock.Now(),
	}

	for len(s.actions) >= s.opts.Capacity {
		oldest := s.actions[0]
		s.actions = s.actions[1:]
		s.drop(ctx, oldest, "queue at capacity")
	}
	s.actions = append(s.actions, action)
	s.persist(ctx)

	metrics.ActionEnqueued(action.Kind.String())
	_ = s.bus.PublishJSON(events.EventActionQueued, events.ActionEventPayload{
		ActionID: action.ID,
		Kind:     action.Kind.String(),
	})
	s.logger.Debug().Str("action_id", action.ID).Str("kind", action.Kind.String()).Msg("Action queued")

	return action.ID, nil
}

// List returns a copy of the queue in insertion order.
func (s *Store) List() []models.QueuedAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.QueuedAction, len(s.actions))
	for i, a := range s.actions {
		out[i] = a.Clone()
	}
	return out
}

// Get returns the action with id if it is still queued.
func (s *Store) Get(id string) (models.QueuedAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		return s.actions[i].Clone(), true
	}
	return models.QueuedAction{}, false
}

// Remove deletes the action with id. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.actions = append(s.actions[:i:i], s.actions[i+1:]...)
	s.persist(ctx)
}

// IncrementRetry bumps the retry count of id; absent ids are ignored.
func (s *Store) IncrementRetry(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.actions[i].RetryCount++
	s.persist(ctx)
}

// Clear empties the queue and deletes its storage key.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions = nil
	if err := s.storage.Remove(ctx, s.opts.Key); err != nil {
		s.logger.Error().Err(err).Msg("Failed to remove queue key")
	}
	s.publishCount()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// PendingCount is the observable number of queued actions. Subscribers are
// notified while the store is locked and must not call back into it.
func (s *Store) PendingCount() *events.Value[int] {
	return s.pending
}

func (s *Store) indexOf(id string) int {
	for i := range s.actions {
		if s.actions[i].ID == id {
			return i
		}
	}
	return -1
}

// persist writes the current list. On a quota error the older half is
// discarded and the write retried once; if the write still fails the
// in-memory list stays authoritative until the next successful write.
func (s *Store) persist(ctx context.Context) {
	defer s.publishCount()

	err := s.write(ctx, s.actions)
	if err == nil {
		return
	}
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		s.logger.Error().Err(err).Int("pending", len(s.actions)).Msg("Failed to persist queue")
		return
	}

	cut := len(s.actions) / 2
	reduced := s.actions[cut:]
	s.logger.Warn().Int("pending", len(s.actions)).Int("kept", len(reduced)).Msg("Storage quota exceeded, dropping older half of queue")

	if err := s.write(ctx, reduced); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist reduced queue")
		return
	}
	for _, a := range s.actions[:cut] {
		s.drop(ctx, a, "storage quota exceeded")
	}
	s.actions = append([]models.QueuedAction(nil), reduced...)
}

func (s *Store) write(ctx context.Context, actions []models.QueuedAction) error {
	if actions == nil {
		actions = []models.QueuedAction{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, s.opts.Key, string(data))
}

func (s *Store) drop(ctx context.Context, a models.QueuedAction, cause string) {
	s.logger.Warn().Str("action_id", a.ID).Str("kind", a.Kind.String()).Str("cause", cause).Msg("Evicting queued action")
	metrics.ActionDropped(a.Kind.String(), models.DropReasonEvicted)
	_ = s.bus.PublishJSON(events.EventActionDropped, events.ActionEventPayload{
		ActionID:   a.ID,
		Kind:       a.Kind.String(),
		RetryCount: a.RetryCount,
		Reason:     models.DropReasonEvicted,
	})

	if s.opts.DeadLetters == nil {
		return
	}
	entry := models.DeadLetter{
		Action:    a.Clone(),
		Reason:    models.DropReasonEvicted,
		LastError: cause,
		DroppedAt: s.opts.Clock.Now(),
	}
	if err := s.opts.DeadLetters.Push(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("action_id", a.ID).Msg("Failed to record dead letter")
	}
}

func (s *Store) publishCount() {
	n := len(s.actions)
	s.pending.Set(n)
	metrics.SetPending(n)
}

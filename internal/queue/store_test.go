package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/clock"
	"fieldsync/internal/domain"
	"fieldsync/internal/events"
	"fieldsync/internal/models"
	"fieldsync/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStorage wraps a MemoryStorage and fails Set with a configurable error.
type flakyStorage struct {
	*repository.MemoryStorage
	mu      sync.Mutex
	failSet func(value string) error
	sets    int
}

func (f *flakyStorage) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	f.sets++
	fail := f.failSet
	f.mu.Unlock()
	if fail != nil {
		if err := fail(value); err != nil {
			return err
		}
	}
	return f.MemoryStorage.Set(ctx, key, value)
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func openStore(t *testing.T, storage domain.KVStorage, opts Options) *Store {
	t.Helper()
	if opts.NewID == nil {
		opts.NewID = sequentialIDs()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	}
	return Open(context.Background(), storage, opts, nil, testLogger())
}

func start(taskID string) models.StartTaskPayload {
	return models.StartTaskPayload{TaskID: taskID}
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	s := openStore(t, repository.NewMemoryStorage(0), Options{Clock: fake})

	id, err := s.Enqueue(ctx, start("t1"))
	require.NoError(t, err)
	assert.Equal(t, "id-001", id)

	items := s.List()
	require.Len(t, items, 1)
	assert.Equal(t, models.KindStart, items[0].Kind)
	assert.Equal(t, 0, items[0].RetryCount)
	assert.True(t, fake.Now().Equal(items[0].EnqueuedAt))
	assert.JSONEq(t, `{"taskId":"t1"}`, string(items[0].Payload))
	assert.Equal(t, 1, s.PendingCount().Get())
}

func TestEnqueueInvalidPayload(t *testing.T) {
	s := openStore(t, repository.NewMemoryStorage(0), Options{})

	_, err := s.Enqueue(context.Background(), models.StartTaskPayload{})
	assert.ErrorIs(t, err, models.ErrInvalidPayload)
	assert.Equal(t, 0, s.Len())
}

func TestCapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	dead := repository.NewMemoryDeadLetters(10)
	s := openStore(t, repository.NewMemoryStorage(0), Options{Capacity: 500, DeadLetters: dead})

	for i := 0; i < 501; i++ {
		_, err := s.Enqueue(ctx, start(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
		require.LessOrEqual(t, s.Len(), 500)
	}

	items := s.List()
	require.Len(t, items, 500)
	assert.Equal(t, "id-002", items[0].ID)
	assert.Equal(t, "id-501", items[499].ID)
	assert.Equal(t, 500, s.PendingCount().Get())

	entries, err := dead.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "id-001", entries[0].Action.ID)
	assert.Equal(t, models.DropReasonEvicted, entries[0].Reason)
}

func TestFIFOOrder(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryStorage(0), Options{})

	for i := 0; i < 5; i++ {
		_, err := s.Enqueue(ctx, start(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
	}

	items := s.List()
	for i, a := range items {
		assert.Equal(t, fmt.Sprintf("id-%03d", i+1), a.ID)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryStorage(0), Options{})

	a, _ := s.Enqueue(ctx, start("a"))
	b, _ := s.Enqueue(ctx, start("b"))

	s.Remove(ctx, a)
	s.Remove(ctx, a)
	s.Remove(ctx, "missing")

	items := s.List()
	require.Len(t, items, 1)
	assert.Equal(t, b, items[0].ID)
	assert.Equal(t, 1, s.PendingCount().Get())
}

func TestIncrementRetry(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryStorage(0), Options{})

	id, _ := s.Enqueue(ctx, start("a"))
	s.IncrementRetry(ctx, id)
	s.IncrementRetry(ctx, id)
	s.IncrementRetry(ctx, "missing")

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, 1, s.Len())
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	storage := repository.NewMemoryStorage(0)
	s := openStore(t, storage, Options{})

	_, _ = s.Enqueue(ctx, start("a"))
	_, _ = s.Enqueue(ctx, start("b"))
	s.Clear(ctx)

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.PendingCount().Get())
	_, ok, _ := storage.Get(ctx, models.QueueStorageKey)
	assert.False(t, ok)
}

func TestSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	storage := repository.NewMemoryStorage(0)
	s := openStore(t, storage, Options{})

	a, _ := s.Enqueue(ctx, start("a"))
	b, _ := s.Enqueue(ctx, models.TrackLocationPayload{Latitude: 52.1, Longitude: 21.0, Accuracy: 5})
	s.IncrementRetry(ctx, a)

	reopened := openStore(t, storage, Options{})
	items := reopened.List()
	require.Len(t, items, 2)
	assert.Equal(t, a, items[0].ID)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, b, items[1].ID)
	assert.Equal(t, models.KindTrackLocation, items[1].Kind)
	assert.Equal(t, 2, reopened.PendingCount().Get())

	p, err := items[1].Decode()
	require.NoError(t, err)
	assert.Equal(t, 52.1, p.(models.TrackLocationPayload).Latitude)
}

func TestCorruptStorageReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	storage := repository.NewMemoryStorage(0)
	require.NoError(t, storage.Set(ctx, models.QueueStorageKey, "{not json"))

	s := openStore(t, storage, Options{})
	assert.Equal(t, 0, s.Len())

	_, err := s.Enqueue(ctx, start("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestQuotaKeepsNewerHalf(t *testing.T) {
	ctx := context.Background()
	storage := &flakyStorage{MemoryStorage: repository.NewMemoryStorage(0)}
	s := openStore(t, storage, Options{})

	for i := 0; i < 6; i++ {
		_, err := s.Enqueue(ctx, start(fmt.Sprintf("t%d", i)))
		require.NoError(t, err)
	}

	// Refuse the full snapshot once; the halved retry is accepted.
	var refused bool
	storage.failSet = func(string) error {
		if !refused {
			refused = true
			return domain.ErrQuotaExceeded
		}
		return nil
	}

	_, err := s.Enqueue(ctx, start("t6"))
	require.NoError(t, err)

	items := s.List()
	require.Len(t, items, 4)
	assert.Equal(t, "id-004", items[0].ID)
	assert.Equal(t, "id-007", items[3].ID)
	assert.Equal(t, 4, s.PendingCount().Get())

	reopened := openStore(t, storage.MemoryStorage, Options{})
	assert.Equal(t, 4, reopened.Len())
}

func TestWriteFailureKeepsMemoryAuthoritative(t *testing.T) {
	ctx := context.Background()
	storage := &flakyStorage{MemoryStorage: repository.NewMemoryStorage(0)}
	s := openStore(t, storage, Options{})

	_, _ = s.Enqueue(ctx, start("a"))

	storage.failSet = func(string) error { return domain.ErrQuotaExceeded }
	_, err := s.Enqueue(ctx, start("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	storage.failSet = func(string) error { return errors.New("disk unplugged") }
	_, err = s.Enqueue(ctx, start("c"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	// Durable state lags until the next successful write.
	assert.Equal(t, 1, openStore(t, storage.MemoryStorage, Options{}).Len())

	storage.failSet = nil
	s.Remove(ctx, "id-001")
	assert.Equal(t, 2, openStore(t, storage.MemoryStorage, Options{}).Len())
}

func TestPendingCountObservable(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, repository.NewMemoryStorage(0), Options{})

	var seen []int
	unsubscribe := s.PendingCount().Subscribe(func(n int) { seen = append(seen, n) })
	defer unsubscribe()

	a, _ := s.Enqueue(ctx, start("a"))
	_, _ = s.Enqueue(ctx, start("b"))
	s.IncrementRetry(ctx, a)
	s.Remove(ctx, a)
	s.Clear(ctx)

	assert.Equal(t, []int{1, 2, 1, 0}, seen)
}

func TestEnqueuePublishesEvent(t *testing.T) {
	ctx := context.Background()
	bus := events.NewEventBus()
	var queued []string
	bus.Subscribe(events.EventActionQueued, func(e *events.Event) error {
		queued = append(queued, string(e.Payload))
		return nil
	})

	s := Open(ctx, repository.NewMemoryStorage(0), Options{NewID: sequentialIDs()}, bus, testLogger())
	_, err := s.Enqueue(ctx, start("a"))
	require.NoError(t, err)

	require.Len(t, queued, 1)
	assert.JSONEq(t, `{"action_id":"id-001","kind":"start","retry_count":0}`, queued[0])
}

func TestConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	s := Open(ctx, repository.NewMemoryStorage(0), Options{Capacity: 50}, nil, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Enqueue(ctx, start(fmt.Sprintf("t%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	assert.Equal(t, 50, s.PendingCount().Get())
}

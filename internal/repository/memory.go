package repository

import (
	"context"
	"sync"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"
)

// MemoryStorage is an in-process KVStorage. A positive quota caps the total
// size of stored values, mimicking the browser storage limit.
type MemoryStorage struct {
	mu         sync.RWMutex
	values     map[string]string
	quotaBytes int
}

func NewMemoryStorage(quotaBytes int) *MemoryStorage {
	return &MemoryStorage{
		values:     make(map[string]string),
		quotaBytes: quotaBytes,
	}
}

func (s *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok, nil
}

func (s *MemoryStorage) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quotaBytes > 0 {
		used := len(value)
		for k, v := range s.values {
			if k != key {
				used += len(v)
			}
		}
		if used > s.quotaBytes {
			return domain.ErrQuotaExceeded
		}
	}

	s.values[key] = value
	return nil
}

func (s *MemoryStorage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// MemoryDeadLetters keeps the most recent dropped actions in memory.
type MemoryDeadLetters struct {
	mu      sync.Mutex
	entries []models.DeadLetter
	limit   int
}

func NewMemoryDeadLetters(limit int) *MemoryDeadLetters {
	if limit <= 0 {
		limit = models.DeadLetterLimit
	}
	return &MemoryDeadLetters{limit: limit}
}

func (d *MemoryDeadLetters) Push(ctx context.Context, entry models.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry.Action = entry.Action.Clone()
	d.entries = append(d.entries, entry)
	if over := len(d.entries) - d.limit; over > 0 {
		d.entries = append([]models.DeadLetter(nil), d.entries[over:]...)
	}
	return nil
}

func (d *MemoryDeadLetters) List(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.DeadLetter, 0, n)
	for i := len(d.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, d.entries[i])
	}
	return out, nil
}

package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"fieldsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetters(t *testing.T) {
	db := setupTestDB(t)
	store := NewDeadLetters(db, 3)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := models.DeadLetter{
			Action: models.QueuedAction{
				ID:         fmt.Sprintf("a%d", i),
				Kind:       models.KindUpdateStatus,
				Payload:    []byte(`{"taskId":"t1","status":"completed"}`),
				EnqueuedAt: base,
				RetryCount: 2,
			},
			Reason:    models.DropReasonRetriesExhausted,
			DroppedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if i == 4 {
			entry.LastError = "backend unavailable"
		}
		require.NoError(t, store.Push(ctx, entry))
	}

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	latest := entries[0]
	assert.Equal(t, "a4", latest.Action.ID)
	assert.Equal(t, models.KindUpdateStatus, latest.Action.Kind)
	assert.JSONEq(t, `{"taskId":"t1","status":"completed"}`, string(latest.Action.Payload))
	assert.Equal(t, 2, latest.Action.RetryCount)
	assert.Equal(t, "backend unavailable", latest.LastError)
	assert.True(t, base.Add(4*time.Minute).Equal(latest.DroppedAt))
	assert.Empty(t, entries[1].LastError)
	assert.Equal(t, "a2", entries[2].Action.ID)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeadLetters_Empty(t *testing.T) {
	store := NewDeadLetters(setupTestDB(t), 0)

	entries, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

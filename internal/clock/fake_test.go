package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func TestFakeSleepReleasedByAdvance(t *testing.T) {
	f := NewFake(epoch)
	done := make(chan error, 1)

	go func() { done <- f.Sleep(context.Background(), 100*time.Millisecond) }()

	f.BlockUntil(1)
	f.Advance(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("sleep returned before its deadline")
	default:
	}

	f.Advance(50 * time.Millisecond)
	require.NoError(t, <-done)
	assert.Equal(t, epoch.Add(100*time.Millisecond), f.Now())
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, f.Sleeps())
	assert.Equal(t, 0, f.Waiters())
}

func TestFakeSleepCancelled(t *testing.T) {
	f := NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- f.Sleep(ctx, time.Hour) }()
	f.BlockUntil(1)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, f.Waiters())
}

func TestFakeTicker(t *testing.T) {
	f := NewFake(epoch)
	ticker := f.NewTicker(time.Minute)
	defer ticker.Stop()

	f.Advance(30 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("tick before period elapsed")
	default:
	}

	f.Advance(30 * time.Second)
	select {
	case now := <-ticker.C():
		assert.Equal(t, epoch.Add(time.Minute), now)
	default:
		t.Fatal("expected a tick")
	}

	f.Advance(time.Minute)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected a second tick")
	}

	ticker.Stop()
	assert.Equal(t, 0, f.Waiters())
}

func TestRealClockSleepHonoursContext(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, c.Sleep(context.Background(), time.Millisecond))
}

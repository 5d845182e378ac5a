package network

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/events"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitor(initial bool, bus *events.EventBus) *Monitor {
	logger := zerolog.New(io.Discard)
	return NewMonitor(initial, bus, &logger)
}

func TestSetOnlineEmitsOncePerChange(t *testing.T) {
	bus := events.NewEventBus()
	var published []string
	for _, typ := range []string{events.EventNetworkOnline, events.EventNetworkOffline} {
		bus.Subscribe(typ, func(e *events.Event) error {
			published = append(published, e.Type)
			return nil
		})
	}

	m := newMonitor(false, bus)
	var transitions []bool
	unsubscribe := m.OnTransition(func(online bool) { transitions = append(transitions, online) })
	defer unsubscribe()

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(true)

	assert.Equal(t, []bool{true, false, true}, transitions)
	assert.Equal(t, []string{events.EventNetworkOnline, events.EventNetworkOffline, events.EventNetworkOnline}, published)
	assert.True(t, m.IsOnline())
	assert.True(t, m.Online().Get())
}

func TestOnTransitionUnsubscribe(t *testing.T) {
	m := newMonitor(true, nil)
	calls := 0
	unsubscribe := m.OnTransition(func(bool) { calls++ })

	m.SetOnline(false)
	unsubscribe()
	m.SetOnline(true)

	assert.Equal(t, 1, calls)
}

func TestWatch(t *testing.T) {
	m := newMonitor(false, nil)
	signals := make(chan bool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var transitions []bool
	m.OnTransition(func(online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.Watch(ctx, signals)
		close(done)
	}()

	signals <- true
	signals <- true
	signals <- false
	close(signals)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after the signal channel closed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, transitions)
	assert.False(t, m.IsOnline())
}

func TestWatchStopsOnCancel(t *testing.T) {
	m := newMonitor(true, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Watch(ctx, make(chan bool))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

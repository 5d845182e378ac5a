// Package network tracks device connectivity.
package network

import (
	"context"

	"fieldsync/internal/events"
	"fieldsync/internal/metrics"

	"github.com/rs/zerolog"
)

// Monitor holds the current online state. The platform pushes changes
// through SetOnline or Watch; there is no polling.
type Monitor struct {
	online *events.Value[bool]
	bus    *events.EventBus
	logger zerolog.Logger
}

func NewMonitor(initial bool, bus *events.EventBus, logger *zerolog.Logger) *Monitor {
	m := &Monitor{
		online: events.NewValue(initial),
		bus:    bus,
		logger: logger.With().Str("component", "network").Logger(),
	}
	metrics.SetOnline(initial)
	return m
}

func (m *Monitor) IsOnline() bool {
	return m.online.Get()
}

// Online is the observable connectivity state.
func (m *Monitor) Online() *events.Value[bool] {
	return m.online
}

// SetOnline records a platform connectivity signal. Repeated signals with the
// same state are ignored, so each real change is reported exactly once.
func (m *Monitor) SetOnline(online bool) {
	if !m.online.Set(online) {
		return
	}

	metrics.SetOnline(online)
	eventType := events.EventNetworkOffline
	if online {
		eventType = events.EventNetworkOnline
	}
	_ = m.bus.PublishJSON(eventType, map[string]bool{"online": online})
	m.logger.Info().Bool("online", online).Msg("Connectivity changed")
}

// OnTransition calls fn after every change of state and returns a function
// that unregisters it.
func (m *Monitor) OnTransition(fn func(online bool)) func() {
	return m.online.Subscribe(fn)
}

// Watch applies signals from the platform until ctx is done or signals closes.
func (m *Monitor) Watch(ctx context.Context, signals <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-signals:
			if !ok {
				return
			}
			m.SetOnline(online)
		}
	}
}

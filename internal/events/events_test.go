package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSON(t *testing.T) {
	bus := NewEventBus()

	var received []*Event
	bus.Subscribe(EventActionQueued, func(e *Event) error {
		received = append(received, e)
		return nil
	})

	require.NoError(t, bus.PublishJSON(EventActionQueued, ActionEventPayload{ActionID: "a1", Kind: "start"}))
	require.NoError(t, bus.PublishJSON(EventActionSynced, ActionEventPayload{ActionID: "a1"}))

	require.Len(t, received, 1)
	assert.Equal(t, EventActionQueued, received[0].Type)
	assert.False(t, received[0].CreatedAt.IsZero())

	var decoded ActionEventPayload
	require.NoError(t, json.Unmarshal(received[0].Payload, &decoded))
	assert.Equal(t, ActionEventPayload{ActionID: "a1", Kind: "start"}, decoded)
}

func TestSubscriptionOrderAndWildcard(t *testing.T) {
	bus := NewEventBus()
	var calls []string

	bus.SubscribeAll(func(e *Event) error { calls = append(calls, "all:"+e.Type); return nil })
	bus.Subscribe("x", func(*Event) error { calls = append(calls, "x1"); return nil })
	bus.Subscribe("x", func(*Event) error { calls = append(calls, "x2"); return nil })

	require.NoError(t, bus.Publish(&Event{Type: "x"}))
	require.NoError(t, bus.Publish(&Event{Type: "y"}))

	assert.Equal(t, []string{"x1", "x2", "all:x", "all:y"}, calls)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var a, b int

	stopA := bus.Subscribe("x", func(*Event) error { a++; return nil })
	stopAll := bus.SubscribeAll(func(*Event) error { b++; return nil })

	require.NoError(t, bus.Publish(&Event{Type: "x"}))
	stopA()
	stopA()
	stopAll()
	require.NoError(t, bus.Publish(&Event{Type: "x"}))

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestPublishJoinsHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	var reached bool

	bus.Subscribe("x", func(*Event) error { return errA })
	bus.Subscribe("x", func(*Event) error { reached = true; return errB })

	err := bus.Publish(&Event{Type: "x"})
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.True(t, reached)
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON("event", map[string]string{"a": "b"}))
}

func TestUnencodablePayload(t *testing.T) {
	bus := NewEventBus()
	assert.Error(t, bus.PublishJSON("event", make(chan int)))
}

func TestRecorder(t *testing.T) {
	bus := NewEventBus()
	rec := NewRecorder(bus, 3)

	assert.Empty(t, rec.Recent(0))

	for i := 1; i <= 5; i++ {
		require.NoError(t, bus.PublishJSON(fmt.Sprintf("e%d", i), i))
	}

	types := func(evs []Event) []string {
		out := make([]string, 0, len(evs))
		for _, e := range evs {
			out = append(out, e.Type)
		}
		return out
	}
	assert.Equal(t, []string{"e5", "e4", "e3"}, types(rec.Recent(0)))
	assert.Equal(t, []string{"e5", "e4"}, types(rec.Recent(2)))
	assert.JSONEq(t, "5", string(rec.Recent(1)[0].Payload))

	rec.Close()
	require.NoError(t, bus.PublishJSON("e6", 6))
	assert.Equal(t, "e5", rec.Recent(1)[0].Type)
}

func TestRecorderPartiallyFilled(t *testing.T) {
	bus := NewEventBus()
	rec := NewRecorder(bus, 10)

	require.NoError(t, bus.PublishJSON("a", nil))
	require.NoError(t, bus.PublishJSON("b", nil))

	recent := rec.Recent(5)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Type)
	assert.Equal(t, "a", recent[1].Type)
}

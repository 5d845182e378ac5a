package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	EventNetworkOnline  = "network_online"
	EventNetworkOffline = "network_offline"
	EventActionQueued   = "action_queued"
	EventActionSynced   = "action_synced"
	EventActionDropped  = "action_dropped"
	EventSyncStarted    = "sync_started"
	EventSyncCompleted  = "sync_completed"
	EventLocationSample = "location_sampled"
)

// ActionEventPayload describes a queue action for event consumers.
type ActionEventPayload struct {
	ActionID   string `json:"action_id"`
	Kind       string `json:"kind"`
	RetryCount int    `json:"retry_count"`
	Reason     string `json:"reason,omitempty"`
}

// SyncEventPayload summarizes a drain.
type SyncEventPayload struct {
	Snapshot int           `json:"snapshot"`
	Synced   int           `json:"synced"`
	Retried  int           `json:"retried"`
	Dropped  int           `json:"dropped"`
	Duration time.Duration `json:"duration"`
}

// Event is one published occurrence. Payload holds the JSON-encoded details.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EventHandler reacts to an event. Returned errors are collected by Publish.
type EventHandler func(event *Event) error

type subscription struct {
	id      int
	handler EventHandler
}

// EventBus is a synchronous in-process pub/sub. Handlers for a type run in
// subscription order, then wildcard handlers.
type EventBus struct {
	mu     sync.RWMutex
	byType map[string][]subscription
	all    []subscription
	nextID int
}

func NewEventBus() *EventBus {
	return &EventBus{byType: make(map[string][]subscription)}
}

// Subscribe registers handler for eventType and returns a function removing it.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{id: b.nextID, handler: handler}
	b.nextID++
	b.byType[eventType] = append(b.byType[eventType], sub)

	return b.unsubscriber(func() {
		b.byType[eventType] = without(b.byType[eventType], sub.id)
	})
}

// SubscribeAll registers handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{id: b.nextID, handler: handler}
	b.nextID++
	b.all = append(b.all, sub)

	return b.unsubscriber(func() {
		b.all = without(b.all, sub.id)
	})
}

func (b *EventBus) unsubscriber(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			remove()
		})
	}
}

func without(subs []subscription, id int) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers event to its subscribers and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	if b == nil {
		return nil
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.byType[event.Type])+len(b.all))
	subs = append(subs, b.byType[event.Type]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON encodes payload and publishes it. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.Publish(&Event{Type: eventType, Payload: raw})
}

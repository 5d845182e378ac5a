package events

import "sync"

// Value is an observable piece of state with a set/read/subscribe contract.
// Subscribers are called synchronously, in registration order, only when the
// value actually changes. A subscriber must not call Set on the same Value.
type Value[T comparable] struct {
	setMu sync.Mutex // serializes Set so notifications keep the order of changes

	mu     sync.RWMutex
	value  T
	subs   map[int]func(T)
	order  []int
	nextID int
}

// NewValue returns a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{value: initial, subs: make(map[int]func(T))}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set stores next and reports whether it differed from the previous value.
func (v *Value[T]) Set(next T) bool {
	v.setMu.Lock()
	defer v.setMu.Unlock()

	v.mu.Lock()
	if v.value == next {
		v.mu.Unlock()
		return false
	}
	v.value = next
	handlers := make([]func(T), 0, len(v.order))
	for _, id := range v.order {
		handlers = append(handlers, v.subs[id])
	}
	v.mu.Unlock()

	for _, h := range handlers {
		h(next)
	}
	return true
}

// Subscribe registers fn for future changes and returns a function removing it.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.order = append(v.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			for i, existing := range v.order {
				if existing == id {
					v.order = append(v.order[:i], v.order[i+1:]...)
					break
				}
			}
		})
	}
}

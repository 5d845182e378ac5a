package events

import "sync"

// Recorder keeps the most recent events published on a bus so that clients
// polling the control API can catch up on what happened.
type Recorder struct {
	mu     sync.Mutex
	buf    []Event
	next   int
	full   bool
	cancel func()
}

// NewRecorder subscribes to every event on bus and keeps the last limit of them.
func NewRecorder(bus *EventBus, limit int) *Recorder {
	if limit <= 0 {
		limit = 100
	}
	r := &Recorder{buf: make([]Event, limit)}
	r.cancel = bus.SubscribeAll(r.record)
	return r
}

func (r *Recorder) record(e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = *e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Recent returns up to limit events, newest first; limit <= 0 returns all kept.
func (r *Recorder) Recent(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Close stops recording.
func (r *Recorder) Close() {
	r.cancel()
}

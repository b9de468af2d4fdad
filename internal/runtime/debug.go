package runtime

import "time"

// DebugEvent is one entry in an instance's diagnostic ring buffer.
type DebugEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
}

// debugRing is a fixed-capacity circular buffer of debug events. Inserts are
// O(1) regardless of event volume; reads return newest-first.
type debugRing struct {
	events []DebugEvent
	next   int
	filled bool
}

func newDebugRing(capacity int) *debugRing {
	return &debugRing{events: make([]DebugEvent, capacity)}
}

func (r *debugRing) record(e DebugEvent) {
	r.events[r.next] = e
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.filled = true
	}
}

func (r *debugRing) len() int {
	if r.filled {
		return len(r.events)
	}
	return r.next
}

// snapshot returns up to limit events, newest first. limit <= 0 means all.
func (r *debugRing) snapshot(limit int) []DebugEvent {
	n := r.len()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]DebugEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := r.next - i
		if idx < 0 {
			idx += len(r.events)
		}
		out = append(out, r.events[idx])
	}
	return out
}

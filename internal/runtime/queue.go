package runtime

import (
	"signalmesh/internal/domain"
)

// queueEntry pairs a directive with the signal that triggered it.
type queueEntry struct {
	sig       domain.Signal
	directive domain.Directive
}

// directiveQueue is a bounded FIFO of (signal, directive) pairs. Insertion
// order is execution order. Overflow is always reported, never silent.
//
// Implemented as a slice with a head index; the backing array is compacted
// when the dead prefix dominates, keeping enqueue/dequeue amortized O(1).
type directiveQueue struct {
	entries []queueEntry
	head    int
	max     int
}

func newDirectiveQueue(max int) *directiveQueue {
	return &directiveQueue{max: max}
}

// Len returns the number of queued entries. O(1).
func (q *directiveQueue) Len() int { return len(q.entries) - q.head }

// Empty reports whether the queue holds no entries. O(1).
func (q *directiveQueue) Empty() bool { return q.Len() == 0 }

// Enqueue appends one entry, failing with ErrQueueOverflow at capacity.
func (q *directiveQueue) Enqueue(sig domain.Signal, d domain.Directive) error {
	if q.Len() >= q.max {
		return domain.ErrQueueOverflow
	}
	q.entries = append(q.entries, queueEntry{sig: sig, directive: d})
	return nil
}

// EnqueueAll appends directives in order, aborting on the first overflow.
// Entries appended before the overflow remain queued.
func (q *directiveQueue) EnqueueAll(sig domain.Signal, ds []domain.Directive) error {
	for _, d := range ds {
		if err := q.Enqueue(sig, d); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue removes and returns the oldest entry. The second return is false
// when the queue is empty.
func (q *directiveQueue) Dequeue() (queueEntry, bool) {
	if q.Empty() {
		return queueEntry{}, false
	}
	e := q.entries[q.head]
	q.entries[q.head] = queueEntry{} // release references
	q.head++
	if q.head > len(q.entries)/2 && q.head > 32 {
		q.entries = append(q.entries[:0], q.entries[q.head:]...)
		q.head = 0
	}
	return e, true
}

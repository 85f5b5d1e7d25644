package gateway

import (
	"context"
	"sync"
	"time"
)

// queueEntry wraps an admitted request while it waits for dispatch.
type queueEntry struct {
	req      *Request
	ticket   *Ticket
	ctx      context.Context // client context, for disconnect detection
	sink     Sink
	enqueued time.Time
}

// requestQueue is a strict-FIFO queue. Requests are released in submission
// order, never reordered. A cancelled entry is left in place and skipped over
// at dequeue time, preserving positional stability for concurrent enqueuers.
type requestQueue struct {
	mu      sync.Mutex
	entries []*queueEntry
	notify  chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{notify: make(chan struct{}, 1)}
}

func (q *requestQueue) enqueue(e *queueEntry) {
	q.mu.Lock()
	e.enqueued = time.Now()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
	q.wake()
}

// dequeue returns the oldest live entry, or nil if the queue holds none.
// Entries whose request already left the Queued state are inert and skipped.
// It never blocks.
func (q *requestQueue) dequeue() *queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.entries) > 0 {
		e := q.entries[0]
		q.entries = q.entries[1:]
		if e.req.State() != ReqQueued {
			continue
		}
		return e
	}
	return nil
}

// depth counts entries still eligible for dispatch.
func (q *requestQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.req.State() == ReqQueued {
			n++
		}
	}
	return n
}

// wake nudges the dispatcher; a pending signal is enough.
func (q *requestQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

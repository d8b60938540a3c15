package server

import (
	"context"
	"sync"

	"github.com/roach88/unisync/internal/protocol"
	"github.com/roach88/unisync/internal/session"
)

// Pending is one table patch waiting for fan-out. Origin is the id of the
// session whose request cycle wrote the table, empty for writes made outside
// a cycle.
type Pending struct {
	Table  string
	Origin string
	Patch  protocol.Patch
}

// Queue collects the patches of shared tables emitted during a request cycle.
// It is the deltalist.Sink of the table registry; the server drains it after
// every cycle.
//
// The queue is unbounded: one cycle may touch many rows.
type Queue struct {
	mu      sync.Mutex
	patches []Pending
	closed  bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{patches: make([]Pending, 0, 16)}
}

// Publish implements deltalist.Sink. The origin is taken from the session
// carried by ctx. Patches published after Close are dropped.
func (q *Queue) Publish(ctx context.Context, tableID string, p protocol.Patch) {
	pending := Pending{Table: tableID, Patch: p}
	if sess, ok := session.FromContext(ctx); ok {
		pending.Origin = sess.ID()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.patches = append(q.patches, pending)
}

// Drain removes and returns every queued patch in publish order.
func (q *Queue) Drain() []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.patches) == 0 {
		return nil
	}
	out := q.patches
	// Start a fresh backing array so drained patches are not retained.
	q.patches = make([]Pending, 0, cap(out))
	return out
}

// Len returns the number of queued patches.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.patches)
}

// Close stops accepting patches.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.patches = nil
}

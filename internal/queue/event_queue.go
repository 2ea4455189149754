package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/your-org/facewatch/internal/models"
)

// putTimeout is the bounded wait before an EventQueue producer gives up and
// drops, per the spec's "block with 500ms timeout, then drop" policy.
const putTimeout = 500 * time.Millisecond

// EventQueue holds Events awaiting association by the TrackManager.
// Producer policy: block up to 500ms for room, then drop and count it — a
// single aggregated warning is logged per 100 drops by the caller (the
// Detector), not by this type.
type EventQueue struct {
	q       *ringQueue[*models.Event]
	dropped atomic.Int64
}

// NewEventQueue returns an EventQueue with the given capacity.
func NewEventQueue(capacity int) *EventQueue {
	return &EventQueue{q: newRingQueue[*models.Event](capacity)}
}

// Put attempts to enqueue event, waiting up to 500ms for room. Returns
// false if the wait timed out or the queue is closed, in which case the
// caller drops the Event.
func (e *EventQueue) Put(ctx context.Context, event *models.Event) bool {
	deadline := time.Now().Add(putTimeout)
	for {
		e.q.mu.Lock()
		if e.q.closed {
			e.q.mu.Unlock()
			return false
		}
		if len(e.q.items) < e.q.capacity {
			e.q.items = append(e.q.items, event)
			e.q.mu.Unlock()
			return true
		}
		e.q.mu.Unlock()

		if time.Now().After(deadline) {
			e.dropped.Add(1)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Get blocks until an Event is available, the queue is closed and
// drained, or ctx is done.
func (e *EventQueue) Get(ctx context.Context) (*models.Event, bool) {
	return e.q.get(ctx)
}

// Close causes blocked Get calls to drain remaining items then return
// false.
func (e *EventQueue) Close() { e.q.close() }

// Len returns the current depth.
func (e *EventQueue) Len() int { return e.q.len() }

// Dropped returns the cumulative count of Events dropped after timing out.
func (e *EventQueue) Dropped() int64 { return e.dropped.Load() }

package queue

import (
	"context"
	"sync/atomic"

	"github.com/your-org/facewatch/internal/models"
)

// FindfaceQueue holds the winning (copied) Event per finalized Track,
// awaiting submission to the face-recognition service. Producer policy:
// non-blocking try-put — on full, the caller (TrackManager finalization)
// logs and discards rather than ever stalling on this queue.
type FindfaceQueue struct {
	q       *ringQueue[*models.Event]
	dropped atomic.Int64
}

// NewFindfaceQueue returns a FindfaceQueue with the given capacity.
func NewFindfaceQueue(capacity int) *FindfaceQueue {
	return &FindfaceQueue{q: newRingQueue[*models.Event](capacity)}
}

// TryPut attempts to enqueue event without blocking. Returns false
// (caller discards) if the queue is full or closed.
func (f *FindfaceQueue) TryPut(event *models.Event) bool {
	f.q.mu.Lock()
	defer f.q.mu.Unlock()

	if f.q.closed || len(f.q.items) >= f.q.capacity {
		f.dropped.Add(1)
		return false
	}
	f.q.items = append(f.q.items, event)
	return true
}

// Get blocks until an Event is available, the queue is closed and
// drained, or ctx is done.
func (f *FindfaceQueue) Get(ctx context.Context) (*models.Event, bool) {
	return f.q.get(ctx)
}

// Close causes blocked Get calls to drain remaining items then return
// false.
func (f *FindfaceQueue) Close() { f.q.close() }

// Len returns the current depth.
func (f *FindfaceQueue) Len() int { return f.q.len() }

// Dropped returns the cumulative count of Events TryPut rejected because the
// queue was full or closed.
func (f *FindfaceQueue) Dropped() int64 { return f.dropped.Load() }

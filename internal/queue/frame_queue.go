package queue

import (
	"context"
	"sync/atomic"

	"github.com/your-org/facewatch/internal/models"
)

// FrameQueue holds decoded frames awaiting detection. Producer policy:
// drop-oldest — per camera, if the queue is at capacity the single oldest
// pending frame belonging to that camera is evicted before the new one is
// appended, so a slow Detector degrades to staler-but-bounded memory rather
// than blocking the ingestor.
type FrameQueue struct {
	q       *ringQueue[*models.Frame]
	dropped atomic.Int64
}

// NewFrameQueue returns a FrameQueue with the given capacity.
func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{q: newRingQueue[*models.Frame](capacity)}
}

// Put appends frame, evicting the oldest pending frame for the same camera
// if the queue is full. Never blocks.
func (f *FrameQueue) Put(frame *models.Frame) {
	f.q.mu.Lock()
	defer f.q.mu.Unlock()

	if len(f.q.items) >= f.q.capacity {
		for i, pending := range f.q.items {
			if pending.CameraID == frame.CameraID {
				f.q.items = append(f.q.items[:i], f.q.items[i+1:]...)
				f.dropped.Add(1)
				break
			}
		}
		// No pending frame from this camera found (shouldn't normally
		// happen at capacity with many cameras) — fall back to evicting
		// the globally oldest entry so the invariant "never exceed
		// capacity" always holds.
		if len(f.q.items) >= f.q.capacity && len(f.q.items) > 0 {
			f.q.items = f.q.items[1:]
			f.dropped.Add(1)
		}
	}
	f.q.items = append(f.q.items, frame)
}

// Get blocks until a frame is available, the queue is closed and drained,
// or ctx is done.
func (f *FrameQueue) Get(ctx context.Context) (*models.Frame, bool) {
	return f.q.get(ctx)
}

// Close causes blocked Get calls to drain remaining items then return
// false; no further Put calls should occur after Close.
func (f *FrameQueue) Close() { f.q.close() }

// Len returns the current depth (for metrics/backpressure observation).
func (f *FrameQueue) Len() int { return f.q.len() }

// Dropped returns the cumulative count of frames evicted by drop-oldest.
func (f *FrameQueue) Dropped() int64 { return f.dropped.Load() }

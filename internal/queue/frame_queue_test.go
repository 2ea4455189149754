package queue

import (
	"context"
	"testing"
	"time"

	"github.com/your-org/facewatch/internal/models"
)

func frame(camID int) *models.Frame {
	return &models.Frame{CameraID: camID, CapturedAt: time.Now()}
}

func TestFrameQueue_DropsOldestForSameCamera(t *testing.T) {
	q := NewFrameQueue(2)

	first := frame(1)
	second := frame(1)
	q.Put(first)
	q.Put(second)
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	third := frame(1)
	q.Put(third)

	if q.Len() != 2 {
		t.Fatalf("Len() after overflow = %d, want 2 (bounded)", q.Len())
	}
	if q.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", q.Dropped())
	}

	ctx := context.Background()
	got, ok := q.Get(ctx)
	if !ok || got != second {
		t.Fatalf("expected the oldest surviving frame (second) first, got %v", got)
	}
}

func TestFrameQueue_DoesNotEvictOtherCamerasAtCapacity(t *testing.T) {
	q := NewFrameQueue(2)
	camOneFrame := frame(1)
	camTwoFrame := frame(2)
	q.Put(camOneFrame)
	q.Put(camTwoFrame)

	q.Put(frame(1)) // overflow, should only evict camera 1's pending frame

	ctx := context.Background()
	first, _ := q.Get(ctx)
	if first != camTwoFrame {
		t.Errorf("camera 2's frame should have survived the overflow, got %v", first)
	}
}

func TestFrameQueue_CloseDrainsThenReturnsFalse(t *testing.T) {
	q := NewFrameQueue(4)
	f := frame(1)
	q.Put(f)
	q.Close()

	ctx := context.Background()
	got, ok := q.Get(ctx)
	if !ok || got != f {
		t.Fatal("Get must drain remaining items after Close before returning false")
	}

	_, ok = q.Get(ctx)
	if ok {
		t.Fatal("Get on a closed, drained queue must return ok=false")
	}
}

func TestFrameQueue_GetRespectsContextCancellation(t *testing.T) {
	q := NewFrameQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, ok := q.Get(ctx)
	if ok {
		t.Fatal("Get on an empty queue with a canceled context must return ok=false")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Error("Get must notice cancellation within roughly one poll interval")
	}
}

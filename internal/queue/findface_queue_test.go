package queue

import (
	"context"
	"testing"
)

func TestFindfaceQueue_TryPutNonBlockingOnFull(t *testing.T) {
	q := NewFindfaceQueue(1)
	if !q.TryPut(event()) {
		t.Fatal("TryPut must succeed when the queue has room")
	}
	if q.TryPut(event()) {
		t.Fatal("TryPut on a full queue must return false, never block")
	}
	if q.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", q.Dropped())
	}
}

func TestFindfaceQueue_TryPutFailsAfterClose(t *testing.T) {
	q := NewFindfaceQueue(4)
	q.Close()
	if q.TryPut(event()) {
		t.Fatal("TryPut on a closed queue must return false")
	}
}

func TestFindfaceQueue_GetDrainsInFIFOOrder(t *testing.T) {
	q := NewFindfaceQueue(4)
	first, second := event(), event()
	q.TryPut(first)
	q.TryPut(second)

	ctx := context.Background()
	got1, _ := q.Get(ctx)
	got2, _ := q.Get(ctx)
	if got1 != first || got2 != second {
		t.Error("Get must return events in FIFO order")
	}
}

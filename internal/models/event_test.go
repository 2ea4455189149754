package models

import (
	"testing"
)

func TestEvent_Copy_IsIndependentlyOwned(t *testing.T) {
	frame := &Frame{CameraID: 1, Width: 100, Height: 100, Pixels: []byte{1, 2, 3}}
	event := NewEvent(frame, BoundingBox{X2: 10, Y2: 10}, 0.8, 0.5)

	cp, err := event.Copy()
	if err != nil {
		t.Fatalf("Copy() returned error: %v", err)
	}

	cp.Frame.Pixels[0] = 0xFF
	if frame.Pixels[0] == 0xFF {
		t.Error("Copy must own an independent pixel buffer")
	}
	if cp.ID != event.ID {
		t.Error("Copy must preserve the original event ID")
	}
}

func TestEvent_Copy_NilFrameIsInvariantViolation(t *testing.T) {
	event := &Event{ID: NewEventID(), Frame: nil}

	_, err := event.Copy()
	if err == nil {
		t.Fatal("Copy of an event with a nil frame must return an error")
	}
	var invErr *InvariantViolationError
	if !asInvariantViolation(err, &invErr) {
		t.Fatalf("expected *InvariantViolationError, got %T: %v", err, err)
	}
}

func asInvariantViolation(err error, target **InvariantViolationError) bool {
	if e, ok := err.(*InvariantViolationError); ok {
		*target = e
		return true
	}
	return false
}

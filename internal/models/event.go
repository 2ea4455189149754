package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is a single face detection tied to one Frame. No attribute may be
// mutated after construction, and Frame is never cleared while the Event is
// reachable — callers that need an independently-owned Event (to cross into
// the Forwarder stage) must use Copy.
type Event struct {
	ID            uuid.UUID
	Frame         *Frame
	BBox          BoundingBox
	Confidence    float32
	QualityScore  float64
	Timestamp     time.Time
}

// NewEvent constructs an Event bound to frame. frame must not be nil.
func NewEvent(frame *Frame, bbox BoundingBox, confidence float32, quality float64) *Event {
	return &Event{
		ID:           NewEventID(),
		Frame:        frame,
		BBox:         bbox,
		Confidence:   confidence,
		QualityScore: quality,
		Timestamp:    frame.CapturedAt,
	}
}

// Copy produces a new Event with an independently-owned pixel buffer,
// suitable for crossing into the Forwarder stage after the originating
// Frame has been released. Returns an error if the Event's Frame has
// somehow become nil (InvariantViolation — should never happen while the
// Event is reachable).
func (e *Event) Copy() (*Event, error) {
	if e.Frame == nil {
		return nil, &InvariantViolationError{Reason: "event has nil frame at copy time", EventID: e.ID}
	}
	pixels := make([]byte, len(e.Frame.Pixels))
	copy(pixels, e.Frame.Pixels)
	frameCopy := &Frame{
		CameraID:   e.Frame.CameraID,
		Width:      e.Frame.Width,
		Height:     e.Frame.Height,
		Pixels:     pixels,
		CapturedAt: e.Frame.CapturedAt,
	}
	return &Event{
		ID:           e.ID,
		Frame:        frameCopy,
		BBox:         e.BBox,
		Confidence:   e.Confidence,
		QualityScore: e.QualityScore,
		Timestamp:    e.Timestamp,
	}, nil
}

// InvariantViolationError reports an unexpected nil in a non-finalized Track
// or an Event with a missing Frame at copy time. Callers log it structured
// and discard the offending Track/Event; it never crashes the process.
type InvariantViolationError struct {
	Reason  string
	TrackID uuid.UUID
	EventID uuid.UUID
}

func (e *InvariantViolationError) Error() string {
	return "invariant violation: " + e.Reason
}

package models

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// trackState is the tagged union backing Track: while Finalized is false,
// First/Best/Last are always non-nil (the "ActiveTrack" variant of the
// design note); once Finalized flips to true the state becomes read-only
// (the "FinalizedTrack" variant) and is never mutated again. Swapping the
// *trackState pointer is how a Track's visible state changes atomically
// from any concurrent reader's perspective, without that reader taking a
// lock.
type trackState struct {
	First                  *Event
	Best                   *Event
	Last                   *Event
	FrameCount             int
	FramesWithoutDetection int
	Finalized              bool
	FinalizedAt            time.Time
}

// Track is a temporal sequence of Events believed to belong to the same
// face. All mutation happens by constructing a new trackState and storing
// it — see package track for the registry lock discipline that serializes
// writers. Reads never block and never observe a partially-updated state.
type Track struct {
	ID       uuid.UUID
	CameraID int

	state atomic.Pointer[trackState]
}

// NewTrack seeds a Track with its first associated Event. first/best/last
// all point at the same Event until a later association replaces one of
// them.
func NewTrack(cameraID int, first *Event) *Track {
	t := &Track{ID: NewTrackID(), CameraID: cameraID}
	t.state.Store(&trackState{
		First:      first,
		Best:       first,
		Last:       first,
		FrameCount: 1,
	})
	return t
}

// TrackSnapshot is an immutable read of a Track's state at one instant.
type TrackSnapshot struct {
	First                  *Event
	Best                   *Event
	Last                   *Event
	FrameCount             int
	FramesWithoutDetection int
	Finalized              bool
	FinalizedAt            time.Time
}

// Snapshot returns the Track's current state without locking.
func (t *Track) Snapshot() TrackSnapshot {
	s := t.state.Load()
	return TrackSnapshot{
		First:                  s.First,
		Best:                   s.Best,
		Last:                   s.Last,
		FrameCount:             s.FrameCount,
		FramesWithoutDetection: s.FramesWithoutDetection,
		Finalized:              s.Finalized,
		FinalizedAt:            s.FinalizedAt,
	}
}

// Finalized reports whether the Track has already transitioned to
// read-only. Safe to call without the registry lock.
func (t *Track) Finalized() bool {
	return t.state.Load().Finalized
}

// AddEvent associates a new Event with this Track. Callers (TrackManager)
// must hold the TrackRegistry lock while calling this, and must have
// re-validated that the Track is not already finalized. Increments
// FrameCount, replaces Last unconditionally, replaces Best only on strictly
// higher QualityScore, and resets FramesWithoutDetection to 0.
//
// Idempotent with respect to Best when event.QualityScore <= current best's
// QualityScore.
func (t *Track) AddEvent(event *Event) {
	prev := t.state.Load()
	next := &trackState{
		First:      prev.First,
		Best:       prev.Best,
		Last:       event,
		FrameCount: prev.FrameCount + 1,
		Finalized:  prev.Finalized,
	}
	if event.QualityScore > prev.Best.QualityScore {
		next.Best = event
	}
	t.state.Store(next)
}

// IncrementFramesWithoutDetection bumps the miss counter for a Track that
// was not matched by any Event in the current frame's sweep. Callers must
// hold the TrackRegistry lock.
func (t *Track) IncrementFramesWithoutDetection() {
	prev := t.state.Load()
	next := *prev
	next.FramesWithoutDetection = prev.FramesWithoutDetection + 1
	t.state.Store(&next)
}

// Finalize transitions the Track to read-only, stamping FinalizedAt. It
// never clears First/Best/Last. Returns the snapshot as it stood at the
// moment of finalization, for the caller to decide on FindfaceQueue
// submission. Callers must hold the TrackRegistry lock; a no-op (returns
// the current snapshot, ok=false) if the Track was already finalized.
func (t *Track) Finalize(now time.Time) (snap TrackSnapshot, ok bool) {
	prev := t.state.Load()
	if prev.Finalized {
		return t.Snapshot(), false
	}
	next := &trackState{
		First:                  prev.First,
		Best:                   prev.Best,
		Last:                   prev.Last,
		FrameCount:             prev.FrameCount,
		FramesWithoutDetection: prev.FramesWithoutDetection,
		Finalized:              true,
		FinalizedAt:            now,
	}
	t.state.Store(next)
	return t.Snapshot(), true
}

// Displacement returns the Euclidean distance between the first and last
// associated Event's bbox centers, in pixels.
func (s TrackSnapshot) Displacement() float64 {
	fx, fy := s.First.BBox.Center()
	lx, ly := s.Last.BBox.Center()
	dx := float64(lx - fx)
	dy := float64(ly - fy)
	return math.Sqrt(dx*dx + dy*dy)
}

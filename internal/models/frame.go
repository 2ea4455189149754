// Package models holds the pipeline's core domain types: Frame, Event,
// BoundingBox and Track. All types here are immutable once constructed,
// except where a field's replacement semantics are explicitly documented.
package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// BoundingBox is a pixel-space box (x1, y1, x2, y2) with x1<=x2, y1<=y2.
// Immutable.
type BoundingBox struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the box width in pixels.
func (b BoundingBox) Width() float32 { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BoundingBox) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the box area in square pixels.
func (b BoundingBox) Area() float32 { return b.Width() * b.Height() }

// Center returns the box's center point.
func (b BoundingBox) Center() (float32, float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Frame is a single decoded image pulled from a camera. Immutable after
// construction; Pixels is never shared across independently-owned copies.
type Frame struct {
	CameraID   int
	Width      int
	Height     int
	Pixels     []byte // opaque encoded image buffer (JPEG)
	CapturedAt time.Time
}

// Diagonal returns the frame's diagonal length in pixels.
func (f *Frame) Diagonal() float64 {
	w := float64(f.Width)
	h := float64(f.Height)
	return math.Sqrt(w*w + h*h)
}

// NewEventID produces a fresh unique event identifier.
func NewEventID() uuid.UUID { return uuid.New() }

// NewTrackID produces a fresh unique track identifier.
func NewTrackID() uuid.UUID { return uuid.New() }

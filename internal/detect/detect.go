// Package detect runs the external face-detection model over batches of
// frames and turns its raw boxes+scores output into Events, applying the
// size/confidence filters the pipeline requires before an Event is worth
// tracking at all.
package detect

import (
	"context"

	"github.com/your-org/facewatch/internal/models"
)

// BoxScore is one raw detection from a FaceDetectorModel, before any
// filtering or Event construction.
type BoxScore struct {
	BBox       models.BoundingBox
	Confidence float32
}

// FaceDetectorModel is the external detection-model boundary: a batch of
// frames in, one detection list per frame out. Implementations are
// expected to be GPU-resident and thread-confined to a single device, so
// callers must not share one instance across goroutines without external
// synchronization (the Detector component honors this by giving each
// instance its own goroutine).
type FaceDetectorModel interface {
	Detect(ctx context.Context, frames []*models.Frame) ([][]BoxScore, error)
	// Close releases model resources (GPU session, tensors). Safe to call
	// once after the owning Detector stops draining frames.
	Close() error
}

// QualityService scores a candidate detection; pure and side-effect-free.
type QualityService interface {
	Score(frame *models.Frame, bbox models.BoundingBox, confidence float32) float64
}

// GeometricQualityService derives quality_score from bbox geometry and
// confidence alone, with no model of its own — the spec's "pure,
// side-effect-free" FaceQualityService. Larger, more-central, more-confident
// faces score higher.
type GeometricQualityService struct{}

// Score rewards larger bounding boxes (more pixels to work with downstream)
// and confidence, and lightly penalizes boxes far from frame center (faces
// at the edge of frame are more likely partially cropped).
func (GeometricQualityService) Score(frame *models.Frame, bbox models.BoundingBox, confidence float32) float64 {
	areaFrac := float64(bbox.Area()) / float64(frame.Width*frame.Height)
	if areaFrac > 1 {
		areaFrac = 1
	}
	if areaFrac < 0 {
		areaFrac = 0
	}

	cx, cy := bbox.Center()
	fcx, fcy := float32(frame.Width)/2, float32(frame.Height)/2
	dx, dy := cx-fcx, cy-fcy
	maxDist := frame.Diagonal() / 2
	var centerPenalty float64
	if maxDist > 0 {
		dist := float64(dx*dx+dy*dy)
		centerPenalty = dist / (maxDist * maxDist)
		if centerPenalty > 1 {
			centerPenalty = 1
		}
	}

	return 0.5*float64(confidence) + 0.35*areaFrac + 0.15*(1-centerPenalty)
}

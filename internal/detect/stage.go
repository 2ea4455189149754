package detect

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/queue"
)

// StageConfig holds the performance/filter tunables a Stage applies.
type StageConfig struct {
	GPUBatchSize         int
	DetectionSkipFrames  int // every Nth frame per camera kept, others discarded
	MinBBoxWidth         float32
	MinConfidence        float32
	BatchPollInterval    time.Duration
	DropWarningThreshold int64 // log one aggregated warning every N drops
}

// DefaultStageConfig mirrors the spec's documented defaults.
func DefaultStageConfig() StageConfig {
	return StageConfig{
		GPUBatchSize:         32,
		DetectionSkipFrames:  2,
		MinBBoxWidth:         30,
		MinConfidence:        0.5,
		BatchPollInterval:    20 * time.Millisecond,
		DropWarningThreshold: 100,
	}
}

// Stage is one Detector instance, bound to a single GPU device's
// FaceDetectorModel. The Orchestrator runs one Stage goroutine per
// configured device.
type Stage struct {
	model    FaceDetectorModel
	quality  QualityService
	cfg      StageConfig
	frames   *queue.FrameQueue
	events   *queue.EventQueue
	logger   *slog.Logger
	metrics  *observability.Metrics
	deviceID int

	frameCounters map[int]int // per-camera counter for detection_skip_frames
}

// NewStage constructs a Stage. model is thread-confined to this Stage's
// goroutine — callers must not share it across Stages.
func NewStage(deviceID int, model FaceDetectorModel, quality QualityService, cfg StageConfig, frames *queue.FrameQueue, events *queue.EventQueue, logger *slog.Logger, metrics *observability.Metrics) *Stage {
	return &Stage{
		deviceID:      deviceID,
		model:         model,
		quality:       quality,
		cfg:           cfg,
		frames:        frames,
		events:        events,
		logger:        logger,
		metrics:       metrics,
		frameCounters: make(map[int]int),
	}
}

// Run drains FrameQueue in batches until ctx is done or the queue is closed
// and drained.
func (s *Stage) Run(ctx context.Context) {
	var eventsDroppedSinceWarning int64

	for {
		batch := s.drainBatch(ctx)
		if batch == nil {
			return
		}
		if len(batch) == 0 {
			continue
		}

		detections, err := s.model.Detect(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("detection batch failed", "device", s.deviceID, "error", err)
			continue
		}

		for i, frame := range batch {
			for _, box := range detections[i] {
				if box.BBox.Width() < s.cfg.MinBBoxWidth || box.Confidence < s.cfg.MinConfidence {
					continue
				}
				quality := s.quality.Score(frame, box.BBox, box.Confidence)
				event := models.NewEvent(frame, box.BBox, box.Confidence, quality)
				s.metrics.EventsDetected.WithLabelValues(strconv.Itoa(frame.CameraID)).Inc()

				if !s.events.Put(ctx, event) {
					eventsDroppedSinceWarning++
					s.metrics.EventsDropped.Inc()
					if eventsDroppedSinceWarning >= s.cfg.DropWarningThreshold {
						s.logger.Warn("event queue drops", "count", eventsDroppedSinceWarning, "device", s.deviceID)
						eventsDroppedSinceWarning = 0
					}
				}
			}
		}
	}
}

// drainBatch pulls up to GPUBatchSize frames off FrameQueue, applying the
// detection_skip_frames decimation per camera before detection runs. Returns
// nil if the stage should stop (ctx done or queue closed+drained with no
// batch in flight).
func (s *Stage) drainBatch(ctx context.Context) []*models.Frame {
	batch := make([]*models.Frame, 0, s.cfg.GPUBatchSize)

	first, ok := s.frames.Get(ctx)
	if !ok {
		return nil
	}
	if s.keep(first) {
		batch = append(batch, first)
	}

	deadline := time.After(s.cfg.BatchPollInterval)
	for len(batch) < s.cfg.GPUBatchSize {
		select {
		case <-ctx.Done():
			return batch
		case <-deadline:
			return batch
		default:
		}

		frame, ok := s.frames.Get(ctx)
		if !ok {
			return batch
		}
		if s.keep(frame) {
			batch = append(batch, frame)
		}
	}
	return batch
}

// keep applies detection_skip_frames: every Nth frame per camera survives.
func (s *Stage) keep(frame *models.Frame) bool {
	if s.cfg.DetectionSkipFrames <= 1 {
		return true
	}
	n := s.frameCounters[frame.CameraID]
	s.frameCounters[frame.CameraID] = n + 1
	return n%s.cfg.DetectionSkipFrames == 0
}

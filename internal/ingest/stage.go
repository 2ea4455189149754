package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/queue"
)

// StageConfig holds the per-camera reconnect tunables.
type StageConfig struct {
	ReconnectDelay time.Duration
	MaxRetries     int
}

// DefaultStageConfig returns the documented camera.* defaults.
func DefaultStageConfig() StageConfig {
	return StageConfig{ReconnectDelay: 5 * time.Second, MaxRetries: 3}
}

// Stage is one StreamIngestor instance, bound to a single camera.
type Stage struct {
	cameraID int
	source   FrameSource
	cfg      StageConfig
	frames   *queue.FrameQueue
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewStage constructs a Stage for one camera.
func NewStage(cameraID int, source FrameSource, cfg StageConfig, frames *queue.FrameQueue, logger *slog.Logger, metrics *observability.Metrics) *Stage {
	return &Stage{cameraID: cameraID, source: source, cfg: cfg, frames: frames, logger: logger, metrics: metrics}
}

// disconnectOutcome classifies why runUntilDisconnect returned.
type disconnectOutcome int

const (
	disconnectEOF disconnectOutcome = iota
	disconnectTransient
	disconnectFatal
)

// Run pulls frames from the camera's source and pushes them onto FrameQueue
// until ctx is done. On a TransientDecodeError or stream EOF, it backs off
// and reopens the source. A consecutive-failure counter accumulates across
// reconnect episodes and is reset only once frames successfully flow again;
// exceeding MaxRetries logs fatal and this Stage returns (other cameras are
// unaffected).
func (s *Stage) Run(ctx context.Context) {
	label := strconv.Itoa(s.cameraID)
	consecutiveFailures := 0

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.source.Open(ctx); err != nil {
			var fatal *IngestorFatalError
			if errors.As(err, &fatal) {
				s.logger.Error("ingestor fatal at open", "camera_id", s.cameraID, "error", err)
				return
			}
			s.logger.Warn("ingestor open failed, retrying", "camera_id", s.cameraID, "error", err)
		}

		outcome, framesFlowed := s.runUntilDisconnect(ctx, label)
		_ = s.source.Close()

		if ctx.Err() != nil {
			return
		}

		if framesFlowed {
			consecutiveFailures = 0
		}
		if outcome == disconnectFatal {
			s.logger.Error("ingestor fatal during read, dropping camera", "camera_id", s.cameraID)
			return
		}
		if outcome == disconnectTransient {
			consecutiveFailures++
		}
		if consecutiveFailures > s.cfg.MaxRetries {
			s.logger.Error("ingestor exceeded max reconnect retries, dropping camera", "camera_id", s.cameraID, "consecutive_failures", consecutiveFailures)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// runUntilDisconnect reads frames until the source errors or ends, pushing
// each onto FrameQueue. Returns why it stopped and whether at least one
// frame successfully flowed during this episode — the caller resets its
// consecutive-failure count whenever frames flowed, regardless of outcome.
func (s *Stage) runUntilDisconnect(ctx context.Context, cameraLabel string) (disconnectOutcome, bool) {
	framesFlowed := false
	for {
		pixels, width, height, capturedAt, err := s.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return disconnectEOF, framesFlowed
			}
			if err == io.EOF {
				return disconnectEOF, framesFlowed
			}
			var transient *TransientDecodeError
			if errors.As(err, &transient) {
				s.logger.Warn("transient decode error", "camera_id", s.cameraID, "error", err)
				return disconnectTransient, framesFlowed
			}
			s.logger.Error("ingestor fatal during read", "camera_id", s.cameraID, "error", err)
			return disconnectFatal, framesFlowed
		}

		frame := &models.Frame{
			CameraID:   s.cameraID,
			Width:      width,
			Height:     height,
			Pixels:     pixels,
			CapturedAt: capturedAt,
		}
		s.frames.Put(frame)
		s.metrics.FramesIngested.WithLabelValues(cameraLabel).Inc()
		framesFlowed = true
	}
}

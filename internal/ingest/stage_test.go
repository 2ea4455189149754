package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource yields a fixed number of frames, then returns the given
// terminal error forever (or io.EOF if none is set).
type fakeSource struct {
	opens     atomic.Int32
	openErr   error
	frames    int
	served    atomic.Int32
	finalErr  error
}

func (s *fakeSource) Open(ctx context.Context) error {
	s.opens.Add(1)
	return s.openErr
}

func (s *fakeSource) NextFrame(ctx context.Context) ([]byte, int, int, time.Time, error) {
	if int(s.served.Load()) < s.frames {
		s.served.Add(1)
		return []byte{0xFF}, 64, 64, time.Now(), nil
	}
	if s.finalErr != nil {
		return nil, 0, 0, time.Time{}, s.finalErr
	}
	return nil, 0, 0, time.Time{}, io.EOF
}

func (s *fakeSource) Close() error { return nil }

// resettingFakeSource serves `frames` frames after every Open — simulating
// a fresh RTSP connection producing frames again on reconnect — then fails
// with finalErr until the next Open.
type resettingFakeSource struct {
	opens    atomic.Int32
	frames   int
	served   atomic.Int32
	finalErr error
}

func (s *resettingFakeSource) Open(ctx context.Context) error {
	s.opens.Add(1)
	s.served.Store(0)
	return nil
}

func (s *resettingFakeSource) NextFrame(ctx context.Context) ([]byte, int, int, time.Time, error) {
	if int(s.served.Load()) < s.frames {
		s.served.Add(1)
		return []byte{0xFF}, 64, 64, time.Now(), nil
	}
	return nil, 0, 0, time.Time{}, s.finalErr
}

func (s *resettingFakeSource) Close() error { return nil }

func TestStage_PushesFramesOntoQueue(t *testing.T) {
	src := &fakeSource{frames: 3, finalErr: io.EOF}
	frames := queue.NewFrameQueue(10)
	defer frames.Close()

	stage := NewStage(1, src, StageConfig{ReconnectDelay: time.Millisecond, MaxRetries: 0}, frames, discardLogger(), observability.NewMetrics(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	stage.Run(ctx)

	if got := frames.Len(); got != 3 {
		t.Errorf("FrameQueue.Len() = %d, want 3 frames pushed", got)
	}
}

func TestStage_TransientErrorsAccumulateAcrossReconnectsUntilMaxRetries(t *testing.T) {
	src := &fakeSource{frames: 0, finalErr: &TransientDecodeError{Cause: errors.New("read timeout")}}
	frames := queue.NewFrameQueue(10)
	defer frames.Close()

	stage := NewStage(1, src, StageConfig{ReconnectDelay: time.Millisecond, MaxRetries: 2}, frames, discardLogger(), observability.NewMetrics(nil))

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { stage.Run(ctx); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not drop the camera after exceeding MaxRetries consecutive transient failures")
	}

	// No frame ever flows, so the consecutive-failure count is never reset
	// and the camera is dropped after MaxRetries+1 reconnect attempts
	// rather than reconnecting forever.
	if opens := src.opens.Load(); opens != 3 {
		t.Errorf("opens = %d, want exactly 3 (MaxRetries+1 reconnect attempts before dropping)", opens)
	}
}

func TestStage_ConsecutiveFailureCounterResetsWhenFramesFlow(t *testing.T) {
	src := &resettingFakeSource{frames: 1, finalErr: &TransientDecodeError{Cause: errors.New("read timeout")}}
	frames := queue.NewFrameQueue(1000)
	defer frames.Close()

	stage := NewStage(1, src, StageConfig{ReconnectDelay: time.Millisecond, MaxRetries: 2}, frames, discardLogger(), observability.NewMetrics(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	stage.Run(ctx)

	// Every reconnect episode flows a frame before failing transiently, so
	// the counter resets each time and the camera survives well past
	// MaxRetries reconnect episodes instead of being dropped.
	if opens := src.opens.Load(); opens < 4 {
		t.Errorf("opens = %d, want several reconnects within the deadline without the camera being dropped", opens)
	}
}

func TestStage_FatalReadErrorDropsCameraImmediately(t *testing.T) {
	src := &fakeSource{frames: 0, finalErr: errors.New("corrupt stream")}
	frames := queue.NewFrameQueue(10)
	defer frames.Close()

	stage := NewStage(1, src, StageConfig{ReconnectDelay: time.Hour, MaxRetries: 5}, frames, discardLogger(), observability.NewMetrics(nil))

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { stage.Run(ctx); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after a non-transient, non-EOF read error")
	}

	if opens := src.opens.Load(); opens != 1 {
		t.Errorf("opens = %d, want exactly 1 (no reconnect wait before dropping the camera)", opens)
	}
}

func TestStage_FatalOpenErrorStopsWithoutRetrying(t *testing.T) {
	src := &fakeSource{openErr: &IngestorFatalError{Cause: errors.New("binary missing")}}
	frames := queue.NewFrameQueue(10)
	defer frames.Close()

	stage := NewStage(1, src, StageConfig{ReconnectDelay: time.Millisecond, MaxRetries: 5}, frames, discardLogger(), observability.NewMetrics(nil))

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { stage.Run(ctx); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return immediately on a fatal open error")
	}

	if opens := src.opens.Load(); opens != 1 {
		t.Errorf("opens = %d, want exactly 1 (no retry after a fatal open error)", opens)
	}
}

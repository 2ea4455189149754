package asynclog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/your-org/facewatch/internal/observability"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	dir := t.TempDir()
	opts := Options{FilePath: filepath.Join(dir, "test.log"), MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}
	return New(opts, observability.NewMetrics(nil))
}

func TestLogger_WritesToFile(t *testing.T) {
	l := newTestLogger(t)
	sl := l.Slog()

	sl.Info("hello", "key", "value")

	if err := l.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	data, err := os.ReadFile(l.writer.Filename)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the log file to contain the written record")
	}
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	l := newTestLogger(t)
	if err := l.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() must be a no-op, got error: %v", err)
	}
}

func TestLogger_DropsNewestWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	opts := Options{FilePath: filepath.Join(dir, "test.log"), MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}
	l := &Logger{
		queue: make(chan record), // unbuffered: any send blocks unless the worker is draining
		done:  make(chan struct{}),
		writer: &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		},
	}
	l.metrics = observability.NewMetrics(nil)
	// Don't start run(): simulate a stalled worker so every enqueue takes the
	// non-blocking drop path deterministically.
	close(l.done)

	l.enqueue(record{time: time.Now(), msg: "dropped"})
	l.enqueue(record{time: time.Now(), msg: "dropped again"})

	if l.dropped.Load() != 2 {
		t.Fatalf("dropped = %d, want 2", l.dropped.Load())
	}
}

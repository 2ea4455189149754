// Package asynclog implements the process-wide AsyncLogger: a bounded
// queue feeding a single formatting/writing worker, so no hot-path
// goroutine ever blocks on log I/O. Built on log/slog (the teacher's
// logging package across all three of its binaries) with a custom
// slog.Handler whose Handle method only enqueues, and
// gopkg.in/natefinch/lumberjack.v2 for the rolling file sink the teacher
// documents but never wires up.
package asynclog

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/your-org/facewatch/internal/observability"
)

const (
	queueCapacity = 10000
	drainDeadline = 5 * time.Second
)

// record is the minimal snapshot of a log call the handler enqueues;
// formatting happens later, on the worker goroutine only.
type record struct {
	time  time.Time
	level slog.Level
	msg   string
	attrs []slog.Attr
}

// Logger is the AsyncLogger: producers call its slog.Logger (via Handler)
// and never block past the enqueue.
type Logger struct {
	queue   chan record
	dropped atomic.Int64
	metrics *observability.Metrics

	writer  *lumberjack.Logger
	stdout  *slog.Logger
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// Options configures the rolling file sink.
type Options struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultOptions mirrors the teacher's documented-but-unimplemented rolling
// log sink defaults.
func DefaultOptions() Options {
	return Options{FilePath: "application.log", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30}
}

// New constructs and starts the AsyncLogger's worker goroutine. Call Slog()
// to get a *slog.Logger producers can use directly.
func New(opts Options, metrics *observability.Metrics) *Logger {
	l := &Logger{
		queue:   make(chan record, queueCapacity),
		metrics: metrics,
		writer: &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		},
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// Slog returns a *slog.Logger whose Handle calls only enqueue onto this
// AsyncLogger's internal queue; formatting and I/O happen exclusively on
// the worker goroutine.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(&enqueueHandler{logger: l})
}

// enqueue is called from the handler; never blocks. On a full queue it
// drop-newests and counts it for the periodic aggregated warning.
func (l *Logger) enqueue(r record) {
	select {
	case l.queue <- r:
	default:
		l.dropped.Add(1)
		l.metrics.LogsDropped.Inc()
	}
}

// run formats and writes every enqueued record to both stdout and the
// rolling file, until the queue is closed (via Close) and drained. Worker
// failures (e.g. a write error to the file sink) are logged to stderr
// directly and never propagate to producers.
func (l *Logger) run() {
	defer close(l.done)

	fileHandler := slog.NewTextHandler(l.writer, nil)
	stdoutHandler := slog.NewTextHandler(os.Stdout, nil)

	lastDropReport := int64(0)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-l.queue:
			if !ok {
				return
			}
			l.write(fileHandler, r)
			l.write(stdoutHandler, r)
		case <-ticker.C:
			if d := l.dropped.Load(); d > lastDropReport {
				l.write(stdoutHandler, record{
					time:  time.Now(),
					level: slog.LevelWarn,
					msg:   "logs dropped (queue full)",
					attrs: []slog.Attr{slog.Int64("count", d-lastDropReport)},
				})
				lastDropReport = d
			}
		}
	}
}

func (l *Logger) write(h slog.Handler, r record) {
	rec := slog.NewRecord(r.time, r.level, r.msg, 0)
	rec.AddAttrs(r.attrs...)
	if err := h.Handle(context.Background(), rec); err != nil {
		os.Stderr.WriteString("asynclog write failed: " + err.Error() + "\n")
	}
}

// Close stops accepting new records, drains the queue (up to
// drainDeadline), and flushes the rolling file.
func (l *Logger) Close() error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.closeMu.Unlock()

	select {
	case <-l.done:
	case <-time.After(drainDeadline):
	}
	return l.writer.Close()
}

// enqueueHandler is a slog.Handler whose only job is enqueueing; it does
// not format or write.
type enqueueHandler struct {
	logger *Logger
	attrs  []slog.Attr
}

func (h *enqueueHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *enqueueHandler) Handle(_ context.Context, rec slog.Record) error {
	attrs := make([]slog.Attr, 0, rec.NumAttrs()+len(h.attrs))
	attrs = append(attrs, h.attrs...)
	rec.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	h.logger.enqueue(record{time: rec.Time, level: rec.Level, msg: rec.Message, attrs: attrs})
	return nil
}

func (h *enqueueHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &enqueueHandler{logger: h.logger, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *enqueueHandler) WithGroup(name string) slog.Handler {
	// Groups are not in the teacher's flat key-value logging idiom; treat
	// as a no-op rather than introduce nested attribute scoping nothing in
	// this codebase uses.
	return h
}

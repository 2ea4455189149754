// Package reclaim implements the BackgroundReclaimer: the single worker
// that performs all memory/cache reclamation, so no hot-path goroutine ever
// invokes a reclamation primitive directly (Testable Property 5).
package reclaim

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/your-org/facewatch/internal/observability"
)

// TensorCacheReleaser is implemented by detection backends that hold a
// reusable GPU tensor pool (the ONNX RetinaFace backend's input/output
// tensors). Optional — a backend that doesn't need periodic release simply
// doesn't implement it, and Reclaimer treats its absence as a no-op.
type TensorCacheReleaser interface {
	ReleaseTensorCache() (objectsReleased int)
}

// Stats is a read-only snapshot of the reclaimer's cumulative counters.
type Stats struct {
	ReclaimCount     int64
	ObjectsReclaimed int64
}

// Reclaimer ticks every Interval, triggering runtime.GC() and
// debug.FreeOSMemory() — optional-but-wired since Go's managed runtime
// makes explicit GC unnecessary in the common case, but the spec preserves
// this component as the sole home for any future non-hot-path reclamation —
// plus releasing the active detector's tensor cache if it exposes one.
type Reclaimer struct {
	interval time.Duration
	releaser TensorCacheReleaser // may be nil
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu    sync.Mutex
	stats Stats
}

// New constructs a Reclaimer. releaser may be nil if the active
// FaceDetectorModel doesn't expose a tensor cache.
func New(interval time.Duration, releaser TensorCacheReleaser, logger *slog.Logger, metrics *observability.Metrics) *Reclaimer {
	return &Reclaimer{interval: interval, releaser: releaser, logger: logger, metrics: metrics}
}

// Run ticks until ctx is done.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Reclaimer) tick() {
	runtime.GC()
	debug.FreeOSMemory()

	objectsReleased := 0
	if r.releaser != nil {
		objectsReleased = r.releaser.ReleaseTensorCache()
	}

	r.mu.Lock()
	r.stats.ReclaimCount++
	r.stats.ObjectsReclaimed += int64(objectsReleased)
	r.mu.Unlock()

	r.metrics.ReclaimTicks.Inc()
	r.metrics.ObjectsReclaimed.Add(float64(objectsReleased))
	r.logger.Debug("background reclaim tick", "objects_released", objectsReleased)
}

// Snapshot returns the current cumulative statistics.
func (r *Reclaimer) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

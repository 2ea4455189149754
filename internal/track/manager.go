// Package track implements the association algorithm and lifecycle rules
// that turn a stream of Events into a set of Tracks: the out-of-lock
// matching discipline, finalization, movement-gated submission to the
// FindfaceQueue, and periodic garbage collection of finalized tracks.
package track

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/queue"
)

// Config holds the tunables the association algorithm and lifecycle rules
// depend on, sourced from the tracking/filter/track config sections.
type Config struct {
	MaxAge                  int     // frames_without_detection threshold
	MaxFrames               int     // frame_count threshold
	MinHits                 int     // gates FindfaceQueue submission only
	MinMovementPixels       float64
	MinMovementPercentage   float64
	DistanceThresholdFactor float64 // default 0.07 of frame diagonal
	TTL                     time.Duration
	GCInterval              time.Duration
}

// DefaultConfig mirrors the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxAge:                  30,
		MaxFrames:               500,
		MinHits:                 3,
		MinMovementPixels:       50.0,
		MinMovementPercentage:   0.1,
		DistanceThresholdFactor: 0.07,
		TTL:                     30 * time.Second,
		GCInterval:              1 * time.Second,
	}
}

// Manager is the single TrackManager worker: it drains EventQueue, performs
// association, and submits finalized tracks' best events to FindfaceQueue.
type Manager struct {
	cfg      Config
	registry *models.TrackRegistry
	events   *queue.EventQueue
	findface *queue.FindfaceQueue
	logger   *slog.Logger
	metrics  *observability.Metrics

	frameMu sync.Mutex
	pending map[int]*framePending // per-camera in-flight frame batch, flushed on frame boundary
}

// framePending accumulates the set of Tracks matched against a single
// in-flight Frame for one camera, so the per-frame sweep (§3.3
// update_inactive) runs once per Frame rather than once per Event.
type framePending struct {
	frame  *models.Frame
	active map[*models.Track]struct{}
}

// NewManager constructs a Manager. logger and metrics must be non-nil.
func NewManager(cfg Config, registry *models.TrackRegistry, events *queue.EventQueue, findface *queue.FindfaceQueue, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: registry,
		events:   events,
		findface: findface,
		logger:   logger,
		metrics:  metrics,
		pending:  make(map[int]*framePending),
	}
}

// Run drains EventQueue until ctx is done or the queue is closed and
// drained. Events from the same frame arrive contiguously per camera, so
// the per-frame sweep batches every Event sharing a Frame and flushes once
// the next Frame for that camera starts — the queue may interleave
// cameras, but never interleaves two Frames within one camera.
func (m *Manager) Run(ctx context.Context) {
	gcTicker := time.NewTicker(m.cfg.GCInterval)
	defer gcTicker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			event, ok := m.events.Get(ctx)
			if !ok {
				return
			}
			m.handleEvent(event)
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			<-done
			return
		case <-gcTicker.C:
			m.collectFinalized()
		}
	}
}

// handleEvent runs the association algorithm for a single incoming Event,
// then records which Track it landed on in that camera's in-flight frame
// batch, flushing the previous frame's sweep first if this Event starts a
// new Frame.
func (m *Manager) handleEvent(event *models.Event) {
	cameraID := event.Frame.CameraID

	lockStart := time.Now()
	candidates := m.registry.NonFinalizedTracks(cameraID)
	m.metrics.ObserveRegistryLockHold(time.Since(lockStart))

	chosen := m.associate(candidates, event)

	lockStart = time.Now()
	m.registry.Lock()
	if chosen != nil {
		if chosen.Finalized() {
			// Finalized between the out-of-lock match and reacquiring the
			// lock — fall through to creating a new Track instead.
			chosen = nil
		} else {
			chosen.AddEvent(event)
		}
	}
	var active *models.Track
	if chosen == nil {
		newTrack := models.NewTrack(cameraID, event)
		m.registry.Unlock()
		m.registry.Insert(newTrack)
		m.metrics.ObserveRegistryLockHold(time.Since(lockStart))
		m.metrics.IncTracksCreated()
		active = newTrack
	} else {
		m.registry.Unlock()
		m.metrics.ObserveRegistryLockHold(time.Since(lockStart))
		active = chosen
	}

	m.recordActiveAndMaybeSweep(cameraID, event.Frame, active)
}

// recordActiveAndMaybeSweep adds active to cameraID's in-flight frame batch.
// If frame differs from the batch's current Frame (a new Frame started for
// this camera), the previous Frame's batch is flushed through sweepInactive
// first.
func (m *Manager) recordActiveAndMaybeSweep(cameraID int, frame *models.Frame, active *models.Track) {
	m.frameMu.Lock()
	batch := m.pending[cameraID]
	if batch == nil {
		batch = &framePending{frame: frame, active: make(map[*models.Track]struct{})}
		m.pending[cameraID] = batch
	} else if batch.frame != frame {
		finished := batch
		batch = &framePending{frame: frame, active: make(map[*models.Track]struct{})}
		m.pending[cameraID] = batch
		m.frameMu.Unlock()
		m.sweepInactive(cameraID, finished.active, finished.frame.CapturedAt)
		m.frameMu.Lock()
	}
	batch.active[active] = struct{}{}
	m.frameMu.Unlock()
}

// associate runs the out-of-lock matching math: adaptive IoU overlap first,
// center-distance fallback second, skipping any candidate whose last event
// is more than 2s stale. Returns nil if no candidate passes either test.
func (m *Manager) associate(candidates []*models.Track, event *models.Event) *models.Track {
	frameW := event.Frame.Width
	iouThreshold := adaptiveIOUThreshold(frameW)
	distanceThreshold := m.cfg.DistanceThresholdFactor * event.Frame.Diagonal()

	var bestOverlapTrack *models.Track
	var bestOverlap float32

	var bestDistanceTrack *models.Track
	var bestDistance float64 = math.Inf(1)

	for _, cand := range candidates {
		snap := cand.Snapshot()
		if snap.Last == nil {
			continue // can't happen for a non-finalized track, but guard anyway
		}
		if event.Timestamp.Sub(snap.Last.Timestamp) > 2*time.Second {
			continue
		}

		ov := overlap(snap.Last.BBox, event.BBox)
		if ov >= iouThreshold {
			if ov > bestOverlap || (ov == bestOverlap && earlierTrack(cand, bestOverlapTrack)) {
				bestOverlap = ov
				bestOverlapTrack = cand
			}
		}

		dist := centerDistance(snap.Last.BBox, event.BBox)
		if dist <= distanceThreshold {
			if dist < bestDistance || (dist == bestDistance && earlierTrack(cand, bestDistanceTrack)) {
				bestDistance = dist
				bestDistanceTrack = cand
			}
		}
	}

	if bestOverlapTrack != nil {
		return bestOverlapTrack
	}
	return bestDistanceTrack
}

// earlierTrack reports whether candidate has an earlier (lexicographically
// smaller) track_id than incumbent, used only to break exact ties
// deterministically. A nil incumbent always loses.
func earlierTrack(candidate, incumbent *models.Track) bool {
	if incumbent == nil {
		return true
	}
	return candidate.ID.String() < incumbent.ID.String()
}

// adaptiveIOUThreshold returns the calibrated overlap threshold for a given
// frame width.
func adaptiveIOUThreshold(width int) float32 {
	switch {
	case width <= 640:
		return 0.20
	case width <= 1280:
		return 0.15
	case width <= 1920:
		return 0.12
	default:
		return 0.10
	}
}

// overlap is intersection_area / mean(area1, area2) — deliberately not
// standard IoU, despite the name the source used. The association
// thresholds are calibrated for this metric.
func overlap(a, b models.BoundingBox) float32 {
	x1 := maxF(a.X1, b.X1)
	y1 := maxF(a.Y1, b.Y1)
	x2 := minF(a.X2, b.X2)
	y2 := minF(a.Y2, b.Y2)

	inter := maxF(0, x2-x1) * maxF(0, y2-y1)
	meanArea := (a.Area() + b.Area()) / 2
	if meanArea <= 0 {
		return 0
	}
	return inter / meanArea
}

func centerDistance(a, b models.BoundingBox) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	dx := float64(bx - ax)
	dy := float64(by - ay)
	return math.Sqrt(dx*dx + dy*dy)
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

// sweepInactive increments frames_without_detection for every non-finalized
// track on this camera not in active (the set of tracks an already-completed
// frame matched an Event against), then finalizes any track that has
// crossed max_age or max_frames. Called once per completed Frame, per §3.3's
// update_inactive(camera_id, active_set).
func (m *Manager) sweepInactive(cameraID int, active map[*models.Track]struct{}, now time.Time) {
	tracks := m.registry.AllTracks(cameraID)

	for _, t := range tracks {
		if t.Finalized() {
			continue
		}
		_, matched := active[t]

		m.registry.Lock()
		if t.Finalized() {
			m.registry.Unlock()
			continue
		}
		if !matched {
			t.IncrementFramesWithoutDetection()
		}
		snap := t.Snapshot()
		m.registry.Unlock()

		if snap.FramesWithoutDetection >= m.cfg.MaxAge || snap.FrameCount >= m.cfg.MaxFrames {
			m.finalize(t, now)
		}
	}
}

// finalize transitions a track to read-only and, if it moved enough and met
// min_hits, copies its best_event onto FindfaceQueue.
func (m *Manager) finalize(t *models.Track, now time.Time) {
	m.registry.Lock()
	snap, ok := t.Finalize(now)
	m.registry.Unlock()
	if !ok {
		return
	}

	m.metrics.IncTracksFinalized()

	if snap.FrameCount < m.cfg.MinHits {
		return
	}

	threshold := math.Max(m.cfg.MinMovementPixels, m.cfg.MinMovementPercentage*snap.Last.Frame.Diagonal())
	if snap.Displacement() < threshold {
		return
	}

	copied, err := snap.Best.Copy()
	if err != nil {
		m.logger.Error("invariant violation at finalization copy", "track_id", t.ID, "error", err)
		return
	}
	if !m.findface.TryPut(copied) {
		m.metrics.IncFindfaceDropped()
		m.logger.Warn("findface queue full, dropping finalized track submission", "track_id", t.ID)
	}
}

// collectFinalized removes finalized tracks past their TTL across every
// known camera. Called once per GCInterval from Run's main loop — never
// from a hot path.
func (m *Manager) collectFinalized() {
	now := time.Now()
	removed := m.registry.RemoveFinalizedAll(func(snap models.TrackSnapshot) bool {
		return now.Sub(snap.FinalizedAt) > m.cfg.TTL
	})
	if removed > 0 {
		m.metrics.AddTracksReclaimed(removed)
	}
}

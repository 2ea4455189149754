package track

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/queue"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(cfg Config) (*Manager, *models.TrackRegistry, *queue.EventQueue, *queue.FindfaceQueue) {
	registry := models.NewTrackRegistry()
	events := queue.NewEventQueue(100)
	findface := queue.NewFindfaceQueue(100)
	metrics := observability.NewMetrics(nil)
	m := NewManager(cfg, registry, events, findface, discardLogger(), metrics)
	return m, registry, events, findface
}

func frameAt(camID, w, h int, t time.Time) *models.Frame {
	return &models.Frame{CameraID: camID, Width: w, Height: h, CapturedAt: t}
}

func boxAt(cx, cy, half float32) models.BoundingBox {
	return models.BoundingBox{X1: cx - half, Y1: cy - half, X2: cx + half, Y2: cy + half}
}

func TestAdaptiveIOUThreshold(t *testing.T) {
	cases := []struct {
		width int
		want  float32
	}{
		{640, 0.20},
		{1280, 0.15},
		{1920, 0.12},
		{3840, 0.10},
	}
	for _, c := range cases {
		if got := adaptiveIOUThreshold(c.width); got != c.want {
			t.Errorf("adaptiveIOUThreshold(%d) = %v, want %v", c.width, got, c.want)
		}
	}
}

func TestOverlap_IsMeanOfAreasNotStandardIOU(t *testing.T) {
	a := models.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}   // area 100
	b := models.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 20} // area 200, fully overlapping a's footprint

	got := overlap(a, b)
	// intersection = 100, mean area = 150 -> 100/150 = 0.667
	if got < 0.66 || got > 0.67 {
		t.Errorf("overlap() = %v, want ~0.667 (intersection / mean area)", got)
	}
}

func TestAssociate_MatchesByIOUWithinGate(t *testing.T) {
	m, _, _, _ := newTestManager(DefaultConfig())
	now := time.Now()

	existing := models.NewTrack(1, models.NewEvent(frameAt(1, 1280, 720, now), boxAt(100, 100, 20), 0.9, 0.5))
	candidates := []*models.Track{existing}

	newEvent := models.NewEvent(frameAt(1, 1280, 720, now.Add(100*time.Millisecond)), boxAt(102, 101, 20), 0.9, 0.5)

	chosen := m.associate(candidates, newEvent)
	if chosen != existing {
		t.Fatal("a near-identical, near-in-time bbox must associate to the existing track")
	}
}

func TestAssociate_RejectsStaleCandidate(t *testing.T) {
	m, _, _, _ := newTestManager(DefaultConfig())
	now := time.Now()

	existing := models.NewTrack(1, models.NewEvent(frameAt(1, 1280, 720, now), boxAt(100, 100, 20), 0.9, 0.5))
	candidates := []*models.Track{existing}

	newEvent := models.NewEvent(frameAt(1, 1280, 720, now.Add(3*time.Second)), boxAt(100, 100, 20), 0.9, 0.5)

	chosen := m.associate(candidates, newEvent)
	if chosen != nil {
		t.Fatal("a candidate older than the 2s temporal gate must never be chosen")
	}
}

func TestAssociate_FallsBackToCenterDistance(t *testing.T) {
	m, _, _, _ := newTestManager(DefaultConfig())
	now := time.Now()

	// Small, non-overlapping box far enough apart to fail IoU but close
	// enough (relative to frame diagonal) to pass the distance fallback.
	existing := models.NewTrack(1, models.NewEvent(frameAt(1, 1280, 720, now), boxAt(100, 100, 5), 0.9, 0.5))
	candidates := []*models.Track{existing}

	newEvent := models.NewEvent(frameAt(1, 1280, 720, now.Add(50*time.Millisecond)), boxAt(115, 100, 5), 0.9, 0.5)

	chosen := m.associate(candidates, newEvent)
	if chosen != existing {
		t.Fatal("two small, nearby, non-overlapping boxes should match via the center-distance fallback")
	}
}

func TestAssociate_TieBreaksByEarlierTrackID(t *testing.T) {
	m, _, _, _ := newTestManager(DefaultConfig())
	now := time.Now()

	a := models.NewTrack(1, models.NewEvent(frameAt(1, 1280, 720, now), boxAt(100, 100, 20), 0.9, 0.5))
	b := models.NewTrack(1, models.NewEvent(frameAt(1, 1280, 720, now), boxAt(100, 100, 20), 0.9, 0.5))
	var earlier, later *models.Track
	if a.ID.String() < b.ID.String() {
		earlier, later = a, b
	} else {
		earlier, later = b, a
	}

	newEvent := models.NewEvent(frameAt(1, 1280, 720, now.Add(10*time.Millisecond)), boxAt(100, 100, 20), 0.9, 0.5)

	chosen := m.associate([]*models.Track{later, earlier}, newEvent)
	if chosen != earlier {
		t.Fatal("an exact overlap tie must resolve to the lexicographically earlier track_id")
	}
}

// TestHandleEvent_SweepRunsOncePerFrameNotPerEvent runs the manager's full
// in-lock/out-of-lock path end to end: a track untouched by a frame with two
// Events ages by exactly 1 once that frame's batch is flushed.
func TestHandleEvent_SweepRunsOncePerFrameNotPerEvent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAge = 100 // large enough that the test never finalizes anything
	m, registry, _, _ := newTestManager(cfg)

	t0 := time.Now()
	// A track that will receive no further Events; it must age by exactly
	// 1 per completed frame, regardless of how many Events that frame has.
	frame0 := frameAt(1, 1280, 720, t0)
	stale := models.NewTrack(1, models.NewEvent(frame0, boxAt(900, 900, 20), 0.9, 0.5))
	registry.Insert(stale)

	// Frame 1 carries two faces (two Events) that land on two brand new
	// tracks, sharing one Frame pointer.
	frame1 := frameAt(1, 1280, 720, t0.Add(100*time.Millisecond))
	m.handleEvent(models.NewEvent(frame1, boxAt(100, 100, 20), 0.9, 0.5))
	m.handleEvent(models.NewEvent(frame1, boxAt(500, 500, 20), 0.9, 0.5))

	// Frame 1's batch hasn't flushed yet (no later frame has started), so
	// stale's counter must still be untouched.
	if got := stale.Snapshot().FramesWithoutDetection; got != 0 {
		t.Fatalf("FramesWithoutDetection = %d before frame1 flushes, want 0", got)
	}

	// Starting frame 2 flushes frame 1's sweep.
	frame2 := frameAt(1, 1280, 720, t0.Add(200*time.Millisecond))
	m.handleEvent(models.NewEvent(frame2, boxAt(100, 100, 20), 0.9, 0.5))

	if got := stale.Snapshot().FramesWithoutDetection; got != 1 {
		t.Fatalf("FramesWithoutDetection after frame1 flush = %d, want 1 (once per frame, not once per event)", got)
	}
}

func TestFinalize_SkipsFindfaceQueueBelowMovementThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinHits = 1
	cfg.MinMovementPixels = 1000 // unreachable within the test's tiny displacement
	m, registry, _, findface := newTestManager(cfg)

	now := time.Now()
	tr := models.NewTrack(1, models.NewEvent(frameAt(1, 1280, 720, now), boxAt(100, 100, 20), 0.9, 0.9))
	registry.Insert(tr)

	m.finalize(tr, now)

	if findface.Len() != 0 {
		t.Fatal("a track that never moved enough must not reach FindfaceQueue")
	}
	if !tr.Finalized() {
		t.Fatal("finalize must still mark the track finalized even when submission is skipped")
	}
}

func TestFinalize_SubmitsBestEventWhenThresholdsMet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinHits = 1
	cfg.MinMovementPixels = 1
	cfg.MinMovementPercentage = 0
	m, registry, _, findface := newTestManager(cfg)

	now := time.Now()
	frame := frameAt(1, 1280, 720, now)
	frame.Pixels = []byte{1, 2, 3}
	first := models.NewEvent(frame, boxAt(100, 100, 20), 0.9, 0.3)
	tr := models.NewTrack(1, first)
	best := models.NewEvent(frame, boxAt(500, 500, 20), 0.95, 0.9)
	tr.AddEvent(best)
	registry.Insert(tr)

	m.finalize(tr, now)

	if findface.Len() != 1 {
		t.Fatalf("findface.Len() = %d, want 1", findface.Len())
	}
	got, ok := findface.Get(context.Background())
	if !ok || got.QualityScore != best.QualityScore {
		t.Fatal("finalize must submit the track's best (highest-quality) event, not its first or last")
	}
}

func TestFinalize_BelowMinHitsNeverSubmits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinHits = 5
	cfg.MinMovementPixels = 0
	cfg.MinMovementPercentage = 0
	m, registry, _, findface := newTestManager(cfg)

	now := time.Now()
	tr := models.NewTrack(1, models.NewEvent(frameAt(1, 1280, 720, now), boxAt(100, 100, 20), 0.9, 0.9))
	registry.Insert(tr)

	m.finalize(tr, now)

	if findface.Len() != 0 {
		t.Fatal("min_hits must gate FindfaceQueue submission, even with zero movement threshold")
	}
	if !tr.Finalized() {
		t.Fatal("min_hits must not block finalization itself, only submission")
	}
}

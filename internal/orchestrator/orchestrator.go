// Package orchestrator owns the pipeline's full lifecycle: constructing
// every stage from configuration, starting them in dependency order,
// waiting on shutdown, and stopping them with a bounded drain. Grounded on the teacher's cmd/worker and cmd/api main functions —
// same flag/config/logger/signal-channel shape — generalized from two
// single-purpose binaries into one coordinator object a single cmd/facewatch
// binary can construct and run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facewatch/internal/adminapi"
	"github.com/your-org/facewatch/internal/asynclog"
	"github.com/your-org/facewatch/internal/camera"
	"github.com/your-org/facewatch/internal/config"
	"github.com/your-org/facewatch/internal/detect"
	"github.com/your-org/facewatch/internal/eventmirror"
	"github.com/your-org/facewatch/internal/forward"
	"github.com/your-org/facewatch/internal/ingest"
	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/queue"
	"github.com/your-org/facewatch/internal/reclaim"
	"github.com/your-org/facewatch/internal/track"
)

// Options are the orchestrator's external dependencies that main.go is
// responsible for wiring: the parsed configuration, the ONNX model path,
// the Admin API's bind address and API key, and an optional NATS URL for
// the event mirror.
type Options struct {
	Config      *config.Config
	ModelPath   string
	AdminAddr   string
	AdminAPIKey string
	NATSURL     string // empty disables the event mirror
}

// Orchestrator owns every long-lived component and coordinates their
// start/stop order.
type Orchestrator struct {
	opts    Options
	logger  *asynclog.Logger
	slog    *slog.Logger
	metrics *observability.Metrics

	reclaimer *reclaim.Reclaimer
	forwarder *forward.Forwarder
	manager   *track.Manager
	detectors []*detect.Stage
	models    []detect.FaceDetectorModel
	ingestors []*ingest.Stage
	mirror    *eventmirror.Mirror
	hub       *adminapi.Hub
	adminSrv  *http.Server
	ready     atomic.Bool

	frames   *queue.FrameQueue
	events   *queue.EventQueue
	findface *queue.FindfaceQueue

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs every component from opts.Config but starts nothing.
func New(opts Options) (*Orchestrator, error) {
	cfg := opts.Config

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	logger := asynclog.New(asynclog.Options{
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}, metrics)
	sl := logger.Slog()

	frames := queue.NewFrameQueue(cfg.Queues.FrameQueueMaxSize)
	events := queue.NewEventQueue(cfg.Queues.EventQueueMaxSize)
	findface := queue.NewFindfaceQueue(cfg.Queues.FindfaceQueueMaxSize)

	registry := models.NewTrackRegistry()

	trackCfg := track.Config{
		MaxAge:                  cfg.Tracking.MaxAge,
		MaxFrames:               cfg.Tracking.MaxFrames,
		MinHits:                 cfg.Tracking.MinHits,
		MinMovementPixels:       cfg.Track.MinMovementPixels,
		MinMovementPercentage:   cfg.Track.MinMovementPercentage,
		DistanceThresholdFactor: 0.07,
		TTL:                     time.Duration(cfg.TracksTTLSeconds) * time.Second,
		GCInterval:              1 * time.Second,
	}
	manager := track.NewManager(trackCfg, registry, events, findface, sl, metrics)

	forwarderCfg := forward.Config{
		Workers:        cfg.FindfaceWorkers,
		MaxConnections: 20,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		BaseBackoff:    200 * time.Millisecond,
		URL:            cfg.Findface.URL,
		User:           cfg.Findface.User,
		Password:       cfg.Findface.Password,
		UUID:           cfg.Findface.UUID,
	}
	forwarder := forward.NewForwarder(forwarderCfg, findface, sl, metrics)

	hub := adminapi.NewHub(metrics, sl)
	forwarder.SetNotifier(func(eventID string, cameraID int, outcome string) {
		hub.Broadcast(adminapi.SubmissionEvent{EventID: eventID, CameraID: cameraID, Outcome: outcome})
	})

	o := &Orchestrator{
		opts:      opts,
		logger:    logger,
		slog:      sl,
		metrics:   metrics,
		manager:   manager,
		forwarder: forwarder,
		hub:       hub,
		frames:    frames,
		events:    events,
		findface:  findface,
	}

	if opts.NATSURL != "" {
		o.mirror = eventmirror.Connect(context.Background(), opts.NATSURL, sl)
		forwarder.SetMirror(o.mirror)
	}

	if err := o.buildDetectors(); err != nil {
		return nil, err
	}
	o.reclaimer = reclaim.New(
		time.Duration(cfg.GCIntervalSeconds*float64(time.Second)),
		releaserSet(o.models),
		sl, metrics,
	)

	repo := camera.NewStaticRepository(configuredCameras(cfg.Camera.Sources), cfg.Camera.Prefix)
	cams, err := repo.List()
	if err != nil {
		return nil, fmt.Errorf("enumerate cameras: %w", err)
	}
	for _, cam := range cams {
		source := ingest.NewFFmpegSource(cam.RTSPURL, 10, cam.Width)
		stage := ingest.NewStage(cam.ID, source, ingest.StageConfig{
			ReconnectDelay: time.Duration(cfg.Camera.RTSPReconnectDelay) * time.Second,
			MaxRetries:     cfg.Camera.RTSPMaxRetries,
		}, frames, sl, metrics)
		o.ingestors = append(o.ingestors, stage)
	}

	o.adminSrv = &http.Server{
		Addr: opts.AdminAddr,
		Handler: adminapi.NewRouter(adminapi.RouterConfig{
			APIKey:   opts.AdminAPIKey,
			Ready:    &o.ready,
			Cameras:  repo,
			Registry: registry,
			Queues:   adminapi.QueueDepths{Frames: frames, Events: events, Findface: findface},
			Hub:      hub,
			Logger:   sl,
			Metrics:  metrics,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return o, nil
}

func configuredCameras(entries []config.CameraEntry) []camera.Camera {
	out := make([]camera.Camera, 0, len(entries))
	for _, e := range entries {
		out = append(out, camera.Camera{ID: e.ID, RTSPURL: e.RTSPURL, Width: e.Width, Height: e.Height})
	}
	return out
}

func (o *Orchestrator) buildDetectors() error {
	cfg := o.opts.Config
	devices := cfg.Processing.GPUDevices
	if len(devices) == 0 {
		devices = []int{0}
	}
	for _, device := range devices {
		model, err := detect.NewRetinaFaceDetector(o.opts.ModelPath, cfg.Filter.MinConfidence, nil)
		if err != nil {
			return fmt.Errorf("load detection model for device %d: %w", device, err)
		}
		o.models = append(o.models, model)

		stage := detect.NewStage(device, model, detect.GeometricQualityService{}, detect.StageConfig{
			GPUBatchSize:         cfg.Processing.GPUBatchSize,
			DetectionSkipFrames:  cfg.Performance.DetectionSkipFrames,
			MinBBoxWidth:         cfg.Filter.MinBBoxWidth,
			MinConfidence:        cfg.Filter.MinConfidence,
			BatchPollInterval:    20 * time.Millisecond,
			DropWarningThreshold: 100,
		}, o.frames, o.events, o.slog, o.metrics)
		o.detectors = append(o.detectors, stage)
	}
	return nil
}

// releaserSet adapts every model that implements reclaim.TensorCacheReleaser
// into a single releaser the Reclaimer can call, summing their reported
// counts. Models that don't implement it are skipped.
type releaserSet []detect.FaceDetectorModel

func (rs releaserSet) ReleaseTensorCache() int {
	total := 0
	for _, m := range rs {
		if r, ok := m.(reclaim.TensorCacheReleaser); ok {
			total += r.ReleaseTensorCache()
		}
	}
	return total
}

// Run starts every component in dependency order and blocks until ctx is
// canceled. Shutdown then stops the Admin API server, cancels the one
// context every component goroutine shares (so all of them are told to stop
// at the same moment, not in reverse start order), closes FrameQueue, and
// waits up to the configured drain deadline for the goroutines to return.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	defer ort.DestroyEnvironment()

	if o.opts.Config.Findface.URL != "" {
		if err := o.forwarder.Login(ctx); err != nil {
			return fmt.Errorf("findface login: %w", err)
		}
	}

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.reclaimer.Run(runCtx) }()

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.hub.Run() }()

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.forwarder.RunWorkers(runCtx) }()

	o.wg.Add(1)
	go func() { defer o.wg.Done(); o.manager.Run(runCtx) }()

	for _, d := range o.detectors {
		o.wg.Add(1)
		go func(d *detect.Stage) { defer o.wg.Done(); d.Run(runCtx) }(d)
	}

	for _, i := range o.ingestors {
		o.wg.Add(1)
		go func(i *ingest.Stage) { defer o.wg.Done(); i.Run(runCtx) }(i)
	}

	go func() {
		o.slog.Info("admin API listening", "addr", o.opts.AdminAddr)
		if err := o.adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.slog.Error("admin API server error", "error", err)
		}
	}()

	o.ready.Store(true)
	o.slog.Info("facewatch pipeline started",
		"cameras", len(o.ingestors),
		"gpu_devices", len(o.detectors),
		"findface_workers", o.opts.Config.FindfaceWorkers,
	)

	<-ctx.Done()
	return o.shutdown()
}

func (o *Orchestrator) shutdown() error {
	o.ready.Store(false)
	o.slog.Info("shutting down facewatch pipeline")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = o.adminSrv.Shutdown(shutdownCtx)

	o.cancel()
	o.frames.Close()

	drain := time.Duration(o.opts.Config.DrainTimeoutSeconds) * time.Second
	done := make(chan struct{})
	go func() { o.wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(drain):
		o.slog.Warn("drain deadline exceeded, forcing shutdown", "deadline", drain)
	}

	o.events.Close()
	o.findface.Close()

	for _, m := range o.models {
		_ = m.Close()
	}
	if o.mirror != nil {
		o.mirror.Close()
	}

	o.slog.Info("facewatch pipeline stopped")
	return o.logger.Close()
}

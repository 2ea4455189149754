// Package forward implements the Forwarder: N worker goroutines that drain
// FindfaceQueue and submit each Event to the external face-recognition
// service over a shared, pooled HTTP client — grounded on the teacher's
// pattern of constructing one long-lived pooled client (pgxpool.Pool,
// minio.Client) at startup and never building one per request.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/your-org/facewatch/internal/eventmirror"
	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/queue"
)

// Config holds the Forwarder's tunables and the recognition service's
// connection details.
type Config struct {
	Workers        int
	MaxConnections int
	RequestTimeout time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration

	URL      string
	User     string
	Password string
	UUID     string
}

// DefaultConfig mirrors the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		MaxConnections: 20,
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		BaseBackoff:    200 * time.Millisecond,
	}
}

// Forwarder owns the shared HTTP client and bearer token, and runs
// Config.Workers worker goroutines against FindfaceQueue.
type Forwarder struct {
	cfg      Config
	client   *http.Client
	findface *queue.FindfaceQueue
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu    sync.RWMutex
	token string

	mirror *eventmirror.Mirror
	notify NotifyFunc
}

// NotifyFunc is called once per terminal submission outcome, for the Admin
// API's live WebSocket feed. May be nil.
type NotifyFunc func(eventID string, cameraID int, outcome string)

// SetMirror attaches an optional event mirror; nil is valid (mirroring
// stays off). Must be called before RunWorkers starts.
func (f *Forwarder) SetMirror(m *eventmirror.Mirror) { f.mirror = m }

// SetNotifier attaches an optional live-feed callback; nil is valid (no
// WebSocket fan-out). Must be called before RunWorkers starts.
func (f *Forwarder) SetNotifier(fn NotifyFunc) { f.notify = fn }

func (f *Forwarder) notifyOutcome(event *models.Event, outcome string) {
	f.mirror.Publish(event, outcome)
	if f.notify != nil {
		f.notify(event.ID.String(), event.Frame.CameraID, outcome)
	}
}

// NewForwarder constructs a Forwarder with a pooled http.Client sized to
// MaxConnections, keep-alive enabled.
func NewForwarder(cfg Config, findface *queue.FindfaceQueue, logger *slog.Logger, metrics *observability.Metrics) *Forwarder {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxConnections,
		MaxConnsPerHost:     cfg.MaxConnections,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Forwarder{
		cfg:      cfg,
		client:   &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		findface: findface,
		logger:   logger,
		metrics:  metrics,
	}
}

// Login obtains the bearer token used by every subsequent submission. Must
// succeed at orchestrator startup; its failure is a startup failure (exit
// code 2), not a per-submission retry.
func (f *Forwarder) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"user":     f.cfg.User,
		"password": f.cfg.Password,
		"uuid":     f.cfg.UUID,
	})
	if err != nil {
		return fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL+"/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("login rejected: status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}

	f.mu.Lock()
	f.token = payload.Token
	f.mu.Unlock()
	return nil
}

func (f *Forwarder) bearerToken() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token
}

// RunWorkers launches Config.Workers goroutines draining FindfaceQueue and
// blocks until all of them return (ctx done and queue drained).
func (f *Forwarder) RunWorkers(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < f.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			f.runWorker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (f *Forwarder) runWorker(ctx context.Context, workerID int) {
	for {
		event, ok := f.findface.Get(ctx)
		if !ok {
			return
		}
		f.submitWithRetry(ctx, event)
	}
}

// submitWithRetry submits event, retrying transient failures with bounded
// exponential backoff up to MaxRetries times. Permanent failures (4xx) are
// logged and dropped without retry.
func (f *Forwarder) submitWithRetry(ctx context.Context, event *models.Event) {
	backoff := f.cfg.BaseBackoff
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		start := time.Now()
		outcome, err := f.submit(ctx, event)
		f.metrics.ForwardDuration.Observe(time.Since(start).Seconds())

		switch outcome {
		case outcomeSuccess:
			f.metrics.ForwardAttempts.WithLabelValues("success").Inc()
			f.notifyOutcome(event, "success")
			return
		case outcomePermanent:
			f.metrics.ForwardAttempts.WithLabelValues("permanent_drop").Inc()
			f.logger.Warn("permanent upstream rejection, dropping event", "event_id", event.ID, "error", err)
			f.notifyOutcome(event, "permanent_drop")
			return
		case outcomeTransient:
			f.metrics.ForwardAttempts.WithLabelValues("transient_retry").Inc()
			if attempt == f.cfg.MaxRetries {
				f.logger.Warn("exhausted retries, dropping event", "event_id", event.ID, "error", err)
				f.notifyOutcome(event, "transient_exhausted")
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
}

// cropFaceJPEG decodes frame's JPEG buffer, crops it to bbox (clamped to the
// frame bounds), and re-encodes the crop as its own JPEG — the wire protocol
// (§6) carries the face crop, never the full frame.
func cropFaceJPEG(frame *models.Frame, bbox models.BoundingBox) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame.Pixels))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	rect := image.Rect(int(bbox.X1), int(bbox.Y1), int(bbox.X2), int(bbox.Y2)).Intersect(img.Bounds())
	if rect.Empty() {
		rect = img.Bounds()
	}

	sub, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	})
	if !ok {
		return nil, fmt.Errorf("frame image type %T does not support cropping", img)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, sub.SubImage(rect), nil); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

type submitOutcome int

const (
	outcomeSuccess submitOutcome = iota
	outcomeTransient
	outcomePermanent
)

// submit performs one multipart POST attempt per §6's wire protocol.
func (f *Forwarder) submit(ctx context.Context, event *models.Event) (submitOutcome, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	_ = writer.WriteField("event_id", event.ID.String())
	_ = writer.WriteField("camera_id", strconv.Itoa(event.Frame.CameraID))
	_ = writer.WriteField("timestamp", event.Timestamp.Format(time.RFC3339))
	bbox := event.BBox
	_ = writer.WriteField("bbox", fmt.Sprintf("%d,%d,%d,%d", int(bbox.X1), int(bbox.Y1), int(bbox.X2), int(bbox.Y2)))

	crop, err := cropFaceJPEG(event.Frame, bbox)
	if err != nil {
		return outcomePermanent, fmt.Errorf("crop face image: %w", err)
	}

	part, err := writer.CreateFormFile("image", event.ID.String()+".jpg")
	if err != nil {
		return outcomePermanent, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(crop); err != nil {
		return outcomePermanent, fmt.Errorf("write image part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return outcomePermanent, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL+"/submit", &buf)
	if err != nil {
		return outcomePermanent, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.bearerToken())

	resp, err := f.client.Do(req)
	if err != nil {
		return outcomeTransient, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		return outcomeSuccess, nil
	case resp.StatusCode/100 == 4:
		return outcomePermanent, fmt.Errorf("status %d", resp.StatusCode)
	default:
		return outcomeTransient, fmt.Errorf("status %d", resp.StatusCode)
	}
}

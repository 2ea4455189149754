// Package eventmirror optionally republishes finalized-track submissions to
// a NATS JetStream stream for external observers, entirely decoupled from
// the hot path: the Forwarder hands it each submission outcome after
// handling it, and each publish runs on its own goroutine so a slow or
// unavailable NATS never blocks the pipeline. Grounded on the teacher's
// internal/queue/producer.go JetStream wiring, repurposed from a
// work-queue producer into a fire-and-forget fan-out mirror.
package eventmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facewatch/internal/models"
)

const (
	streamName  = "FACEWATCH_SUBMISSIONS"
	subjectBase = "facewatch.submissions"
)

// Mirror publishes a best-effort copy of every submission outcome. A nil
// Mirror (Disabled) is a valid no-op value so the Orchestrator can wire it
// unconditionally and skip only the connection attempt when disabled.
type Mirror struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// Connect dials natsURL and ensures the mirror stream exists. Failure here
// is logged and treated as the mirror staying disabled — per the spec, this
// component is decoupled from the hot path and must never gate startup.
func Connect(ctx context.Context, natsURL string, logger *slog.Logger) *Mirror {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		logger.Warn("event mirror disabled: nats connect failed", "error", err)
		return nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		logger.Warn("event mirror disabled: jetstream context failed", "error", err)
		nc.Close()
		return nil
	}

	m := &Mirror{nc: nc, js: js, logger: logger}
	if err := m.ensureStream(ctx); err != nil {
		logger.Warn("event mirror disabled: stream setup failed", "error", err)
		nc.Close()
		return nil
	}
	return m
}

func (m *Mirror) ensureStream(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := m.js.CreateOrUpdateStream(opCtx, jetstream.StreamConfig{
		Name:        streamName,
		Subjects:    []string{subjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1_000_000,
		Storage:     jetstream.FileStorage,
		Description: "Mirror of finalized-track submissions, for external observers",
	})
	return err
}

type submissionRecord struct {
	EventID    string    `json:"event_id"`
	CameraID   int       `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float32   `json:"confidence"`
	Outcome    string    `json:"outcome"`
}

// Publish fires a best-effort JetStream publish. Errors are logged, never
// returned to the Forwarder — a slow or down NATS must never add latency to
// the submission hot path.
func (m *Mirror) Publish(event *models.Event, outcome string) {
	if m == nil {
		return
	}
	rec := submissionRecord{
		EventID:    event.ID.String(),
		CameraID:   event.Frame.CameraID,
		Timestamp:  event.Timestamp,
		Confidence: event.Confidence,
		Outcome:    outcome,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		m.logger.Warn("event mirror marshal failed", "error", err)
		return
	}

	subject := fmt.Sprintf("%s.%d", subjectBase, event.Frame.CameraID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := m.js.Publish(ctx, subject, payload); err != nil {
			m.logger.Warn("event mirror publish failed", "error", err)
		}
	}()
}

// Close releases the NATS connection. Safe to call on a nil Mirror.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.nc.Close()
}

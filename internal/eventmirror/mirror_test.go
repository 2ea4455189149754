package eventmirror

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facewatch/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent() *models.Event {
	return &models.Event{
		ID:         uuid.New(),
		Frame:      &models.Frame{CameraID: 1},
		Timestamp:  time.Now(),
		Confidence: 0.9,
	}
}

// A nil *Mirror is the value used whenever NATS is unconfigured or Connect
// failed; every exported method must tolerate it so the Forwarder can call
// through it unconditionally.
func TestMirror_NilMirrorIsSafe(t *testing.T) {
	var m *Mirror

	m.Publish(testEvent(), "success")
	m.Close()
}

func TestConnect_UnreachableServerDisablesMirrorWithoutBlocking(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan *Mirror, 1)
	go func() {
		done <- Connect(ctx, "nats://127.0.0.1:1", discardLogger())
	}()

	select {
	case m := <-done:
		if m != nil {
			m.Close()
			t.Fatal("Connect to an unreachable server should return a nil, disabled Mirror")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Connect must not block startup when NATS is unreachable")
	}
}

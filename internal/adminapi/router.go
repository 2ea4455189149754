// Package adminapi exposes a read-only Gin HTTP+WebSocket surface over the
// pipeline's live state: health, queue depths, per-camera track status, and
// a live submission feed. Grounded on the teacher's internal/api router —
// same gin.New + cors.Default + Prometheus /metrics shape — repurposed from
// a read/write face-gallery CRUD API into a read-only observability surface
// matching this system's Non-goals (no persistent storage, nothing to
// mutate).
package adminapi

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facewatch/internal/camera"
	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/queue"
)

// QueueDepths is a read-only view of the three pipeline queues' current
// depths, for /v1/cameras.
type QueueDepths struct {
	Frames   *queue.FrameQueue
	Events   *queue.EventQueue
	Findface *queue.FindfaceQueue
}

// RouterConfig wires the Admin API to the live pipeline state it reports
// on. Nothing here is mutated by any handler.
type RouterConfig struct {
	APIKey   string
	Ready    *atomic.Bool
	Cameras  camera.Repository
	Registry *models.TrackRegistry
	Queues   QueueDepths
	Hub      *Hub
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// NewRouter builds the Admin API's gin.Engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))
	r.Use(cors.Default())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		if cfg.Ready == nil || !cfg.Ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(APIKeyMiddleware(cfg.APIKey))

	v1.GET("/ws", cfg.Hub.HandleWS)
	v1.GET("/cameras", handleListCameras(cfg))
	v1.GET("/tracks", handleListTracks(cfg))

	return r
}

type cameraStatus struct {
	CameraID     int `json:"camera_id"`
	ActiveTracks int `json:"active_tracks"`
}

func handleListCameras(cfg RouterConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		cams, err := cfg.Cameras.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		out := make([]cameraStatus, 0, len(cams))
		for _, cam := range cams {
			active := 0
			for _, t := range cfg.Registry.AllTracks(cam.ID) {
				if !t.Finalized() {
					active++
				}
			}
			out = append(out, cameraStatus{CameraID: cam.ID, ActiveTracks: active})
		}

		c.JSON(http.StatusOK, gin.H{
			"cameras": out,
			"queues": gin.H{
				"frame_queue_depth":    cfg.Queues.Frames.Len(),
				"event_queue_depth":    cfg.Queues.Events.Len(),
				"findface_queue_depth": cfg.Queues.Findface.Len(),
			},
		})
	}
}

type trackStatus struct {
	TrackID                string    `json:"track_id"`
	CameraID               int       `json:"camera_id"`
	Finalized              bool      `json:"finalized"`
	FrameCount             int       `json:"frame_count"`
	FramesWithoutDetection int       `json:"frames_without_detection"`
	LastSeen               time.Time `json:"last_seen"`
}

func handleListTracks(cfg RouterConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var out []trackStatus
		for _, camID := range cfg.Registry.Cameras() {
			for _, t := range cfg.Registry.AllTracks(camID) {
				snap := t.Snapshot()
				out = append(out, trackStatus{
					TrackID:                t.ID.String(),
					CameraID:               t.CameraID,
					Finalized:              snap.Finalized,
					FrameCount:             snap.FrameCount,
					FramesWithoutDetection: snap.FramesWithoutDetection,
					LastSeen:               snap.Last.Timestamp,
				})
			}
		}
		c.JSON(http.StatusOK, gin.H{"tracks": out})
	}
}

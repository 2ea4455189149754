// Package observability defines the Prometheus metrics exported by every
// pipeline stage, and the Admin API's HTTP instrumentation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the pipeline stages report to. Held as a
// struct (rather than package-level vars) so the Orchestrator can register
// against a registry of its own choosing and tests can use a throwaway
// registry without colliding with a prior instance.
type Metrics struct {
	FramesIngested   *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	EventsDetected   *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	TracksCreated    prometheus.Counter
	TracksFinalized  prometheus.Counter
	TracksReclaimed  prometheus.Counter
	FindfaceDropped  prometheus.Counter
	ForwardAttempts  *prometheus.CounterVec
	ForwardDuration  prometheus.Histogram
	RegistryLockHold prometheus.Histogram
	QueueDepth       *prometheus.GaugeVec
	LogsDropped      prometheus.Counter
	ReclaimTicks     prometheus.Counter
	ObjectsReclaimed prometheus.Counter
	WSConnections    prometheus.Gauge
	HTTPDuration     *prometheus.HistogramVec
}

// NewMetrics registers every collector against reg and returns the bundle.
// Pass prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "frames_ingested_total",
			Help:      "Total frames pulled from RTSP sources.",
		}, []string{"camera_id"}),

		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "frames_dropped_total",
			Help:      "Total frames evicted from FrameQueue by drop-oldest.",
		}, []string{"camera_id"}),

		EventsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "events_detected_total",
			Help:      "Total face detection Events produced.",
		}, []string{"camera_id"}),

		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "events_dropped_total",
			Help:      "Total Events dropped after EventQueue put timeout.",
		}),

		TracksCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "tracks_created_total",
			Help:      "Total Tracks created by the association algorithm.",
		}),

		TracksFinalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "tracks_finalized_total",
			Help:      "Total Tracks transitioned to finalized.",
		}),

		TracksReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "tracks_reclaimed_total",
			Help:      "Total finalized Tracks removed from the registry after TTL.",
		}),

		FindfaceDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "findface_dropped_total",
			Help:      "Total finalized-track submissions dropped on a full FindfaceQueue.",
		}),

		ForwardAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "forward_attempts_total",
			Help:      "Submission outcomes against the recognition service.",
		}, []string{"outcome"}), // success, transient_retry, permanent_drop

		ForwardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "facewatch",
			Name:      "forward_duration_seconds",
			Help:      "Duration of a single submission attempt.",
			Buckets:   prometheus.DefBuckets,
		}),

		RegistryLockHold: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "facewatch",
			Name:      "registry_lock_hold_seconds",
			Help:      "Duration the TrackRegistry mutex was held per acquisition.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "facewatch",
			Name:      "queue_depth",
			Help:      "Current depth of a pipeline queue.",
		}, []string{"queue"}),

		LogsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "logs_dropped_total",
			Help:      "Total log records dropped by AsyncLogger on a full queue.",
		}),

		ReclaimTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "reclaim_ticks_total",
			Help:      "Total BackgroundReclaimer ticks executed.",
		}),

		ObjectsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "facewatch",
			Name:      "objects_reclaimed_total",
			Help:      "Cumulative objects_reclaimed reported by BackgroundReclaimer ticks.",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "facewatch",
			Name:      "ws_connections",
			Help:      "Active Admin API WebSocket connections.",
		}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "facewatch",
			Name:      "http_request_duration_seconds",
			Help:      "Admin API HTTP request duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// ObserveRegistryLockHold records how long a single TrackRegistry mutex
// acquisition held the lock, feeding Testable Property 6 (≤5ms average per
// Event across any 1s window).
func (m *Metrics) ObserveRegistryLockHold(d time.Duration) {
	m.RegistryLockHold.Observe(d.Seconds())
}

func (m *Metrics) IncTracksCreated()        { m.TracksCreated.Inc() }
func (m *Metrics) IncTracksFinalized()      { m.TracksFinalized.Inc() }
func (m *Metrics) AddTracksReclaimed(n int) { m.TracksReclaimed.Add(float64(n)) }
func (m *Metrics) IncFindfaceDropped()      { m.FindfaceDropped.Inc() }

func (m *Metrics) SetQueueDepth(name string, n int) {
	m.QueueDepth.WithLabelValues(name).Set(float64(n))
}

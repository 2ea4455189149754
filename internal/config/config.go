// Package config loads the structured YAML configuration document (§6's
// processing/performance/yolo/tracking/filter/track/queues/logging/camera
// sections) and applies the FINDFACE_* environment variable overrides,
// grounded on the teacher's gopkg.in/yaml.v3 load-then-override pattern.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Processing ProcessingConfig `yaml:"processing"`
	Performance PerformanceConfig `yaml:"performance"`
	YOLO       YOLOConfig       `yaml:"yolo"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Filter     FilterConfig     `yaml:"filter"`
	Track      TrackConfig      `yaml:"track"`
	Queues     QueuesConfig     `yaml:"queues"`
	Logging    LoggingConfig    `yaml:"logging"`
	Camera     CameraConfig     `yaml:"camera"`

	GCIntervalSeconds  float64 `yaml:"gc_interval_seconds"`
	TracksTTLSeconds   int     `yaml:"tracks_ttl_seconds"`
	FindfaceWorkers    int     `yaml:"findface_workers"`
	DrainTimeoutSeconds int    `yaml:"drain_timeout_seconds"`

	Findface FindfaceConfig `yaml:"-"` // populated from environment only
}

type ProcessingConfig struct {
	CPUBatchSize int   `yaml:"cpu_batch_size"`
	GPUBatchSize int   `yaml:"gpu_batch_size"`
	GPUDevices   []int `yaml:"gpu_devices"`
}

type PerformanceConfig struct {
	DetectionSkipFrames int `yaml:"detection_skip_frames"`
	InferenceSize       int `yaml:"inference_size"`
}

type YOLOConfig struct {
	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
	IOUThreshold        float32 `yaml:"iou_threshold"`
}

type TrackingConfig struct {
	IOUThreshold float32 `yaml:"iou_threshold"`
	MaxAge       int     `yaml:"max_age"`
	MinHits      int     `yaml:"min_hits"`
	MaxFrames    int     `yaml:"max_frames"`
}

type FilterConfig struct {
	MinBBoxWidth  float32 `yaml:"min_bbox_width"`
	MinConfidence float32 `yaml:"min_confidence"`
}

type TrackConfig struct {
	MinMovementPercentage float64 `yaml:"min_movement_percentage"`
	MinMovementPixels     float64 `yaml:"min_movement_pixels"`
}

type QueuesConfig struct {
	FrameQueueMaxSize    int `yaml:"frame_queue_max_size"`
	EventQueueMaxSize    int `yaml:"event_queue_max_size"`
	FindfaceQueueMaxSize int `yaml:"findface_queue_max_size"`
}

type CameraConfig struct {
	Prefix             string        `yaml:"prefix"`
	RTSPReconnectDelay int           `yaml:"rtsp_reconnect_delay"`
	RTSPMaxRetries     int           `yaml:"rtsp_max_retries"`
	Sources            []CameraEntry `yaml:"sources"`
}

// CameraEntry is one statically configured camera. Camera enumeration is a
// black-box external collaborator per §3 — this is the minimal static
// source the camera.Repository reads at startup; a deployment backed by a
// real camera-management service would implement camera.Repository
// directly instead of populating this list.
type CameraEntry struct {
	ID      int    `yaml:"id"`
	RTSPURL string `yaml:"rtsp_url"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
}

type LoggingConfig struct {
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Level      string `yaml:"level"`
}

// FindfaceConfig holds the recognition service's credentials. Populated
// exclusively from environment variables, never from the config file, per
// §6.
type FindfaceConfig struct {
	URL      string
	User     string
	Password string
	UUID     string
}

// Load reads the YAML document at path, fills in documented defaults for
// any unset field, and applies FINDFACE_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Processing.CPUBatchSize == 0 {
		cfg.Processing.CPUBatchSize = 1
	}
	if cfg.Processing.GPUBatchSize == 0 {
		cfg.Processing.GPUBatchSize = 32
	}
	if len(cfg.Processing.GPUDevices) == 0 {
		cfg.Processing.GPUDevices = []int{0}
	}
	if cfg.Performance.DetectionSkipFrames == 0 {
		cfg.Performance.DetectionSkipFrames = 2
	}
	if cfg.Performance.InferenceSize == 0 {
		cfg.Performance.InferenceSize = 640
	}
	if cfg.YOLO.ConfidenceThreshold == 0 {
		cfg.YOLO.ConfidenceThreshold = 0.5
	}
	if cfg.YOLO.IOUThreshold == 0 {
		cfg.YOLO.IOUThreshold = 0.45
	}
	if cfg.Tracking.IOUThreshold == 0 {
		cfg.Tracking.IOUThreshold = 0.3
	}
	if cfg.Tracking.MaxAge == 0 {
		cfg.Tracking.MaxAge = 30
	}
	if cfg.Tracking.MinHits == 0 {
		cfg.Tracking.MinHits = 3
	}
	if cfg.Tracking.MaxFrames == 0 {
		cfg.Tracking.MaxFrames = 500
	}
	if cfg.Filter.MinBBoxWidth == 0 {
		cfg.Filter.MinBBoxWidth = 30
	}
	if cfg.Filter.MinConfidence == 0 {
		cfg.Filter.MinConfidence = 0.5
	}
	if cfg.Track.MinMovementPercentage == 0 {
		cfg.Track.MinMovementPercentage = 0.1
	}
	if cfg.Track.MinMovementPixels == 0 {
		cfg.Track.MinMovementPixels = 50.0
	}
	if cfg.Queues.FrameQueueMaxSize == 0 {
		cfg.Queues.FrameQueueMaxSize = 100
	}
	if cfg.Queues.EventQueueMaxSize == 0 {
		cfg.Queues.EventQueueMaxSize = 1000
	}
	if cfg.Queues.FindfaceQueueMaxSize == 0 {
		cfg.Queues.FindfaceQueueMaxSize = 100
	}
	if cfg.Camera.RTSPReconnectDelay == 0 {
		cfg.Camera.RTSPReconnectDelay = 5
	}
	if cfg.Camera.RTSPMaxRetries == 0 {
		cfg.Camera.RTSPMaxRetries = 3
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = "application.log"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.GCIntervalSeconds == 0 {
		cfg.GCIntervalSeconds = 5.0
	}
	if cfg.TracksTTLSeconds == 0 {
		cfg.TracksTTLSeconds = 30
	}
	if cfg.FindfaceWorkers == 0 {
		cfg.FindfaceWorkers = 2
	}
	if cfg.DrainTimeoutSeconds == 0 {
		cfg.DrainTimeoutSeconds = 10
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Findface = FindfaceConfig{
		URL:      os.Getenv("FINDFACE_URL"),
		User:     os.Getenv("FINDFACE_USER"),
		Password: os.Getenv("FINDFACE_PASSWORD"),
		UUID:     os.Getenv("FINDFACE_UUID"),
	}

	if v := os.Getenv("FACEWATCH_CAMERA_PREFIX"); v != "" {
		cfg.Camera.Prefix = v
	}
	if v := os.Getenv("FACEWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FACEWATCH_GPU_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Processing.GPUBatchSize = n
		}
	}
	if v := os.Getenv("FACEWATCH_FINDFACE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FindfaceWorkers = n
		}
	}
}

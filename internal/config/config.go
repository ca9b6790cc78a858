package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vzahanych/footfall-counter/internal/geometry"
)

// Config represents the application configuration
type Config struct {
	Counter CounterConfig `yaml:"counter"`
	Log     LogConfig     `yaml:"log,omitempty"`
}

// CounterConfig contains the counting service configuration
type CounterConfig struct {
	DataDir     string            `yaml:"data_dir"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Relay       RelayConfig       `yaml:"relay"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Counting    CountingConfig    `yaml:"counting"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Web         WebConfig         `yaml:"web"`
	Health      HealthConfig      `yaml:"health"`
	Retention   RetentionConfig   `yaml:"retention"`
	Cameras     []CameraConfig    `yaml:"cameras"`
}

// SupervisorConfig controls the live session scheduler
type SupervisorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// IngestConfig controls the raw frame pipeline
type IngestConfig struct {
	FFmpegPath        string        `yaml:"ffmpeg_path"`
	FFprobePath       string        `yaml:"ffprobe_path"`
	FrameRate         int           `yaml:"frame_rate"`
	RTSPTransport     string        `yaml:"rtsp_transport"`
	ReconnectCooldown time.Duration `yaml:"reconnect_cooldown"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	SkipRTSPProbe     bool          `yaml:"skip_rtsp_probe"`
	DefaultWidth      int           `yaml:"default_width"`
	DefaultHeight     int           `yaml:"default_height"`
	HWAccel           bool          `yaml:"hwaccel"`
}

// RelayConfig contains the stream relay (go2rtc) configuration
type RelayConfig struct {
	Enabled            bool          `yaml:"enabled"`
	APIURL             string        `yaml:"api_url"`
	RTSPURL            string        `yaml:"rtsp_url"`
	Timeout            time.Duration `yaml:"timeout"`
	SnapshotAttempts   int           `yaml:"snapshot_attempts"`
	SnapshotRetryDelay time.Duration `yaml:"snapshot_retry_delay"`
}

// TrackerConfig contains the detection and tracking service configuration
type TrackerConfig struct {
	ServiceURL          string        `yaml:"service_url"`
	Timeout             time.Duration `yaml:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	JPEGQuality         int           `yaml:"jpeg_quality"`
	GRPCHealthAddr      string        `yaml:"grpc_health_addr"`
}

// CountingConfig contains the line-crossing classification settings
type CountingConfig struct {
	Strategy      string   `yaml:"strategy"`
	SideTest      string   `yaml:"side_test"`
	FallbackLabel string   `yaml:"fallback_label"`
	ClassNames    []string `yaml:"class_names"`
}

// AggregationConfig controls count persistence and the preview feed
type AggregationConfig struct {
	FlushInterval       time.Duration `yaml:"flush_interval"`
	PreviewQueueSize    int           `yaml:"preview_queue_size"`
	PreviewWidth        int           `yaml:"preview_width"`
	PreviewJPEGQuality  int           `yaml:"preview_jpeg_quality"`
	MonitorFrameTimeout time.Duration `yaml:"monitor_frame_timeout"`
}

// WebConfig contains web server configuration
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HealthConfig contains health endpoint configuration
type HealthConfig struct {
	Port int `yaml:"port"`
}

// RetentionConfig controls pruning of finished recordings. Zero days keeps
// them forever.
type RetentionConfig struct {
	Days     int           `yaml:"days"`
	Interval time.Duration `yaml:"interval"`
}

// CameraConfig describes a camera seeded into the camera store at startup
type CameraConfig struct {
	ID                  string       `yaml:"id"`
	Name                string       `yaml:"name"`
	RTSPURL             string       `yaml:"rtsp_url"`
	Disabled            bool         `yaml:"disabled"`
	ProcessingStartTime string       `yaml:"processing_start_time"`
	ProcessingEndTime   string       `yaml:"processing_end_time"`
	Lines               *LinesConfig `yaml:"lines,omitempty"`
}

// LinesConfig is the line configuration of a camera. Points may be written
// as {x, y} mappings or [x, y] pairs.
type LinesConfig struct {
	Entrant  geometry.Polyline `yaml:"entrant"`
	Passerby geometry.Polyline `yaml:"passerby"`
	InSide   string            `yaml:"in_side"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/footfall.dev.yaml",
		"./config/footfall.yaml",
		"../config/footfall.yaml",
		"/etc/footfall-counter/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return the first default if none found (will error later)
	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	cc := &c.Counter
	if cc.DataDir == "" {
		cc.DataDir = "./data"
	}

	if cc.Supervisor.PollInterval == 0 {
		cc.Supervisor.PollInterval = 60 * time.Second
	}
	if cc.Supervisor.StopTimeout == 0 {
		cc.Supervisor.StopTimeout = 10 * time.Second
	}

	if cc.Ingest.FFmpegPath == "" {
		cc.Ingest.FFmpegPath = "ffmpeg"
	}
	if cc.Ingest.FFprobePath == "" {
		cc.Ingest.FFprobePath = "ffprobe"
	}
	if cc.Ingest.FrameRate == 0 {
		cc.Ingest.FrameRate = 15
	}
	if cc.Ingest.RTSPTransport == "" {
		cc.Ingest.RTSPTransport = "tcp"
	}
	if cc.Ingest.ReconnectCooldown == 0 {
		cc.Ingest.ReconnectCooldown = 2 * time.Second
	}
	if cc.Ingest.ProbeTimeout == 0 {
		cc.Ingest.ProbeTimeout = 10 * time.Second
	}
	if cc.Ingest.DefaultWidth == 0 {
		cc.Ingest.DefaultWidth = 1920
	}
	if cc.Ingest.DefaultHeight == 0 {
		cc.Ingest.DefaultHeight = 1080
	}

	if cc.Relay.APIURL == "" {
		cc.Relay.APIURL = "http://localhost:1984"
	}
	if cc.Relay.RTSPURL == "" {
		cc.Relay.RTSPURL = "rtsp://localhost:8554"
	}
	if cc.Relay.Timeout == 0 {
		cc.Relay.Timeout = 5 * time.Second
	}
	if cc.Relay.SnapshotAttempts == 0 {
		cc.Relay.SnapshotAttempts = 5
	}
	if cc.Relay.SnapshotRetryDelay == 0 {
		cc.Relay.SnapshotRetryDelay = 1500 * time.Millisecond
	}

	if cc.Tracker.ServiceURL == "" {
		cc.Tracker.ServiceURL = "http://localhost:8000"
	}
	if cc.Tracker.Timeout == 0 {
		cc.Tracker.Timeout = 10 * time.Second
	}
	if cc.Tracker.ConfidenceThreshold == 0 {
		cc.Tracker.ConfidenceThreshold = 0.25
	}
	if cc.Tracker.JPEGQuality == 0 {
		cc.Tracker.JPEGQuality = 90
	}

	if cc.Counting.Strategy == "" {
		cc.Counting.Strategy = "side_change"
	}
	if cc.Counting.SideTest == "" {
		cc.Counting.SideTest = "chord"
	}
	if cc.Counting.FallbackLabel == "" {
		cc.Counting.FallbackLabel = "Person"
	}
	if len(cc.Counting.ClassNames) == 0 {
		cc.Counting.ClassNames = []string{cc.Counting.FallbackLabel}
	}

	if cc.Aggregation.FlushInterval == 0 {
		cc.Aggregation.FlushInterval = 2 * time.Second
	}
	if cc.Aggregation.PreviewQueueSize == 0 {
		cc.Aggregation.PreviewQueueSize = 2
	}
	if cc.Aggregation.PreviewWidth == 0 {
		cc.Aggregation.PreviewWidth = 960
	}
	if cc.Aggregation.PreviewJPEGQuality == 0 {
		cc.Aggregation.PreviewJPEGQuality = 75
	}
	if cc.Aggregation.MonitorFrameTimeout == 0 {
		cc.Aggregation.MonitorFrameTimeout = 5 * time.Second
	}

	if cc.Web.Host == "" {
		cc.Web.Host = "0.0.0.0"
	}
	if cc.Web.Port == 0 {
		cc.Web.Port = 8081
	}
	if cc.Health.Port == 0 {
		cc.Health.Port = 8080
	}
	if cc.Retention.Interval == 0 {
		cc.Retention.Interval = time.Hour
	}

	for i := range cc.Cameras {
		if cc.Cameras[i].Name == "" {
			cc.Cameras[i].Name = cc.Cameras[i].ID
		}
	}
}

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	cfg, err := loadAndValidate(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

func loadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file. The old configuration stays
// active when the new one fails to load or validate.
func (s *Service) Reload(ctx context.Context) error {
	newConfig, err := loadAndValidate(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	s.mu.Lock()
	oldConfig := s.config
	s.config = newConfig
	watchers := append([]ConfigWatcher(nil), s.watchers...)
	s.mu.Unlock()

	for _, watcher := range watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath, "cameras", len(newConfig.Counter.Cameras))
	return nil
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// applyEnvOverrides applies FOOTFALL_* and LOG_* environment overrides
func applyEnvOverrides(cfg *Config) {
	cc := &cfg.Counter

	cc.DataDir = GetEnvWithDefault("FOOTFALL_DATA_DIR", cc.DataDir)
	cc.Supervisor.PollInterval = GetEnvDuration("FOOTFALL_POLL_INTERVAL", cc.Supervisor.PollInterval)
	cc.Supervisor.StopTimeout = GetEnvDuration("FOOTFALL_STOP_TIMEOUT", cc.Supervisor.StopTimeout)

	cc.Ingest.FFmpegPath = GetEnvWithDefault("FOOTFALL_FFMPEG_PATH", cc.Ingest.FFmpegPath)
	cc.Ingest.FFprobePath = GetEnvWithDefault("FOOTFALL_FFPROBE_PATH", cc.Ingest.FFprobePath)
	cc.Ingest.FrameRate = GetEnvInt("FOOTFALL_FRAME_RATE", cc.Ingest.FrameRate)
	cc.Ingest.ReconnectCooldown = GetEnvDuration("FOOTFALL_RECONNECT_COOLDOWN", cc.Ingest.ReconnectCooldown)

	cc.Relay.Enabled = GetEnvBool("FOOTFALL_RELAY_ENABLED", cc.Relay.Enabled)
	cc.Relay.APIURL = GetEnvWithDefault("FOOTFALL_RELAY_API_URL", cc.Relay.APIURL)
	cc.Relay.RTSPURL = GetEnvWithDefault("FOOTFALL_RELAY_RTSP_URL", cc.Relay.RTSPURL)

	cc.Tracker.ServiceURL = GetEnvWithDefault("FOOTFALL_TRACKER_URL", cc.Tracker.ServiceURL)
	cc.Tracker.ConfidenceThreshold = GetEnvFloat64("FOOTFALL_TRACKER_CONFIDENCE", cc.Tracker.ConfidenceThreshold)
	cc.Tracker.GRPCHealthAddr = GetEnvWithDefault("FOOTFALL_TRACKER_GRPC_HEALTH_ADDR", cc.Tracker.GRPCHealthAddr)

	if val := os.Getenv("FOOTFALL_CLASS_NAMES"); val != "" {
		classes := strings.Split(val, ",")
		for i := range classes {
			classes[i] = strings.TrimSpace(classes[i])
		}
		cc.Counting.ClassNames = classes
	}

	cc.Web.Enabled = GetEnvBool("FOOTFALL_WEB_ENABLED", cc.Web.Enabled)
	cc.Web.Port = GetEnvInt("FOOTFALL_WEB_PORT", cc.Web.Port)
	cc.Health.Port = GetEnvInt("FOOTFALL_HEALTH_PORT", cc.Health.Port)
	cc.Retention.Days = GetEnvInt("FOOTFALL_RETENTION_DAYS", cc.Retention.Days)

	cfg.Log.Level = GetEnvWithDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetEnvWithDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = GetEnvWithDefault("LOG_OUTPUT", cfg.Log.Output)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(val, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}

// GetEnvFloat64 gets a float64 environment variable
func GetEnvFloat64(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(val, "%f", &result); err != nil {
		return defaultValue
	}
	return result
}

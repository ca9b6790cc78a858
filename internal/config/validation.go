package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vzahanych/footfall-counter/internal/geometry"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string
	cc := &c.Counter

	if cc.DataDir == "" {
		errors = append(errors, "counter.data_dir is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if cc.Supervisor.PollInterval <= 0 {
		errors = append(errors, fmt.Sprintf("supervisor.poll_interval must be > 0, got: %v", cc.Supervisor.PollInterval))
	}
	if cc.Supervisor.StopTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("supervisor.stop_timeout must be > 0, got: %v", cc.Supervisor.StopTimeout))
	}

	if cc.Ingest.FrameRate <= 0 {
		errors = append(errors, fmt.Sprintf("ingest.frame_rate must be > 0, got: %d", cc.Ingest.FrameRate))
	}
	if cc.Ingest.RTSPTransport != "tcp" && cc.Ingest.RTSPTransport != "udp" {
		errors = append(errors, fmt.Sprintf("invalid ingest.rtsp_transport: %s (must be: tcp or udp)", cc.Ingest.RTSPTransport))
	}
	if cc.Ingest.ReconnectCooldown < 0 {
		errors = append(errors, fmt.Sprintf("ingest.reconnect_cooldown must be >= 0, got: %v", cc.Ingest.ReconnectCooldown))
	}
	if cc.Ingest.DefaultWidth <= 0 || cc.Ingest.DefaultHeight <= 0 {
		errors = append(errors, fmt.Sprintf("ingest default geometry must be positive, got: %dx%d", cc.Ingest.DefaultWidth, cc.Ingest.DefaultHeight))
	}

	if cc.Relay.Enabled {
		if _, err := url.ParseRequestURI(cc.Relay.APIURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid relay.api_url: %s", cc.Relay.APIURL))
		}
		if !strings.HasPrefix(cc.Relay.RTSPURL, "rtsp://") {
			errors = append(errors, fmt.Sprintf("invalid relay.rtsp_url: %s (must start with rtsp://)", cc.Relay.RTSPURL))
		}
	}
	if cc.Relay.SnapshotAttempts < 1 {
		errors = append(errors, fmt.Sprintf("relay.snapshot_attempts must be >= 1, got: %d", cc.Relay.SnapshotAttempts))
	}

	if cc.Tracker.ServiceURL == "" {
		errors = append(errors, "tracker.service_url is required")
	}
	if cc.Tracker.ConfidenceThreshold < 0 || cc.Tracker.ConfidenceThreshold > 1 {
		errors = append(errors, fmt.Sprintf("tracker.confidence_threshold must be between 0 and 1, got: %.2f", cc.Tracker.ConfidenceThreshold))
	}
	if cc.Tracker.JPEGQuality < 1 || cc.Tracker.JPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("tracker.jpeg_quality must be between 1 and 100, got: %d", cc.Tracker.JPEGQuality))
	}

	if cc.Counting.Strategy != "side_change" && cc.Counting.Strategy != "path_intersection" {
		errors = append(errors, fmt.Sprintf("invalid counting.strategy: %s (must be: side_change or path_intersection)", cc.Counting.Strategy))
	}
	if _, err := geometry.SideFuncByName(cc.Counting.SideTest); err != nil {
		errors = append(errors, fmt.Sprintf("invalid counting.side_test: %s (must be: chord or closest_segment)", cc.Counting.SideTest))
	}

	if cc.Aggregation.FlushInterval <= 0 {
		errors = append(errors, fmt.Sprintf("aggregation.flush_interval must be > 0, got: %v", cc.Aggregation.FlushInterval))
	}
	if cc.Aggregation.PreviewQueueSize < 1 {
		errors = append(errors, fmt.Sprintf("aggregation.preview_queue_size must be >= 1, got: %d", cc.Aggregation.PreviewQueueSize))
	}
	if cc.Aggregation.PreviewJPEGQuality < 1 || cc.Aggregation.PreviewJPEGQuality > 100 {
		errors = append(errors, fmt.Sprintf("aggregation.preview_jpeg_quality must be between 1 and 100, got: %d", cc.Aggregation.PreviewJPEGQuality))
	}

	if cc.Web.Enabled && (cc.Web.Port <= 0 || cc.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("web.port must be between 1 and 65535, got: %d", cc.Web.Port))
	}
	if cc.Health.Port <= 0 || cc.Health.Port > 65535 {
		errors = append(errors, fmt.Sprintf("health.port must be between 1 and 65535, got: %d", cc.Health.Port))
	}

	if cc.Retention.Days < 0 {
		errors = append(errors, fmt.Sprintf("retention.days must be >= 0, got: %d", cc.Retention.Days))
	}
	if cc.Retention.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("retention.interval must be > 0, got: %v", cc.Retention.Interval))
	}

	seen := make(map[string]bool)
	for i, cam := range cc.Cameras {
		prefix := fmt.Sprintf("cameras[%d]", i)
		if cam.ID == "" {
			errors = append(errors, prefix+".id is required")
		} else if seen[cam.ID] {
			errors = append(errors, fmt.Sprintf("%s.id %q is duplicated", prefix, cam.ID))
		}
		seen[cam.ID] = true

		if cam.RTSPURL == "" {
			errors = append(errors, prefix+".rtsp_url is required")
		}
		for field, value := range map[string]string{
			"processing_start_time": cam.ProcessingStartTime,
			"processing_end_time":   cam.ProcessingEndTime,
		} {
			if value == "" {
				continue
			}
			if _, err := time.Parse("15:04", value); err != nil {
				errors = append(errors, fmt.Sprintf("%s.%s must be HH:MM, got: %s", prefix, field, value))
			}
		}
		if cam.Lines != nil && cam.Lines.InSide != "" {
			if _, err := geometry.ParseSide(cam.Lines.InSide); err != nil {
				errors = append(errors, fmt.Sprintf("%s.lines.in_side: %v", prefix, err))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

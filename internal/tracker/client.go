// Package tracker is the client of the detection and tracking service. The
// service keeps one tracker per session so that track ids stay stable across
// the frames of a session.
package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/video"
)

// Client is an HTTP client for the tracking service
type Client struct {
	serviceURL          string
	httpClient          *http.Client
	logger              *logger.Logger
	confidenceThreshold float64
	jpegQuality         int
}

// ClientConfig contains configuration for the tracker client
type ClientConfig struct {
	ServiceURL          string
	Timeout             time.Duration
	ConfidenceThreshold float64
	JPEGQuality         int
}

// NewClient creates a new tracking service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.JPEGQuality == 0 {
		config.JPEGQuality = 90
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:              log,
		confidenceThreshold: config.ConfidenceThreshold,
		jpegQuality:         config.JPEGQuality,
	}
}

// ServiceURL returns the base URL of the tracking service
func (c *Client) ServiceURL() string {
	return c.serviceURL
}

// Track sends one frame and returns the tracks the service reports for it
func (c *Client) Track(ctx context.Context, sessionID, cameraID string, frame *video.Frame) ([]counting.Track, error) {
	jpegData, err := frame.EncodeJPEG(c.jpegQuality)
	if err != nil {
		return nil, err
	}

	req := TrackRequest{
		SessionID:           sessionID,
		CameraID:            cameraID,
		Image:               base64.StdEncoding.EncodeToString(jpegData),
		ConfidenceThreshold: c.confidenceThreshold,
	}

	resp, err := c.track(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Tracks, nil
}

func (c *Client) track(ctx context.Context, req TrackRequest) (*TrackResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/track", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	requestDuration := time.Since(startTime)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn(
			"Tracker returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		return nil, fmt.Errorf("tracker returned status %d: %s", resp.StatusCode, string(body))
	}

	var trackResp TrackResponse
	if err := json.Unmarshal(body, &trackResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.logger.Debug(
		"Tracking completed",
		"session_id", req.SessionID,
		"track_count", len(trackResp.Tracks),
		"inference_time_ms", trackResp.InferenceTimeMs,
		"request_duration_ms", requestDuration.Milliseconds(),
	)

	return &trackResp, nil
}

// Release drops the tracker state the service holds for a session. A
// session the service does not know is not an error.
func (c *Client) Release(ctx context.Context, sessionID string) error {
	endpoint := fmt.Sprintf("%s/api/v1/track/%s", c.serviceURL, url.PathEscape(sessionID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("tracker returned status %d", resp.StatusCode)
	}
}

// HealthCheck checks if the tracking service is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/health", c.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracker health check failed: status %d", resp.StatusCode)
	}

	return nil
}

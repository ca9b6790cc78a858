// Package relay talks to the go2rtc stream relay. Cameras are registered
// under the name camera_<id> and consumed through the relay's local RTSP
// re-stream, which tolerates camera reconnects and serves H.265 snapshots.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

// ErrNoFrame is returned when the relay has no frame for a stream yet
var ErrNoFrame = errors.New("relay has no frame for stream")

// StreamName is the relay stream name of a camera
func StreamName(cameraID string) string {
	return "camera_" + cameraID
}

// ClientConfig contains configuration for the relay client
type ClientConfig struct {
	Enabled            bool
	APIURL             string
	RTSPURL            string
	Timeout            time.Duration
	SnapshotAttempts   int
	SnapshotRetryDelay time.Duration
}

// Client is an HTTP client for the relay API
type Client struct {
	enabled    bool
	apiURL     string
	rtspURL    string
	httpClient *http.Client
	logger     *logger.Logger

	snapshotAttempts   int
	snapshotRetryDelay time.Duration
}

// NewClient creates a new relay client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.SnapshotAttempts <= 0 {
		config.SnapshotAttempts = 5
	}
	if config.SnapshotRetryDelay == 0 {
		config.SnapshotRetryDelay = 1500 * time.Millisecond
	}

	return &Client{
		enabled: config.Enabled,
		apiURL:  strings.TrimRight(config.APIURL, "/"),
		rtspURL: strings.TrimRight(config.RTSPURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:             log,
		snapshotAttempts:   config.SnapshotAttempts,
		snapshotRetryDelay: config.SnapshotRetryDelay,
	}
}

// Enabled reports whether cameras are consumed through the relay
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// APIURL returns the base URL of the relay API
func (c *Client) APIURL() string {
	return c.apiURL
}

// Register adds or replaces the relay stream of a camera. Registering an
// existing stream again is harmless.
func (c *Client) Register(ctx context.Context, cameraID, src string) error {
	if !c.Enabled() {
		return nil
	}

	q := url.Values{}
	q.Set("src", src)
	q.Set("name", StreamName(cameraID))
	endpoint := fmt.Sprintf("%s/api/streams?%s", c.apiURL, q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Debug("Relay stream registered",
		"stream", StreamName(cameraID),
		"src", logger.RedactURL(src),
	)
	return nil
}

// StreamURL returns the URL a session should read for a camera: the relay
// re-stream when the relay is enabled, the camera itself otherwise.
func (c *Client) StreamURL(cameraID, src string) string {
	if !c.Enabled() {
		return src
	}
	return fmt.Sprintf("%s/%s", c.rtspURL, StreamName(cameraID))
}

// Snapshot fetches the latest frame of a registered camera as JPEG. The
// relay needs a moment after registration before it has a frame, so the
// request is retried a few times.
func (c *Client) Snapshot(ctx context.Context, cameraID string) ([]byte, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("relay is disabled")
	}

	var lastErr error
	for attempt := 0; attempt < c.snapshotAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("Retrying relay snapshot",
				"stream", StreamName(cameraID),
				"attempt", attempt+1,
				"max_attempts", c.snapshotAttempts,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.snapshotRetryDelay):
			}
		}

		data, err := c.fetchFrame(ctx, cameraID)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, fmt.Errorf("snapshot failed after %d attempts: %w", c.snapshotAttempts, lastErr)
}

func (c *Client) fetchFrame(ctx context.Context, cameraID string) ([]byte, error) {
	q := url.Values{}
	q.Set("src", StreamName(cameraID))
	endpoint := fmt.Sprintf("%s/api/frame.jpeg?%s", c.apiURL, q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrNoFrame, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if !bytes.HasPrefix(body, []byte{0xff, 0xd8}) {
		return nil, fmt.Errorf("%w: response is not a JPEG", ErrNoFrame)
	}
	return body, nil
}

// HealthCheck checks that the relay API answers
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api", c.apiURL)
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
		return fmt.Errorf("relay health check failed: status %d", resp.StatusCode)
	}
	return nil
}

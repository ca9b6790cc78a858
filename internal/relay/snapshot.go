package relay

import (
	"context"
	"fmt"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

// FrameGrabber captures a single JPEG frame straight from a stream
type FrameGrabber interface {
	CaptureFrameJPEG(ctx context.Context, input, transport string, quality int) ([]byte, error)
}

// Snapshotter produces still images of cameras for line drawing. It asks
// the relay first and grabs a frame directly from the camera when the relay
// is disabled or cannot deliver one.
type Snapshotter struct {
	Relay     *Client
	Grabber   FrameGrabber
	Transport string
	Quality   int
	Logger    *logger.Logger
}

// Snapshot returns a JPEG frame of the camera
func (s *Snapshotter) Snapshot(ctx context.Context, cameraID, rtspURL string) ([]byte, error) {
	if s.Relay.Enabled() {
		if err := s.Relay.Register(ctx, cameraID, rtspURL); err != nil {
			s.Logger.Warn("Failed to register stream with relay", "camera_id", cameraID, "error", err)
		}

		data, err := s.Relay.Snapshot(ctx, cameraID)
		if err == nil {
			return data, nil
		}
		if s.Grabber == nil || ctx.Err() != nil {
			return nil, err
		}
		s.Logger.Warn("Relay snapshot failed, capturing from camera", "camera_id", cameraID, "error", err)
	}

	if s.Grabber == nil {
		return nil, fmt.Errorf("no snapshot source available")
	}
	return s.Grabber.CaptureFrameJPEG(ctx, rtspURL, s.Transport, s.Quality)
}

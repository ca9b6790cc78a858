package tracker

import "github.com/vzahanych/footfall-counter/internal/counting"

// TrackRequest is one frame sent to the tracking service
type TrackRequest struct {
	SessionID           string  `json:"session_id"`           // Tracker state key; ids are stable within it
	CameraID            string  `json:"camera_id"`            // Source camera
	Image               string  `json:"image"`                // Base64-encoded JPEG image
	ConfidenceThreshold float64 `json:"confidence_threshold"` // Minimum detection confidence
}

// TrackResponse is the tracking result for one frame
type TrackResponse struct {
	Tracks          []counting.Track `json:"tracks"`            // Tracked objects in this frame
	InferenceTimeMs float64          `json:"inference_time_ms"` // Detection + tracking duration
}

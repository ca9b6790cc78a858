package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/footfall-counter/internal/preview"
	"github.com/vzahanych/footfall-counter/internal/state"
	"github.com/vzahanych/footfall-counter/internal/supervisor"
)

const snapshotTimeout = 15 * time.Second

func (s *Server) monitorAvailable(c *gin.Context) bool {
	if s.deps.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Supervisor not available"})
		return false
	}
	return true
}

// handleMonitorStream streams the annotated preview of a live session as
// MJPEG until the client disconnects or the session ends
func (s *Server) handleMonitorStream(c *gin.Context) {
	if !s.monitorAvailable(c) {
		return
	}

	cameraID := c.Param("id")
	if _, ok := s.deps.Monitor.Session(cameraID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Camera has no active session"})
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		s.LogError("Streaming not supported", nil, "camera_id", cameraID)
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	s.LogDebug("Monitor stream started", "camera_id", cameraID)
	defer s.LogDebug("Monitor stream ended", "camera_id", cameraID)

	for {
		frame, err := s.deps.Monitor.NextFrame(ctx, cameraID, s.frameTimeout)
		switch {
		case err == nil:
		case errors.Is(err, preview.ErrTimeout):
			continue
		default:
			return
		}

		if _, err := fmt.Fprintf(c.Writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
			return
		}
		if _, err := c.Writer.Write(frame); err != nil {
			return
		}
		if _, err := c.Writer.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleMonitorFrame returns the next annotated preview frame as a JPEG
func (s *Server) handleMonitorFrame(c *gin.Context) {
	if !s.monitorAvailable(c) {
		return
	}

	cameraID := c.Param("id")
	frame, err := s.deps.Monitor.NextFrame(c.Request.Context(), cameraID, s.frameTimeout)
	switch {
	case err == nil:
	case errors.Is(err, supervisor.ErrInactive):
		c.JSON(http.StatusNotFound, gin.H{"error": "Camera has no active session"})
		return
	case errors.Is(err, preview.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "No frame available"})
		return
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", frame)
}

// handleLiveStats reports the counts of a camera. A running session is
// "online" with its in-memory counts, otherwise the latest recording is
// "stopped", and a camera that never ran is "offline".
func (s *Server) handleLiveStats(c *gin.Context) {
	cameraID := c.Param("id")

	if s.deps.Monitor != nil {
		if info, ok := s.deps.Monitor.Session(cameraID); ok {
			c.JSON(http.StatusOK, gin.H{
				"status":      "online",
				"session_id":  info.SessionID,
				"frames":      info.Frames,
				"started_at":  info.StartedAt,
				"data":        info.Counts,
				"server_time": time.Now().Format("15:04:05"),
			})
			return
		}
	}

	if s.deps.Recordings == nil {
		c.JSON(http.StatusOK, gin.H{"status": "offline", "message": "Waiting for the first session"})
		return
	}

	rec, err := s.deps.Recordings.LatestRecording(c.Request.Context(), cameraID)
	if err != nil {
		if errors.Is(err, state.ErrRecordingNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "offline", "message": "Waiting for the first session"})
			return
		}
		s.LogError("Failed to load latest recording", err, "camera_id", cameraID)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "Failed to load recording"})
		return
	}

	var data interface{} = gin.H{}
	if len(rec.Results) > 0 && json.Valid(rec.Results) {
		data = json.RawMessage(rec.Results)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "stopped",
		"session_id":  rec.ID,
		"recording":   rec.Status,
		"data":        data,
		"last_update": rec.UpdatedAt,
	})
}

// handleCameraSnapshot returns a still JPEG of the camera for line drawing
func (s *Server) handleCameraSnapshot(c *gin.Context) {
	if !s.camerasAvailable(c) {
		return
	}
	if s.deps.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Snapshots not available"})
		return
	}

	cam, ok := s.lookupCamera(c)
	if !ok {
		return
	}
	if cam.RTSPURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Camera has no stream URL"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	data, err := s.deps.Snapshots.Snapshot(ctx, cam.ID, cam.RTSPURL)
	if err != nil {
		s.LogWarn("Snapshot failed", "camera_id", cam.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not capture snapshot"})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

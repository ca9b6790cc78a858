package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/footfall-counter/internal/camera"
	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/geometry"
	"github.com/vzahanych/footfall-counter/internal/state"
	"github.com/vzahanych/footfall-counter/internal/supervisor"
)

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "web-server",
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	sessions := []supervisor.SessionInfo{}
	if s.deps.Monitor != nil {
		sessions = append(sessions, s.deps.Monitor.Sessions()...)
	}

	events := map[string]uint64{}
	if s.deps.Events != nil {
		events = s.deps.Events.EventCounts()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"uptime":          uptime.Round(time.Second).String(),
		"uptime_seconds":  int64(uptime.Seconds()),
		"version":         s.version,
		"timestamp":       time.Now().Format(time.RFC3339),
		"active_sessions": len(sessions),
		"sessions":        sessions,
		"events":          events,
	})
}

// cameraRequest is the body of PUT /api/cameras/:id. Omitted fields keep
// their stored value.
type cameraRequest struct {
	Name                *string         `json:"name"`
	RTSPURL             *string         `json:"rtsp_url"`
	Enabled             *bool           `json:"enabled"`
	ProcessingStartTime *string         `json:"processing_start_time"`
	ProcessingEndTime   *string         `json:"processing_end_time"`
	Lines               *counting.Lines `json:"lines"`
}

func (r cameraRequest) apply(cam *camera.Camera) {
	if r.Name != nil {
		cam.Name = *r.Name
	}
	if r.RTSPURL != nil {
		cam.RTSPURL = *r.RTSPURL
	}
	if r.Enabled != nil {
		cam.Enabled = *r.Enabled
	}
	if r.ProcessingStartTime != nil {
		cam.ProcessingStartTime = *r.ProcessingStartTime
	}
	if r.ProcessingEndTime != nil {
		cam.ProcessingEndTime = *r.ProcessingEndTime
	}
	if r.Lines != nil {
		lines := r.Lines.Clone()
		// Same default as the YAML camera list
		if lines.InSide == geometry.Unknown {
			lines.InSide = geometry.Right
		}
		cam.Lines = &lines
	}
}

func (s *Server) camerasAvailable(c *gin.Context) bool {
	if s.deps.Cameras == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Camera manager not available"})
		return false
	}
	return true
}

// handleListCameras handles listing all cameras
func (s *Server) handleListCameras(c *gin.Context) {
	if !s.camerasAvailable(c) {
		return
	}

	cameras, err := s.deps.Cameras.List(c.Request.Context())
	if err != nil {
		s.LogError("Failed to list cameras", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list cameras"})
		return
	}

	enabledOnly := c.Query("enabled") == "true"
	response := make([]gin.H, 0, len(cameras))
	for _, cam := range cameras {
		if enabledOnly && !cam.Enabled {
			continue
		}
		response = append(response, s.cameraToJSON(cam))
	}

	c.JSON(http.StatusOK, gin.H{
		"cameras": response,
		"count":   len(response),
	})
}

// handleGetCamera handles getting a single camera by ID
func (s *Server) handleGetCamera(c *gin.Context) {
	if !s.camerasAvailable(c) {
		return
	}

	cam, ok := s.lookupCamera(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.cameraToJSON(cam))
}

// handlePutCamera creates or updates a camera
func (s *Server) handlePutCamera(c *gin.Context) {
	if !s.camerasAvailable(c) {
		return
	}

	id := c.Param("id")
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	created := false
	cam, err := s.deps.Cameras.Get(ctx, id)
	switch {
	case errors.Is(err, camera.ErrCameraNotFound):
		created = true
		cam = &camera.Camera{ID: id, Name: id, Enabled: true}
	case err != nil:
		s.LogError("Failed to load camera", err, "camera_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load camera"})
		return
	}

	req.apply(cam)
	if err := cam.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Cameras.Save(ctx, cam); err != nil {
		s.LogError("Failed to save camera", err, "camera_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save camera"})
		return
	}

	saved, err := s.deps.Cameras.Get(ctx, id)
	if err != nil {
		saved = cam
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, s.cameraToJSON(saved))
}

// handleDeleteCamera handles deleting a camera
func (s *Server) handleDeleteCamera(c *gin.Context) {
	if !s.camerasAvailable(c) {
		return
	}

	id := c.Param("id")
	if err := s.deps.Cameras.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, camera.ErrCameraNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
			return
		}
		s.LogError("Failed to delete camera", err, "camera_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete camera"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Camera deleted", "id": id})
}

// lookupCamera loads the camera named by the :id parameter and writes the
// error response when it cannot
func (s *Server) lookupCamera(c *gin.Context) (*camera.Camera, bool) {
	id := c.Param("id")
	cam, err := s.deps.Cameras.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, camera.ErrCameraNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Camera not found"})
			return nil, false
		}
		s.LogError("Failed to load camera", err, "camera_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load camera"})
		return nil, false
	}
	return cam, true
}

func (s *Server) cameraToJSON(cam *camera.Camera) gin.H {
	out := gin.H{
		"id":                    cam.ID,
		"name":                  cam.Name,
		"rtsp_url":              cam.RTSPURL,
		"enabled":               cam.Enabled,
		"processing_start_time": cam.ProcessingStartTime,
		"processing_end_time":   cam.ProcessingEndTime,
		"lines":                 cam.Lines,
		"configured":            cam.Configured(),
		"created_at":            cam.CreatedAt,
		"updated_at":            cam.UpdatedAt,
	}
	if s.deps.Monitor != nil {
		_, active := s.deps.Monitor.Session(cam.ID)
		out["active"] = active
	}
	return out
}

// handleListRecordings lists recordings filtered by camera_id and status
func (s *Server) handleListRecordings(c *gin.Context) {
	if !s.recordingsAvailable(c) {
		return
	}

	filter := state.RecordingFilter{
		CameraID: c.Query("camera_id"),
		Status:   c.Query("status"),
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}

	recordings, err := s.deps.Recordings.ListRecordings(c.Request.Context(), filter)
	if err != nil {
		s.LogError("Failed to list recordings", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list recordings"})
		return
	}

	response := make([]gin.H, 0, len(recordings))
	for i := range recordings {
		response = append(response, recordingToJSON(&recordings[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"recordings": response,
		"count":      len(response),
	})
}

// handleGetRecording returns one recording with its counts
func (s *Server) handleGetRecording(c *gin.Context) {
	if !s.recordingsAvailable(c) {
		return
	}

	id := c.Param("id")
	rec, err := s.deps.Recordings.GetRecording(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, state.ErrRecordingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Recording not found"})
			return
		}
		s.LogError("Failed to get recording", err, "recording_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get recording"})
		return
	}

	c.JSON(http.StatusOK, recordingToJSON(rec))
}

// handleDeleteRecording deletes a recording. The recording of a running
// session cannot be deleted.
func (s *Server) handleDeleteRecording(c *gin.Context) {
	if !s.recordingsAvailable(c) {
		return
	}

	id := c.Param("id")
	if s.deps.Monitor != nil {
		for _, info := range s.deps.Monitor.Sessions() {
			if info.SessionID == id {
				c.JSON(http.StatusConflict, gin.H{"error": "Recording belongs to a running session"})
				return
			}
		}
	}

	if err := s.deps.Recordings.DeleteRecording(c.Request.Context(), id); err != nil {
		if errors.Is(err, state.ErrRecordingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Recording not found"})
			return
		}
		s.LogError("Failed to delete recording", err, "recording_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete recording"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Recording deleted", "id": id})
}

func (s *Server) recordingsAvailable(c *gin.Context) bool {
	if s.deps.Recordings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Recording store not available"})
		return false
	}
	return true
}

// recordingToJSON converts a recording. Results are embedded as stored.
func recordingToJSON(rec *state.RecordingState) gin.H {
	out := gin.H{
		"id":         rec.ID,
		"camera_id":  rec.CameraID,
		"source":     rec.Source,
		"status":     rec.Status,
		"results":    nil,
		"created_at": rec.CreatedAt,
		"updated_at": rec.UpdatedAt,
	}
	if len(rec.Results) > 0 && json.Valid(rec.Results) {
		out["results"] = json.RawMessage(rec.Results)
	}
	return out
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

// Package session runs one live counting session for one camera: frames
// come from the ingestion pipeline, go through the tracker and the
// classifier, and the counts are persisted and rendered to the preview feed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/footfall-counter/internal/camera"
	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/metrics"
	"github.com/vzahanych/footfall-counter/internal/preview"
	"github.com/vzahanych/footfall-counter/internal/service"
	"github.com/vzahanych/footfall-counter/internal/state"
	"github.com/vzahanych/footfall-counter/internal/video"
)

// Tracker is the detection and tracking capability
type Tracker interface {
	Track(ctx context.Context, sessionID, cameraID string, frame *video.Frame) ([]counting.Track, error)
	Release(ctx context.Context, sessionID string) error
}

// Relay registers cameras with the stream relay
type Relay interface {
	Register(ctx context.Context, cameraID, src string) error
	StreamURL(cameraID, src string) string
}

// Store persists recordings
type Store interface {
	CreateRecording(ctx context.Context, rec state.RecordingState) error
	UpdateRecordingResult(ctx context.Context, id string, results []byte, status string) error
}

// FrameSource yields decoded frames
type FrameSource interface {
	Next(ctx context.Context) (*video.Frame, error)
	Close() error
}

// SourceFactory opens the frame source of a stream. onReconnect is called
// every time the source restarts a broken stream.
type SourceFactory func(input string, onReconnect func(attempt int, err error)) (FrameSource, error)

// Deps are the collaborators of a session
type Deps struct {
	Tracker  Tracker
	Relay    Relay
	Store    Store
	Sources  SourceFactory
	Renderer *preview.Renderer
	Metrics  *metrics.Metrics
	Events   *service.EventBus
	Logger   *logger.Logger
}

// Config configures one session
type Config struct {
	Camera        *camera.Camera
	Counting      counting.Options
	FlushInterval time.Duration
	// Preview receives the annotated JPEG of every processed frame. Nil
	// disables rendering.
	Preview *preview.Queue
	// StartedAt stamps the recording id; defaults to now.
	StartedAt time.Time
}

// releaseTimeout bounds the cleanup calls made after the session ends
const releaseTimeout = 5 * time.Second

// Session is one live counting session
type Session struct {
	id         string
	camera     *camera.Camera
	cfg        Config
	deps       Deps
	classifier *counting.Classifier
	logger     *logger.Logger
	now        func() time.Time

	mu          sync.RWMutex
	counts      counting.Counts
	frames      uint64
	lastPersist time.Time
	geometry    video.Geometry
}

// RecordingID returns a new recording id for a session of cameraID started
// at t. The random suffix keeps ids apart when a camera restarts its session
// within the same second.
func RecordingID(cameraID string, t time.Time) string {
	return fmt.Sprintf("live_%s_%s_%s", cameraID, t.Format("20060102_150405"), uuid.NewString()[:8])
}

// New creates a session. The camera and its lines are copied, so later
// edits to the camera do not affect a running session.
func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.Camera == nil {
		return nil, fmt.Errorf("session camera is required")
	}
	if cfg.Camera.Lines == nil {
		return nil, counting.ErrIncompleteLines
	}
	if deps.Tracker == nil || deps.Store == nil || deps.Sources == nil {
		return nil, fmt.Errorf("session tracker, store and source factory are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}

	cam := cfg.Camera.Clone()
	classifier, err := counting.NewClassifier(*cam.Lines, cfg.Counting)
	if err != nil {
		return nil, err
	}

	id := RecordingID(cam.ID, cfg.StartedAt)
	return &Session{
		id:         id,
		camera:     cam,
		cfg:        cfg,
		deps:       deps,
		classifier: classifier,
		logger:     deps.Logger.With("camera_id", cam.ID, "session_id", id),
		now:        time.Now,
		counts:     classifier.Counts(),
	}, nil
}

// ID returns the session id, which is also its recording id
func (s *Session) ID() string {
	return s.id
}

// CameraID returns the id of the camera the session counts
func (s *Session) CameraID() string {
	return s.camera.ID
}

// Counts returns the latest live counts
func (s *Session) Counts() counting.Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts.Clone()
}

// Frames returns the number of frames processed so far
func (s *Session) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Geometry returns the size of the last processed frame
func (s *Session) Geometry() video.Geometry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.geometry
}

// Run processes frames until stop is closed, ctx is done or a
// session-fatal error occurs. A clean stop returns nil. Panics are
// recovered into errors.
func (s *Session) Run(ctx context.Context, stop <-chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panic: %v", r)
			s.logger.Error("Session panicked", "panic", r, "stack", string(debug.Stack()))
		}
		s.finish(ctx, err)
	}()

	s.logger.Info("Starting live session", "rtsp_url", logger.RedactURL(s.camera.RTSPURL))
	s.deps.Metrics.SessionStarted(s.camera.ID)
	s.publish(service.EventTypeSessionStarted, nil)

	input := s.camera.RTSPURL
	if s.deps.Relay != nil {
		if err := s.deps.Relay.Register(ctx, s.camera.ID, s.camera.RTSPURL); err != nil {
			s.logger.Warn("Failed to register stream with relay", "error", err)
		}
		input = s.deps.Relay.StreamURL(s.camera.ID, s.camera.RTSPURL)
	}

	s.createRecording(ctx)

	source, err := s.deps.Sources(input, s.onReconnect)
	if err != nil {
		return fmt.Errorf("failed to open frame source: %w", err)
	}
	defer source.Close()

	// Reads are aborted as soon as stop fires so a stalled stream cannot
	// keep the session alive. The tracker call uses ctx instead, letting an
	// in-flight request finish.
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		select {
		case <-stop:
			cancelRead()
		case <-readCtx.Done():
		}
	}()

	for {
		if stopped(stop) {
			return nil
		}

		frame, err := source.Next(readCtx)
		if err != nil {
			if stopped(stop) || ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("frame source failed: %w", err)
		}

		if err := s.process(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// process runs one frame through the tracker and the classifier
func (s *Session) process(ctx context.Context, frame *video.Frame) error {
	start := s.now()
	tracks, err := s.deps.Tracker.Track(ctx, s.id, s.camera.ID, frame)
	s.deps.Metrics.TrackerRequest(s.camera.ID, s.now().Sub(start), err)
	if err != nil {
		return fmt.Errorf("tracker failed: %w", err)
	}

	transitions := s.classifier.Observe(tracks)
	for _, tr := range transitions {
		s.onTransition(tr)
	}
	counts := s.classifier.Counts()

	s.mu.Lock()
	s.counts = counts
	s.frames++
	s.geometry = video.Geometry{Width: frame.Width, Height: frame.Height}
	due := s.now().Sub(s.lastPersist) >= s.cfg.FlushInterval
	s.mu.Unlock()

	s.deps.Metrics.FrameProcessed(s.camera.ID)

	if due {
		s.persist(ctx, counts, state.RecordingStatusLiveProcessing)
	}

	s.renderPreview(frame, tracks, counts)
	return nil
}

func (s *Session) onTransition(tr counting.Transition) {
	var kind string
	var eventType service.EventType
	switch {
	case tr.To == counting.Passerby:
		kind, eventType = metrics.KindPasserby, service.EventTypeCountPasserby
	case tr.From == counting.Passerby && tr.To == counting.Entrant:
		kind, eventType = metrics.KindReclassified, service.EventTypeCountReclassified
	case tr.To == counting.Entrant:
		kind, eventType = metrics.KindEntrant, service.EventTypeCountEntrant
	default:
		return
	}

	s.logger.Debug("Track classified",
		"track_id", tr.TrackID,
		"from", tr.From.String(),
		"to", tr.To.String(),
		"label", tr.Label,
	)
	s.deps.Metrics.Crossing(s.camera.ID, kind)
	s.publish(eventType, map[string]interface{}{
		"track_id": tr.TrackID,
		"label":    tr.Label,
	})
}

func (s *Session) renderPreview(frame *video.Frame, tracks []counting.Track, counts counting.Counts) {
	if s.cfg.Preview == nil || s.deps.Renderer == nil {
		return
	}

	statuses := make(map[int]counting.Status, len(tracks))
	for _, t := range tracks {
		if st, ok := s.classifier.State(t.ID); ok {
			statuses[t.ID] = st.Status
		}
	}

	data, err := s.deps.Renderer.Render(frame, preview.Overlay{
		Lines:    s.classifier.Lines(),
		Tracks:   tracks,
		Statuses: statuses,
		Counts:   counts,
	})
	if err != nil {
		s.logger.Debug("Failed to render preview", "error", err)
		return
	}

	dropped := s.cfg.Preview.Dropped()
	s.cfg.Preview.Push(data)
	s.deps.Metrics.PreviewDropped(s.camera.ID, s.cfg.Preview.Dropped()-dropped)
}

func (s *Session) onReconnect(attempt int, err error) {
	s.deps.Metrics.StreamReconnected(s.camera.ID)
	s.publish(service.EventTypeStreamReconnected, map[string]interface{}{
		"attempt": attempt,
		"error":   err.Error(),
	})
}

func (s *Session) createRecording(ctx context.Context) {
	results, err := json.Marshal(s.classifier.Counts())
	if err != nil {
		s.logger.Warn("Failed to encode initial counts", "error", err)
	}
	rec := state.RecordingState{
		ID:        s.id,
		CameraID:  s.camera.ID,
		Source:    logger.RedactURL(s.camera.RTSPURL),
		Status:    state.RecordingStatusLiveProcessing,
		Results:   results,
		CreatedAt: s.cfg.StartedAt,
	}
	if err := s.deps.Store.CreateRecording(ctx, rec); err != nil {
		s.deps.Metrics.PersistFailed(s.camera.ID)
		s.logger.Warn("Failed to create recording", "error", err)
	}
	s.mu.Lock()
	s.lastPersist = s.now()
	s.mu.Unlock()
}

// persist overwrites the stored counts snapshot. Failures are logged; the
// in-memory counts stay authoritative.
func (s *Session) persist(ctx context.Context, counts counting.Counts, status string) {
	s.mu.Lock()
	s.lastPersist = s.now()
	s.mu.Unlock()

	results, err := json.Marshal(counts)
	if err != nil {
		s.logger.Warn("Failed to encode counts", "error", err)
		return
	}
	if err := s.deps.Store.UpdateRecordingResult(ctx, s.id, results, status); err != nil {
		s.deps.Metrics.PersistFailed(s.camera.ID)
		s.logger.Warn("Failed to persist counts", "status", status, "error", err)
	}
}

// finish stores the final counts and releases the tracker state
func (s *Session) finish(ctx context.Context, runErr error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	status, outcome := state.RecordingStatusDone, "done"
	if runErr != nil {
		status, outcome = state.RecordingStatusFailed, "failed"
	}

	if err := s.classifier.Check(); err != nil {
		s.logger.Error("Count conservation check failed", "error", err)
	}

	final := s.classifier.FinalCounts()
	s.persist(cleanupCtx, final, status)

	if err := s.deps.Tracker.Release(cleanupCtx, s.id); err != nil {
		s.logger.Debug("Failed to release tracker state", "error", err)
	}

	s.deps.Metrics.SessionEnded(s.camera.ID, outcome)

	fields := []interface{}{
		"status", status,
		"frames", s.Frames(),
		"entrants", final.Entrants.Total,
		"passersby", final.Passersby.Total,
	}
	if runErr != nil {
		s.logger.Error("Live session failed", append(fields, "error", runErr)...)
		return
	}
	s.logger.Info("Live session finished", fields...)
}

func (s *Session) publish(eventType service.EventType, data map[string]interface{}) {
	if s.deps.Events == nil {
		return
	}
	if data == nil {
		data = make(map[string]interface{}, 2)
	}
	data["camera_id"] = s.camera.ID
	data["session_id"] = s.id
	s.deps.Events.Publish(service.Event{
		Type:   eventType,
		Source: "session",
		Data:   data,
	})
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// Package supervisor keeps one live counting session per camera while the
// camera's schedule window is open, and replaces sessions that die.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vzahanych/footfall-counter/internal/camera"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/preview"
	"github.com/vzahanych/footfall-counter/internal/service"
)

// Factory builds the session of a camera. queue receives its preview
// frames; startedAt is the poll time that launched it.
type Factory func(cam *camera.Camera, queue *preview.Queue, startedAt time.Time) (Runner, error)

// CameraSource lists the configured cameras
type CameraSource interface {
	List(ctx context.Context) ([]*camera.Camera, error)
}

// Clock returns the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config configures the supervisor
type Config struct {
	PollInterval time.Duration
	// StopTimeout bounds the wait for a stopped session. A session that
	// overruns it is dropped from the registries anyway.
	StopTimeout time.Duration
	QueueSize   int
}

// Option customises a Supervisor
type Option func(*Supervisor)

// WithClock replaces the wall clock used for schedule checks
func WithClock(c Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// Supervisor is the live camera scheduler
type Supervisor struct {
	*service.ServiceBase
	cfg     Config
	cameras CameraSource
	factory Factory
	state   *State
	clock   Clock

	// pollMu serialises registry writes: polls, event handling and Stop.
	pollMu sync.Mutex
	wake   chan struct{}

	cancelLoop     context.CancelFunc
	loopDone       chan struct{}
	sessionCtx     context.Context
	cancelSessions context.CancelFunc
	running        sync.WaitGroup
}

// New creates a supervisor
func New(cfg Config, cameras CameraSource, factory Factory, state *State, log *logger.Logger, opts ...Option) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = preview.DefaultCapacity
	}
	if state == nil {
		state = NewState()
	}
	s := &Supervisor{
		ServiceBase: service.NewServiceBase("supervisor", log),
		cfg:         cfg,
		cameras:     cameras,
		factory:     factory,
		state:       state,
		clock:       systemClock{},
		wake:        make(chan struct{}, 1),
	}
	s.sessionCtx, s.cancelSessions = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the session registries
func (s *Supervisor) State() *State {
	return s.state
}

// Start launches the poll loop. The first poll runs immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)
	s.LogInfo("Starting supervisor",
		"poll_interval", s.cfg.PollInterval,
		"stop_timeout", s.cfg.StopTimeout,
	)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoop = cancel
	s.loopDone = make(chan struct{})

	if bus := s.GetEventBus(); bus != nil {
		bus.SubscribeWithHandler(loopCtx, service.EventTypeCameraUpdated, s.handleCameraEvent, s.onEventError)
		bus.SubscribeWithHandler(loopCtx, service.EventTypeCameraDeleted, s.handleCameraEvent, s.onEventError)
	}

	go s.loop(loopCtx)

	s.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop ends the poll loop, then stops every session and waits for them up
// to the stop timeout
func (s *Supervisor) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)
	s.LogInfo("Stopping supervisor", "active_sessions", s.state.ActiveCount())

	if s.cancelLoop != nil {
		s.cancelLoop()
		<-s.loopDone
	}

	s.pollMu.Lock()
	s.stopAll(ctx)
	s.pollMu.Unlock()
	s.cancelSessions()

	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Wake requests a poll without waiting for the next tick
func (s *Supervisor) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.loopDone)

	s.Poll(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.Poll(ctx)
	}
}

// Poll runs one supervision pass: reap finished sessions, then start or
// stop sessions against each camera's schedule. Cameras reaped in this pass
// are not restarted before the next one.
func (s *Supervisor) Poll(ctx context.Context) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	reaped := s.reap()

	cams, err := s.cameras.List(ctx)
	if err != nil {
		s.LogError("Failed to list cameras", err)
		return
	}

	now := s.clock.Now()
	known := make(map[string]bool, len(cams))
	for _, cam := range cams {
		if ctx.Err() != nil {
			return
		}
		known[cam.ID] = true
		active := s.state.Active(cam.ID)

		if !cam.Configured() {
			if active {
				s.stopSession(ctx, cam.ID, "camera not configured")
			}
			continue
		}

		sched, _ := cam.Schedule()
		inWindow := sched.Contains(now)
		switch {
		case inWindow && !active && !reaped[cam.ID]:
			s.startSession(cam, sched, now)
		case !inWindow && active:
			s.stopSession(ctx, cam.ID, "outside schedule window")
		}
	}

	for _, id := range s.state.CameraIDs() {
		if !known[id] {
			s.stopSession(ctx, id, "camera removed")
		}
	}
}

// reap removes sessions whose goroutine has returned
func (s *Supervisor) reap() map[string]bool {
	reaped := make(map[string]bool)
	for _, id := range s.state.finished() {
		sess, _, queue := s.state.remove(id)
		if queue != nil {
			queue.Close()
		}
		if sess == nil {
			continue
		}
		reaped[id] = true
		s.report(id, sess)
	}
	return reaped
}

func (s *Supervisor) startSession(cam *camera.Camera, sched camera.Schedule, now time.Time) {
	queue := preview.NewQueue(s.cfg.QueueSize)
	runner, err := s.factory(cam.Clone(), queue, now)
	if err != nil {
		queue.Close()
		s.LogError("Failed to create live session", err, "camera_id", cam.ID)
		return
	}

	stop := NewStopSignal()
	sess := &activeSession{runner: runner, startedAt: now, done: make(chan struct{})}
	s.state.add(cam.ID, sess, stop, queue)

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer close(sess.done)
		sess.err = s.run(runner, stop)
	}()

	s.LogInfo("Live session started",
		"camera_id", cam.ID,
		"session_id", runner.ID(),
		"window", sched.String(),
	)
}

// run executes a runner, turning a panic into an error
func (s *Supervisor) run(runner Runner, stop *StopSignal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panic: %v", r)
			s.LogError("Live session panicked", err, "camera_id", runner.CameraID(), "stack", string(debug.Stack()))
		}
	}()
	return runner.Run(s.sessionCtx, stop.C())
}

// stopSession fires the stop signal of a camera's session, waits for it up
// to the stop timeout and removes it from the registries either way
func (s *Supervisor) stopSession(ctx context.Context, cameraID, reason string) {
	sess, stop, ok := s.state.lookup(cameraID)
	if !ok {
		return
	}
	s.LogInfo("Stopping live session", "camera_id", cameraID, "reason", reason)
	stop.Fire()

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
	defer cancel()
	s.await(waitCtx, cameraID, sess)

	if _, _, queue := s.state.remove(cameraID); queue != nil {
		queue.Close()
	}
}

// stopAll stops every session concurrently under one shared deadline
func (s *Supervisor) stopAll(ctx context.Context) {
	ids := s.state.CameraIDs()
	if len(ids) == 0 {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()

	sessions := make(map[string]*activeSession, len(ids))
	for _, id := range ids {
		sess, stop, ok := s.state.lookup(id)
		if !ok {
			continue
		}
		stop.Fire()
		sessions[id] = sess
	}
	for _, id := range ids {
		if sess, ok := sessions[id]; ok {
			s.await(waitCtx, id, sess)
		}
		if _, _, queue := s.state.remove(id); queue != nil {
			queue.Close()
		}
	}
}

func (s *Supervisor) await(ctx context.Context, cameraID string, sess *activeSession) {
	select {
	case <-sess.done:
		s.report(cameraID, sess)
	case <-ctx.Done():
		s.LogWarn("Live session did not stop in time, abandoning it",
			"camera_id", cameraID,
			"session_id", sess.runner.ID(),
			"timeout", s.cfg.StopTimeout,
		)
	}
}

// report logs and announces how a finished session ended
func (s *Supervisor) report(cameraID string, sess *activeSession) {
	data := map[string]interface{}{
		"camera_id":  cameraID,
		"session_id": sess.runner.ID(),
		"frames":     sess.runner.Frames(),
	}
	if sess.err != nil {
		s.LogError("Live session ended with error", sess.err,
			"camera_id", cameraID,
			"session_id", sess.runner.ID(),
		)
		data["error"] = sess.err.Error()
		s.PublishEvent(service.EventTypeSessionFailed, data)
		return
	}
	s.LogInfo("Live session ended",
		"camera_id", cameraID,
		"session_id", sess.runner.ID(),
		"ran_for", s.clock.Now().Sub(sess.startedAt).Round(time.Second),
	)
	s.PublishEvent(service.EventTypeSessionStopped, data)
}

// handleCameraEvent stops the session of an edited or deleted camera so
// the next poll restarts it with the new configuration
func (s *Supervisor) handleCameraEvent(ctx context.Context, event service.Event) error {
	cameraID, _ := event.Data["camera_id"].(string)
	if cameraID == "" {
		return fmt.Errorf("%s event without camera_id", event.Type)
	}

	s.pollMu.Lock()
	s.stopSession(ctx, cameraID, string(event.Type))
	s.pollMu.Unlock()

	s.Wake()
	return nil
}

func (s *Supervisor) onEventError(event service.Event, err error) {
	s.LogWarn("Failed to handle camera event", "event", string(event.Type), "error", err)
}

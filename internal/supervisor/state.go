package supervisor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/preview"
)

// ErrInactive is returned when a camera has no running session
var ErrInactive = errors.New("camera has no active session")

// Runner is a launchable live session
type Runner interface {
	ID() string
	CameraID() string
	Counts() counting.Counts
	Frames() uint64
	Run(ctx context.Context, stop <-chan struct{}) error
}

// StopSignal is a one-shot cooperative stop request
type StopSignal struct {
	ch   chan struct{}
	once sync.Once
}

// NewStopSignal creates an unfired stop signal
func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Fire requests the stop. Further calls do nothing.
func (s *StopSignal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// C is closed once the signal fires
func (s *StopSignal) C() <-chan struct{} {
	return s.ch
}

// Fired reports whether Fire was called
func (s *StopSignal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// activeSession is a launched runner. err is written before done is closed.
type activeSession struct {
	runner    Runner
	startedAt time.Time
	done      chan struct{}
	err       error
}

func (a *activeSession) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// SessionInfo describes a running session
type SessionInfo struct {
	CameraID  string          `json:"camera_id"`
	SessionID string          `json:"session_id"`
	StartedAt time.Time       `json:"started_at"`
	Frames    uint64          `json:"frames"`
	Counts    counting.Counts `json:"counts"`
}

// Monitor is the read-only view of the live sessions used by the HTTP API
type Monitor interface {
	// NextFrame waits up to timeout for the next annotated preview frame
	NextFrame(ctx context.Context, cameraID string, timeout time.Duration) ([]byte, error)
	Session(cameraID string) (SessionInfo, bool)
	Sessions() []SessionInfo
}

// State owns the session, stop signal and preview queue registries, all
// keyed by camera id. Only the supervisor writes to it.
type State struct {
	mu       sync.RWMutex
	sessions map[string]*activeSession
	stops    map[string]*StopSignal
	queues   map[string]*preview.Queue
}

// NewState creates empty registries
func NewState() *State {
	return &State{
		sessions: make(map[string]*activeSession),
		stops:    make(map[string]*StopSignal),
		queues:   make(map[string]*preview.Queue),
	}
}

func (s *State) add(cameraID string, sess *activeSession, stop *StopSignal, queue *preview.Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[cameraID] = sess
	s.stops[cameraID] = stop
	s.queues[cameraID] = queue
}

// remove drops a camera from all three registries and returns what it held
func (s *State) remove(cameraID string) (*activeSession, *StopSignal, *preview.Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, stop, queue := s.sessions[cameraID], s.stops[cameraID], s.queues[cameraID]
	delete(s.sessions, cameraID)
	delete(s.stops, cameraID)
	delete(s.queues, cameraID)
	return sess, stop, queue
}

func (s *State) lookup(cameraID string) (*activeSession, *StopSignal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[cameraID]
	return sess, s.stops[cameraID], ok
}

// finished returns the cameras whose session goroutine has returned
func (s *State) finished() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.finished() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// CameraIDs returns the cameras with a registered session, sorted
func (s *State) CameraIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Active reports whether a session is registered for the camera
func (s *State) Active(cameraID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[cameraID]
	return ok
}

// ActiveCount is the number of registered sessions
func (s *State) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Queue returns the preview queue of a camera
func (s *State) Queue(cameraID string) (*preview.Queue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[cameraID]
	return q, ok
}

// NextFrame implements Monitor
func (s *State) NextFrame(ctx context.Context, cameraID string, timeout time.Duration) ([]byte, error) {
	q, ok := s.Queue(cameraID)
	if !ok {
		return nil, ErrInactive
	}
	data, err := q.Next(ctx, timeout)
	if errors.Is(err, preview.ErrClosed) {
		return nil, ErrInactive
	}
	return data, err
}

// Session implements Monitor
func (s *State) Session(cameraID string) (SessionInfo, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[cameraID]
	s.mu.RUnlock()
	if !ok {
		return SessionInfo{}, false
	}
	return info(cameraID, sess), true
}

// Sessions implements Monitor. The result is sorted by camera id.
func (s *State) Sessions() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		out = append(out, info(id, sess))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

func info(cameraID string, sess *activeSession) SessionInfo {
	return SessionInfo{
		CameraID:  cameraID,
		SessionID: sess.runner.ID(),
		StartedAt: sess.startedAt,
		Frames:    sess.runner.Frames(),
		Counts:    sess.runner.Counts(),
	}
}

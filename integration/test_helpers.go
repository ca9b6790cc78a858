package integration

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/state"
	"github.com/vzahanych/footfall-counter/internal/video"
)

// TestEnvironment provides a test environment for integration tests
type TestEnvironment struct {
	TempDir  string
	Config   *config.Config
	StateMgr *state.Manager
	Logger   *logger.Logger
}

// SetupTestEnvironment creates a configuration with defaults applied and a
// state database under a temporary data directory
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	tmpDir := t.TempDir()

	cfg, err := config.Parse([]byte("log:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Failed to parse test config: %v", err)
	}
	cfg.Counter.DataDir = tmpDir
	cfg.Counter.Supervisor.PollInterval = 50 * time.Millisecond
	cfg.Counter.Supervisor.StopTimeout = 2 * time.Second

	log := logger.NewNopLogger()

	stateMgr, err := state.NewManager(cfg, log)
	if err != nil {
		t.Fatalf("Failed to create state manager: %v", err)
	}
	t.Cleanup(func() { stateMgr.Close() })

	return &TestEnvironment{
		TempDir:  tmpDir,
		Config:   cfg,
		StateMgr: stateMgr,
		Logger:   log,
	}
}

// ContextWithTimeout creates a context with timeout for tests
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// ScriptedTracker returns canned tracks keyed by frame sequence number
type ScriptedTracker struct {
	mu       sync.Mutex
	script   map[uint64][]counting.Track
	released []string
}

// NewScriptedTracker creates a tracker that answers from script
func NewScriptedTracker(script map[uint64][]counting.Track) *ScriptedTracker {
	return &ScriptedTracker{script: script}
}

func (f *ScriptedTracker) Track(ctx context.Context, sessionID, cameraID string, frame *video.Frame) ([]counting.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.script[frame.Seq], nil
}

func (f *ScriptedTracker) Release(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sessionID)
	return nil
}

// Released returns the session ids whose tracker state was dropped
func (f *ScriptedTracker) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

// LiveSource serves a fixed set of frames and then blocks like a live
// stream until its context is done. With eof set it ends instead.
type LiveSource struct {
	mu     sync.Mutex
	frames []*video.Frame
	next   int
	eof    bool
	closed bool
}

// NewLiveSource creates n small blank frames numbered from 1
func NewLiveSource(n int) *LiveSource {
	frames := make([]*video.Frame, n)
	for i := range frames {
		frames[i] = &video.Frame{
			Data:      make([]byte, 64*48*3),
			Width:     64,
			Height:    48,
			Seq:       uint64(i + 1),
			Timestamp: time.Now(),
		}
	}
	return &LiveSource{frames: frames}
}

func (s *LiveSource) Next(ctx context.Context) (*video.Frame, error) {
	s.mu.Lock()
	if s.next < len(s.frames) {
		frame := s.frames[s.next]
		s.next++
		s.mu.Unlock()
		return frame, nil
	}
	eof := s.eof
	s.mu.Unlock()

	if eof {
		return nil, io.EOF
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *LiveSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether the session closed the source
func (s *LiveSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

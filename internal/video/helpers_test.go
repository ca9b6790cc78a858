package video

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

func setupTestFFmpeg(t *testing.T) *FFmpegWrapper {
	log := logger.NewNopLogger()
	ffmpeg, err := NewFFmpegWrapper(WrapperConfig{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}, log)
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	return ffmpeg
}

// fakeStream serves a fixed byte slice then reports io.EOF
type fakeStream struct {
	r      *bytes.Reader
	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	return s.r.Read(p)
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// blockingStream blocks in Read until closed
type blockingStream struct {
	done chan struct{}
	once sync.Once
}

func newBlockingStream() *blockingStream {
	return &blockingStream{done: make(chan struct{})}
}

func (s *blockingStream) Read(p []byte) (int, error) {
	<-s.done
	return 0, io.ErrClosedPipe
}

func (s *blockingStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// fakeLauncher hands out prepared streams in order
type fakeLauncher struct {
	mu       sync.Mutex
	streams  []io.ReadCloser
	launches []Geometry
	failures int
}

func (l *fakeLauncher) Launch(ctx context.Context, input string, g Geometry) (io.ReadCloser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, g)
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("camera unreachable")
	}
	if len(l.streams) == 0 {
		return newBlockingStream(), nil
	}
	s := l.streams[0]
	l.streams = l.streams[1:]
	return s, nil
}

func (l *fakeLauncher) Launches() []Geometry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Geometry(nil), l.launches...)
}

// sequenceResolver returns the given geometries in order, repeating the last
type sequenceResolver struct {
	mu    sync.Mutex
	seq   []Geometry
	calls int
}

func (r *sequenceResolver) Resolve(ctx context.Context, input string) Geometry {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	if i >= len(r.seq) {
		i = len(r.seq) - 1
	}
	r.calls++
	return r.seq[i]
}

func (r *sequenceResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// frames builds n BGR frames of geometry g whose bytes all equal the frame
// index plus one
func frames(g Geometry, n int) []byte {
	out := make([]byte, 0, g.FrameSize()*n)
	for i := 0; i < n; i++ {
		out = append(out, bytes.Repeat([]byte{byte(i + 1)}, g.FrameSize())...)
	}
	return out
}

func newFakeStream(data []byte) *fakeStream {
	return &fakeStream{r: bytes.NewReader(data)}
}

package video

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

// Launcher starts a decoder that writes packed BGR24 frames of the given
// geometry to the returned stream. Closing the stream stops the decoder.
type Launcher interface {
	Launch(ctx context.Context, input string, g Geometry) (io.ReadCloser, error)
}

// FFmpegLauncher launches ffmpeg as the raw frame decoder
type FFmpegLauncher struct {
	FFmpeg    *FFmpegWrapper
	Transport string
	// FrameRate resamples output to this rate; zero keeps the native rate.
	FrameRate int
	Logger    *logger.Logger
}

// Launch starts ffmpeg. The geometry is not passed to ffmpeg: frames keep
// the stream's native size so that configured line coordinates stay valid.
func (l *FFmpegLauncher) Launch(ctx context.Context, input string, g Geometry) (io.ReadCloser, error) {
	args := l.FFmpeg.RawVideoArgs(input, l.Transport, l.FrameRate)
	// The process lifetime is owned by the returned stream, not ctx.
	cmd := exec.Command(l.FFmpeg.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	if l.Logger != nil {
		l.Logger.Debug("FFmpeg decoder started",
			"pid", cmd.Process.Pid,
			"geometry", g.String(),
			"frame_rate", l.FrameRate,
		)
	}

	return &processStream{cmd: cmd, stdout: stdout, stderr: stderr, logger: l.Logger}, nil
}

// processStream is the stdout of a running decoder process
type processStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	logger *logger.Logger
	once   sync.Once
	err    error
}

func (s *processStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close kills the process and reaps it. It is safe to call more than once.
func (s *processStream) Close() error {
	s.once.Do(func() {
		s.stdout.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.err = s.cmd.Wait()
		if msg := s.stderr.String(); msg != "" && s.logger != nil {
			s.logger.Debug("FFmpeg decoder exited", "stderr", msg)
		}
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

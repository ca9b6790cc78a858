package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

// ErrPipelineClosed is returned by Next after Close
var ErrPipelineClosed = errors.New("pipeline closed")

// RetryPolicy controls how a live pipeline waits before relaunching the
// decoder. Retries are unlimited.
type RetryPolicy struct {
	Cooldown time.Duration
}

// Wait sleeps for the cooldown or until ctx is done
func (r RetryPolicy) Wait(ctx context.Context) error {
	if r.Cooldown <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(r.Cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PipelineConfig configures a frame pipeline
type PipelineConfig struct {
	Input    string
	Resolver GeometryResolver
	Launcher Launcher
	Retry    RetryPolicy
	// Recorded marks a finite input: end of stream ends the pipeline with
	// io.EOF instead of triggering a reconnect.
	Recorded bool
	// OnReconnect is called after a live stream breaks, before the cooldown.
	OnReconnect func(attempt int, err error)
}

// Pipeline yields fixed-size BGR24 frames from a decoder process,
// relaunching it whenever the stream breaks.
type Pipeline struct {
	cfg    PipelineConfig
	logger *logger.Logger

	mu         sync.Mutex
	stream     io.ReadCloser
	geometry   Geometry
	buf        []byte
	seq        uint64
	reconnects int
	closed     bool
}

// NewPipeline creates a pipeline. The decoder is launched on the first call
// to Next.
func NewPipeline(cfg PipelineConfig, log *logger.Logger) (*Pipeline, error) {
	if cfg.Input == "" {
		return nil, fmt.Errorf("pipeline input is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("pipeline geometry resolver is required")
	}
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("pipeline launcher is required")
	}
	return &Pipeline{cfg: cfg, logger: log}, nil
}

// Next blocks until the next full frame is available. The returned frame's
// Data is reused by the following call; Clone it to keep it.
//
// A live pipeline only returns an error when ctx is done or the pipeline is
// closed. A recorded pipeline returns io.EOF at end of input.
func (p *Pipeline) Next(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stream, g, err := p.current(ctx)
		if err != nil {
			if errors.Is(err, ErrPipelineClosed) || ctx.Err() != nil {
				return nil, err
			}
			if p.cfg.Recorded {
				return nil, err
			}
			if err := p.retry(ctx, err); err != nil {
				return nil, err
			}
			continue
		}

		buf := p.frameBuffer(g)
		stop := context.AfterFunc(ctx, func() { stream.Close() })
		_, err = io.ReadFull(stream, buf)
		stop()

		if err == nil {
			p.mu.Lock()
			p.seq++
			seq := p.seq
			p.mu.Unlock()
			return &Frame{
				Data:      buf,
				Width:     g.Width,
				Height:    g.Height,
				Seq:       seq,
				Timestamp: time.Now(),
			}, nil
		}

		p.dropStream(stream)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if p.isClosed() {
			return nil, ErrPipelineClosed
		}
		if p.cfg.Recorded {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}

		if err := p.retry(ctx, err); err != nil {
			return nil, err
		}
	}
}

// current returns the open stream, launching a decoder when there is none
func (p *Pipeline) current(ctx context.Context) (io.ReadCloser, Geometry, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, Geometry{}, ErrPipelineClosed
	}
	if p.stream != nil {
		defer p.mu.Unlock()
		return p.stream, p.geometry, nil
	}
	p.mu.Unlock()

	// Geometry is resolved again on every launch; a camera may change
	// resolution between reconnects.
	g := p.cfg.Resolver.Resolve(ctx, p.cfg.Input)
	stream, err := p.cfg.Launcher.Launch(ctx, p.cfg.Input, g)
	if err != nil {
		return nil, Geometry{}, fmt.Errorf("failed to launch decoder: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		stream.Close()
		return nil, Geometry{}, ErrPipelineClosed
	}
	p.stream = stream
	p.geometry = g
	return stream, g, nil
}

func (p *Pipeline) frameBuffer(g Geometry) []byte {
	size := g.FrameSize()
	if cap(p.buf) < size {
		p.buf = make([]byte, size)
	}
	p.buf = p.buf[:size]
	return p.buf
}

func (p *Pipeline) dropStream(stream io.ReadCloser) {
	stream.Close()
	p.mu.Lock()
	if p.stream == stream {
		p.stream = nil
	}
	p.mu.Unlock()
}

func (p *Pipeline) retry(ctx context.Context, cause error) error {
	p.mu.Lock()
	p.reconnects++
	attempt := p.reconnects
	p.mu.Unlock()

	p.logger.Warn("Frame stream interrupted, restarting decoder",
		"input", logger.RedactURL(p.cfg.Input),
		"attempt", attempt,
		"cooldown", p.cfg.Retry.Cooldown,
		"error", cause,
	)
	if p.cfg.OnReconnect != nil {
		p.cfg.OnReconnect(attempt, cause)
	}
	return p.cfg.Retry.Wait(ctx)
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Geometry returns the geometry of the current decoder, or the zero value
// before the first launch
func (p *Pipeline) Geometry() Geometry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.geometry
}

// Reconnects returns how many times the stream has been restarted
func (p *Pipeline) Reconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnects
}

// Close stops the decoder. A blocked Next returns ErrPipelineClosed.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	if stream != nil {
		return stream.Close()
	}
	return nil
}

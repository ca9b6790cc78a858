package video

import (
	"context"
	"time"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

// Prober discovers the frame geometry of an input
type Prober interface {
	Name() string
	Probe(ctx context.Context, input string) (Geometry, error)
}

// GeometryResolver always yields a usable geometry for an input
type GeometryResolver interface {
	Resolve(ctx context.Context, input string) Geometry
}

// ProbeChain tries each prober in order and falls back to a fixed geometry
// when none of them succeeds.
type ProbeChain struct {
	probers  []Prober
	fallback Geometry
	timeout  time.Duration
	logger   *logger.Logger
}

// NewProbeChain creates a probe chain. Each prober gets its own timeout.
func NewProbeChain(fallback Geometry, timeout time.Duration, log *logger.Logger, probers ...Prober) *ProbeChain {
	if !fallback.Valid() {
		fallback = Geometry{Width: 1920, Height: 1080}
	}
	return &ProbeChain{
		probers:  probers,
		fallback: fallback,
		timeout:  timeout,
		logger:   log,
	}
}

// Resolve returns the first successful probe result or the fallback geometry
func (c *ProbeChain) Resolve(ctx context.Context, input string) Geometry {
	for _, p := range c.probers {
		if ctx.Err() != nil {
			break
		}
		g, err := c.probe(ctx, p, input)
		if err == nil && g.Valid() {
			c.logger.Info("Stream geometry detected", "prober", p.Name(), "geometry", g.String())
			return g
		}
		c.logger.Debug("Geometry probe failed", "prober", p.Name(), "error", err)
	}

	c.logger.Warn("Could not detect stream geometry, using default", "geometry", c.fallback.String())
	return c.fallback
}

func (c *ProbeChain) probe(ctx context.Context, p Prober, input string) (Geometry, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return p.Probe(ctx, input)
}

// FFprobeProber reads the geometry of the first video stream with ffprobe
type FFprobeProber struct {
	FFmpeg    *FFmpegWrapper
	Transport string
}

func (p *FFprobeProber) Name() string { return "ffprobe" }

func (p *FFprobeProber) Probe(ctx context.Context, input string) (Geometry, error) {
	return p.FFmpeg.ProbeGeometry(ctx, input, p.Transport)
}

// StaticProber reports a fixed geometry. It serves inputs whose size is
// already known, such as uploaded recordings.
type StaticProber Geometry

func (p StaticProber) Name() string { return "static" }

func (p StaticProber) Probe(context.Context, string) (Geometry, error) {
	return Geometry(p), nil
}

// probe-stream reports the frame geometry of a stream as each prober sees
// it, and the geometry a live session would use.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vzahanych/footfall-counter/internal/camera"
	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/video"
)

type probeResult struct {
	Prober   string          `json:"prober"`
	Geometry *video.Geometry `json:"geometry,omitempty"`
	Error    string          `json:"error,omitempty"`
	Elapsed  string          `json:"elapsed"`
}

func main() {
	var configPath, input string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&input, "input", "", "Stream URL or file to probe")
	flag.Parse()

	if input == "" {
		fmt.Fprintln(os.Stderr, "usage: probe-stream -input rtsp://host/stream")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	ingest := cfg.Counter.Ingest

	log, err := logger.New(logger.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ffmpeg, err := video.NewFFmpegWrapper(video.WrapperConfig{
		FFmpegPath:  ingest.FFmpegPath,
		FFprobePath: ingest.FFprobePath,
	}, log)
	if err != nil {
		log.Error("Failed to initialize ffmpeg", "error", err)
		os.Exit(1)
	}

	probers := []video.Prober{
		&video.FFprobeProber{FFmpeg: ffmpeg, Transport: ingest.RTSPTransport},
		camera.NewRTSPProber(ingest.RTSPTransport, ingest.ProbeTimeout, log),
	}

	ctx := context.Background()
	results := make([]probeResult, 0, len(probers))
	for _, p := range probers {
		probeCtx, cancel := context.WithTimeout(ctx, ingest.ProbeTimeout)
		start := time.Now()
		g, err := p.Probe(probeCtx, input)
		cancel()

		res := probeResult{Prober: p.Name(), Elapsed: time.Since(start).Round(time.Millisecond).String()}
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Geometry = &g
		}
		results = append(results, res)
	}

	fallback := video.Geometry{Width: ingest.DefaultWidth, Height: ingest.DefaultHeight}
	resolved := video.NewProbeChain(fallback, ingest.ProbeTimeout, log, probers...).Resolve(ctx, input)

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	_ = out.Encode(map[string]interface{}{
		"input":    logger.RedactURL(input),
		"probes":   results,
		"resolved": resolved,
	})
}

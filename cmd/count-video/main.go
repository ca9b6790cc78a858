// count-video counts entrants and passersby in a recorded video file. Lines
// are read from a JSON file and may be drawn on a canvas of a different size
// than the video; they are scaled to the decoded frame size.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/state"
	"github.com/vzahanych/footfall-counter/internal/tracker"
	"github.com/vzahanych/footfall-counter/internal/video"
)

func main() {
	var (
		configPath   string
		input        string
		linesPath    string
		canvasWidth  int
		canvasHeight int
		store        bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&input, "input", "", "Video file to count")
	flag.StringVar(&linesPath, "lines", "", "JSON file with entrant, passerby and in_side")
	flag.IntVar(&canvasWidth, "canvas-width", 0, "Width of the canvas the lines were drawn on (0 = frame size)")
	flag.IntVar(&canvasHeight, "canvas-height", 0, "Height of the canvas the lines were drawn on (0 = frame size)")
	flag.BoolVar(&store, "store", true, "Save the result as a recording in the state database")
	flag.Parse()

	if input == "" || linesPath == "" {
		fmt.Fprintln(os.Stderr, "usage: count-video -input <file> -lines <lines.json> [-canvas-width W -canvas-height H]")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	lines, err := readLines(linesPath)
	if err != nil {
		log.Error("Invalid lines file", "path", linesPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counts, id, err := countVideo(ctx, cfg, log, input, lines, canvasWidth, canvasHeight, store)
	if err != nil {
		log.Error("Counting failed", "recording_id", id, "error", err)
		os.Exit(1)
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(map[string]interface{}{"recording_id": id, "results": counts}); err != nil {
		log.Error("Failed to write results", "error", err)
		os.Exit(1)
	}
}

func readLines(path string) (counting.Lines, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return counting.Lines{}, err
	}
	var lines counting.Lines
	if err := json.Unmarshal(data, &lines); err != nil {
		return counting.Lines{}, err
	}
	if !lines.Valid() {
		return counting.Lines{}, counting.ErrIncompleteLines
	}
	return lines, nil
}

func countVideo(ctx context.Context, cfg *config.Config, log *logger.Logger, input string, lines counting.Lines, canvasW, canvasH int, store bool) (counting.Counts, string, error) {
	cc := cfg.Counter
	id := uuid.NewString()
	log = log.With("recording_id", id)

	opts, err := counting.ParseOptions(cc.Counting.Strategy, cc.Counting.SideTest, cc.Counting.FallbackLabel, cc.Counting.ClassNames)
	if err != nil {
		return counting.Counts{}, id, err
	}

	ffmpeg, err := video.NewFFmpegWrapper(video.WrapperConfig{
		FFmpegPath:  cc.Ingest.FFmpegPath,
		FFprobePath: cc.Ingest.FFprobePath,
		HWAccel:     cc.Ingest.HWAccel,
	}, log)
	if err != nil {
		return counting.Counts{}, id, err
	}

	fallback := video.Geometry{Width: cc.Ingest.DefaultWidth, Height: cc.Ingest.DefaultHeight}
	geometry := video.NewProbeChain(fallback, cc.Ingest.ProbeTimeout, log,
		&video.FFprobeProber{FFmpeg: ffmpeg}).Resolve(ctx, input)

	lines = lines.Scale(canvasW, canvasH, geometry.Width, geometry.Height)
	classifier, err := counting.NewClassifier(lines, opts)
	if err != nil {
		return counting.Counts{}, id, err
	}

	var recordings *state.Manager
	if store {
		recordings, err = state.NewManager(cfg, log)
		if err != nil {
			return counting.Counts{}, id, err
		}
		defer recordings.Close()
		if err := recordings.CreateRecording(ctx, state.RecordingState{
			ID:     id,
			Source: logger.RedactURL(input),
			Status: state.RecordingStatusProcessing,
		}); err != nil {
			return counting.Counts{}, id, err
		}
	}

	counts, err := runPipeline(ctx, cfg, log, ffmpeg, geometry, input, id, classifier)
	if recordings != nil {
		finishRecording(recordings, log, id, counts, err)
	}
	return counts, id, err
}

// runPipeline decodes the file to its end and returns the majority-vote
// tally of every classified track
func runPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger, ffmpeg *video.FFmpegWrapper, g video.Geometry, input, id string, classifier *counting.Classifier) (counting.Counts, error) {
	cc := cfg.Counter
	pipeline, err := video.NewPipeline(video.PipelineConfig{
		Input:    input,
		Resolver: video.NewProbeChain(g, 0, log, video.StaticProber(g)),
		Launcher: &video.FFmpegLauncher{FFmpeg: ffmpeg, FrameRate: cc.Ingest.FrameRate, Logger: log},
		Recorded: true,
	}, log)
	if err != nil {
		return counting.Counts{}, err
	}
	defer pipeline.Close()

	tracks := tracker.NewClient(tracker.ClientConfig{
		ServiceURL:          cc.Tracker.ServiceURL,
		Timeout:             cc.Tracker.Timeout,
		ConfidenceThreshold: cc.Tracker.ConfidenceThreshold,
		JPEGQuality:         cc.Tracker.JPEGQuality,
	}, log)
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracks.Release(releaseCtx, id); err != nil {
			log.Warn("Failed to release tracker session", "error", err)
		}
	}()

	started := time.Now()
	var frames uint64
	for {
		frame, err := pipeline.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return classifier.FinalCounts(), err
		}

		found, err := tracks.Track(ctx, id, "", frame)
		if err != nil {
			return classifier.FinalCounts(), fmt.Errorf("tracking frame %d: %w", frame.Seq, err)
		}
		classifier.Observe(found)

		frames++
		if frames%300 == 0 {
			live := classifier.Counts()
			log.Info("Progress", "frames", frames, "entrants", live.Entrants.Total, "passersby", live.Passersby.Total)
		}
	}

	if err := classifier.Check(); err != nil {
		log.Warn("Count consistency check failed", "error", err)
	}

	log.Info("Video counted",
		"frames", frames,
		"tracks", classifier.TrackCount(),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return classifier.FinalCounts(), nil
}

func finishRecording(store *state.Manager, log *logger.Logger, id string, counts counting.Counts, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := state.RecordingStatusDone
	if runErr != nil {
		status = state.RecordingStatusFailed
	}

	data, err := json.Marshal(counts)
	if err != nil {
		log.Error("Failed to encode counts", "error", err)
		data = nil
	}
	if err := store.UpdateRecordingResult(ctx, id, data, status); err != nil {
		log.Error("Failed to save recording result", "error", err)
	}
}

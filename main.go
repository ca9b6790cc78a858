package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/footfall-counter/internal/camera"
	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/health"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/metrics"
	"github.com/vzahanych/footfall-counter/internal/preview"
	"github.com/vzahanych/footfall-counter/internal/relay"
	"github.com/vzahanych/footfall-counter/internal/service"
	"github.com/vzahanych/footfall-counter/internal/session"
	"github.com/vzahanych/footfall-counter/internal/state"
	"github.com/vzahanych/footfall-counter/internal/storage"
	"github.com/vzahanych/footfall-counter/internal/supervisor"
	"github.com/vzahanych/footfall-counter/internal/tracker"
	"github.com/vzahanych/footfall-counter/internal/video"
	"github.com/vzahanych/footfall-counter/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// The service re-reads the file with env overrides and validation
	cfgSvc, err := config.NewService(configPath, log)
	if err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	cfg = cfgSvc.Get()
	cc := &cfg.Counter

	log.Info("Starting footfall counter",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"data_dir", cc.DataDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcMgr := service.NewManager(log)
	svcMgr.SetStopTimeout(cc.Supervisor.StopTimeout + 5*time.Second)

	stateMgr, err := state.NewManager(cfg, log)
	if err != nil {
		log.Error("Failed to open state database", "error", err)
		os.Exit(1)
	}
	defer stateMgr.Close()

	if n, err := stateMgr.MarkInterruptedRecordings(ctx); err != nil {
		log.Warn("Failed to mark interrupted recordings", "error", err)
	} else if n > 0 {
		log.Info("Marked interrupted recordings as failed", "count", n)
	}

	ffmpeg, err := video.NewFFmpegWrapper(video.WrapperConfig{
		FFmpegPath:  cc.Ingest.FFmpegPath,
		FFprobePath: cc.Ingest.FFprobePath,
		HWAccel:     cc.Ingest.HWAccel,
	}, log)
	if err != nil {
		log.Error("Failed to initialize ffmpeg", "error", err)
		os.Exit(1)
	}

	countingOpts, err := counting.ParseOptions(cc.Counting.Strategy, cc.Counting.SideTest, cc.Counting.FallbackLabel, cc.Counting.ClassNames)
	if err != nil {
		log.Error("Invalid counting configuration", "error", err)
		os.Exit(1)
	}

	trackerClient := tracker.NewClient(tracker.ClientConfig{
		ServiceURL:          cc.Tracker.ServiceURL,
		Timeout:             cc.Tracker.Timeout,
		ConfidenceThreshold: cc.Tracker.ConfidenceThreshold,
		JPEGQuality:         cc.Tracker.JPEGQuality,
	}, log)

	relayClient := relay.NewClient(relay.ClientConfig{
		Enabled:            cc.Relay.Enabled,
		APIURL:             cc.Relay.APIURL,
		RTSPURL:            cc.Relay.RTSPURL,
		Timeout:            cc.Relay.Timeout,
		SnapshotAttempts:   cc.Relay.SnapshotAttempts,
		SnapshotRetryDelay: cc.Relay.SnapshotRetryDelay,
	}, log)

	m := metrics.New()
	cameraMgr := camera.NewManager(stateMgr, cc.Cameras, log)
	sessions := supervisor.NewState()

	sup := supervisor.New(supervisor.Config{
		PollInterval: cc.Supervisor.PollInterval,
		StopTimeout:  cc.Supervisor.StopTimeout,
		QueueSize:    cc.Aggregation.PreviewQueueSize,
	}, cameraMgr, sessionFactory(cfg, countingOpts, session.Deps{
		Tracker:  trackerClient,
		Relay:    relayClient,
		Store:    stateMgr,
		Sources:  frameSources(cfg, ffmpeg, log),
		Renderer: preview.NewRenderer(cc.Aggregation.PreviewWidth, cc.Aggregation.PreviewJPEGQuality),
		Metrics:  m,
		Events:   svcMgr.GetEventBus(),
		Logger:   log,
	}), sessions, log)

	diskMonitor := health.NewDiskMonitor(cc.DataDir, 90)
	m.RegisterGaugeFunc("active_sessions", "Live sessions currently running", func() float64 {
		return float64(sessions.ActiveCount())
	})
	m.RegisterGaugeFunc("data_dir_free_bytes", "Free space on the data directory filesystem", diskMonitor.AvailableBytes)

	webServer := web.NewServer(&cc.Web, log)
	webServer.SetVersion(version)
	webServer.SetFrameTimeout(cc.Aggregation.MonitorFrameTimeout)
	webServer.SetDependencies(web.Dependencies{
		Cameras:    cameraMgr,
		Recordings: stateMgr,
		Monitor:    sessions,
		Snapshots: &relay.Snapshotter{
			Relay:     relayClient,
			Grabber:   ffmpeg,
			Transport: cc.Ingest.RTSPTransport,
			Quality:   cc.Aggregation.PreviewJPEGQuality,
			Logger:    log,
		},
		Metrics: m.Handler(),
		Events:  svcMgr,
	})

	svcMgr.Register(cameraMgr)
	svcMgr.Register(sup)
	svcMgr.Register(storage.NewRetentionPolicy(cc.Retention.Days, cc.Retention.Interval, stateMgr, log))
	svcMgr.Register(webServer)

	cfgSvc.Watch(cameraMgr.OnConfigChange)

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr))
	healthMgr.RegisterChecker(health.NewFFmpegChecker(ffmpeg))
	healthMgr.RegisterChecker(health.NewRemoteChecker("tracker", trackerClient.ServiceURL(), trackerClient, true))
	healthMgr.RegisterChecker(health.NewRemoteChecker("relay", relayClient.APIURL(), relayClient, relayClient.Enabled()))
	if cc.Tracker.GRPCHealthAddr != "" {
		healthMgr.RegisterChecker(health.NewGRPCChecker("tracker-grpc", cc.Tracker.GRPCHealthAddr, ""))
	}
	healthMgr.RegisterChecker(health.NewDiskChecker(diskMonitor))
	healthMgr.RegisterChecker(health.NewSessionsChecker(sessions))

	if err := healthMgr.Start(ctx, cc.Health.Port); err != nil {
		log.Error("Failed to start health check server", "error", err)
		os.Exit(1)
	}

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	// SIGHUP reloads the configuration; cameras are re-seeded from it
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			log.Info("Reloading configuration")
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Error("Configuration reload failed", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig)
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop health check server first
	if err := healthMgr.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping health check server", "error", err)
	}

	// Then stop all services; running sessions write their final counts
	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

// sessionFactory builds the live session of a camera for the supervisor
func sessionFactory(cfg *config.Config, opts counting.Options, deps session.Deps) supervisor.Factory {
	return func(cam *camera.Camera, queue *preview.Queue, startedAt time.Time) (supervisor.Runner, error) {
		sess, err := session.New(session.Config{
			Camera:        cam,
			Counting:      opts,
			FlushInterval: cfg.Counter.Aggregation.FlushInterval,
			Preview:       queue,
			StartedAt:     startedAt,
		}, deps)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// frameSources opens reconnecting ffmpeg pipelines. The geometry is probed
// with ffprobe, then over RTSP, then falls back to the configured default.
func frameSources(cfg *config.Config, ffmpeg *video.FFmpegWrapper, log *logger.Logger) session.SourceFactory {
	ingest := cfg.Counter.Ingest

	probers := []video.Prober{&video.FFprobeProber{FFmpeg: ffmpeg, Transport: ingest.RTSPTransport}}
	if !ingest.SkipRTSPProbe {
		probers = append(probers, camera.NewRTSPProber(ingest.RTSPTransport, ingest.ProbeTimeout, log))
	}
	resolver := video.NewProbeChain(video.Geometry{Width: ingest.DefaultWidth, Height: ingest.DefaultHeight},
		ingest.ProbeTimeout, log, probers...)

	launcher := &video.FFmpegLauncher{
		FFmpeg:    ffmpeg,
		Transport: ingest.RTSPTransport,
		FrameRate: ingest.FrameRate,
		Logger:    log,
	}

	return func(input string, onReconnect func(attempt int, err error)) (session.FrameSource, error) {
		pipeline, err := video.NewPipeline(video.PipelineConfig{
			Input:       input,
			Resolver:    resolver,
			Launcher:    launcher,
			Retry:       video.RetryPolicy{Cooldown: ingest.ReconnectCooldown},
			OnReconnect: onReconnect,
		}, log)
		if err != nil {
			return nil, err
		}
		return pipeline, nil
	}
}

package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/footfall-counter/internal/camera"
	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/service"
	"github.com/vzahanych/footfall-counter/internal/state"
	"github.com/vzahanych/footfall-counter/internal/supervisor"
)

// CameraStore is the camera registry used by the API
type CameraStore interface {
	List(ctx context.Context) ([]*camera.Camera, error)
	Get(ctx context.Context, id string) (*camera.Camera, error)
	Save(ctx context.Context, cam *camera.Camera) error
	Delete(ctx context.Context, id string) error
}

// RecordingStore reads and deletes recordings
type RecordingStore interface {
	GetRecording(ctx context.Context, id string) (*state.RecordingState, error)
	LatestRecording(ctx context.Context, cameraID string) (*state.RecordingState, error)
	ListRecordings(ctx context.Context, filter state.RecordingFilter) ([]state.RecordingState, error)
	DeleteRecording(ctx context.Context, id string) error
}

// Snapshotter captures a still image of a camera
type Snapshotter interface {
	Snapshot(ctx context.Context, cameraID, rtspURL string) ([]byte, error)
}

// EventCounter reports how many bus events of each type were published
type EventCounter interface {
	EventCounts() map[string]uint64
}

// Dependencies are the collaborators the API serves. Nil members disable
// the routes that need them.
type Dependencies struct {
	Cameras    CameraStore
	Recordings RecordingStore
	Monitor    supervisor.Monitor
	Snapshots  Snapshotter
	Metrics    http.Handler
	Events     EventCounter
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config       *config.WebConfig
	logger       *logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	deps         Dependencies
	frameTimeout time.Duration
	version      string
	startTime    time.Time
	routesReady  bool
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase:  service.NewServiceBase("web-server", log),
		config:       cfg,
		logger:       log,
		router:       router,
		frameTimeout: 5 * time.Second,
		version:      "dev",
		startTime:    time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies sets the collaborators served by the API
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// SetFrameTimeout sets how long the monitor endpoints wait for a preview frame
func (s *Server) SetFrameTimeout(d time.Duration) {
	if d > 0 {
		s.frameTimeout = d
	}
}

// Handler returns the router with all routes registered
func (s *Server) Handler() http.Handler {
	s.setupRoutes()
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	s.setupRoutes()

	// WriteTimeout stays disabled: the MJPEG monitor is a long-lived
	// response that ends with the client's context.
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		s.LogInfo("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.LogInfo("Web server started", "address", addr)
		return nil
	}
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes sets up all API routes once
func (s *Server) setupRoutes() {
	if s.routesReady {
		return
	}
	s.routesReady = true

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		cameras := api.Group("/cameras")
		{
			cameras.GET("", s.handleListCameras)
			cameras.GET("/:id", s.handleGetCamera)
			cameras.PUT("/:id", s.handlePutCamera)
			cameras.DELETE("/:id", s.handleDeleteCamera)
			cameras.GET("/:id/monitor", s.handleMonitorStream)
			cameras.GET("/:id/frame", s.handleMonitorFrame)
			cameras.GET("/:id/live_stats", s.handleLiveStats)
			cameras.GET("/:id/snapshot", s.handleCameraSnapshot)
		}

		recordings := api.Group("/recordings")
		{
			recordings.GET("", s.handleListRecordings)
			recordings.GET("/:id", s.handleGetRecording)
			recordings.DELETE("/:id", s.handleDeleteRecording)
		}
	}

	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	s.router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "path": c.Request.URL.Path})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

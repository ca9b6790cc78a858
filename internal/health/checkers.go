package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// Pinger is a store that can verify its connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db      Pinger
	timeout time.Duration
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db, timeout: 2 * time.Second}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	if c.db == nil {
		check.Status = StatusUnhealthy
		check.Message = "Database not initialized"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// Remote is a collaborator with its own health probe
type Remote interface {
	HealthCheck(ctx context.Context) error
}

// RemoteChecker checks an HTTP collaborator such as the tracker or the
// relay. An unreachable collaborator degrades the service.
type RemoteChecker struct {
	name    string
	url     string
	remote  Remote
	enabled bool
	timeout time.Duration
}

// NewRemoteChecker creates a checker. A disabled collaborator is reported
// healthy without being contacted.
func NewRemoteChecker(name, url string, remote Remote, enabled bool) *RemoteChecker {
	return &RemoteChecker{
		name:    name,
		url:     url,
		remote:  remote,
		enabled: enabled,
		timeout: 3 * time.Second,
	}
}

func (c *RemoteChecker) Name() string {
	return c.name
}

func (c *RemoteChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["url"] = c.url

	if !c.enabled {
		check.Status = StatusHealthy
		check.Message = "Disabled"
		check.Details["enabled"] = false
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.remote.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%s unreachable: %v", c.name, err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("%s is reachable", c.name)
	return check
}

// VersionReporter is a local binary that can report its version
type VersionReporter interface {
	GetVersion() (string, error)
}

// FFmpegChecker checks that the decoder binary can be run. Without it no
// stream can be ingested.
type FFmpegChecker struct {
	ffmpeg VersionReporter
}

func NewFFmpegChecker(ffmpeg VersionReporter) *FFmpegChecker {
	return &FFmpegChecker{ffmpeg: ffmpeg}
}

func (c *FFmpegChecker) Name() string {
	return "ffmpeg"
}

func (c *FFmpegChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	version, err := c.ffmpeg.GetVersion()
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("FFmpeg not available: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "FFmpeg available"
	check.Details["version"] = version
	return check
}

// GRPCChecker queries a standard grpc.health.v1 endpoint, which tracker
// deployments expose next to their HTTP API
type GRPCChecker struct {
	name    string
	addr    string
	service string
	timeout time.Duration
}

// NewGRPCChecker creates a gRPC health checker. An empty service asks for
// the overall server status.
func NewGRPCChecker(name, addr, service string) *GRPCChecker {
	return &GRPCChecker{
		name:    name,
		addr:    addr,
		service: service,
		timeout: 3 * time.Second,
	}
}

func (c *GRPCChecker) Name() string {
	return c.name
}

func (c *GRPCChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["addr"] = c.addr

	conn, err := grpc.NewClient(c.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Invalid gRPC address: %v", err)
		return check
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: c.service})
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("gRPC health check failed: %v", err)
		return check
	}

	check.Details["serving_status"] = resp.GetStatus().String()
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%s is not serving", c.name)
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("%s is serving", c.name)
	return check
}

// SessionCounter reports the number of running live sessions
type SessionCounter interface {
	ActiveCount() int
	CameraIDs() []string
}

// SessionsChecker reports the running live sessions. It never fails: an
// idle supervisor is normal outside schedule windows.
type SessionsChecker struct {
	sessions SessionCounter
}

func NewSessionsChecker(sessions SessionCounter) *SessionsChecker {
	return &SessionsChecker{sessions: sessions}
}

func (c *SessionsChecker) Name() string {
	return "sessions"
}

func (c *SessionsChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Status = StatusHealthy
	check.Details["active"] = c.sessions.ActiveCount()
	check.Details["cameras"] = c.sessions.CameraIDs()
	check.Message = fmt.Sprintf("%d live sessions", c.sessions.ActiveCount())
	return check
}

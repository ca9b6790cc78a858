package health

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeRemote struct {
	err    error
	called bool
}

func (r *fakeRemote) HealthCheck(ctx context.Context) error {
	r.called = true
	return r.err
}

type fakeFFmpeg struct {
	version string
	err     error
}

func (f fakeFFmpeg) GetVersion() (string, error) { return f.version, f.err }

type fakeSessions []string

func (s fakeSessions) ActiveCount() int    { return len(s) }
func (s fakeSessions) CameraIDs() []string { return s }

func TestDatabaseChecker(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, StatusHealthy, NewDatabaseChecker(fakePinger{}).Check(ctx).Status)

	check := NewDatabaseChecker(fakePinger{err: errors.New("database is locked")}).Check(ctx)
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Message, "database is locked")

	assert.Equal(t, StatusUnhealthy, NewDatabaseChecker(nil).Check(ctx).Status)
}

func TestRemoteChecker(t *testing.T) {
	ctx := context.Background()

	ok := &fakeRemote{}
	check := NewRemoteChecker("tracker", "http://tracker:8000", ok, true).Check(ctx)
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "tracker", check.Name)
	assert.Equal(t, "http://tracker:8000", check.Details["url"])

	down := &fakeRemote{err: errors.New("connection refused")}
	check = NewRemoteChecker("tracker", "http://tracker:8000", down, true).Check(ctx)
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "connection refused")

	disabled := &fakeRemote{err: errors.New("not used")}
	check = NewRemoteChecker("relay", "http://relay:1984", disabled, false).Check(ctx)
	assert.Equal(t, StatusHealthy, check.Status)
	assert.False(t, disabled.called)
}

func TestFFmpegChecker(t *testing.T) {
	ctx := context.Background()

	check := NewFFmpegChecker(fakeFFmpeg{version: "ffmpeg version 6.1"}).Check(ctx)
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "ffmpeg version 6.1", check.Details["version"])

	check = NewFFmpegChecker(fakeFFmpeg{err: errors.New("executable file not found")}).Check(ctx)
	assert.Equal(t, StatusUnhealthy, check.Status)
}

func startGRPCHealth(t *testing.T) (string, *grpchealth.Server) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return lis.Addr().String(), hs
}

func TestGRPCChecker(t *testing.T) {
	addr, hs := startGRPCHealth(t)
	ctx := context.Background()

	check := NewGRPCChecker("tracker_grpc", addr, "").Check(ctx)
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "SERVING", check.Details["serving_status"])

	hs.SetServingStatus("tracker", healthpb.HealthCheckResponse_NOT_SERVING)
	check = NewGRPCChecker("tracker_grpc", addr, "tracker").Check(ctx)
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, "NOT_SERVING", check.Details["serving_status"])

	check = NewGRPCChecker("tracker_grpc", addr, "unknown").Check(ctx)
	assert.Equal(t, StatusDegraded, check.Status)
}

func TestGRPCChecker_Unreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	check := NewGRPCChecker("tracker_grpc", addr, "").Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
}

func TestDiskChecker(t *testing.T) {
	dir := t.TempDir()

	monitor := NewDiskMonitor(dir, 100)
	usage, err := monitor.GetUsage()
	require.NoError(t, err)
	assert.Greater(t, usage.TotalBytes, int64(0))
	assert.GreaterOrEqual(t, usage.UsagePercent, 0.0)
	assert.LessOrEqual(t, usage.UsagePercent, 100.0)
	assert.Greater(t, monitor.AvailableBytes(), 0.0)

	check := NewDiskChecker(monitor).Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, dir, check.Details["path"])

	missing := NewDiskMonitor(dir+"/does-not-exist", 90)
	check = NewDiskChecker(missing).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Zero(t, missing.AvailableBytes())
}

func TestSessionsChecker(t *testing.T) {
	check := NewSessionsChecker(fakeSessions{"cam1", "cam2"}).Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, 2, check.Details["active"])
	assert.Equal(t, []string{"cam1", "cam2"}, check.Details["cameras"])
}

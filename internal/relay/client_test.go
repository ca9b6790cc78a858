package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

var testJPEG = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0xff, 0xd9}

func setupTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(ClientConfig{
		Enabled:            true,
		APIURL:             server.URL,
		RTSPURL:            "rtsp://relay:8554/",
		Timeout:            2 * time.Second,
		SnapshotAttempts:   3,
		SnapshotRetryDelay: time.Millisecond,
	}, logger.NewNopLogger())
}

func TestClient_Register(t *testing.T) {
	var mu sync.Mutex
	var method, path, src, name string
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method, path = r.Method, r.URL.Path
		src, name = r.URL.Query().Get("src"), r.URL.Query().Get("name")
	})

	rtsp := "rtsp://admin:p@ss&word@10.0.0.5:554/cam/realmonitor?channel=1&subtype=0"
	require.NoError(t, client.Register(context.Background(), "12", rtsp))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/api/streams", path)
	assert.Equal(t, rtsp, src, "source must survive query encoding")
	assert.Equal(t, "camera_12", name)
}

func TestClient_Register_Error(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad source"))
	})

	err := client.Register(context.Background(), "1", "rtsp://cam")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad source")
}

func TestClient_Register_Disabled(t *testing.T) {
	client := NewClient(ClientConfig{APIURL: "http://127.0.0.1:1"}, logger.NewNopLogger())
	assert.NoError(t, client.Register(context.Background(), "1", "rtsp://cam"))
}

func TestClient_StreamURL(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.Equal(t, "rtsp://relay:8554/camera_7", client.StreamURL("7", "rtsp://cam/stream"))

	disabled := NewClient(ClientConfig{RTSPURL: "rtsp://relay:8554"}, logger.NewNopLogger())
	assert.Equal(t, "rtsp://cam/stream", disabled.StreamURL("7", "rtsp://cam/stream"))
}

func TestClient_Snapshot_RetriesUntilFrame(t *testing.T) {
	var calls atomic.Int32
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/frame.jpeg" || r.URL.Query().Get("src") != "camera_3" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(testJPEG)
	})

	data, err := client.Snapshot(context.Background(), "3")
	require.NoError(t, err)
	assert.Equal(t, testJPEG, data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Snapshot_GivesUp(t *testing.T) {
	var calls atomic.Int32
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Snapshot(context.Background(), "3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFrame))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Snapshot_RejectsNonJPEG(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>no stream</html>"))
	})

	_, err := client.Snapshot(context.Background(), "3")
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestClient_Snapshot_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		Enabled:            true,
		APIURL:             server.URL,
		SnapshotAttempts:   10,
		SnapshotRetryDelay: time.Hour,
	}, logger.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Snapshot(ctx, "3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_HealthCheck(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api" {
			w.Write([]byte(`{"version":"1.9"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, client.HealthCheck(context.Background()))
}

type fakeGrabber struct {
	calls int
	input string
	data  []byte
	err   error
}

func (g *fakeGrabber) CaptureFrameJPEG(ctx context.Context, input, transport string, quality int) ([]byte, error) {
	g.calls++
	g.input = input
	return g.data, g.err
}

func TestSnapshotter_UsesRelay(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			return
		}
		w.Write(testJPEG)
	})
	grabber := &fakeGrabber{data: []byte("direct")}
	s := &Snapshotter{Relay: client, Grabber: grabber, Logger: logger.NewNopLogger()}

	data, err := s.Snapshot(context.Background(), "1", "rtsp://cam")
	require.NoError(t, err)
	assert.Equal(t, testJPEG, data)
	assert.Zero(t, grabber.calls)
}

func TestSnapshotter_FallsBackToGrabber(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	grabber := &fakeGrabber{data: []byte("direct")}
	s := &Snapshotter{Relay: client, Grabber: grabber, Logger: logger.NewNopLogger()}

	data, err := s.Snapshot(context.Background(), "1", "rtsp://cam")
	require.NoError(t, err)
	assert.Equal(t, []byte("direct"), data)
	assert.Equal(t, "rtsp://cam", grabber.input)
}

func TestSnapshotter_RelayDisabled(t *testing.T) {
	client := NewClient(ClientConfig{}, logger.NewNopLogger())
	grabber := &fakeGrabber{data: []byte("direct")}
	s := &Snapshotter{Relay: client, Grabber: grabber, Logger: logger.NewNopLogger()}

	data, err := s.Snapshot(context.Background(), "1", "rtsp://cam")
	require.NoError(t, err)
	assert.Equal(t, []byte("direct"), data)

	s.Grabber = nil
	_, err = s.Snapshot(context.Background(), "1", "rtsp://cam")
	assert.Error(t, err)
}

package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/geometry"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/video"
)

func testFrame() *video.Frame {
	w, h := 32, 24
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i)
	}
	return &video.Frame{Data: data, Width: w, Height: h, Seq: 1, Timestamp: time.Now()}
}

func setupTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(ClientConfig{
		ServiceURL:          server.URL + "/",
		Timeout:             5 * time.Second,
		ConfidenceThreshold: 0.4,
		JPEGQuality:         80,
	}, logger.NewNopLogger())
}

func TestClient_Track(t *testing.T) {
	var got TrackRequest
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/track" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"tracks": [
				{"track_id": 7, "bbox": [10, 20, 30, 60], "class_id": 0, "class_name": "Person", "confidence": 0.91}
			],
			"inference_time_ms": 12.5
		}`))
	})

	tracks, err := client.Track(context.Background(), "live_cam1_20250101_090000", "cam1", testFrame())
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	if got.SessionID != "live_cam1_20250101_090000" || got.CameraID != "cam1" {
		t.Errorf("Unexpected request ids: %+v", got)
	}
	if got.ConfidenceThreshold != 0.4 {
		t.Errorf("Expected confidence threshold 0.4, got %v", got.ConfidenceThreshold)
	}

	img, err := base64.StdEncoding.DecodeString(got.Image)
	if err != nil {
		t.Fatalf("Image is not base64: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Image is not a JPEG: %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 24 {
		t.Errorf("Expected 32x24 image, got %dx%d", cfg.Width, cfg.Height)
	}

	want := counting.Track{
		ID:         7,
		BBox:       geometry.BBox{10, 20, 30, 60},
		ClassID:    0,
		ClassName:  "Person",
		Confidence: 0.91,
	}
	if len(tracks) != 1 || tracks[0] != want {
		t.Errorf("Expected %+v, got %+v", want, tracks)
	}
}

func TestClient_Track_EmptyFrame(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tracks": [], "inference_time_ms": 3}`))
	})

	tracks, err := client.Track(context.Background(), "s", "cam1", testFrame())
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if len(tracks) != 0 {
		t.Errorf("Expected no tracks, got %d", len(tracks))
	}
}

func TestClient_Track_ServerError(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not loaded"))
	})

	_, err := client.Track(context.Background(), "s", "cam1", testFrame())
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("Error should carry status and body, got %v", err)
	}
}

func TestClient_Track_InvalidJSON(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	if _, err := client.Track(context.Background(), "s", "cam1", testFrame()); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestClient_Track_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	// Registered after the server's cleanup, so it runs first and lets
	// the handler return before Close waits on it
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Track(ctx, "s", "cam1", testFrame()); err == nil {
		t.Fatal("Expected error after context timeout")
	}
}

func TestClient_Release(t *testing.T) {
	var method, path string
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.Release(context.Background(), "live cam"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if method != http.MethodDelete {
		t.Errorf("Expected DELETE, got %s", method)
	}
	if path != "/api/v1/track/live%20cam" {
		t.Errorf("Unexpected path %s", path)
	}
}

func TestClient_Release_UnknownSession(t *testing.T) {
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if err := client.Release(context.Background(), "gone"); err != nil {
		t.Errorf("Unknown session should not be an error: %v", err)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	client := setupTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy, got %v", err)
	}

	healthy.Store(false)
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("Expected unhealthy")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{ServiceURL: "http://tracker:8000/"}, logger.NewNopLogger())

	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", client.httpClient.Timeout)
	}
	if client.jpegQuality != 90 {
		t.Errorf("Expected default quality 90, got %d", client.jpegQuality)
	}
	if client.ServiceURL() != "http://tracker:8000" {
		t.Errorf("Trailing slash should be trimmed, got %s", client.ServiceURL())
	}
}

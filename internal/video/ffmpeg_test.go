package video

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

func TestNewFFmpegWrapper(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	if ffmpeg.ffmpegPath == "" {
		t.Error("FFmpeg path should be set")
	}
}

func TestFFmpegWrapper_GetHardwareAcceleration(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	// Software should always be available
	if !ffmpeg.GetHardwareAcceleration().Software {
		t.Error("Software fallback should always be available")
	}
}

func TestFFmpegWrapper_RawVideoArgs(t *testing.T) {
	f := &FFmpegWrapper{ffmpegPath: "ffmpeg"}

	args := strings.Join(f.RawVideoArgs("rtsp://relay:8554/camera_7", "tcp", 15), " ")
	want := "-rtsp_transport tcp -i rtsp://relay:8554/camera_7 -f rawvideo -pix_fmt bgr24 -r 15 -an -sn -y -"
	if !strings.HasSuffix(args, want) {
		t.Errorf("Unexpected args:\n got: %s\nwant suffix: %s", args, want)
	}

	args = strings.Join(f.RawVideoArgs("/data/videos/upload.mp4", "tcp", 0), " ")
	if strings.Contains(args, "-rtsp_transport") {
		t.Error("RTSP transport should only be set for rtsp inputs")
	}
	if strings.Contains(args, " -r ") {
		t.Error("Frame rate should be omitted when zero")
	}
}

func TestFFmpegWrapper_RawVideoArgsHWAccel(t *testing.T) {
	f := &FFmpegWrapper{
		ffmpegPath:    "ffmpeg",
		hwaccelWanted: true,
		hardwareAccel: HardwareAcceleration{CUDA: true, Software: true},
	}

	args := f.RawVideoArgs("rtsp://relay:8554/camera_7", "tcp", 15)
	if args[3] != "-hwaccel" || args[4] != "cuda" {
		t.Errorf("Expected -hwaccel cuda before the input, got %v", args)
	}
}

func TestParseProbeOutput(t *testing.T) {
	cases := []struct {
		name    string
		output  string
		want    Geometry
		wantErr bool
	}{
		{name: "plain", output: "1280,720\n", want: Geometry{1280, 720}},
		{name: "trailing comma", output: "640,480,\n", want: Geometry{640, 480}},
		{name: "multiple streams", output: "1920,1080\n640,360\n", want: Geometry{1920, 1080}},
		{name: "empty", output: "", wantErr: true},
		{name: "garbage", output: "N/A,N/A", wantErr: true},
		{name: "zero", output: "0,0", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseProbeOutput([]byte(tc.output))
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestFFmpegWrapper_BuildCommand(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	args := []string{"-version"}
	cmd := ffmpeg.BuildCommand(context.Background(), args)
	if cmd == nil {
		t.Fatal("BuildCommand returned nil")
	}
	if cmd.Path == "" {
		t.Error("Command path should not be empty")
	}
	if len(cmd.Args) > 0 && cmd.Args[len(cmd.Args)-1] != args[len(args)-1] {
		t.Errorf("Expected last arg '%s', got '%s'", args[len(args)-1], cmd.Args[len(cmd.Args)-1])
	}
}

func TestFFmpegWrapper_GetVersion(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)

	version, err := ffmpeg.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion failed: %v", err)
	}
	if version == "" {
		t.Error("Version should not be empty")
	}
}

func TestFFmpegLauncher_DecodesRecording(t *testing.T) {
	ffmpeg := setupTestFFmpeg(t)
	if ffmpeg.ffprobePath == "" {
		t.Skip("ffprobe not available")
	}
	log := logger.NewNopLogger()

	path := filepath.Join(t.TempDir(), "clip.avi")
	gen := ffmpeg.BuildCommand(context.Background(), []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=64x48:rate=5:duration=1",
		"-c:v", "mpeg4", "-y", path,
	})
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("Cannot generate test clip: %v (%s)", err, out)
	}

	chain := NewProbeChain(Geometry{Width: 320, Height: 240}, 5*time.Second, log, &FFprobeProber{FFmpeg: ffmpeg})
	p, err := NewPipeline(PipelineConfig{
		Input:    path,
		Resolver: chain,
		Launcher: &FFmpegLauncher{FFmpeg: ffmpeg, Logger: log},
		Recorded: true,
	}, log)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	defer p.Close()

	count := 0
	for {
		frame, err := p.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if frame.Width != 64 || frame.Height != 48 {
			t.Fatalf("Expected 64x48, got %dx%d", frame.Width, frame.Height)
		}
		count++
	}
	if count == 0 {
		t.Error("Expected at least one decoded frame")
	}
}

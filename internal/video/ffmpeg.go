package video

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/vzahanych/footfall-counter/internal/logger"
)

// WrapperConfig locates the ffmpeg tools
type WrapperConfig struct {
	FFmpegPath  string
	FFprobePath string
	// HWAccel enables hardware decoding when a supported device is found.
	HWAccel bool
}

// FFmpegWrapper wraps the ffmpeg and ffprobe executables
type FFmpegWrapper struct {
	logger        *logger.Logger
	ffmpegPath    string
	ffprobePath   string
	hwaccelWanted bool
	hardwareAccel HardwareAcceleration
	mu            sync.RWMutex
}

// HardwareAcceleration represents available hardware decoding
type HardwareAcceleration struct {
	VAAPI    bool // Intel/AMD via VAAPI
	CUDA     bool // NVIDIA NVDEC
	Software bool // Software fallback (always available)
}

// NewFFmpegWrapper finds ffmpeg and ffprobe and detects hardware decoding
func NewFFmpegWrapper(cfg WrapperConfig, log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger:        log,
		hwaccelWanted: cfg.HWAccel,
	}

	ffmpegPath, err := detectTool(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	ffprobePath, err := detectTool(cfg.FFprobePath, "ffprobe")
	if err != nil {
		// The probe chain falls through to its other probers.
		log.Warn("ffprobe not found, geometry probing will use fallbacks", "error", err)
	}
	wrapper.ffprobePath = ffprobePath

	wrapper.hardwareAccel = HardwareAcceleration{Software: true}
	if cfg.HWAccel {
		wrapper.hardwareAccel = wrapper.detectHardwareAcceleration()
	}

	log.Info("FFmpeg wrapper initialized",
		"ffmpeg", wrapper.ffmpegPath,
		"ffprobe", wrapper.ffprobePath,
		"vaapi", wrapper.hardwareAccel.VAAPI,
		"cuda", wrapper.hardwareAccel.CUDA,
	)

	return wrapper, nil
}

// detectTool returns the first candidate that runs with -version
func detectTool(configured, name string) (string, error) {
	candidates := []string{name, "/usr/bin/" + name, "/usr/local/bin/" + name}
	if configured != "" && configured != name {
		candidates = append([]string{configured}, candidates...)
	}

	for _, path := range candidates {
		if err := exec.Command(path, "-version").Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}

func (f *FFmpegWrapper) detectHardwareAcceleration() HardwareAcceleration {
	accel := HardwareAcceleration{Software: true}

	output, err := exec.Command(f.ffmpegPath, "-hide_banner", "-hwaccels").Output()
	if err != nil {
		f.logger.Warn("Failed to list hardware accelerations, using software decoding", "error", err)
		return accel
	}
	methods := string(output)

	if strings.Contains(methods, "vaapi") && exec.Command("vainfo").Run() == nil {
		accel.VAAPI = true
	}
	if strings.Contains(methods, "cuda") && exec.Command("nvidia-smi").Run() == nil {
		accel.CUDA = true
	}

	return accel
}

// GetHardwareAcceleration returns available hardware acceleration
func (f *FFmpegWrapper) GetHardwareAcceleration() HardwareAcceleration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hardwareAccel
}

// decodeArgs returns the input-side flags selecting a hardware decoder
func (f *FFmpegWrapper) decodeArgs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.hwaccelWanted {
		return nil
	}
	// Without -hwaccel_output_format frames are copied back to system
	// memory, which rawvideo output needs.
	switch {
	case f.hardwareAccel.CUDA:
		return []string{"-hwaccel", "cuda"}
	case f.hardwareAccel.VAAPI:
		return []string{"-hwaccel", "vaapi"}
	default:
		return nil
	}
}

// BuildCommand builds an ffmpeg command bound to ctx
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// inputArgs returns the flags that open input, forcing the RTSP transport
// for rtsp:// sources
func inputArgs(input, transport string) []string {
	var args []string
	if isRTSP(input) && transport != "" {
		args = append(args, "-rtsp_transport", transport)
	}
	return append(args, "-i", input)
}

func isRTSP(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "rtsp://") || strings.HasPrefix(lower, "rtsps://")
}

// RawVideoArgs returns the arguments that decode input into packed BGR24
// frames on stdout at the given rate
func (f *FFmpegWrapper) RawVideoArgs(input, transport string, frameRate int) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, f.decodeArgs()...)
	args = append(args, inputArgs(input, transport)...)
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
	)
	if frameRate > 0 {
		args = append(args, "-r", strconv.Itoa(frameRate))
	}
	return append(args, "-an", "-sn", "-y", "-")
}

// ProbeGeometry asks ffprobe for the width and height of the first video
// stream of input
func (f *FFmpegWrapper) ProbeGeometry(ctx context.Context, input, transport string) (Geometry, error) {
	if f.ffprobePath == "" {
		return Geometry{}, fmt.Errorf("ffprobe not available")
	}

	args := []string{"-v", "error"}
	if isRTSP(input) && transport != "" {
		args = append(args, "-rtsp_transport", transport)
	}
	args = append(args,
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=p=0",
		input,
	)

	output, err := exec.CommandContext(ctx, f.ffprobePath, args...).Output()
	if err != nil {
		return Geometry{}, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseProbeOutput(output)
}

// parseProbeOutput parses "width,height" as printed by ffprobe -of csv=p=0
func parseProbeOutput(output []byte) (Geometry, error) {
	line := strings.TrimSpace(string(output))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	parts := strings.Split(strings.TrimSuffix(line, ","), ",")
	if len(parts) != 2 {
		return Geometry{}, fmt.Errorf("unexpected ffprobe output %q", line)
	}

	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Geometry{}, fmt.Errorf("invalid width in ffprobe output %q: %w", line, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Geometry{}, fmt.Errorf("invalid height in ffprobe output %q: %w", line, err)
	}

	g := Geometry{Width: w, Height: h}
	if !g.Valid() {
		return Geometry{}, fmt.Errorf("invalid geometry %dx%d", w, h)
	}
	return g, nil
}

// GetVersion returns the first line of ffmpeg -version
func (f *FFmpegWrapper) GetVersion() (string, error) {
	output, err := exec.Command(f.ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}

	return "unknown", nil
}

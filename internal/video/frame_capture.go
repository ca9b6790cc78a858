package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"strconv"
	"strings"
)

// CaptureFrameJPEG grabs a single frame from input and returns it as JPEG.
// It is the snapshot path used when no stream relay is configured.
func (f *FFmpegWrapper) CaptureFrameJPEG(ctx context.Context, input, transport string, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	// mjpeg -q:v runs from 2 (best) to 31 (worst)
	qscale := 2 + (100-quality)*29/100

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs(input, transport)...)
	args = append(args,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(qscale),
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd := f.BuildCommand(ctx, args)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg capture failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	frameData := stdout.Bytes()
	if len(frameData) == 0 {
		return nil, fmt.Errorf("no frame data captured")
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(frameData)); err != nil {
		return nil, fmt.Errorf("invalid frame data: %w", err)
	}

	return frameData, nil
}

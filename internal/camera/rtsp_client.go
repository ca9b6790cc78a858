package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h265"
	"github.com/pion/rtp"

	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/video"
)

// RTSPProber discovers the frame geometry of an RTSP stream from its H.264
// or H.265 sequence parameter set. The SPS is taken from the SDP when the
// camera advertises it, otherwise from the first in-band SPS after PLAY.
type RTSPProber struct {
	// Transport is "tcp" or "udp"; empty lets the client choose.
	Transport string
	Timeout   time.Duration
	Logger    *logger.Logger
}

// NewRTSPProber creates an RTSP geometry prober
func NewRTSPProber(transport string, timeout time.Duration, log *logger.Logger) *RTSPProber {
	return &RTSPProber{Transport: transport, Timeout: timeout, Logger: log}
}

func (p *RTSPProber) Name() string { return "rtsp" }

// Probe connects to input and returns its geometry
func (p *RTSPProber) Probe(ctx context.Context, input string) (video.Geometry, error) {
	if !strings.HasPrefix(strings.ToLower(input), "rtsp") {
		return video.Geometry{}, fmt.Errorf("not an RTSP url")
	}

	u, err := base.ParseURL(input)
	if err != nil {
		return video.Geometry{}, fmt.Errorf("failed to parse URL: %w", err)
	}

	client := &gortsplib.Client{}
	if p.Timeout > 0 {
		client.ReadTimeout = p.Timeout
		client.WriteTimeout = p.Timeout
	}
	switch strings.ToLower(p.Transport) {
	case "tcp":
		t := gortsplib.TransportTCP
		client.Transport = &t
	case "udp":
		t := gortsplib.TransportUDP
		client.Transport = &t
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return video.Geometry{}, fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, client.Close)
	defer stop()

	desc, _, err := client.Describe(u)
	if err != nil {
		return video.Geometry{}, fmt.Errorf("failed to describe stream: %w", err)
	}

	media, forma := findVideoFormat(desc)
	if forma == nil {
		return video.Geometry{}, fmt.Errorf("no H.264 or H.265 video in stream")
	}

	if g, err := geometryFromSDP(forma); err == nil {
		return g, nil
	}

	h264Format, ok := forma.(*format.H264)
	if !ok {
		return video.Geometry{}, fmt.Errorf("H.265 stream does not advertise its SPS")
	}
	return p.waitForSPS(ctx, client, desc, media, h264Format)
}

// waitForSPS plays the stream until an in-band SPS arrives
func (p *RTSPProber) waitForSPS(ctx context.Context, client *gortsplib.Client, desc *description.Session, media *description.Media, forma *format.H264) (video.Geometry, error) {
	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		return video.Geometry{}, fmt.Errorf("failed to setup stream: %w", err)
	}

	decoder := &rtph264.Decoder{}
	if err := decoder.Init(); err != nil {
		return video.Geometry{}, fmt.Errorf("failed to init decoder: %w", err)
	}

	found := make(chan video.Geometry, 1)
	client.OnPacketRTP(media, forma, func(pkt *rtp.Packet) {
		nalus, err := decoder.Decode(pkt)
		if err != nil {
			return
		}
		for _, nalu := range nalus {
			if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
				continue
			}
			g, err := parseH264SPS(nalu)
			if err != nil {
				if p.Logger != nil {
					p.Logger.Debug("Ignoring malformed SPS", "error", err)
				}
				continue
			}
			select {
			case found <- g:
			default:
			}
			return
		}
	})

	if _, err := client.Play(nil); err != nil {
		return video.Geometry{}, fmt.Errorf("failed to play stream: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- client.Wait() }()

	select {
	case g := <-found:
		return g, nil
	case err := <-waitErr:
		if ctx.Err() != nil {
			return video.Geometry{}, ctx.Err()
		}
		return video.Geometry{}, fmt.Errorf("stream ended before SPS: %w", err)
	case <-ctx.Done():
		return video.Geometry{}, ctx.Err()
	}
}

func findVideoFormat(desc *description.Session) (*description.Media, format.Format) {
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			switch forma.(type) {
			case *format.H264, *format.H265:
				return media, forma
			}
		}
	}
	return nil, nil
}

var errNoSPS = errors.New("SPS not advertised")

func geometryFromSDP(forma format.Format) (video.Geometry, error) {
	switch f := forma.(type) {
	case *format.H264:
		if len(f.SPS) == 0 {
			return video.Geometry{}, errNoSPS
		}
		return parseH264SPS(f.SPS)
	case *format.H265:
		if len(f.SPS) == 0 {
			return video.Geometry{}, errNoSPS
		}
		return parseH265SPS(f.SPS)
	default:
		return video.Geometry{}, fmt.Errorf("unsupported format %T", forma)
	}
}

func parseH264SPS(nalu []byte) (video.Geometry, error) {
	var sps h264.SPS
	if err := sps.Unmarshal(nalu); err != nil {
		return video.Geometry{}, fmt.Errorf("invalid H.264 SPS: %w", err)
	}
	return checkedGeometry(sps.Width(), sps.Height())
}

func parseH265SPS(nalu []byte) (video.Geometry, error) {
	var sps h265.SPS
	if err := sps.Unmarshal(nalu); err != nil {
		return video.Geometry{}, fmt.Errorf("invalid H.265 SPS: %w", err)
	}
	return checkedGeometry(sps.Width(), sps.Height())
}

func checkedGeometry(w, h int) (video.Geometry, error) {
	g := video.Geometry{Width: w, Height: h}
	if !g.Valid() {
		return video.Geometry{}, fmt.Errorf("invalid geometry %dx%d", w, h)
	}
	return g, nil
}

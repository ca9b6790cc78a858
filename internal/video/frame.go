package video

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"
)

// Geometry is the pixel size of decoded frames
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

// FrameSize returns the byte length of one packed BGR24 frame
func (g Geometry) FrameSize() int {
	return g.Width * g.Height * 3
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// Frame is one decoded BGR24 frame.
type Frame struct {
	Data      []byte    // packed BGR, Width*Height*3 bytes
	Width     int       // Frame width
	Height    int       // Frame height
	Seq       uint64    // Sequence number within the pipeline, from 1
	Timestamp time.Time // Time the frame was read
}

// RGBA converts the frame into a new image.RGBA
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	pix := img.Pix
	n := f.Width * f.Height
	if len(f.Data) < n*3 {
		n = len(f.Data) / 3
	}
	for i := 0; i < n; i++ {
		src := f.Data[i*3 : i*3+3 : i*3+3]
		dst := pix[i*4 : i*4+4 : i*4+4]
		dst[0] = src[2]
		dst[1] = src[1]
		dst[2] = src[0]
		dst[3] = 0xff
	}
	return img
}

// EncodeJPEG encodes the frame as JPEG
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.RGBA(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = append([]byte(nil), f.Data...)
	return &c
}

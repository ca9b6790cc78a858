package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/vzahanych/footfall-counter/internal/counting"
	"github.com/vzahanych/footfall-counter/internal/geometry"
	"github.com/vzahanych/footfall-counter/internal/video"
)

var (
	colorEntrantLine  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	colorPasserbyLine = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	colorNeutral      = color.RGBA{R: 0, G: 128, B: 255, A: 255}
	colorPasserby     = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	colorEntrant      = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	colorRefPoint     = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	colorText         = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorBackdrop     = color.RGBA{R: 0, G: 0, B: 0, A: 160}
)

// labelOffset is the distance of the IN/OUT labels from the entrant line,
// in preview pixels
const labelOffset = 20

// Overlay is what gets drawn on top of a frame
type Overlay struct {
	Lines  counting.Lines
	Tracks []counting.Track
	// Statuses colours each track box by its classification.
	Statuses map[int]counting.Status
	Counts   counting.Counts
}

// Renderer down-samples frames to the preview width, annotates them and
// encodes them as JPEG
type Renderer struct {
	width   int
	quality int
}

// NewRenderer creates a renderer. A width of zero keeps the frame size.
func NewRenderer(width, quality int) *Renderer {
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	return &Renderer{width: width, quality: quality}
}

// Render produces the JPEG preview of a frame
func (r *Renderer) Render(frame *video.Frame, ov Overlay) ([]byte, error) {
	img := r.Annotate(frame, ov)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// Annotate returns the scaled and annotated frame
func (r *Renderer) Annotate(frame *video.Frame, ov Overlay) *image.RGBA {
	src := frame.RGBA()
	img, scale := r.downscale(src)

	c := canvas{img: img, scale: scale}
	c.polyline(ov.Lines.Passerby, colorPasserbyLine, 2)
	c.polyline(ov.Lines.Entrant, colorEntrantLine, 2)
	c.lineLabel(ov.Lines.Passerby, "PASSERBY", colorPasserbyLine)
	c.sideLabels(ov.Lines.Entrant, ov.Lines.InSide, colorEntrantLine)

	for _, t := range ov.Tracks {
		col := colorNeutral
		switch ov.Statuses[t.ID] {
		case counting.Passerby:
			col = colorPasserby
		case counting.Entrant:
			col = colorEntrant
		}
		thickness := 1
		if geometry.BBoxTouchesPolyline(t.BBox, ov.Lines.Entrant) || geometry.BBoxTouchesPolyline(t.BBox, ov.Lines.Passerby) {
			thickness = 3
		}
		c.box(t.BBox, col, thickness)
		c.text(c.pt(geometry.Point{X: t.BBox[0], Y: t.BBox[1]}).Add(image.Pt(0, -3)), fmt.Sprintf("#%d", t.ID), col)
		c.dot(c.pt(t.BBox.Center()), 3, colorRefPoint)
	}

	c.counters(ov.Counts)
	return img
}

// downscale resizes src to the preview width, keeping the aspect ratio
func (r *Renderer) downscale(src *image.RGBA) (*image.RGBA, float64) {
	b := src.Bounds()
	if r.width <= 0 || b.Dx() <= r.width {
		return src, 1
	}
	scale := float64(r.width) / float64(b.Dx())
	h := int(math.Round(float64(b.Dy()) * scale))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.width, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst, scale
}

// canvas draws frame-space geometry onto a scaled image
type canvas struct {
	img   *image.RGBA
	scale float64
}

func (c canvas) pt(p geometry.Point) image.Point {
	return image.Pt(int(math.Round(p.X*c.scale)), int(math.Round(p.Y*c.scale)))
}

func (c canvas) polyline(line geometry.Polyline, col color.RGBA, thickness int) {
	for i := 0; i+1 < len(line); i++ {
		c.line(c.pt(line[i]), c.pt(line[i+1]), col, thickness)
	}
}

// line draws a segment with Bresenham's algorithm and a square brush
func (c canvas) line(a, b image.Point, col color.RGBA, thickness int) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		c.brush(x, y, col, thickness)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func (c canvas) brush(x, y int, col color.RGBA, thickness int) {
	if thickness <= 1 {
		c.set(x, y, col)
		return
	}
	lo := -(thickness - 1) / 2
	for i := lo; i < lo+thickness; i++ {
		for j := lo; j < lo+thickness; j++ {
			c.set(x+i, y+j, col)
		}
	}
}

func (c canvas) set(x, y int, col color.RGBA) {
	if image.Pt(x, y).In(c.img.Rect) {
		c.img.SetRGBA(x, y, col)
	}
}

func (c canvas) box(b geometry.BBox, col color.RGBA, thickness int) {
	p1 := c.pt(geometry.Point{X: b[0], Y: b[1]})
	p2 := c.pt(geometry.Point{X: b[2], Y: b[3]})
	c.line(p1, image.Pt(p2.X, p1.Y), col, thickness)
	c.line(image.Pt(p2.X, p1.Y), p2, col, thickness)
	c.line(p2, image.Pt(p1.X, p2.Y), col, thickness)
	c.line(image.Pt(p1.X, p2.Y), p1, col, thickness)
}

func (c canvas) dot(p image.Point, radius int, col color.RGBA) {
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= radius*radius {
				c.set(p.X+x, p.Y+y, col)
			}
		}
	}
}

// text draws s with its baseline at p over a translucent backdrop
func (c canvas) text(p image.Point, s string, col color.RGBA) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, s).Ceil()
	bg := image.Rect(p.X-1, p.Y-face.Ascent-1, p.X+w+1, p.Y+face.Descent+1)
	xdraw.Draw(c.img, bg, image.NewUniform(colorBackdrop), image.Point{}, xdraw.Over)

	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(p.X, p.Y),
	}
	d.DrawString(s)
}

// midpoint returns the middle of the central segment of a polyline and the
// segment's direction
func midpoint(line geometry.Polyline) (mid, dir geometry.Point, ok bool) {
	if len(line) < 2 {
		return geometry.Point{}, geometry.Point{}, false
	}
	i := len(line) / 2
	a, b := line[i-1], line[i]
	return geometry.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}, b.Sub(a), true
}

func (c canvas) lineLabel(line geometry.Polyline, label string, col color.RGBA) {
	mid, _, ok := midpoint(line)
	if !ok {
		return
	}
	c.text(c.pt(mid).Add(image.Pt(0, -6)), label, col)
}

// sideLabels marks both sides of the entrant line. The right side of a
// segment lies along its normal (-dy, dx) in image coordinates.
func (c canvas) sideLabels(line geometry.Polyline, inSide geometry.Side, col color.RGBA) {
	mid, dir, ok := midpoint(line)
	if !ok || !inSide.Known() {
		return
	}
	length := math.Hypot(dir.X, dir.Y)
	if length == 0 {
		return
	}
	nx, ny := -dir.Y/length, dir.X/length
	m := c.pt(mid)
	right := m.Add(image.Pt(int(nx*labelOffset), int(ny*labelOffset)))
	left := m.Sub(image.Pt(int(nx*labelOffset), int(ny*labelOffset)))

	rightLabel, leftLabel := "IN", "OUT"
	if inSide == geometry.Left {
		rightLabel, leftLabel = "OUT", "IN"
	}
	c.text(right, rightLabel, col)
	c.text(left, leftLabel, col)
}

func (c canvas) counters(counts counting.Counts) {
	c.text(image.Pt(10, 20), fmt.Sprintf("Entrants: %d", counts.Entrants.Total), colorEntrant)
	c.text(image.Pt(10, 38), fmt.Sprintf("Passersby: %d", counts.Passersby.Total), colorPasserby)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

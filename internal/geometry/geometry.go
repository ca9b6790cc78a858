// Package geometry implements the side and crossing tests used to classify
// tracks against virtual counting lines.
package geometry

import (
	"fmt"
	"math"
	"strings"
)

// Deadband is the minimum cross-product magnitude for a point to be placed on
// either side of a line. Anything at or below it is reported as OnLine.
const Deadband = 20.0

// Side is the position of a point relative to a directed line.
type Side int

const (
	Unknown Side = iota
	Left
	Right
	OnLine
)

// String returns the lowercase name of the side
func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	case OnLine:
		return "on_line"
	default:
		return "unknown"
	}
}

// Known reports whether s is Left or Right.
func (s Side) Known() bool {
	return s == Left || s == Right
}

// Opposite returns the other side. Unknown and OnLine have no opposite and are
// returned unchanged.
func (s Side) Opposite() Side {
	switch s {
	case Left:
		return Right
	case Right:
		return Left
	default:
		return s
	}
}

// ParseSide parses "left" or "right" (case-insensitive).
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	default:
		return Unknown, fmt.Errorf("invalid side %q (must be: left or right)", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Side) UnmarshalText(text []byte) error {
	parsed, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Point is a position in frame pixel coordinates.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Polyline is an ordered list of points. Order defines the direction used by
// the side tests.
type Polyline []Point

// Valid reports whether the polyline has enough points for a side test.
func (l Polyline) Valid() bool {
	return len(l) >= 2
}

// Reversed returns a copy of l with the point order reversed.
func (l Polyline) Reversed() Polyline {
	out := make(Polyline, len(l))
	for i, p := range l {
		out[len(l)-1-i] = p
	}
	return out
}

// Clone returns an independent copy of l.
func (l Polyline) Clone() Polyline {
	if l == nil {
		return nil
	}
	out := make(Polyline, len(l))
	copy(out, l)
	return out
}

// Scale returns a copy of l with every point scaled by sx and sy.
func (l Polyline) Scale(sx, sy float64) Polyline {
	if l == nil {
		return nil
	}
	out := make(Polyline, len(l))
	for i, p := range l {
		out[i] = Point{X: p.X * sx, Y: p.Y * sy}
	}
	return out
}

// cross returns the z component of (b-a) x (p-a).
func cross(a, b, p Point) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

// SideOf classifies p against the chord joining the first and last points of
// line. Intermediate points are ignored. Magnitudes at or below Deadband
// yield OnLine, as does a line with fewer than two points.
func SideOf(p Point, line Polyline) Side {
	if !line.Valid() {
		return OnLine
	}
	c := cross(line[0], line[len(line)-1], p)
	switch {
	case c > Deadband:
		return Right
	case c < -Deadband:
		return Left
	default:
		return OnLine
	}
}

// ClosestSegmentSide classifies p against the segment of line nearest to it.
// Zero-length segments are skipped. Unknown is returned when no segment is
// usable.
func ClosestSegmentSide(p Point, line Polyline) Side {
	best := math.Inf(1)
	side := Unknown
	for i := 0; i+1 < len(line); i++ {
		a, b := line[i], line[i+1]
		d := b.Sub(a)
		lenSq := d.X*d.X + d.Y*d.Y
		if lenSq == 0 {
			continue
		}
		t := ((p.X-a.X)*d.X + (p.Y-a.Y)*d.Y) / lenSq
		t = math.Max(0, math.Min(1, t))
		proj := Point{X: a.X + t*d.X, Y: a.Y + t*d.Y}
		dx, dy := p.X-proj.X, p.Y-proj.Y
		if dist := dx*dx + dy*dy; dist < best {
			best = dist
			if cross(a, b, p) > 0 {
				side = Right
			} else {
				side = Left
			}
		}
	}
	return side
}

// SideFunc is a side test strategy.
type SideFunc func(p Point, line Polyline) Side

// SideFuncByName returns the side test for "chord" (the default) or
// "closest_segment".
func SideFuncByName(name string) (SideFunc, error) {
	switch name {
	case "", "chord":
		return SideOf, nil
	case "closest_segment":
		return ClosestSegmentSide, nil
	default:
		return nil, fmt.Errorf("unknown side test %q", name)
	}
}

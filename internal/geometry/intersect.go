package geometry

func ccw(a, b, c Point) bool {
	return (c.Y-a.Y)*(b.X-a.X) > (b.Y-a.Y)*(c.X-a.X)
}

// SegmentsIntersect reports whether segment p1-p2 properly crosses p3-p4.
// Collinear and touching configurations are not reported.
func SegmentsIntersect(p1, p2, p3, p4 Point) bool {
	return ccw(p1, p3, p4) != ccw(p2, p3, p4) && ccw(p1, p2, p3) != ccw(p1, p2, p4)
}

// PathCrossesPolyline reports whether the motion from -> to crosses any
// segment of line.
func PathCrossesPolyline(from, to Point, line Polyline) bool {
	if from == to {
		return false
	}
	for i := 0; i+1 < len(line); i++ {
		if SegmentsIntersect(from, to, line[i], line[i+1]) {
			return true
		}
	}
	return false
}

// BBox is an axis-aligned box given as x1, y1, x2, y2.
type BBox [4]float64

// Center returns the center of the box.
func (b BBox) Center() Point {
	return Point{X: (b[0] + b[2]) / 2, Y: (b[1] + b[3]) / 2}
}

// Contains reports whether p lies inside or on the box.
func (b BBox) Contains(p Point) bool {
	return p.X >= b[0] && p.X <= b[2] && p.Y >= b[1] && p.Y <= b[3]
}

// BBoxTouchesPolyline reports whether the box contains a vertex of line or
// any of its edges crosses a segment of line.
func BBoxTouchesPolyline(b BBox, line Polyline) bool {
	for _, p := range line {
		if b.Contains(p) {
			return true
		}
	}
	corners := [4]Point{
		{X: b[0], Y: b[1]},
		{X: b[2], Y: b[1]},
		{X: b[2], Y: b[3]},
		{X: b[0], Y: b[3]},
	}
	for i := 0; i+1 < len(line); i++ {
		for j := 0; j < 4; j++ {
			if SegmentsIntersect(corners[j], corners[(j+1)%4], line[i], line[i+1]) {
				return true
			}
		}
	}
	return false
}

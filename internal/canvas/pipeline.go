package canvas

import "math"

// PendingStroke is one entry in a workspace's pending queue: a path snapshot
// plus its interpolated animation points, tagged with the batch it belongs
// to. Batch ids are monotonic per workspace and never reused.
type PendingStroke struct {
	BatchID int64   `json:"batch_id"`
	Path    Path    `json:"path"`
	Points  []Point `json:"points"`
}

// Interpolate samples a path into the point sequence the client animates.
// Density is steps per unit of path length. Line and polyline segments are
// subdivided linearly; quadratic and cubic segments are sampled by
// parameter with a step adapted to the control polygon length. Endpoints
// are always preserved.
func Interpolate(p Path, density float64) []Point {
	if density <= 0 {
		density = 0.5
	}
	switch p.Kind {
	case KindLine, KindPolyline:
		return interpolateLinear(p.Points, density)
	case KindQuadratic:
		return interpolateQuadratic(p.Points, density)
	case KindCubic:
		return interpolateCubic(p.Points, density)
	case KindSVG:
		return interpolateSVG(p.SVG, density)
	default:
		return nil
	}
}

// BuildBatch runs expansion and interpolation over the paths of one drawing
// tool call and assembles the pending entries. Every entry shares batchID.
// The returned total is the interpolated point count across all entries,
// which sizes the orchestrator's draw-gate.
func BuildBatch(paths []Path, style DrawingStyle, batchID int64, density float64) ([]PendingStroke, int) {
	var entries []PendingStroke
	total := 0
	for _, p := range paths {
		for _, expanded := range Expand(p, style) {
			points := Interpolate(expanded, density)
			total += len(points)
			entries = append(entries, PendingStroke{
				BatchID: batchID,
				Path:    expanded,
				Points:  points,
			})
		}
	}
	return entries, total
}

func interpolateLinear(points []Point, density float64) []Point {
	if len(points) < 2 {
		return append([]Point(nil), points...)
	}
	out := []Point{points[0]}
	for i := 1; i < len(points); i++ {
		out = appendSegment(out, points[i-1], points[i], density)
	}
	return out
}

// appendSegment subdivides a..b and appends every sample after a, which the
// caller has already emitted.
func appendSegment(out []Point, a, b Point, density float64) []Point {
	length := math.Hypot(b.X-a.X, b.Y-a.Y)
	steps := int(math.Ceil(length * density))
	if steps < 1 {
		steps = 1
	}
	for s := 1; s <= steps; s++ {
		t := float64(s) / float64(steps)
		out = append(out, lerp(a, b, t))
	}
	return out
}

func lerp(a, b Point, t float64) Point {
	return Point{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
	}
}

func interpolateQuadratic(points []Point, density float64) []Point {
	if len(points) < 3 {
		return interpolateLinear(points, density)
	}
	p0, p1, p2 := points[0], points[1], points[2]
	steps := curveSteps(density, p0, p1, p2)
	out := make([]Point, 0, steps+1)
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		out = append(out, quadraticAt(p0, p1, p2, t))
	}
	return out
}

func interpolateCubic(points []Point, density float64) []Point {
	if len(points) < 4 {
		return interpolateLinear(points, density)
	}
	p0, p1, p2, p3 := points[0], points[1], points[2], points[3]
	steps := curveSteps(density, p0, p1, p2, p3)
	out := make([]Point, 0, steps+1)
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		out = append(out, cubicAt(p0, p1, p2, p3, t))
	}
	return out
}

// curveSteps adapts the sample count to the control polygon length, which
// bounds the true arc length from above.
func curveSteps(density float64, pts ...Point) int {
	length := 0.0
	for i := 1; i < len(pts); i++ {
		length += math.Hypot(pts[i].X-pts[i-1].X, pts[i].Y-pts[i-1].Y)
	}
	steps := int(math.Ceil(length * density))
	if steps < 2 {
		steps = 2
	}
	return steps
}

func quadraticAt(p0, p1, p2 Point, t float64) Point {
	u := 1 - t
	return Point{
		X: u*u*p0.X + 2*u*t*p1.X + t*t*p2.X,
		Y: u*u*p0.Y + 2*u*t*p1.Y + t*t*p2.Y,
	}
}

func cubicAt(p0, p1, p2, p3 Point, t float64) Point {
	u := 1 - t
	return Point{
		X: u*u*u*p0.X + 3*u*u*t*p1.X + 3*u*t*t*p2.X + t*t*t*p3.X,
		Y: u*u*u*p0.Y + 3*u*u*t*p1.Y + 3*u*t*t*p2.Y + t*t*t*p3.Y,
	}
}

// interpolateSVG walks the parsed segments of a restricted d-string.
// Validation has already happened at ingest; a parse failure here yields an
// empty point list rather than an error.
func interpolateSVG(d string, density float64) []Point {
	segments, err := parseSVGPath(d)
	if err != nil {
		return nil
	}

	var out []Point
	var current Point
	started := false
	for _, seg := range segments {
		switch seg.cmd {
		case 'M':
			current = seg.pts[0]
			out = append(out, current)
			started = true
		case 'L':
			if !started {
				continue
			}
			out = appendSegment(out, current, seg.pts[0], density)
			current = seg.pts[0]
		case 'Q':
			if !started {
				continue
			}
			steps := curveSteps(density, current, seg.pts[0], seg.pts[1])
			for s := 1; s <= steps; s++ {
				t := float64(s) / float64(steps)
				out = append(out, quadraticAt(current, seg.pts[0], seg.pts[1], t))
			}
			current = seg.pts[1]
		case 'C':
			if !started {
				continue
			}
			steps := curveSteps(density, current, seg.pts[0], seg.pts[1], seg.pts[2])
			for s := 1; s <= steps; s++ {
				t := float64(s) / float64(steps)
				out = append(out, cubicAt(current, seg.pts[0], seg.pts[1], seg.pts[2], t))
			}
			current = seg.pts[2]
		}
	}
	return out
}

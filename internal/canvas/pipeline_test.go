package canvas

import (
	"math"
	"testing"
)

func TestInterpolateLinearEndpoints(t *testing.T) {
	p := Path{Kind: KindLine, Points: []Point{{0, 0}, {100, 0}}}
	points := Interpolate(p, 0.5)
	if len(points) < 2 {
		t.Fatalf("Interpolate() = %d points, want >= 2", len(points))
	}
	if points[0] != (Point{0, 0}) {
		t.Errorf("start = %+v, want origin", points[0])
	}
	last := points[len(points)-1]
	if last != (Point{100, 0}) {
		t.Errorf("end = %+v, want (100,0)", last)
	}
	// 100 units at 0.5 steps per unit.
	if len(points) != 51 {
		t.Errorf("point count = %d, want 51", len(points))
	}
}

func TestInterpolatePolylinePassesVertices(t *testing.T) {
	p := Path{Kind: KindPolyline, Points: []Point{{0, 0}, {10, 0}, {10, 10}}}
	points := Interpolate(p, 0.5)
	found := false
	for _, pt := range points {
		if pt == (Point{10, 0}) {
			found = true
			break
		}
	}
	if !found {
		t.Error("interior vertex missing from interpolation")
	}
	if points[len(points)-1] != (Point{10, 10}) {
		t.Errorf("end = %+v, want (10,10)", points[len(points)-1])
	}
}

func TestInterpolateQuadratic(t *testing.T) {
	p := Path{Kind: KindQuadratic, Points: []Point{{0, 0}, {50, 100}, {100, 0}}}
	points := Interpolate(p, 0.5)
	if points[0] != (Point{0, 0}) || points[len(points)-1] != (Point{100, 0}) {
		t.Fatalf("curve endpoints not preserved: %+v .. %+v", points[0], points[len(points)-1])
	}
	// Apex of this symmetric curve is y=50 at t=0.5.
	maxY := 0.0
	for _, pt := range points {
		if pt.Y > maxY {
			maxY = pt.Y
		}
	}
	if math.Abs(maxY-50) > 1 {
		t.Errorf("apex y = %v, want ~50", maxY)
	}
}

func TestInterpolateCubic(t *testing.T) {
	p := Path{Kind: KindCubic, Points: []Point{{0, 0}, {0, 100}, {100, 100}, {100, 0}}}
	points := Interpolate(p, 0.5)
	if points[0] != (Point{0, 0}) {
		t.Errorf("start = %+v", points[0])
	}
	end := points[len(points)-1]
	if math.Abs(end.X-100) > 1e-9 || math.Abs(end.Y) > 1e-9 {
		t.Errorf("end = %+v, want (100,0)", end)
	}
}

func TestInterpolateSVG(t *testing.T) {
	p := Path{Kind: KindSVG, SVG: "M 0 0 L 100 0 Q 150 50 200 0"}
	points := Interpolate(p, 0.5)
	if len(points) == 0 {
		t.Fatal("svg path produced no points")
	}
	if points[0] != (Point{0, 0}) {
		t.Errorf("start = %+v", points[0])
	}
	if points[len(points)-1] != (Point{200, 0}) {
		t.Errorf("end = %+v, want (200,0)", points[len(points)-1])
	}
}

func TestBuildBatch(t *testing.T) {
	paths := []Path{
		{Kind: KindLine, Points: []Point{{0, 0}, {40, 0}}},
		{Kind: KindLine, Points: []Point{{0, 10}, {40, 10}}, Brush: "oil_round"},
	}
	entries, total := BuildBatch(paths, StylePaint, 7, 0.5)

	// One plain line plus an oil_round expansion of five.
	if len(entries) != 6 {
		t.Fatalf("entries = %d, want 6", len(entries))
	}
	sum := 0
	for _, e := range entries {
		if e.BatchID != 7 {
			t.Errorf("BatchID = %d, want 7", e.BatchID)
		}
		sum += len(e.Points)
	}
	if sum != total {
		t.Errorf("total = %d, sum of entry points = %d", total, sum)
	}
}

func TestBuildBatchPlotterNoExpansion(t *testing.T) {
	paths := []Path{
		{Kind: KindLine, Points: []Point{{0, 0}, {40, 0}}, Brush: "oil_round"},
	}
	entries, _ := BuildBatch(paths, StylePlotter, 1, 0.5)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestSignaturePaths(t *testing.T) {
	paths := SignaturePaths(testBounds, SignatureBottomRight, 0, "")
	if len(paths) != len(signatureGlyphs) {
		t.Fatalf("paths = %d, want %d", len(paths), len(signatureGlyphs))
	}
	for _, p := range paths {
		if p.Kind != KindPolyline {
			t.Errorf("kind = %q, want polyline", p.Kind)
		}
		if p.Color != "#666666" {
			t.Errorf("color = %q, want default gray", p.Color)
		}
		for _, pt := range p.Points {
			if pt.X < testBounds.Width/2 || pt.Y < testBounds.Height/2 {
				t.Errorf("point %+v not in bottom-right quadrant", pt)
			}
		}
	}
}

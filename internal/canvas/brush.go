package canvas

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// BrushPreset describes how a paint-mode stroke expands into a main stroke
// plus bristle sub-strokes. Presets are immutable and keyed by name.
type BrushPreset struct {
	Name          string
	BaseWidth     float64
	BristleCount  int
	BristleSpread float64
	// BristleOpacity scales each bristle's opacity relative to the main
	// stroke before jitter is applied.
	BristleOpacity float64
	// OpacityJitter is the maximum random deviation applied per bristle.
	OpacityJitter float64
	// EdgeNoise perturbs bristle offsets perpendicular to the stroke.
	EdgeNoise float64
	// MainOpacity is the opacity of the main stroke when the path does not
	// set its own.
	MainOpacity float64
}

// brushRegistry is the fixed set of known brushes. Unknown names are
// silently dropped at validation.
var brushRegistry = map[string]BrushPreset{
	"oil_round": {
		Name:           "oil_round",
		BaseWidth:      6,
		BristleCount:   4,
		BristleSpread:  5,
		BristleOpacity: 0.55,
		OpacityJitter:  0.2,
		EdgeNoise:      1.2,
		MainOpacity:    0.9,
	},
	"oil_flat": {
		Name:           "oil_flat",
		BaseWidth:      10,
		BristleCount:   6,
		BristleSpread:  9,
		BristleOpacity: 0.45,
		OpacityJitter:  0.15,
		EdgeNoise:      0.8,
		MainOpacity:    0.85,
	},
	"watercolor": {
		Name:           "watercolor",
		BaseWidth:      12,
		BristleCount:   3,
		BristleSpread:  10,
		BristleOpacity: 0.25,
		OpacityJitter:  0.1,
		EdgeNoise:      2.5,
		MainOpacity:    0.4,
	},
	"ink_fine": {
		Name:           "ink_fine",
		BaseWidth:      1.5,
		BristleCount:   0,
		BristleSpread:  0,
		BristleOpacity: 0,
		OpacityJitter:  0,
		EdgeNoise:      0,
		MainOpacity:    1,
	},
	"charcoal": {
		Name:           "charcoal",
		BaseWidth:      8,
		BristleCount:   5,
		BristleSpread:  6,
		BristleOpacity: 0.35,
		OpacityJitter:  0.25,
		EdgeNoise:      1.8,
		MainOpacity:    0.75,
	},
}

// LookupBrush returns the preset registered under name.
func LookupBrush(name string) (BrushPreset, bool) {
	preset, ok := brushRegistry[name]
	return preset, ok
}

// BrushNames returns the registered brush names. Order is unspecified.
func BrushNames() []string {
	names := make([]string, 0, len(brushRegistry))
	for name := range brushRegistry {
		names = append(names, name)
	}
	return names
}

// StyleConfig describes the client-relevant parameters of a drawing style:
// the stroke clamps and, in paint mode, the available brush presets.
func StyleConfig(style DrawingStyle) map[string]any {
	cfg := map[string]any{
		"min_stroke_width": MinStrokeWidth,
		"max_stroke_width": MaxStrokeWidth,
	}
	if style == StylePaint {
		cfg["brushes"] = BrushNames()
	}
	return cfg
}

// Expand turns one path into the set of paths actually drawn. In paint mode
// a path carrying a known brush becomes the main stroke plus the preset's
// bristle sub-strokes, offset perpendicular to the stroke direction with
// per-bristle opacity jitter. In plotter mode, or when no brush applies,
// the path passes through unchanged.
//
// The jitter field is seeded from the path's geometry, so expansion is
// deterministic for a given input.
func Expand(p Path, style DrawingStyle) []Path {
	if style != StylePaint || p.Brush == "" || p.Kind == KindSVG {
		return []Path{p}
	}
	preset, ok := LookupBrush(p.Brush)
	if !ok || preset.BristleCount <= 0 {
		return []Path{p}
	}

	rng := rand.New(rand.NewSource(pathSeed(p)))

	main := p
	if main.StrokeWidth == 0 {
		main.StrokeWidth = preset.BaseWidth
	}
	if main.Opacity == 0 {
		main.Opacity = preset.MainOpacity
	}

	out := make([]Path, 0, preset.BristleCount+1)
	out = append(out, main)

	for b := 0; b < preset.BristleCount; b++ {
		// Spread bristles symmetrically around the main stroke.
		frac := float64(b+1) / float64(preset.BristleCount+1)
		offset := (frac - 0.5) * 2 * preset.BristleSpread

		bristle := main
		bristle.Brush = ""
		bristle.StrokeWidth = clamp(main.StrokeWidth*0.4, MinStrokeWidth, MaxStrokeWidth)

		opacity := main.Opacity * preset.BristleOpacity
		opacity += (rng.Float64()*2 - 1) * preset.OpacityJitter * opacity
		bristle.Opacity = clamp(opacity, 0.02, 1)

		bristle.Points = offsetPoints(main.Points, offset, preset.EdgeNoise, rng)
		out = append(out, bristle)
	}
	return out
}

// offsetPoints shifts points perpendicular to the local stroke direction.
func offsetPoints(points []Point, offset, noise float64, rng *rand.Rand) []Point {
	out := make([]Point, len(points))
	for i, pt := range points {
		nx, ny := normalAt(points, i)
		jitter := (rng.Float64()*2 - 1) * noise
		out[i] = Point{
			X: pt.X + nx*(offset+jitter),
			Y: pt.Y + ny*(offset+jitter),
		}
	}
	return out
}

// normalAt returns the unit normal of the segment around index i.
func normalAt(points []Point, i int) (float64, float64) {
	var a, b Point
	switch {
	case len(points) < 2:
		return 0, 0
	case i == 0:
		a, b = points[0], points[1]
	case i == len(points)-1:
		a, b = points[len(points)-2], points[len(points)-1]
	default:
		a, b = points[i-1], points[i+1]
	}
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return 0, 1
	}
	return -dy / length, dx / length
}

// pathSeed derives a deterministic seed from the path's geometry and style.
func pathSeed(p Path) int64 {
	h := fnv.New64a()
	h.Write([]byte(p.Kind))
	h.Write([]byte(p.Brush))
	h.Write([]byte(p.Color))
	for _, pt := range p.Points {
		var buf [16]byte
		putFloat(buf[:8], pt.X)
		putFloat(buf[8:], pt.Y)
		h.Write(buf[:])
	}
	return int64(h.Sum64())
}

func putFloat(b []byte, v float64) {
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(bits >> (8 * i))
	}
}

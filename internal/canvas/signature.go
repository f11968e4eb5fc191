package canvas

// SignaturePosition names an anchor for the signature glyph set.
type SignaturePosition string

const (
	SignatureBottomRight SignaturePosition = "bottom_right"
	SignatureBottomLeft  SignaturePosition = "bottom_left"
	SignatureTopRight    SignaturePosition = "top_right"
	SignatureTopLeft     SignaturePosition = "top_left"
)

// signatureGlyphs is the fixed stroke set of the agent's mark, defined in a
// unit box (0..1 in both axes) and scaled at placement. A small stylized
// "e" with an underline flourish.
var signatureGlyphs = [][]Point{
	{{X: 0.85, Y: 0.35}, {X: 0.15, Y: 0.30}, {X: 0.05, Y: 0.55}, {X: 0.30, Y: 0.80}, {X: 0.75, Y: 0.75}},
	{{X: 0.10, Y: 0.50}, {X: 0.85, Y: 0.42}},
	{{X: 0.0, Y: 1.0}, {X: 1.0, Y: 0.95}},
}

// SignaturePaths builds the signature stroke set placed at the named
// position. Size is the glyph box edge in canvas units (default 40); color
// defaults to a neutral gray. The result still goes through the normal
// pipeline, so bounds clamping applies downstream.
func SignaturePaths(bounds Bounds, position SignaturePosition, size float64, color string) []Path {
	if size <= 0 {
		size = 40
	}
	if color == "" {
		color = "#666666"
	}

	margin := size * 0.5
	var originX, originY float64
	switch position {
	case SignatureBottomLeft:
		originX, originY = margin, bounds.Height-size-margin
	case SignatureTopRight:
		originX, originY = bounds.Width-size-margin, margin
	case SignatureTopLeft:
		originX, originY = margin, margin
	default:
		originX, originY = bounds.Width-size-margin, bounds.Height-size-margin
	}

	paths := make([]Path, 0, len(signatureGlyphs))
	for _, glyph := range signatureGlyphs {
		points := make([]Point, len(glyph))
		for i, pt := range glyph {
			points[i] = Point{
				X: originX + pt.X*size,
				Y: originY + pt.Y*size,
			}
		}
		paths = append(paths, Path{
			Kind:        KindPolyline,
			Points:      points,
			Color:       color,
			StrokeWidth: clamp(size/20, MinStrokeWidth, MaxStrokeWidth),
			Author:      AuthorAgent,
		})
	}
	return paths
}

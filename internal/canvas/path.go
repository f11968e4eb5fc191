// Package canvas defines the drawing data model and the pure stroke
// pipeline: validation, clamping, brush expansion, and interpolation.
//
// Everything in this package is deterministic and free of I/O. Brush
// expansion uses a random field seeded from the path itself, so the same
// input always produces the same bristles.
package canvas

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// PathKind enumerates drawable stroke kinds.
type PathKind string

const (
	KindLine      PathKind = "line"
	KindPolyline  PathKind = "polyline"
	KindQuadratic PathKind = "quadratic"
	KindCubic     PathKind = "cubic"
	KindSVG       PathKind = "svg"
)

// Author identifies who drew a path.
type Author string

const (
	AuthorAgent Author = "agent"
	AuthorHuman Author = "human"
)

// DrawingStyle selects how paths are rendered and expanded.
type DrawingStyle string

const (
	// StylePlotter ignores path-level color, width, and opacity; human
	// strokes are highlighted. No brush expansion.
	StylePlotter DrawingStyle = "plotter"

	// StylePaint honors path styling within clamps and expands brushes.
	StylePaint DrawingStyle = "paint"
)

// ParseDrawingStyle returns the style named by s, or StylePlotter for
// anything unrecognized (the persisted-state default).
func ParseDrawingStyle(s string) DrawingStyle {
	if DrawingStyle(s) == StylePaint {
		return StylePaint
	}
	return StylePlotter
}

// Stroke width and opacity clamps.
const (
	MinStrokeWidth = 0.5
	MaxStrokeWidth = 30.0
)

// minPoints maps each non-svg kind to its minimum point count.
var minPoints = map[PathKind]int{
	KindLine:      2,
	KindPolyline:  2,
	KindQuadratic: 3,
	KindCubic:     4,
}

var (
	ErrUnknownKind        = errors.New("unknown path kind")
	ErrInsufficientPoints = errors.New("insufficient points for path kind")
	ErrNonFiniteCoord     = errors.New("non-finite coordinate")
	ErrMalformedSVG       = errors.New("malformed svg path")
)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{3}(?:[0-9a-fA-F]{3})?$`)

// Point is a position on the canvas.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Path is a single drawable stroke.
type Path struct {
	Kind   PathKind `json:"kind"`
	Points []Point  `json:"points,omitempty"`

	// SVG holds the d-string for svg-kind paths (absolute M/L/Q/C only).
	SVG string `json:"svg,omitempty"`

	Color       string  `json:"color,omitempty"`
	StrokeWidth float64 `json:"stroke_width,omitempty"`
	Opacity     float64 `json:"opacity,omitempty"`
	Brush       string  `json:"brush,omitempty"`
	Author      Author  `json:"author,omitempty"`
}

// Canvas is an ordered list of strokes with fixed dimensions. Insertion
// order is the only ordering; a stroke's index is its identity.
type Canvas struct {
	Width        int          `json:"width"`
	Height       int          `json:"height"`
	Strokes      []Path       `json:"strokes"`
	DrawingStyle DrawingStyle `json:"drawing_style"`
}

// Bounds describes the clamping rectangle for ingest.
type Bounds struct {
	Width  float64
	Height float64
}

// ValidateAndClamp checks a path and normalizes it in place for the given
// canvas bounds. It returns a sanitized copy or an error describing why the
// path was rejected.
//
// Rejections: unknown kind, too few points, non-finite coordinates,
// malformed svg. Clamps: coordinates to bounds, stroke width to
// [MinStrokeWidth, MaxStrokeWidth], opacity to [0, 1]. Unknown brush names
// are dropped silently; a brush on an svg path is dropped as well.
func ValidateAndClamp(p Path, bounds Bounds) (Path, error) {
	switch p.Kind {
	case KindLine, KindPolyline, KindQuadratic, KindCubic:
		need := minPoints[p.Kind]
		if len(p.Points) < need {
			return Path{}, fmt.Errorf("%w: %s needs %d points, got %d",
				ErrInsufficientPoints, p.Kind, need, len(p.Points))
		}
		clamped := make([]Point, len(p.Points))
		for i, pt := range p.Points {
			if !finite(pt.X) || !finite(pt.Y) {
				return Path{}, fmt.Errorf("%w: point %d", ErrNonFiniteCoord, i)
			}
			clamped[i] = Point{
				X: clamp(pt.X, 0, bounds.Width),
				Y: clamp(pt.Y, 0, bounds.Height),
			}
		}
		p.Points = clamped
		p.SVG = ""
	case KindSVG:
		if _, err := parseSVGPath(p.SVG); err != nil {
			return Path{}, err
		}
		p.Points = nil
		p.Brush = ""
	default:
		return Path{}, fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}

	if p.StrokeWidth != 0 {
		p.StrokeWidth = clamp(p.StrokeWidth, MinStrokeWidth, MaxStrokeWidth)
	}
	if p.Opacity != 0 {
		p.Opacity = clamp(p.Opacity, 0, 1)
	}
	if p.Color != "" && !hexColorPattern.MatchString(p.Color) {
		p.Color = ""
	}
	if p.Brush != "" {
		if _, ok := LookupBrush(p.Brush); !ok {
			p.Brush = ""
		}
	}
	if p.Author != AuthorHuman {
		p.Author = AuthorAgent
	}
	return p, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// svgSegment is one command of a restricted svg path: an absolute moveto,
// lineto, quadratic, or cubic segment.
type svgSegment struct {
	cmd rune // 'M', 'L', 'Q', or 'C'
	pts []Point
}

var svgTokenPattern = regexp.MustCompile(`[MLQC]|-?\d*\.?\d+(?:[eE][+-]?\d+)?`)

// argsPerCommand maps svg commands to the coordinate pairs they consume.
var argsPerCommand = map[rune]int{'M': 1, 'L': 1, 'Q': 2, 'C': 3}

// parseSVGPath parses the restricted d-string subset: absolute M, L, Q, C.
// Anything else (relative commands, arcs, H/V, Z) is rejected.
func parseSVGPath(d string) ([]svgSegment, error) {
	d = strings.TrimSpace(d)
	if d == "" {
		return nil, fmt.Errorf("%w: empty d-string", ErrMalformedSVG)
	}

	// Anything outside the token alphabet means an unsupported command.
	stripped := svgTokenPattern.ReplaceAllString(d, "")
	if strings.Trim(stripped, " ,\t\n") != "" {
		return nil, fmt.Errorf("%w: unsupported content %q", ErrMalformedSVG, strings.TrimSpace(stripped))
	}

	tokens := svgTokenPattern.FindAllString(d, -1)
	if len(tokens) == 0 || tokens[0] != "M" {
		return nil, fmt.Errorf("%w: must start with absolute M", ErrMalformedSVG)
	}

	var segments []svgSegment
	i := 0
	for i < len(tokens) {
		cmd := []rune(tokens[i])[0]
		pairs, ok := argsPerCommand[cmd]
		if !ok {
			return nil, fmt.Errorf("%w: unexpected token %q", ErrMalformedSVG, tokens[i])
		}
		i++

		pts := make([]Point, 0, pairs)
		for p := 0; p < pairs; p++ {
			if i+1 >= len(tokens) {
				return nil, fmt.Errorf("%w: truncated %c segment", ErrMalformedSVG, cmd)
			}
			x, errX := parseFloat(tokens[i])
			y, errY := parseFloat(tokens[i+1])
			if errX != nil || errY != nil {
				return nil, fmt.Errorf("%w: bad coordinate in %c segment", ErrMalformedSVG, cmd)
			}
			if !finite(x) || !finite(y) {
				return nil, fmt.Errorf("%w: non-finite coordinate", ErrMalformedSVG)
			}
			pts = append(pts, Point{X: x, Y: y})
			i += 2
		}
		segments = append(segments, svgSegment{cmd: cmd, pts: pts})
	}

	if len(segments) < 2 {
		return nil, fmt.Errorf("%w: path has no drawable segment", ErrMalformedSVG)
	}
	return segments, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// Package render turns a canvas stroke list into SVG documents and PNG
// rasterizations for snapshots, thumbnails, and share images.
package render

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/easel/internal/canvas"
)

// Plotter-mode palette. Path-level styling is ignored; human strokes are
// highlighted so collaborators can tell their marks from the agent's.
const (
	plotterAgentColor = "#1a1a1a"
	plotterHumanColor = "#2563eb"
	plotterWidth      = 2.0

	backgroundColor = "#faf8f4"
)

// SVGOptions tweaks document generation.
type SVGOptions struct {
	// Background fills the canvas; empty means the default paper tone.
	Background string
}

// CanvasSVG renders the full canvas as a standalone SVG document.
func CanvasSVG(c canvas.Canvas, opts SVGOptions) string {
	bg := opts.Background
	if bg == "" {
		bg = backgroundColor
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		c.Width, c.Height, c.Width, c.Height)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="%s"/>`, c.Width, c.Height, bg)
	for _, p := range c.Strokes {
		writeStroke(&b, p, c.DrawingStyle)
	}
	b.WriteString(`</svg>`)
	return b.String()
}

func writeStroke(b *strings.Builder, p canvas.Path, style canvas.DrawingStyle) {
	color, width, opacity := strokeStyle(p, style)

	d := pathData(p)
	if d == "" {
		return
	}
	fmt.Fprintf(b,
		`<path d="%s" fill="none" stroke="%s" stroke-width="%s" stroke-opacity="%s" stroke-linecap="round" stroke-linejoin="round"/>`,
		d, color, trimFloat(width), trimFloat(opacity))
}

// strokeStyle resolves the effective color, width, and opacity for a path
// under the active drawing style.
func strokeStyle(p canvas.Path, style canvas.DrawingStyle) (string, float64, float64) {
	if style != canvas.StylePaint {
		color := plotterAgentColor
		if p.Author == canvas.AuthorHuman {
			color = plotterHumanColor
		}
		return color, plotterWidth, 1
	}

	color := p.Color
	if color == "" {
		color = plotterAgentColor
	}
	width := p.StrokeWidth
	if width == 0 {
		width = plotterWidth
	}
	opacity := p.Opacity
	if opacity == 0 {
		opacity = 1
	}
	return color, width, opacity
}

// pathData converts a path to an SVG d-string. SVG-kind paths pass their
// validated d-string through unchanged.
func pathData(p canvas.Path) string {
	if p.Kind == canvas.KindSVG {
		return p.SVG
	}
	if len(p.Points) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "M %s %s", trimFloat(p.Points[0].X), trimFloat(p.Points[0].Y))

	switch p.Kind {
	case canvas.KindQuadratic:
		if len(p.Points) >= 3 {
			fmt.Fprintf(&b, " Q %s %s %s %s",
				trimFloat(p.Points[1].X), trimFloat(p.Points[1].Y),
				trimFloat(p.Points[2].X), trimFloat(p.Points[2].Y))
		}
	case canvas.KindCubic:
		if len(p.Points) >= 4 {
			fmt.Fprintf(&b, " C %s %s %s %s %s %s",
				trimFloat(p.Points[1].X), trimFloat(p.Points[1].Y),
				trimFloat(p.Points[2].X), trimFloat(p.Points[2].Y),
				trimFloat(p.Points[3].X), trimFloat(p.Points[3].Y))
		}
	default:
		for _, pt := range p.Points[1:] {
			fmt.Fprintf(&b, " L %s %s", trimFloat(pt.X), trimFloat(pt.Y))
		}
	}
	return b.String()
}

// trimFloat formats a coordinate with enough precision for rendering while
// keeping documents compact.
func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

package canvas

import (
	"errors"
	"math"
	"testing"
)

var testBounds = Bounds{Width: 1024, Height: 768}

func TestValidateAndClampRejections(t *testing.T) {
	tests := []struct {
		name    string
		path    Path
		wantErr error
	}{
		{
			name:    "unknown kind",
			path:    Path{Kind: "scribble", Points: []Point{{0, 0}, {1, 1}}},
			wantErr: ErrUnknownKind,
		},
		{
			name:    "line with one point",
			path:    Path{Kind: KindLine, Points: []Point{{0, 0}}},
			wantErr: ErrInsufficientPoints,
		},
		{
			name:    "quadratic with two points",
			path:    Path{Kind: KindQuadratic, Points: []Point{{0, 0}, {1, 1}}},
			wantErr: ErrInsufficientPoints,
		},
		{
			name:    "cubic with three points",
			path:    Path{Kind: KindCubic, Points: []Point{{0, 0}, {1, 1}, {2, 2}}},
			wantErr: ErrInsufficientPoints,
		},
		{
			name:    "NaN coordinate",
			path:    Path{Kind: KindLine, Points: []Point{{math.NaN(), 0}, {1, 1}}},
			wantErr: ErrNonFiniteCoord,
		},
		{
			name:    "infinite coordinate",
			path:    Path{Kind: KindLine, Points: []Point{{0, 0}, {math.Inf(1), 1}}},
			wantErr: ErrNonFiniteCoord,
		},
		{
			name:    "relative svg command",
			path:    Path{Kind: KindSVG, SVG: "m 10 10 l 20 20"},
			wantErr: ErrMalformedSVG,
		},
		{
			name:    "svg arc",
			path:    Path{Kind: KindSVG, SVG: "M 0 0 A 5 5 0 0 1 10 10"},
			wantErr: ErrMalformedSVG,
		},
		{
			name:    "empty svg",
			path:    Path{Kind: KindSVG, SVG: "  "},
			wantErr: ErrMalformedSVG,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAndClamp(tt.path, testBounds)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateAndClamp() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAndClampClamping(t *testing.T) {
	p := Path{
		Kind:        KindLine,
		Points:      []Point{{-50, 100}, {2000, 900}},
		StrokeWidth: 50,
		Opacity:     2,
	}
	got, err := ValidateAndClamp(p, testBounds)
	if err != nil {
		t.Fatalf("ValidateAndClamp() error = %v", err)
	}
	if got.Points[0].X != 0 {
		t.Errorf("x below zero not clamped: %v", got.Points[0].X)
	}
	if got.Points[1].X != 1024 || got.Points[1].Y != 768 {
		t.Errorf("point not clamped to bounds: %+v", got.Points[1])
	}
	if got.StrokeWidth != MaxStrokeWidth {
		t.Errorf("StrokeWidth = %v, want %v", got.StrokeWidth, MaxStrokeWidth)
	}
	if got.Opacity != 1 {
		t.Errorf("Opacity = %v, want 1", got.Opacity)
	}

	low := Path{Kind: KindLine, Points: []Point{{0, 0}, {1, 1}}, StrokeWidth: 0.1, Opacity: -0.2}
	got, err = ValidateAndClamp(low, testBounds)
	if err != nil {
		t.Fatalf("ValidateAndClamp() error = %v", err)
	}
	if got.StrokeWidth != MinStrokeWidth {
		t.Errorf("StrokeWidth = %v, want %v", got.StrokeWidth, MinStrokeWidth)
	}
	if got.Opacity != 0 {
		t.Errorf("Opacity = %v, want 0", got.Opacity)
	}
}

func TestValidateAndClampBrushHandling(t *testing.T) {
	unknown := Path{Kind: KindLine, Points: []Point{{0, 0}, {1, 1}}, Brush: "nonexistent"}
	got, err := ValidateAndClamp(unknown, testBounds)
	if err != nil {
		t.Fatalf("ValidateAndClamp() error = %v", err)
	}
	if got.Brush != "" {
		t.Errorf("unknown brush kept: %q", got.Brush)
	}

	svg := Path{Kind: KindSVG, SVG: "M 0 0 L 10 10", Brush: "oil_round"}
	got, err = ValidateAndClamp(svg, testBounds)
	if err != nil {
		t.Fatalf("ValidateAndClamp() error = %v", err)
	}
	if got.Brush != "" {
		t.Errorf("brush on svg path kept: %q", got.Brush)
	}
}

func TestValidateAndClampColor(t *testing.T) {
	good := Path{Kind: KindLine, Points: []Point{{0, 0}, {1, 1}}, Color: "#a1B2c3"}
	got, err := ValidateAndClamp(good, testBounds)
	if err != nil {
		t.Fatalf("ValidateAndClamp() error = %v", err)
	}
	if got.Color != "#a1B2c3" {
		t.Errorf("valid color dropped: %q", got.Color)
	}

	bad := Path{Kind: KindLine, Points: []Point{{0, 0}, {1, 1}}, Color: "red"}
	got, _ = ValidateAndClamp(bad, testBounds)
	if got.Color != "" {
		t.Errorf("invalid color kept: %q", got.Color)
	}
}

func TestValidateAndClampAuthorDefault(t *testing.T) {
	p := Path{Kind: KindLine, Points: []Point{{0, 0}, {1, 1}}}
	got, err := ValidateAndClamp(p, testBounds)
	if err != nil {
		t.Fatalf("ValidateAndClamp() error = %v", err)
	}
	if got.Author != AuthorAgent {
		t.Errorf("Author default = %q, want agent", got.Author)
	}

	p.Author = AuthorHuman
	got, _ = ValidateAndClamp(p, testBounds)
	if got.Author != AuthorHuman {
		t.Errorf("human author overwritten: %q", got.Author)
	}
}

func TestParseSVGPathSubset(t *testing.T) {
	segments, err := parseSVGPath("M 10 10 L 50 50 Q 60 20 80 40 C 90 50 100 60 110 70")
	if err != nil {
		t.Fatalf("parseSVGPath() error = %v", err)
	}
	if len(segments) != 4 {
		t.Fatalf("segments = %d, want 4", len(segments))
	}
	if segments[0].cmd != 'M' || segments[3].cmd != 'C' {
		t.Errorf("unexpected commands: %c %c", segments[0].cmd, segments[3].cmd)
	}
	if len(segments[3].pts) != 3 {
		t.Errorf("cubic pts = %d, want 3", len(segments[3].pts))
	}
}

func TestParseSVGPathTruncated(t *testing.T) {
	if _, err := parseSVGPath("M 10 10 Q 5 5"); !errors.Is(err, ErrMalformedSVG) {
		t.Fatalf("error = %v, want ErrMalformedSVG", err)
	}
}

func TestParseDrawingStyle(t *testing.T) {
	if ParseDrawingStyle("paint") != StylePaint {
		t.Error("paint not recognized")
	}
	if ParseDrawingStyle("plotter") != StylePlotter {
		t.Error("plotter not recognized")
	}
	if ParseDrawingStyle("") != StylePlotter {
		t.Error("default should be plotter")
	}
	if ParseDrawingStyle("gouache") != StylePlotter {
		t.Error("unknown should fall back to plotter")
	}
}

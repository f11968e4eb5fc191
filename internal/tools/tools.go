// Package tools implements the fixed tool set the artist agent may call.
// Tool calls arrive as a name plus raw JSON args, are parsed into a typed
// Call variant, and are dispatched against an explicit Context so handlers
// hold no global state.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/easel/internal/agent"
	"github.com/haasonsaas/easel/internal/canvas"
	"github.com/haasonsaas/easel/internal/observability"
	"github.com/haasonsaas/easel/internal/render"
	"github.com/haasonsaas/easel/internal/workspace"
)

// Context carries everything a handler needs. The orchestrator builds one
// Context for its lifetime; the callbacks consult the orchestrator's
// per-turn state so a call from an aborted turn is discarded there.
type Context struct {
	Store *workspace.Store
	Log   *observability.Logger

	// OnDraw receives validated paths after they are added to the canvas.
	// The orchestrator queues them and sleeps the draw-gate.
	OnDraw func(ctx context.Context, paths []canvas.Path)

	// OnPieceDone latches piece completion in the orchestrator.
	OnPieceDone func()

	// Python runs generate_svg code in a sub-interpreter.
	Python *PythonRunner

	// Imagine generates reference images. Nil disables the tool.
	Imagine ImagineClient

	ImagineTimeout time.Duration
}

// Call is a parsed tool invocation. Exactly one variant matches each tool
// name.
type Call interface{ toolName() string }

// DrawPaths adds agent paths to the canvas.
type DrawPaths struct {
	Paths []canvas.Path `json:"paths"`
	Done  bool          `json:"done,omitempty"`
}

// GenerateSVG runs Python code that emits paths on stdout.
type GenerateSVG struct {
	Code string `json:"code"`
	Done bool   `json:"done,omitempty"`
}

// ViewCanvas returns the current canvas snapshot.
type ViewCanvas struct{}

// Imagine generates a reference image from a prompt.
type Imagine struct {
	Prompt string `json:"prompt"`
	Name   string `json:"name,omitempty"`
}

// SignCanvas places the agent's signature mark.
type SignCanvas struct {
	Position string  `json:"position,omitempty"`
	Size     float64 `json:"size,omitempty"`
	Color    string  `json:"color,omitempty"`
}

// NamePiece records the current piece's title.
type NamePiece struct {
	Title string `json:"title"`
}

// MarkPieceDone signals that the piece is complete.
type MarkPieceDone struct{}

func (DrawPaths) toolName() string     { return "draw_paths" }
func (GenerateSVG) toolName() string   { return "generate_svg" }
func (ViewCanvas) toolName() string    { return "view_canvas" }
func (Imagine) toolName() string       { return "imagine" }
func (SignCanvas) toolName() string    { return "sign_canvas" }
func (NamePiece) toolName() string     { return "name_piece" }
func (MarkPieceDone) toolName() string { return "mark_piece_done" }

// ParseCall translates a wire-form tool call into its typed variant.
func ParseCall(name string, input json.RawMessage) (Call, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	switch name {
	case "draw_paths":
		var c DrawPaths
		return c, json.Unmarshal(input, &c)
	case "generate_svg":
		var c GenerateSVG
		return c, json.Unmarshal(input, &c)
	case "view_canvas":
		return ViewCanvas{}, nil
	case "imagine":
		var c Imagine
		return c, json.Unmarshal(input, &c)
	case "sign_canvas":
		var c SignCanvas
		return c, json.Unmarshal(input, &c)
	case "name_piece":
		var c NamePiece
		return c, json.Unmarshal(input, &c)
	case "mark_piece_done":
		return MarkPieceDone{}, nil
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}

// Dispatch runs one parsed call. Handler faults come back as error
// outcomes so the turn continues.
func Dispatch(ctx context.Context, tc *Context, call Call) agent.ToolOutcome {
	switch c := call.(type) {
	case DrawPaths:
		out := tc.drawPaths(ctx, c.Paths)
		if c.Done && !out.IsError {
			tc.pieceDone()
		}
		return out
	case GenerateSVG:
		return tc.generateSVG(ctx, c)
	case ViewCanvas:
		return tc.snapshotOutcome("Current canvas.")
	case Imagine:
		return tc.imagine(ctx, c)
	case SignCanvas:
		return tc.signCanvas(ctx, c)
	case NamePiece:
		return tc.namePiece(c.Title)
	case MarkPieceDone:
		return tc.markPieceDone()
	default:
		return errorOutcome(fmt.Sprintf("unhandled tool %q", call.toolName()))
	}
}

// Run parses and dispatches a wire-form call. It is the session's
// ToolRunner.
func Run(ctx context.Context, tc *Context, name string, input json.RawMessage) agent.ToolOutcome {
	call, err := ParseCall(name, input)
	if err != nil {
		return errorOutcome(err.Error())
	}
	return Dispatch(ctx, tc, call)
}

func (tc *Context) drawPaths(ctx context.Context, paths []canvas.Path) agent.ToolOutcome {
	if len(paths) == 0 {
		return errorOutcome("draw_paths: no paths given")
	}

	bounds := tc.Store.Bounds()
	validated := make([]canvas.Path, 0, len(paths))
	var rejected []string
	for i, p := range paths {
		clean, err := canvas.ValidateAndClamp(p, bounds)
		if err != nil {
			rejected = append(rejected, fmt.Sprintf("path %d: %v", i, err))
			continue
		}
		validated = append(validated, clean)
	}
	if len(validated) == 0 {
		return errorOutcome("draw_paths: all paths rejected: " + joinLines(rejected))
	}

	for _, p := range validated {
		if err := tc.Store.AddStroke(p); err != nil {
			return errorOutcome("draw_paths: " + err.Error())
		}
	}
	if tc.OnDraw != nil {
		tc.OnDraw(ctx, validated)
	}

	msg := fmt.Sprintf("Drew %d paths.", len(validated))
	if len(rejected) > 0 {
		msg += fmt.Sprintf(" Rejected %d: %s", len(rejected), joinLines(rejected))
	}
	return tc.snapshotOutcome(msg)
}

func (tc *Context) generateSVG(ctx context.Context, c GenerateSVG) agent.ToolOutcome {
	if tc.Python == nil {
		return errorOutcome("generate_svg: code execution is disabled")
	}
	result, err := tc.Python.Run(ctx, c.Code)
	if err != nil {
		return errorOutcome("generate_svg: " + err.Error())
	}
	if len(result.Paths) == 0 {
		return errorOutcome("generate_svg: code produced no paths; stderr: " + result.Stderr)
	}
	out := tc.drawPaths(ctx, result.Paths)
	if c.Done && !out.IsError {
		tc.pieceDone()
	}
	return out
}

func (tc *Context) imagine(ctx context.Context, c Imagine) agent.ToolOutcome {
	if tc.Imagine == nil {
		return errorOutcome("imagine: image generation is disabled")
	}
	if c.Prompt == "" {
		return errorOutcome("imagine: prompt is required")
	}

	timeout := tc.ImagineTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	genCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	img, err := tc.Imagine.Generate(genCtx, c.Prompt)
	if err != nil {
		return errorOutcome("imagine: " + err.Error())
	}

	path, err := saveReference(tc.Store.ReferencesDir(), c.Name, img)
	if err != nil {
		tc.Log.Warn(ctx, "failed to save reference image", "error", err)
	}
	return agent.ToolOutcome{
		Content:  fmt.Sprintf("Reference image generated (saved as %s).", path),
		ImagePNG: img,
	}
}

func (tc *Context) signCanvas(ctx context.Context, c SignCanvas) agent.ToolOutcome {
	paths := canvas.SignaturePaths(tc.Store.Bounds(), canvas.SignaturePosition(c.Position), c.Size, c.Color)
	return tc.drawPaths(ctx, paths)
}

func (tc *Context) namePiece(title string) agent.ToolOutcome {
	if title == "" {
		return errorOutcome("name_piece: title is required")
	}
	if err := tc.Store.SetTitle(title); err != nil {
		return errorOutcome("name_piece: " + err.Error())
	}
	return agent.ToolOutcome{Content: fmt.Sprintf("Piece titled %q.", title)}
}

func (tc *Context) markPieceDone() agent.ToolOutcome {
	tc.pieceDone()
	return agent.ToolOutcome{Content: "Piece marked complete. The canvas is latched until the user starts a new one."}
}

func (tc *Context) pieceDone() {
	if tc.OnPieceDone != nil {
		tc.OnPieceDone()
	}
}

// snapshotOutcome renders the canvas so the agent's next turn sees its
// work.
func (tc *Context) snapshotOutcome(msg string) agent.ToolOutcome {
	state := tc.Store.Snapshot()
	png, err := render.CanvasPNG(state.Canvas)
	if err != nil {
		// The drawing already happened; report it without the image.
		return agent.ToolOutcome{Content: msg + " (snapshot unavailable: " + err.Error() + ")"}
	}
	return agent.ToolOutcome{Content: msg, ImagePNG: png}
}

func errorOutcome(msg string) agent.ToolOutcome {
	return agent.ToolOutcome{Content: msg, IsError: true}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "; "
		}
		out += l
	}
	return out
}

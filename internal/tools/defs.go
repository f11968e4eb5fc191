package tools

import (
	"encoding/json"

	"github.com/haasonsaas/easel/internal/agent"
)

// pathSchema describes one drawable path in tool arguments.
const pathSchema = `{
  "type": "object",
  "properties": {
    "kind": {"type": "string", "enum": ["line", "polyline", "quadratic", "cubic", "svg"]},
    "points": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"x": {"type": "number"}, "y": {"type": "number"}},
        "required": ["x", "y"]
      }
    },
    "svg": {"type": "string", "description": "d-string using absolute M/L/Q/C only; for kind=svg"},
    "color": {"type": "string", "description": "hex color like #cc4422"},
    "stroke_width": {"type": "number"},
    "opacity": {"type": "number"},
    "brush": {"type": "string", "description": "brush preset name; paint style only"}
  },
  "required": ["kind"]
}`

// Defs returns the tool declarations registered with the agent session.
// The set is fixed; availability of imagine and generate_svg depends on
// configuration, and disabled tools answer with an error outcome.
func Defs() []agent.ToolDef {
	return []agent.ToolDef{
		{
			Name:        "draw_paths",
			Description: "Draw one or more vector paths on the shared canvas. Coordinates are clamped to the canvas bounds. Returns a snapshot of the canvas after drawing.",
			Schema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "paths": {"type": "array", "items": ` + pathSchema + `},
    "done": {"type": "boolean", "description": "true when this is the finishing batch of the piece"}
  },
  "required": ["paths"]
}`),
		},
		{
			Name:        "generate_svg",
			Description: "Run Python code to generate paths algorithmically. The code appends dicts to a predefined `paths` list using the helpers line(), polyline(), quad(), cubic(). Stdout is collected as {\"paths\": [...]}.",
			Schema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "code": {"type": "string"},
    "done": {"type": "boolean"}
  },
  "required": ["code"]
}`),
		},
		{
			Name:        "view_canvas",
			Description: "Look at the current canvas without drawing.",
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        "imagine",
			Description: "Generate a reference image from a text prompt. The image is saved to the workspace and returned for inspiration; it is not drawn on the canvas.",
			Schema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "prompt": {"type": "string"},
    "name": {"type": "string", "description": "optional file name for the saved reference"}
  },
  "required": ["prompt"]
}`),
		},
		{
			Name:        "sign_canvas",
			Description: "Place the artist signature on the canvas.",
			Schema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "position": {"type": "string", "enum": ["bottom_right", "bottom_left", "top_right", "top_left"]},
    "size": {"type": "number"},
    "color": {"type": "string"}
  }
}`),
		},
		{
			Name:        "name_piece",
			Description: "Give the current piece a title.",
			Schema: json.RawMessage(`{
  "type": "object",
  "properties": {"title": {"type": "string"}},
  "required": ["title"]
}`),
		},
		{
			Name:        "mark_piece_done",
			Description: "Declare the current piece finished. The agent stops drawing until the user starts a new canvas or nudges.",
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}
}

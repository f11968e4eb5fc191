// Package agent hides the LLM transport behind a Session that streams
// typed events. The orchestrator consumes the stream with one loop and
// never touches provider wire types.
package agent

import "encoding/json"

// EventKind discriminates Session stream events.
type EventKind string

const (
	EventTextDelta  EventKind = "text_delta"
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventDone       EventKind = "done"
	EventError      EventKind = "error"
)

// ToolUse is an agent request to run one tool.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is the outcome of a tool run, echoed into the stream so the
// orchestrator can publish execution progress.
type ToolResult struct {
	ToolUseID string
	Name      string
	Content   string
	IsError   bool
}

// Event is one element of a turn's response stream. Exactly the fields for
// its Kind are set.
type Event struct {
	Kind       EventKind
	Text       string
	ToolUse    *ToolUse
	ToolResult *ToolResult
	Err        error
}

// ToolDef declares one tool offered to the agent.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ToolOutcome is what a tool handler returns to the agent: text, an
// optional PNG the model sees as an image block, and an error flag.
type ToolOutcome struct {
	Content  string
	ImagePNG []byte
	IsError  bool
}

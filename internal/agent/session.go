package agent

import (
	"context"
	"encoding/json"
)

// TurnInput is the multimodal prompt for one agent turn: the composed text
// context plus the current canvas rendered as PNG.
type TurnInput struct {
	Prompt    string
	CanvasPNG []byte
}

// ToolRunner executes one tool call on behalf of the session. The session
// feeds the outcome back to the model and emits a ToolResult event.
type ToolRunner func(ctx context.Context, name string, input json.RawMessage) ToolOutcome

// Session is one user's connection to the LLM. A session is single-turn
// concurrent: Query must not be called again until the previous event
// stream has terminated.
type Session interface {
	// Query starts a turn and returns its event stream. The stream always
	// terminates with a Done or Error event; cancelling ctx aborts the
	// turn early.
	Query(ctx context.Context, turn TurnInput) (<-chan Event, error)

	// Close releases the session. The session must not be used after.
	Close() error
}

// SessionOptions configures a session at connect time.
type SessionOptions struct {
	// SystemPrompt is derived from the workspace's drawing style.
	SystemPrompt string

	// Tools is the fixed tool list registered for the session.
	Tools []ToolDef

	// Runner executes tool calls mid-stream.
	Runner ToolRunner

	Model     string
	MaxTokens int

	// MaxIterations bounds tool-use round trips within one turn.
	MaxIterations int
}

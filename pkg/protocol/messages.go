// Package protocol defines the JSON wire types exchanged between the Easel
// server and its clients over the per-user WebSocket.
//
// Every message carries a Type discriminator. Server messages are built with
// the constructor helpers so payload shapes stay consistent across the
// dispatcher, orchestrator, and registry.
package protocol

import "encoding/json"

// ClientMessageType enumerates messages a client may send.
type ClientMessageType string

const (
	ClientStroke     ClientMessageType = "stroke"
	ClientNudge      ClientMessageType = "nudge"
	ClientClear      ClientMessageType = "clear"
	ClientNewCanvas  ClientMessageType = "new_canvas"
	ClientLoadCanvas ClientMessageType = "load_canvas"
	ClientPause      ClientMessageType = "pause"
	ClientResume     ClientMessageType = "resume"
	ClientSetStyle   ClientMessageType = "set_style"
)

// ClientMessage is the envelope for every client-to-server message.
// Fields beyond Type are populated depending on the message kind.
type ClientMessage struct {
	Type ClientMessageType `json:"type"`

	// Path carries the stroke payload for "stroke" messages.
	Path json.RawMessage `json:"path,omitempty"`

	// Text carries the nudge text for "nudge" messages.
	Text string `json:"text,omitempty"`

	// Direction optionally seeds the agent's next turn for "new_canvas"
	// and "resume" messages.
	Direction string `json:"direction,omitempty"`

	// DrawingStyle optionally switches style for "new_canvas" and is
	// required for "set_style".
	DrawingStyle string `json:"drawing_style,omitempty"`

	// CanvasID names the gallery piece for "load_canvas".
	CanvasID string `json:"canvas_id,omitempty"`
}

// ServerMessageType enumerates messages the server may send.
type ServerMessageType string

const (
	ServerInit              ServerMessageType = "init"
	ServerPaused            ServerMessageType = "paused"
	ServerStatus            ServerMessageType = "status"
	ServerStrokeComplete    ServerMessageType = "stroke_complete"
	ServerClear             ServerMessageType = "clear"
	ServerNewCanvas         ServerMessageType = "new_canvas"
	ServerGalleryUpdate     ServerMessageType = "gallery_update"
	ServerPieceState        ServerMessageType = "piece_state"
	ServerThinkingDelta     ServerMessageType = "thinking_delta"
	ServerCodeExecution     ServerMessageType = "code_execution"
	ServerStrokesReady      ServerMessageType = "agent_strokes_ready"
	ServerIteration         ServerMessageType = "iteration"
	ServerStyleChange       ServerMessageType = "style_change"
	ServerLoadCanvas        ServerMessageType = "load_canvas"
	ServerError             ServerMessageType = "error"
)

// ServerMessage is the envelope for every server-to-client message. Payload
// holds the type-specific body; it is kept as a map so the fan-out layer can
// marshal once per broadcast.
type ServerMessage struct {
	Type    ServerMessageType `json:"type"`
	Payload map[string]any    `json:"-"`
}

// MarshalJSON flattens Payload into the top-level object alongside Type.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+1)
	for k, v := range m.Payload {
		out[k] = v
	}
	out["type"] = string(m.Type)
	return json.Marshal(out)
}

// NewServerMessage builds a server message from alternating key/value pairs.
func NewServerMessage(t ServerMessageType, kv ...any) ServerMessage {
	payload := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		payload[key] = kv[i+1]
	}
	return ServerMessage{Type: t, Payload: payload}
}

// Paused builds a "paused" message.
func Paused(paused bool, reason string) ServerMessage {
	msg := NewServerMessage(ServerPaused, "paused", paused)
	if reason != "" {
		msg.Payload["reason"] = reason
	}
	return msg
}

// Status builds a "status" message.
func Status(status string) ServerMessage {
	return NewServerMessage(ServerStatus, "status", status)
}

// ThinkingDelta builds a streaming text delta message.
func ThinkingDelta(text string, iteration int) ServerMessage {
	return NewServerMessage(ServerThinkingDelta, "text", text, "iteration", iteration)
}

// StrokesReady announces a queued batch the client should fetch over REST.
func StrokesReady(count int, batchID int64, pieceNumber int) ServerMessage {
	return NewServerMessage(ServerStrokesReady,
		"count", count,
		"batch_id", batchID,
		"piece_number", pieceNumber,
	)
}

// PieceState reports the current piece number and completion latch.
func PieceState(number int, completed bool) ServerMessage {
	return NewServerMessage(ServerPieceState, "number", number, "completed", completed)
}

// Error builds an error reply. Details may be empty.
func Error(message, details string) ServerMessage {
	msg := NewServerMessage(ServerError, "message", message)
	if details != "" {
		msg.Payload["details"] = details
	}
	return msg
}

// CodeExecutionStatus is the status field of a code_execution message.
type CodeExecutionStatus string

const (
	CodeExecutionStarted   CodeExecutionStatus = "started"
	CodeExecutionCompleted CodeExecutionStatus = "completed"
)

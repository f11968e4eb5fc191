// Package workspace implements the durable per-user state store: the
// canvas, the pending-stroke queue, the gallery, and atomic persistence
// under a per-user directory.
package workspace

import (
	"time"

	"github.com/haasonsaas/easel/internal/canvas"
)

// Status is the agent's externally visible state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusThinking  Status = "thinking"
	StatusExecuting Status = "executing"
	StatusDrawing   Status = "drawing"
	StatusPaused    Status = "paused"
	StatusError     Status = "error"
)

// PauseReason records why the agent is paused. A user pause survives
// disconnects; a disconnect pause clears on reconnect.
type PauseReason string

const (
	PauseNone       PauseReason = "none"
	PauseUser       PauseReason = "user"
	PauseDisconnect PauseReason = "disconnect"
)

// State is the full persisted workspace record, the schema of
// workspace.json. All mutation goes through the Store.
type State struct {
	Canvas            canvas.Canvas          `json:"canvas"`
	Status            Status                 `json:"status"`
	PauseReason       PauseReason            `json:"pause_reason"`
	PieceNumber       int                    `json:"piece_number"`
	Notes             string                 `json:"notes"`
	Monologue         string                 `json:"monologue"`
	CurrentPieceTitle string                 `json:"current_piece_title,omitempty"`
	PendingStrokes    []canvas.PendingStroke `json:"pending_strokes"`
	StrokeBatchID     int64                  `json:"stroke_batch_id"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// applyStateDefaults fills fields a hand-edited or older workspace.json may
// omit.
func applyStateDefaults(s *State, width, height int) {
	if s.Canvas.Width == 0 {
		s.Canvas.Width = width
	}
	if s.Canvas.Height == 0 {
		s.Canvas.Height = height
	}
	if s.Canvas.DrawingStyle == "" {
		s.Canvas.DrawingStyle = canvas.StylePlotter
	}
	if s.Status == "" {
		s.Status = StatusIdle
	}
	if s.PauseReason == "" {
		s.PauseReason = PauseNone
	}
	if s.PieceNumber == 0 {
		s.PieceNumber = 1
	}
}

// Paused reports whether the state is paused for any reason.
func (s State) Paused() bool {
	return s.PauseReason != PauseNone && s.PauseReason != ""
}

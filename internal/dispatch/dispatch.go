// Package dispatch routes client WebSocket messages to workspace and
// orchestrator operations. Each message is handled independently; a bad
// message earns an error reply on the offending connection and never
// disturbs the other connections or the agent loop.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/easel/internal/canvas"
	"github.com/haasonsaas/easel/internal/conns"
	"github.com/haasonsaas/easel/internal/observability"
	"github.com/haasonsaas/easel/internal/orchestrator"
	"github.com/haasonsaas/easel/internal/ratelimit"
	"github.com/haasonsaas/easel/internal/workspace"
	"github.com/haasonsaas/easel/pkg/protocol"
)

// Dispatcher handles one workspace's inbound messages.
type Dispatcher struct {
	store   *workspace.Store
	set     *conns.Set
	orc     *orchestrator.Orchestrator
	limiter *ratelimit.Limiter
	log     *observability.Logger
	metrics *observability.Metrics
}

// New builds a dispatcher. The limiter may be nil to disable stroke rate
// limiting.
func New(store *workspace.Store, set *conns.Set, orc *orchestrator.Orchestrator, limiter *ratelimit.Limiter, log *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		store:   store,
		set:     set,
		orc:     orc,
		limiter: limiter,
		log:     log.WithComponent("dispatch").WithFields("user_id", store.UserID()),
		metrics: metrics,
	}
}

// Handle processes one raw client message from conn. Panics in handlers
// are contained so a malformed message cannot take down the read loop.
func (d *Dispatcher) Handle(ctx context.Context, conn conns.Conn, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error(ctx, "panic handling client message", "panic", fmt.Sprint(r))
			d.reply(conn, protocol.Error("internal error handling message", ""))
			d.record("unknown", "error")
		}
	}()

	var msg protocol.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.reply(conn, protocol.Error("malformed message", err.Error()))
		d.record("unknown", "invalid")
		return
	}

	kind := string(msg.Type)
	var err error
	switch msg.Type {
	case protocol.ClientStroke:
		err = d.handleStroke(ctx, conn, msg)
	case protocol.ClientNudge:
		err = d.handleNudge(ctx, conn, msg)
	case protocol.ClientClear:
		err = d.handleClear(ctx)
	case protocol.ClientNewCanvas:
		err = d.handleNewCanvas(ctx, msg)
	case protocol.ClientLoadCanvas:
		err = d.handleLoadCanvas(ctx, conn, msg)
	case protocol.ClientPause:
		err = d.handlePause(ctx)
	case protocol.ClientResume:
		err = d.handleResume(ctx, msg)
	case protocol.ClientSetStyle:
		err = d.handleSetStyle(ctx, msg)
	default:
		d.reply(conn, protocol.Error(fmt.Sprintf("unknown message type %q", msg.Type), ""))
		d.record(kind, "invalid")
		return
	}

	if err != nil {
		d.log.Warn(ctx, "client message failed", "kind", kind, "error", err)
		d.reply(conn, protocol.Error(fmt.Sprintf("%s failed", kind), err.Error()))
		d.record(kind, "error")
		return
	}
	d.record(kind, "ok")
}

// handleStroke validates and applies a human stroke, then echoes it to
// every connection so all tabs render it.
func (d *Dispatcher) handleStroke(ctx context.Context, conn conns.Conn, msg protocol.ClientMessage) error {
	if d.limiter != nil && !d.limiter.Allow(d.store.UserID()) {
		d.reply(conn, protocol.Error("stroke rate limit exceeded", "slow down and try again"))
		d.record("stroke", "rate_limited")
		return nil
	}
	if len(msg.Path) == 0 {
		return errors.New("stroke requires a path")
	}

	var path canvas.Path
	if err := json.Unmarshal(msg.Path, &path); err != nil {
		return fmt.Errorf("parsing path: %w", err)
	}
	path.Author = canvas.AuthorHuman

	clean, err := canvas.ValidateAndClamp(path, d.store.Bounds())
	if err != nil {
		return err
	}
	if err := d.store.AddStroke(clean); err != nil {
		return err
	}

	d.set.Broadcast(protocol.NewServerMessage(protocol.ServerStrokeComplete, "path", clean))
	return nil
}

func (d *Dispatcher) handleNudge(ctx context.Context, conn conns.Conn, msg protocol.ClientMessage) error {
	if msg.Text == "" {
		return errors.New("nudge requires text")
	}
	d.log.Info(ctx, "nudge received")
	d.orc.Nudge(msg.Text)
	return nil
}

// handleClear wipes the canvas and the pending queue. An in-flight agent
// turn is aborted so its remaining batches cannot redraw over the blank
// canvas.
func (d *Dispatcher) handleClear(ctx context.Context) error {
	d.orc.AbortTurn()
	if err := d.store.ClearCanvas(); err != nil {
		return err
	}
	d.set.Broadcast(protocol.NewServerMessage(protocol.ServerClear))
	d.set.Broadcast(protocol.Status(string(workspace.StatusIdle)))
	return nil
}

// handleNewCanvas archives the current piece and starts the next one. The
// completion latch drops, any pause lifts, and the loop wakes.
func (d *Dispatcher) handleNewCanvas(ctx context.Context, msg protocol.ClientMessage) error {
	d.orc.AbortTurn()

	style := d.store.Style()
	if msg.DrawingStyle != "" {
		style = canvas.ParseDrawingStyle(msg.DrawingStyle)
	}

	savedID, err := d.store.NewCanvas(style)
	if err != nil {
		return err
	}

	d.orc.ClearCompleted()
	if err := d.store.SetPause(false, workspace.PauseNone); err != nil {
		return err
	}

	state := d.store.Snapshot()
	d.set.Broadcast(protocol.NewServerMessage(protocol.ServerNewCanvas,
		"saved_id", savedID,
		"piece_number", state.PieceNumber,
		"drawing_style", string(state.Canvas.DrawingStyle),
	))
	if metas, err := d.store.ListGallery(); err == nil {
		d.set.Broadcast(protocol.NewServerMessage(protocol.ServerGalleryUpdate, "canvases", metas))
	}
	d.set.Broadcast(protocol.PieceState(state.PieceNumber, false))
	d.set.Broadcast(protocol.Status(string(workspace.StatusIdle)))

	if msg.Direction != "" {
		d.orc.Nudge(msg.Direction)
	} else {
		d.orc.Wake()
	}
	return nil
}

func (d *Dispatcher) handleLoadCanvas(ctx context.Context, conn conns.Conn, msg protocol.ClientMessage) error {
	number, err := workspace.ParsePieceID(msg.CanvasID)
	if err != nil {
		return err
	}

	d.orc.AbortTurn()
	piece, err := d.store.LoadCanvasIntoWorkspace(number)
	if err != nil {
		return err
	}

	state := d.store.Snapshot()
	d.set.Broadcast(protocol.NewServerMessage(protocol.ServerLoadCanvas,
		"canvas_id", workspace.PieceID(piece.PieceNumber),
		"stroke_count", len(piece.Strokes),
		"drawing_style", string(state.Canvas.DrawingStyle),
		"title", piece.Title,
	))
	return nil
}

func (d *Dispatcher) handlePause(ctx context.Context) error {
	if err := d.store.SetPause(true, workspace.PauseUser); err != nil {
		return err
	}
	d.set.Broadcast(protocol.Paused(true, string(workspace.PauseUser)))
	d.set.Broadcast(protocol.Status(string(workspace.StatusPaused)))
	return nil
}

func (d *Dispatcher) handleResume(ctx context.Context, msg protocol.ClientMessage) error {
	if err := d.store.SetPause(false, workspace.PauseNone); err != nil {
		return err
	}
	d.set.Broadcast(protocol.Paused(false, ""))
	d.set.Broadcast(protocol.Status(string(workspace.StatusIdle)))

	if msg.Direction != "" {
		d.orc.Nudge(msg.Direction)
	} else {
		d.orc.Wake()
	}
	return nil
}

// handleSetStyle switches the drawing style mid-piece. A no-op change
// broadcasts nothing.
func (d *Dispatcher) handleSetStyle(ctx context.Context, msg protocol.ClientMessage) error {
	if msg.DrawingStyle == "" {
		return errors.New("set_style requires drawing_style")
	}
	changed, err := d.store.SetStyle(canvas.ParseDrawingStyle(msg.DrawingStyle))
	if err != nil {
		return err
	}
	if changed {
		style := d.store.Style()
		d.set.Broadcast(protocol.NewServerMessage(protocol.ServerStyleChange,
			"drawing_style", string(style),
			"style_config", canvas.StyleConfig(style)))
	}
	return nil
}

// reply sends to one connection only, never the whole set.
func (d *Dispatcher) reply(conn conns.Conn, msg protocol.ServerMessage) {
	if err := conn.Send(msg); err != nil {
		d.set.Remove(conn)
	}
}

func (d *Dispatcher) record(kind, status string) {
	if d.metrics != nil {
		d.metrics.RecordClientMessage(kind, status)
	}
}

// Package orchestrator runs the per-workspace control loop: it decides
// when to run an agent turn, streams the turn's events to the user's
// connections, gates on client-side animation, and latches finished
// pieces.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/easel/internal/agent"
	"github.com/haasonsaas/easel/internal/canvas"
	"github.com/haasonsaas/easel/internal/conns"
	"github.com/haasonsaas/easel/internal/observability"
	"github.com/haasonsaas/easel/internal/render"
	"github.com/haasonsaas/easel/internal/tools"
	"github.com/haasonsaas/easel/internal/workspace"
	"github.com/haasonsaas/easel/pkg/protocol"
)

// Config carries the loop's timing knobs.
type Config struct {
	// Interval is the safety-net period between unprompted turns.
	Interval time.Duration

	// ClientFPS is the client's stroke animation rate, the divisor in the
	// draw-gate formula.
	ClientFPS float64

	// AnimationBuffer pads the draw-gate sleep.
	AnimationBuffer time.Duration

	// MaxAnimationWait caps the draw-gate sleep.
	MaxAnimationWait time.Duration

	// MaxIterations is the session's per-turn tool round bound, echoed to
	// clients in iteration messages.
	MaxIterations int
}

// Options wires an orchestrator's collaborators. Python and Imagine may be
// nil, which disables the corresponding tools.
type Options struct {
	Store          *workspace.Store
	Conns          *conns.Set
	Python         *tools.PythonRunner
	Imagine        tools.ImagineClient
	ImagineTimeout time.Duration
	Config         Config
	Log            *observability.Logger
	Metrics        *observability.Metrics
}

// Orchestrator owns one workspace's agent loop.
type Orchestrator struct {
	store   *workspace.Store
	set     *conns.Set
	session agent.Session
	cfg     Config
	log     *observability.Logger
	metrics *observability.Metrics

	toolCtx *tools.Context

	// wake coalesces wake-ups; at most one is pending.
	wake chan struct{}

	// aborted flags the in-flight turn; late batches are discarded.
	aborted atomic.Bool

	// pieceDone is set by the mark_piece_done tool during a turn.
	pieceDone atomic.Bool

	// turnPoints accumulates queued point totals for the turn log; the draw
	// callback runs on the session goroutine.
	turnPoints atomic.Int64

	mu             sync.Mutex
	pieceCompleted bool
	nudges         []string
	iteration      int

	cancel context.CancelFunc
	done   chan struct{}

	// drained is non-nil after an aborted turn; it closes once the aborted
	// event stream has terminated and its late batches are discarded. The
	// next turn must not start before then, both to honor the session's
	// single-turn contract and so clearing the abort flag cannot readmit a
	// stale batch. Only the loop goroutine touches it.
	drained chan struct{}

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// New builds an orchestrator. A session must be attached with
// AttachSession before Start; New cannot take it directly because the
// session's tool runner is this orchestrator's RunTool.
func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg.Interval <= 0 {
		cfg.Interval = 45 * time.Second
	}
	if cfg.ClientFPS <= 0 {
		cfg.ClientFPS = 360
	}
	if cfg.MaxAnimationWait <= 0 {
		cfg.MaxAnimationWait = 30 * time.Second
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 12
	}

	o := &Orchestrator{
		store:   opts.Store,
		set:     opts.Conns,
		cfg:     cfg,
		log:     opts.Log.WithComponent("orchestrator").WithFields("user_id", opts.Store.UserID()),
		metrics: opts.Metrics,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		sleep:   sleepCtx,
	}
	o.toolCtx = &tools.Context{
		Store:          opts.Store,
		Log:            o.log,
		Python:         opts.Python,
		Imagine:        opts.Imagine,
		ImagineTimeout: opts.ImagineTimeout,
		OnDraw:         o.drawCallback,
		OnPieceDone:    func() { o.pieceDone.Store(true) },
	}
	return o
}

// RunTool executes one tool call. It is registered as the session's
// ToolRunner.
func (o *Orchestrator) RunTool(ctx context.Context, name string, input json.RawMessage) agent.ToolOutcome {
	return tools.Run(ctx, o.toolCtx, name, input)
}

// AttachSession binds the agent session. Must be called before Start.
func (o *Orchestrator) AttachSession(s agent.Session) {
	o.session = s
}

// Start launches the loop goroutine.
func (o *Orchestrator) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	o.cancel = cancel
	go o.run(ctx)
}

// Stop cancels the loop and waits for it to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	<-o.done
}

// Wake requests a turn. Wakes arriving before the loop runs coalesce into
// one.
func (o *Orchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Nudge queues direction text for the next turn, clears the completion
// latch, and wakes the loop.
func (o *Orchestrator) Nudge(text string) {
	o.mu.Lock()
	if text != "" {
		o.nudges = append(o.nudges, text)
	}
	o.pieceCompleted = false
	o.mu.Unlock()
	o.Wake()
}

// AbortTurn flags the in-flight turn so the event loop stops consuming and
// late batches are discarded. The dispatcher calls this on clear and
// new_canvas.
func (o *Orchestrator) AbortTurn() {
	o.aborted.Store(true)
}

// ClearCompleted drops the piece-completed latch without queuing a nudge.
func (o *Orchestrator) ClearCompleted() {
	o.mu.Lock()
	o.pieceCompleted = false
	o.mu.Unlock()
}

// PieceCompleted reports the latch state.
func (o *Orchestrator) PieceCompleted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pieceCompleted
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)

	timer := time.NewTimer(o.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
		timer.Reset(o.cfg.Interval)

		if o.set.IsEmpty() {
			continue
		}
		if o.store.Snapshot().Paused() {
			continue
		}
		if o.PieceCompleted() {
			continue
		}

		o.runTurn(ctx)
	}
}

// runTurn executes one agent turn end to end. Faults are contained so the
// loop always regains control.
func (o *Orchestrator) runTurn(ctx context.Context) {
	if o.drained != nil {
		select {
		case <-o.drained:
			o.drained = nil
		case <-ctx.Done():
			return
		}
	}

	start := time.Now()
	o.aborted.Store(false)
	o.pieceDone.Store(false)
	o.turnPoints.Store(0)

	o.mu.Lock()
	o.iteration++
	iteration := o.iteration
	nudges := o.nudges
	o.nudges = nil
	o.mu.Unlock()

	o.setStatus(ctx, workspace.StatusThinking)
	o.set.Broadcast(protocol.NewServerMessage(protocol.ServerIteration,
		"current", iteration, "max", o.cfg.MaxIterations))

	state := o.store.Snapshot()
	startBatch := state.StrokeBatchID
	prompt := composePrompt(state, nudges)

	png, err := render.CanvasPNG(state.Canvas)
	if err != nil {
		o.log.Warn(ctx, "canvas render failed, sending text-only turn", "error", err)
		png = nil
	}

	events, err := o.session.Query(ctx, agent.TurnInput{Prompt: prompt, CanvasPNG: png})
	if err != nil {
		o.turnFailed(ctx, start, err)
		return
	}

	var monologue strings.Builder
	status := "completed"
	toolCalls := 0

consume:
	for event := range events {
		if o.aborted.Load() {
			status = "aborted"
			break consume
		}
		switch event.Kind {
		case agent.EventTextDelta:
			monologue.WriteString(event.Text)
			o.set.Broadcast(protocol.ThinkingDelta(event.Text, iteration))

		case agent.EventToolUse:
			toolCalls++
			o.log.Info(ctx, "tool call", "tool", event.ToolUse.Name)
			o.set.Broadcast(protocol.NewServerMessage(protocol.ServerCodeExecution,
				"status", string(protocol.CodeExecutionStarted),
				"tool_name", event.ToolUse.Name,
				"tool_input", truncate(string(event.ToolUse.Input), 500),
				"iteration", iteration,
			))

		case agent.EventToolResult:
			o.set.Broadcast(protocol.NewServerMessage(protocol.ServerCodeExecution,
				"status", string(protocol.CodeExecutionCompleted),
				"tool_name", event.ToolResult.Name,
				"stdout", truncate(event.ToolResult.Content, 500),
				"is_error", event.ToolResult.IsError,
				"iteration", iteration,
			))
			if o.metrics != nil {
				outcome := "success"
				if event.ToolResult.IsError {
					outcome = "error"
				}
				o.metrics.RecordToolExecution(event.ToolResult.Name, outcome, 0)
			}

		case agent.EventDone:
			break consume

		case agent.EventError:
			o.turnFailed(ctx, start, event.Err)
			return
		}
	}

	// After an abort the session goroutine may still be emitting and its
	// tool calls may still be running. Drain until the stream terminates,
	// then drop anything the stale turn queued; o.drained holds the next
	// turn back until that finishes.
	if status == "aborted" {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for range events {
			}
			if err := o.store.DiscardBatchesAfter(startBatch); err != nil {
				o.log.Warn(ctx, "failed to discard aborted batches", "error", err)
			}
		}()
		o.drained = done
	}

	if text := monologue.String(); text != "" {
		if err := o.store.SetMonologue(text); err != nil {
			o.log.Warn(ctx, "failed to persist monologue", "error", err)
		}
	}

	if o.pieceDone.Load() && !o.aborted.Load() {
		o.finalizePiece(ctx)
	}

	o.setStatus(ctx, workspace.StatusIdle)
	if o.metrics != nil {
		o.metrics.RecordTurn(status, time.Since(start).Seconds())
	}
	o.appendTurnLog(ctx, turnLogEntry{
		Iteration:   iteration,
		Status:      status,
		DurationMS:  time.Since(start).Milliseconds(),
		ToolCalls:   toolCalls,
		TotalPoints: int(o.turnPoints.Load()),
		Timestamp:   time.Now().UTC(),
	})
}

type turnLogEntry struct {
	Iteration   int       `json:"iteration"`
	Status      string    `json:"status"`
	DurationMS  int64     `json:"duration_ms"`
	ToolCalls   int       `json:"tool_calls"`
	TotalPoints int       `json:"total_points"`
	Timestamp   time.Time `json:"timestamp"`
}

// appendTurnLog writes one JSON line per turn under the workspace's logs
// directory. Failures are logged and otherwise ignored.
func (o *Orchestrator) appendTurnLog(ctx context.Context, entry turnLogEntry) {
	dir := o.store.LogsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.log.Warn(ctx, "failed to create logs dir", "error", err)
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "turns.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		o.log.Warn(ctx, "failed to open turn log", "error", err)
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(entry); err != nil {
		o.log.Warn(ctx, "failed to write turn log", "error", err)
	}
}

// drawCallback queues a validated batch, announces it, and sleeps the
// draw-gate so the agent cannot outrun client animation. Batches arriving
// after an abort are discarded.
func (o *Orchestrator) drawCallback(ctx context.Context, paths []canvas.Path) {
	if o.aborted.Load() {
		o.log.Info(ctx, "discarding batch from aborted turn", "paths", len(paths))
		return
	}

	batch, err := o.store.QueueStrokes(paths)
	if err != nil {
		o.log.Error(ctx, "failed to queue stroke batch", "error", err)
		return
	}
	if o.metrics != nil {
		o.metrics.RecordBatch(batch.TotalPoints)
	}
	o.turnPoints.Add(int64(batch.TotalPoints))

	o.setStatus(ctx, workspace.StatusDrawing)
	o.set.Broadcast(protocol.StrokesReady(batch.Entries, batch.BatchID, o.store.Snapshot().PieceNumber))

	o.sleep(ctx, o.animationWait(batch.TotalPoints))
}

// animationWait computes the draw-gate duration:
// min(points/fps + buffer, max).
func (o *Orchestrator) animationWait(totalPoints int) time.Duration {
	wait := time.Duration(float64(totalPoints)/o.cfg.ClientFPS*float64(time.Second)) + o.cfg.AnimationBuffer
	if wait > o.cfg.MaxAnimationWait {
		wait = o.cfg.MaxAnimationWait
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// finalizePiece persists the finished canvas and latches the loop until
// the user acts.
func (o *Orchestrator) finalizePiece(ctx context.Context) {
	o.mu.Lock()
	o.pieceCompleted = true
	o.mu.Unlock()

	savedID, err := o.store.SaveToGallery()
	if err != nil {
		o.log.Error(ctx, "failed to save finished piece", "error", err)
	} else if savedID != "" {
		o.log.Info(ctx, "piece finished", "piece_id", savedID)
		if metas, err := o.store.ListGallery(); err == nil {
			o.set.Broadcast(protocol.NewServerMessage(protocol.ServerGalleryUpdate, "canvases", metas))
		}
	}

	state := o.store.Snapshot()
	o.set.Broadcast(protocol.PieceState(state.PieceNumber, true))
}

func (o *Orchestrator) turnFailed(ctx context.Context, start time.Time, err error) {
	o.log.Error(ctx, "agent turn failed", "error", err)
	o.set.Broadcast(protocol.Error("agent turn failed", err.Error()))
	o.setStatus(ctx, workspace.StatusIdle)
	if o.metrics != nil {
		o.metrics.RecordTurn("error", time.Since(start).Seconds())
		o.metrics.RecordError("orchestrator", "turn_failure")
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, status workspace.Status) {
	if err := o.store.SetStatus(status); err != nil {
		o.log.Warn(ctx, "failed to persist status", "error", err)
	}
	o.set.Broadcast(protocol.Status(string(status)))
}

// composePrompt assembles the turn's text context.
func composePrompt(state workspace.State, nudges []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Canvas: %dx%d, %d strokes, piece #%d, style %s.\n",
		state.Canvas.Width, state.Canvas.Height, len(state.Canvas.Strokes),
		state.PieceNumber, state.Canvas.DrawingStyle)
	if state.CurrentPieceTitle != "" {
		fmt.Fprintf(&b, "Working title: %s\n", state.CurrentPieceTitle)
	}
	if state.Notes != "" {
		fmt.Fprintf(&b, "Your notes from earlier: %s\n", state.Notes)
	}
	if len(nudges) > 0 {
		b.WriteString("The user says:\n")
		for _, n := range nudges {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	b.WriteString("Continue the piece. The attached image is the current canvas.")
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

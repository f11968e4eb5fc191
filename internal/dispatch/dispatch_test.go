package dispatch

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/easel/internal/canvas"
	"github.com/haasonsaas/easel/internal/conns"
	"github.com/haasonsaas/easel/internal/observability"
	"github.com/haasonsaas/easel/internal/orchestrator"
	"github.com/haasonsaas/easel/internal/ratelimit"
	"github.com/haasonsaas/easel/internal/workspace"
	"github.com/haasonsaas/easel/pkg/protocol"
)

const testUserID = "0b3e4a12-9f6c-4d2e-8a1b-7c5d9e0f1a2b"

type fakeConn struct {
	id   string
	mu   sync.Mutex
	sent []protocol.ServerMessage
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg protocol.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close(code int, reason string) {}

func (c *fakeConn) received(t protocol.ServerMessageType) []protocol.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.ServerMessage
	for _, m := range c.sent {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func newTestDispatcher(t *testing.T, limiter *ratelimit.Limiter) (*Dispatcher, *fakeConn, *workspace.Store) {
	t.Helper()
	log := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	store, err := workspace.LoadForUser(t.TempDir(), testUserID, workspace.Options{
		CanvasWidth:  400,
		CanvasHeight: 300,
		Density:      0.5,
	}, log)
	if err != nil {
		t.Fatalf("LoadForUser() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	set := conns.NewSet(0)
	conn := &fakeConn{id: "c1"}
	if err := set.Add(conn); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	orc := orchestrator.New(orchestrator.Options{
		Store:  store,
		Conns:  set,
		Config: orchestrator.Config{Interval: time.Hour},
		Log:    log,
	})

	return New(store, set, orc, limiter, log, nil), conn, store
}

func TestHandleStroke(t *testing.T) {
	d, conn, store := newTestDispatcher(t, nil)

	d.Handle(context.Background(), conn, []byte(`{
		"type": "stroke",
		"path": {"kind":"line","points":[{"x":10,"y":10},{"x":200,"y":150}]}
	}`))

	state := store.Snapshot()
	if len(state.Canvas.Strokes) != 1 {
		t.Fatalf("canvas has %d strokes, want 1", len(state.Canvas.Strokes))
	}
	if got := state.Canvas.Strokes[0].Author; got != canvas.AuthorHuman {
		t.Errorf("author = %q, want human", got)
	}
	if msgs := conn.received(protocol.ServerStrokeComplete); len(msgs) != 1 {
		t.Errorf("got %d stroke_complete messages, want 1", len(msgs))
	}
}

func TestHandleStrokeInvalid(t *testing.T) {
	d, conn, store := newTestDispatcher(t, nil)

	tests := []struct {
		name string
		raw  string
	}{
		{"missing path", `{"type":"stroke"}`},
		{"bad json", `{"type":"stroke","path":{"kind":`},
		{"bad kind", `{"type":"stroke","path":{"kind":"scribble","points":[{"x":0,"y":0}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(conn.received(protocol.ServerError))
			d.Handle(context.Background(), conn, []byte(tt.raw))
			if after := len(conn.received(protocol.ServerError)); after != before+1 {
				t.Errorf("got %d new error replies, want 1", after-before)
			}
		})
	}
	if n := len(store.Snapshot().Canvas.Strokes); n != 0 {
		t.Errorf("canvas has %d strokes, want 0", n)
	}
}

func TestHandleStrokeRateLimited(t *testing.T) {
	d, conn, store := newTestDispatcher(t, ratelimit.NewLimiter(1))

	stroke := []byte(`{"type":"stroke","path":{"kind":"line","points":[{"x":0,"y":0},{"x":10,"y":10}]}}`)
	d.Handle(context.Background(), conn, stroke)
	d.Handle(context.Background(), conn, stroke)

	if n := len(store.Snapshot().Canvas.Strokes); n != 1 {
		t.Errorf("canvas has %d strokes, want 1", n)
	}
	if errs := conn.received(protocol.ServerError); len(errs) != 1 {
		t.Errorf("got %d error replies, want 1", len(errs))
	}
}

func TestHandleClear(t *testing.T) {
	d, conn, store := newTestDispatcher(t, nil)
	if err := store.AddStroke(canvas.Path{
		Kind:   canvas.KindLine,
		Points: []canvas.Point{{X: 0, Y: 0}, {X: 5, Y: 5}},
	}); err != nil {
		t.Fatalf("AddStroke() error = %v", err)
	}

	d.Handle(context.Background(), conn, []byte(`{"type":"clear"}`))

	if n := len(store.Snapshot().Canvas.Strokes); n != 0 {
		t.Errorf("canvas has %d strokes after clear, want 0", n)
	}
	if msgs := conn.received(protocol.ServerClear); len(msgs) != 1 {
		t.Errorf("got %d clear messages, want 1", len(msgs))
	}
}

func TestHandleClearEmptiesPendingQueue(t *testing.T) {
	d, conn, store := newTestDispatcher(t, nil)
	if _, err := store.QueueStrokes([]canvas.Path{{
		Kind:   canvas.KindLine,
		Points: []canvas.Point{{X: 0, Y: 0}, {X: 40, Y: 40}},
	}}); err != nil {
		t.Fatalf("QueueStrokes() error = %v", err)
	}

	d.Handle(context.Background(), conn, []byte(`{"type":"clear"}`))

	if n := store.PendingCount(); n != 0 {
		t.Errorf("pending queue has %d entries after clear, want 0", n)
	}
	statuses := conn.received(protocol.ServerStatus)
	if len(statuses) != 1 {
		t.Fatalf("got %d status messages, want 1", len(statuses))
	}
	if got := statuses[0].Payload["status"]; got != string(workspace.StatusIdle) {
		t.Errorf("status = %v after clear, want idle", got)
	}
}

func TestHandleNewCanvas(t *testing.T) {
	d, conn, store := newTestDispatcher(t, nil)
	if err := store.AddStroke(canvas.Path{
		Kind:   canvas.KindLine,
		Points: []canvas.Point{{X: 0, Y: 0}, {X: 5, Y: 5}},
	}); err != nil {
		t.Fatalf("AddStroke() error = %v", err)
	}

	d.Handle(context.Background(), conn, []byte(`{"type":"new_canvas","drawing_style":"paint","direction":"try circles"}`))

	state := store.Snapshot()
	if state.PieceNumber != 2 {
		t.Errorf("piece number = %d, want 2", state.PieceNumber)
	}
	if len(state.Canvas.Strokes) != 0 {
		t.Errorf("canvas has %d strokes, want 0", len(state.Canvas.Strokes))
	}
	if state.Canvas.DrawingStyle != canvas.StylePaint {
		t.Errorf("style = %q, want paint", state.Canvas.DrawingStyle)
	}

	msgs := conn.received(protocol.ServerNewCanvas)
	if len(msgs) != 1 {
		t.Fatalf("got %d new_canvas messages, want 1", len(msgs))
	}
	if got := msgs[0].Payload["saved_id"]; got != "piece_000001" {
		t.Errorf("saved_id = %v, want piece_000001", got)
	}
	if len(conn.received(protocol.ServerGalleryUpdate)) != 1 {
		t.Error("missing gallery_update broadcast")
	}
}

func TestHandleLoadCanvas(t *testing.T) {
	d, conn, store := newTestDispatcher(t, nil)
	if err := store.AddStroke(canvas.Path{
		Kind:   canvas.KindLine,
		Points: []canvas.Point{{X: 0, Y: 0}, {X: 5, Y: 5}},
	}); err != nil {
		t.Fatalf("AddStroke() error = %v", err)
	}
	d.Handle(context.Background(), conn, []byte(`{"type":"new_canvas"}`))

	d.Handle(context.Background(), conn, []byte(`{"type":"load_canvas","canvas_id":"piece_000001"}`))

	if n := len(store.Snapshot().Canvas.Strokes); n != 1 {
		t.Errorf("canvas has %d strokes after load, want 1", n)
	}
	if msgs := conn.received(protocol.ServerLoadCanvas); len(msgs) != 1 {
		t.Errorf("got %d load_canvas messages, want 1", len(msgs))
	}

	before := len(conn.received(protocol.ServerError))
	d.Handle(context.Background(), conn, []byte(`{"type":"load_canvas","canvas_id":"piece_000099"}`))
	if after := len(conn.received(protocol.ServerError)); after != before+1 {
		t.Error("missing piece should produce an error reply")
	}
}

func TestHandlePauseResume(t *testing.T) {
	d, conn, store := newTestDispatcher(t, nil)

	d.Handle(context.Background(), conn, []byte(`{"type":"pause"}`))
	if got := store.Snapshot().PauseReason; got != workspace.PauseUser {
		t.Errorf("pause reason = %q, want user", got)
	}
	if msgs := conn.received(protocol.ServerPaused); len(msgs) != 1 {
		t.Fatalf("got %d paused messages, want 1", len(msgs))
	}

	d.Handle(context.Background(), conn, []byte(`{"type":"resume","direction":"bolder lines"}`))
	if store.Snapshot().Paused() {
		t.Error("workspace still paused after resume")
	}
	if msgs := conn.received(protocol.ServerPaused); len(msgs) != 2 {
		t.Errorf("got %d paused messages, want 2", len(msgs))
	}
}

func TestHandleSetStyle(t *testing.T) {
	d, conn, _ := newTestDispatcher(t, nil)

	d.Handle(context.Background(), conn, []byte(`{"type":"set_style","drawing_style":"paint"}`))
	if msgs := conn.received(protocol.ServerStyleChange); len(msgs) != 1 {
		t.Fatalf("got %d style_change messages, want 1", len(msgs))
	}

	// Setting the same style again is a no-op broadcast-wise.
	d.Handle(context.Background(), conn, []byte(`{"type":"set_style","drawing_style":"paint"}`))
	if msgs := conn.received(protocol.ServerStyleChange); len(msgs) != 1 {
		t.Errorf("got %d style_change messages after no-op, want 1", len(msgs))
	}
}

func TestHandleUnknownType(t *testing.T) {
	d, conn, _ := newTestDispatcher(t, nil)
	d.Handle(context.Background(), conn, []byte(`{"type":"teleport"}`))
	if errs := conn.received(protocol.ServerError); len(errs) != 1 {
		t.Errorf("got %d error replies, want 1", len(errs))
	}
}

func TestHandleMalformedJSON(t *testing.T) {
	d, conn, _ := newTestDispatcher(t, nil)
	d.Handle(context.Background(), conn, []byte(`{not json`))
	if errs := conn.received(protocol.ServerError); len(errs) != 1 {
		t.Errorf("got %d error replies, want 1", len(errs))
	}
}

func TestHandleNudgeRequiresText(t *testing.T) {
	d, conn, _ := newTestDispatcher(t, nil)
	d.Handle(context.Background(), conn, []byte(`{"type":"nudge"}`))
	if errs := conn.received(protocol.ServerError); len(errs) != 1 {
		t.Errorf("got %d error replies, want 1", len(errs))
	}

	d.Handle(context.Background(), conn, []byte(`{"type":"nudge","text":"more texture"}`))
	if errs := conn.received(protocol.ServerError); len(errs) != 1 {
		t.Errorf("valid nudge produced an error reply")
	}
}

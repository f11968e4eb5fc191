package workspace

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/easel/internal/canvas"
	"github.com/haasonsaas/easel/internal/observability"
)

const testUserID = "0b3e4a12-9f6c-4d2e-8a1b-7c5d9e0f1a2b"

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Output: io.Discard})
}

func testOptions() Options {
	return Options{
		CanvasWidth:  1024,
		CanvasHeight: 768,
		MaxPending:   100,
		Density:      0.5,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := LoadForUser(t.TempDir(), testUserID, testOptions(), testLogger())
	if err != nil {
		t.Fatalf("LoadForUser() error = %v", err)
	}
	return s
}

func line(x1, y1, x2, y2 float64) canvas.Path {
	return canvas.Path{
		Kind:   canvas.KindLine,
		Points: []canvas.Point{{X: x1, Y: y1}, {X: x2, Y: y2}},
		Author: canvas.AuthorAgent,
	}
}

func TestLoadForUserDefaults(t *testing.T) {
	s := newTestStore(t)
	state := s.Snapshot()
	if state.Canvas.Width != 1024 || state.Canvas.Height != 768 {
		t.Errorf("canvas dims = %dx%d", state.Canvas.Width, state.Canvas.Height)
	}
	if state.Canvas.DrawingStyle != canvas.StylePlotter {
		t.Errorf("style = %q, want plotter", state.Canvas.DrawingStyle)
	}
	if state.PieceNumber != 1 {
		t.Errorf("PieceNumber = %d, want 1", state.PieceNumber)
	}
	if state.PauseReason != PauseNone {
		t.Errorf("PauseReason = %q, want none", state.PauseReason)
	}
}

func TestLoadForUserRejectsBadIDs(t *testing.T) {
	for _, id := range []string{"", "alice", "../../etc", "0B3E4A12-9F6C-4D2E-8A1B-7C5D9E0F1A2B"} {
		if _, err := LoadForUser(t.TempDir(), id, testOptions(), testLogger()); !errors.Is(err, ErrInvalidUserID) {
			t.Errorf("LoadForUser(%q) error = %v, want ErrInvalidUserID", id, err)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := LoadForUser(root, testUserID, testOptions(), testLogger())
	if err != nil {
		t.Fatalf("LoadForUser() error = %v", err)
	}

	if err := s.AddStroke(line(0, 0, 100, 100)); err != nil {
		t.Fatalf("AddStroke() error = %v", err)
	}
	if _, err := s.QueueStrokes([]canvas.Path{line(10, 10, 20, 20)}); err != nil {
		t.Fatalf("QueueStrokes() error = %v", err)
	}
	if err := s.SetNotes("working on a horizon"); err != nil {
		t.Fatalf("SetNotes() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reloaded, err := LoadForUser(root, testUserID, testOptions(), testLogger())
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	state := reloaded.Snapshot()
	if len(state.Canvas.Strokes) != 1 {
		t.Errorf("strokes = %d, want 1", len(state.Canvas.Strokes))
	}
	if len(state.PendingStrokes) == 0 {
		t.Error("pending queue lost across reload")
	}
	if state.Notes != "working on a horizon" {
		t.Errorf("Notes = %q", state.Notes)
	}
	if state.StrokeBatchID != 1 {
		t.Errorf("StrokeBatchID = %d, want 1", state.StrokeBatchID)
	}
}

func TestCorruptStateQuarantined(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testUserID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	statePath := filepath.Join(dir, "workspace.json")
	if err := os.WriteFile(statePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadForUser(root, testUserID, testOptions(), testLogger())
	if err != nil {
		t.Fatalf("LoadForUser() error = %v", err)
	}
	if n := len(s.Snapshot().Canvas.Strokes); n != 0 {
		t.Errorf("fresh state has %d strokes", n)
	}
	if _, err := os.Stat(statePath + ".corrupted"); err != nil {
		t.Errorf("quarantine file missing: %v", err)
	}
}

func TestQueueStrokesMonotonicBatchID(t *testing.T) {
	s := newTestStore(t)
	var last int64
	for i := 0; i < 5; i++ {
		batch, err := s.QueueStrokes([]canvas.Path{line(0, 0, 10, 10)})
		if err != nil {
			t.Fatalf("QueueStrokes() error = %v", err)
		}
		if batch.BatchID <= last {
			t.Fatalf("batch id %d not greater than %d", batch.BatchID, last)
		}
		last = batch.BatchID
	}
}

func TestQueueStrokesCapDropsOldest(t *testing.T) {
	root := t.TempDir()
	opts := testOptions()
	opts.MaxPending = 3
	s, err := LoadForUser(root, testUserID, opts, testLogger())
	if err != nil {
		t.Fatalf("LoadForUser() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.QueueStrokes([]canvas.Path{line(0, 0, 10, 10)}); err != nil {
			t.Fatalf("QueueStrokes() error = %v", err)
		}
	}
	last, err := s.QueueStrokes([]canvas.Path{line(5, 5, 15, 15)})
	if err != nil {
		t.Fatalf("QueueStrokes() error = %v", err)
	}

	pending, err := s.PopStrokes()
	if err != nil {
		t.Fatalf("PopStrokes() error = %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d entries, want cap 3", len(pending))
	}
	if pending[0].BatchID == 1 {
		t.Error("oldest batch survived cap eviction")
	}
	if pending[len(pending)-1].BatchID != last.BatchID {
		t.Errorf("newest batch id = %d, want %d", pending[len(pending)-1].BatchID, last.BatchID)
	}
}

func TestPopStrokesIdempotent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.QueueStrokes([]canvas.Path{line(0, 0, 10, 10)}); err != nil {
		t.Fatalf("QueueStrokes() error = %v", err)
	}
	first, err := s.PopStrokes()
	if err != nil {
		t.Fatalf("PopStrokes() error = %v", err)
	}
	if len(first) == 0 {
		t.Fatal("first pop returned nothing")
	}
	second, err := s.PopStrokes()
	if err != nil {
		t.Fatalf("PopStrokes() error = %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second pop = %d entries, want 0", len(second))
	}
}

func TestNewCanvas(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddStroke(line(0, 0, 50, 50)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.QueueStrokes([]canvas.Path{line(1, 1, 2, 2)}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTitle("dawn study"); err != nil {
		t.Fatal(err)
	}

	savedID, err := s.NewCanvas(canvas.StylePaint)
	if err != nil {
		t.Fatalf("NewCanvas() error = %v", err)
	}
	if savedID != "piece_000001" {
		t.Errorf("saved id = %q, want piece_000001", savedID)
	}

	state := s.Snapshot()
	if len(state.Canvas.Strokes) != 0 {
		t.Error("canvas not cleared")
	}
	if len(state.PendingStrokes) != 0 {
		t.Error("pending queue not cleared")
	}
	if state.PieceNumber != 2 {
		t.Errorf("PieceNumber = %d, want 2", state.PieceNumber)
	}
	if state.CurrentPieceTitle != "" {
		t.Error("title not cleared")
	}
	if state.Canvas.DrawingStyle != canvas.StylePaint {
		t.Errorf("style = %q, want paint", state.Canvas.DrawingStyle)
	}

	piece, err := s.LoadFromGallery(1)
	if err != nil {
		t.Fatalf("LoadFromGallery() error = %v", err)
	}
	if len(piece.Strokes) != 1 || piece.Title != "dawn study" {
		t.Errorf("gallery piece = %d strokes, title %q", len(piece.Strokes), piece.Title)
	}
}

func TestNewCanvasEmptySkipsGallery(t *testing.T) {
	s := newTestStore(t)
	savedID, err := s.NewCanvas("")
	if err != nil {
		t.Fatalf("NewCanvas() error = %v", err)
	}
	if savedID != "" {
		t.Errorf("saved id = %q, want empty", savedID)
	}
	if s.Snapshot().PieceNumber != 2 {
		t.Error("piece number should still advance")
	}
	if metas, _ := s.ListGallery(); len(metas) != 0 {
		t.Errorf("gallery = %d entries, want 0", len(metas))
	}
}

func TestGalleryPieceImmutable(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddStroke(line(0, 0, 50, 50)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveToGallery(); err != nil {
		t.Fatalf("SaveToGallery() error = %v", err)
	}

	path := filepath.Join(s.Dir(), "gallery", "piece_000001.json")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// A second save under the same number must not touch the record.
	if err := s.AddStroke(line(5, 5, 9, 9)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveToGallery(); err != nil {
		t.Fatalf("second SaveToGallery() error = %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("gallery record rewritten")
	}
}

func TestListGallery(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.AddStroke(line(0, 0, 10, 10)); err != nil {
			t.Fatal(err)
		}
		if _, err := s.NewCanvas(""); err != nil {
			t.Fatal(err)
		}
	}
	metas, err := s.ListGallery()
	if err != nil {
		t.Fatalf("ListGallery() error = %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("gallery = %d entries, want 3", len(metas))
	}
	for i, meta := range metas {
		if meta.PieceNumber != i+1 {
			t.Errorf("entry %d piece number = %d", i, meta.PieceNumber)
		}
		if meta.StrokeCount != 1 {
			t.Errorf("entry %d stroke count = %d", i, meta.StrokeCount)
		}
	}
}

func TestLoadCanvasIntoWorkspace(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddStroke(line(0, 0, 10, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.NewCanvas(""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.QueueStrokes([]canvas.Path{line(1, 1, 2, 2)}); err != nil {
		t.Fatal(err)
	}

	piece, err := s.LoadCanvasIntoWorkspace(1)
	if err != nil {
		t.Fatalf("LoadCanvasIntoWorkspace() error = %v", err)
	}
	if len(piece.Strokes) != 1 {
		t.Errorf("piece strokes = %d", len(piece.Strokes))
	}
	state := s.Snapshot()
	if len(state.Canvas.Strokes) != 1 {
		t.Errorf("canvas strokes = %d, want 1", len(state.Canvas.Strokes))
	}
	if len(state.PendingStrokes) != 0 {
		t.Error("pending queue should be cleared by gallery load")
	}

	if _, err := s.LoadCanvasIntoWorkspace(999); !errors.Is(err, ErrPieceNotFound) {
		t.Errorf("missing piece error = %v, want ErrPieceNotFound", err)
	}
}

func TestSetPauseSemantics(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetPause(true, PauseDisconnect); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().PauseReason; got != PauseDisconnect {
		t.Errorf("reason = %q, want disconnect", got)
	}

	if err := s.SetPause(false, PauseNone); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPause(true, PauseUser); err != nil {
		t.Fatal(err)
	}
	// A disconnect never downgrades a user pause.
	if err := s.SetPause(true, PauseDisconnect); err != nil {
		t.Fatal(err)
	}
	if got := s.Snapshot().PauseReason; got != PauseUser {
		t.Errorf("reason = %q, want user", got)
	}
}

func TestSetStyleReportsChange(t *testing.T) {
	s := newTestStore(t)
	changed, err := s.SetStyle(canvas.StylePaint)
	if err != nil || !changed {
		t.Fatalf("first SetStyle() = %v, %v", changed, err)
	}
	changed, err = s.SetStyle(canvas.StylePaint)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("repeated SetStyle reported a change")
	}
}

func TestSaveTrimsOversizedCanvas(t *testing.T) {
	root := t.TempDir()
	opts := testOptions()
	opts.MaxBytes = 4096
	s, err := LoadForUser(root, testUserID, opts, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 200; i++ {
		if err := s.AddStroke(line(float64(i), 0, float64(i), 700)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(s.Dir(), "workspace.json"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > int64(opts.MaxBytes) {
		t.Errorf("serialized size = %d, cap %d", info.Size(), opts.MaxBytes)
	}
	if n := len(s.Snapshot().Canvas.Strokes); n >= 200 {
		t.Errorf("strokes = %d, trimming did not reduce canvas", n)
	}
}

func TestClearCanvasIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.AddStroke(line(0, 0, 10, 10)); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearCanvas(); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearCanvas(); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Snapshot().Canvas.Strokes); n != 0 {
		t.Errorf("strokes = %d after double clear", n)
	}
}

func TestClearCanvasEmptiesPendingQueue(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.QueueStrokes([]canvas.Path{line(0, 0, 10, 10)}); err != nil {
		t.Fatalf("QueueStrokes() error = %v", err)
	}

	if err := s.ClearCanvas(); err != nil {
		t.Fatal(err)
	}
	if n := s.PendingCount(); n != 0 {
		t.Errorf("pending = %d after clear, want 0", n)
	}
}

func TestDiscardBatchesAfter(t *testing.T) {
	s := newTestStore(t)
	var cutoff int64
	for i := 0; i < 3; i++ {
		batch, err := s.QueueStrokes([]canvas.Path{line(0, 0, 10, 10)})
		if err != nil {
			t.Fatalf("QueueStrokes() error = %v", err)
		}
		if i == 0 {
			cutoff = batch.BatchID
		}
	}

	if err := s.DiscardBatchesAfter(cutoff); err != nil {
		t.Fatalf("DiscardBatchesAfter() error = %v", err)
	}
	if n := s.PendingCount(); n != 1 {
		t.Errorf("pending = %d after discard, want 1", n)
	}

	pending, err := s.PopStrokes()
	if err != nil {
		t.Fatalf("PopStrokes() error = %v", err)
	}
	if len(pending) != 1 || pending[0].BatchID != cutoff {
		t.Errorf("kept batch = %+v, want batch id %d", pending, cutoff)
	}
}

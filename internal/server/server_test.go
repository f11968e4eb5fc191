package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/easel/internal/agent"
	"github.com/haasonsaas/easel/internal/auth"
	"github.com/haasonsaas/easel/internal/canvas"
	"github.com/haasonsaas/easel/internal/config"
	"github.com/haasonsaas/easel/internal/observability"
	"github.com/haasonsaas/easel/internal/orchestrator"
	"github.com/haasonsaas/easel/internal/registry"
	"github.com/haasonsaas/easel/internal/workspace"
)

const testUserID = "0b3e4a12-9f6c-4d2e-8a1b-7c5d9e0f1a2b"

type fakeSession struct{}

func (fakeSession) Query(ctx context.Context, turn agent.TurnInput) (<-chan agent.Event, error) {
	events := make(chan agent.Event, 1)
	events <- agent.Event{Kind: agent.EventDone}
	close(events)
	return events, nil
}

func (fakeSession) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	log := observability.NewLogger(observability.LogConfig{Output: io.Discard})

	cfg := config.Default()
	cfg.Workspace.Root = t.TempDir()
	cfg.Canvas.Width = 400
	cfg.Canvas.Height = 300

	authSvc := auth.NewService("test-secret", time.Hour)
	token, err := authSvc.MintToken(testUserID)
	if err != nil {
		t.Fatalf("MintToken() error = %v", err)
	}

	reg := registry.New(context.Background(), registry.Options{
		Root: cfg.Workspace.Root,
		Workspace: workspace.Options{
			CanvasWidth:  cfg.Canvas.Width,
			CanvasHeight: cfg.Canvas.Height,
			Density:      cfg.Canvas.PathStepsPerUnit,
		},
		Orchestrator: orchestrator.Config{Interval: time.Hour},
		Sessions: func(runner agent.ToolRunner) (agent.Session, error) {
			return fakeSession{}, nil
		},
		Log: log,
	})
	t.Cleanup(func() { reg.Shutdown(context.Background()) })

	return New(cfg, authSvc, reg, nil, "test", log, nil), token
}

func doRequest(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func TestStateRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := doRequest(t, s, http.MethodGet, "/state", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/state", "not-a-jwt"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
}

func TestStateReturnsSnapshot(t *testing.T) {
	s, token := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/state", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got := body["piece_number"].(float64); got != 1 {
		t.Errorf("piece_number = %v, want 1", got)
	}
	if got := body["status"]; got != "idle" {
		t.Errorf("status = %v, want idle", got)
	}
}

func TestCanvasEndpoints(t *testing.T) {
	s, token := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/canvas.svg", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("svg status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("svg content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<svg") {
		t.Error("svg body missing <svg element")
	}

	rec = doRequest(t, s, http.MethodGet, "/canvas.png", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("png status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("png content type = %q", ct)
	}
}

func TestPendingStrokesPop(t *testing.T) {
	s, token := newTestServer(t)
	log := observability.NewLogger(observability.LogConfig{Output: io.Discard})

	store, err := workspace.LoadForUser(s.cfg.Workspace.Root, testUserID, s.workspaceOptions(), log)
	if err != nil {
		t.Fatalf("LoadForUser() error = %v", err)
	}
	if _, err := store.QueueStrokes([]canvas.Path{{
		Kind:   canvas.KindLine,
		Points: []canvas.Point{{X: 0, Y: 0}, {X: 50, Y: 50}},
	}}); err != nil {
		t.Fatalf("QueueStrokes() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/strokes/pending", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count == 0 {
		t.Error("pending pop returned no strokes")
	}

	// The pop is destructive; a second fetch is empty.
	rec = doRequest(t, s, http.MethodGet, "/strokes/pending", token)
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 0 {
		t.Errorf("second pop count = %d, want 0", body.Count)
	}
}

func TestGalleryPieceNotFound(t *testing.T) {
	s, token := newTestServer(t)

	if rec := doRequest(t, s, http.MethodGet, "/gallery/piece_000042", token); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/gallery/nonsense", token); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestSetPieceNumber(t *testing.T) {
	s, token := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/piece_number/7", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/state", token)
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got := body["piece_number"].(float64); got != 7 {
		t.Errorf("piece_number = %v, want 7", got)
	}

	if rec := doRequest(t, s, http.MethodPost, "/piece_number/0", token); rec.Code != http.StatusBadRequest {
		t.Errorf("zero piece number status = %d, want 400", rec.Code)
	}
}

func TestPublicIndex(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/public/gallery", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Galleries []any `json:"galleries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Galleries) != 0 {
		t.Errorf("galleries = %d, want 0 without a user database", len(body.Galleries))
	}

	if rec := doRequest(t, s, http.MethodGet, "/public/gallery?limit=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestGalleryThumbnailRequiresPNGSuffix(t *testing.T) {
	s, token := newTestServer(t)

	if rec := doRequest(t, s, http.MethodGet, "/gallery/thumbnail/piece_000001", token); rec.Code != http.StatusBadRequest {
		t.Errorf("missing suffix status = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/gallery/thumbnail/piece_000001.png", token); rec.Code != http.StatusNotFound {
		t.Errorf("missing piece status = %d, want 404", rec.Code)
	}
}

func TestPublicGalleryWithoutUserDB(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/public/gallery/"+testUserID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthAndVersion(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := doRequest(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	rec := doRequest(t, s, http.MethodGet, "/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("version status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test") {
		t.Errorf("version body = %s", rec.Body.String())
	}
}

func TestRobotsAndSitemap(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/robots.txt", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Disallow: /") {
		t.Errorf("robots: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/sitemap.xml", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "urlset") {
		t.Errorf("sitemap: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

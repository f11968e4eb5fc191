package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/haasonsaas/easel/internal/canvas"
	"github.com/haasonsaas/easel/internal/render"
	"github.com/haasonsaas/easel/internal/storage"
	"github.com/haasonsaas/easel/internal/workspace"
)

// openStore returns the user's workspace store. An active workspace is
// used directly; otherwise the store is loaded from disk for the request
// and released afterwards.
func (s *Server) openStore(userID string) (*workspace.Store, func(), error) {
	if ws := s.reg.Lookup(userID); ws != nil {
		return ws.Store, func() {}, nil
	}
	store, err := workspace.LoadForUser(s.cfg.Workspace.Root, userID, s.workspaceOptions(), s.log)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func (s *Server) workspaceOptions() workspace.Options {
	return workspace.Options{
		CanvasWidth:  s.cfg.Canvas.Width,
		CanvasHeight: s.cfg.Canvas.Height,
		MaxBytes:     s.cfg.Workspace.MaxWorkspaceBytes,
		MaxPending:   s.cfg.Workspace.MaxPendingStrokes,
		Density:      s.cfg.Canvas.PathStepsPerUnit,
		SaveDebounce: s.cfg.Workspace.SaveDebounce,
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, userID string) {
	store, release, err := s.openStore(userID)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	defer release()

	state := store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"canvas":              state.Canvas,
		"status":              string(state.Status),
		"paused":              state.Paused(),
		"pause_reason":        string(state.PauseReason),
		"piece_number":        state.PieceNumber,
		"notes":               state.Notes,
		"monologue":           state.Monologue,
		"current_piece_title": state.CurrentPieceTitle,
		"pending_count":       len(state.PendingStrokes),
		"stroke_batch_id":     state.StrokeBatchID,
		"updated_at":          state.UpdatedAt,
	})
}

func (s *Server) handleCanvasPNG(w http.ResponseWriter, r *http.Request, userID string) {
	store, release, err := s.openStore(userID)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	defer release()

	png, err := render.CanvasPNG(store.Snapshot().Canvas)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) handleCanvasSVG(w http.ResponseWriter, r *http.Request, userID string) {
	store, release, err := s.openStore(userID)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	defer release()

	doc := render.CanvasSVG(store.Snapshot().Canvas, render.SVGOptions{})
	w.Header().Set("Content-Type", "image/svg+xml")
	_, _ = w.Write([]byte(doc))
}

// handlePendingStrokes pops the pending queue. The client calls this after
// an agent_strokes_ready message; popped strokes are gone, so the response
// is the single authoritative delivery.
func (s *Server) handlePendingStrokes(w http.ResponseWriter, r *http.Request, userID string) {
	store, release, err := s.openStore(userID)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	defer release()

	strokes, err := store.PopStrokes()
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	if strokes == nil {
		strokes = []canvas.PendingStroke{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"strokes":      strokes,
		"count":        len(strokes),
		"piece_number": store.Snapshot().PieceNumber,
	})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request, userID string) {
	store, release, err := s.openStore(userID)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	defer release()

	metas, err := store.ListGallery()
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	if metas == nil {
		metas = []workspace.GalleryMeta{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"canvases": metas})
}

func (s *Server) handleGalleryPiece(w http.ResponseWriter, r *http.Request, userID string) {
	piece, _, ok := s.loadPiece(w, r, userID, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, piece)
}

// handleGalleryThumbnail serves /gallery/thumbnail/{piece_id}.png. The mux
// wildcard spans the whole segment, so the extension is stripped here.
func (s *Server) handleGalleryThumbnail(w http.ResponseWriter, r *http.Request, userID string) {
	id, found := strings.CutSuffix(r.PathValue("file"), ".png")
	if !found {
		http.Error(w, "invalid piece id", http.StatusBadRequest)
		return
	}
	piece, store, ok := s.loadPiece(w, r, userID, id)
	if !ok {
		return
	}

	png, err := render.Thumbnail(s.pieceCanvas(store, piece), 320)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(png)
}

// loadPiece resolves a piece id to a gallery piece, writing the error
// response itself when it fails.
func (s *Server) loadPiece(w http.ResponseWriter, r *http.Request, userID, id string) (*workspace.GalleryPiece, *workspace.Store, bool) {
	number, err := workspace.ParsePieceID(id)
	if err != nil {
		http.Error(w, "invalid piece id", http.StatusBadRequest)
		return nil, nil, false
	}

	store, release, err := s.openStore(userID)
	if err != nil {
		s.apiError(w, r, err)
		return nil, nil, false
	}
	defer release()

	piece, err := store.LoadFromGallery(number)
	if err != nil {
		s.apiError(w, r, err)
		return nil, nil, false
	}
	return piece, store, true
}

// pieceCanvas rebuilds a renderable canvas from an archived piece.
func (s *Server) pieceCanvas(store *workspace.Store, piece *workspace.GalleryPiece) canvas.Canvas {
	bounds := store.Bounds()
	return canvas.Canvas{
		Width:        int(bounds.Width),
		Height:       int(bounds.Height),
		Strokes:      piece.Strokes,
		DrawingStyle: piece.DrawingStyle,
	}
}

func (s *Server) handleSetPieceNumber(w http.ResponseWriter, r *http.Request, userID string) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n <= 0 {
		http.Error(w, "piece number must be a positive integer", http.StatusBadRequest)
		return
	}

	store, release, err := s.openStore(userID)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	defer release()

	if err := store.SetPieceNumber(n); err != nil {
		s.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"piece_number": n})
}

// handleGalleryVisibility toggles the public gallery flag for the caller.
func (s *Server) handleGalleryVisibility(w http.ResponseWriter, r *http.Request, userID string) {
	if s.users == nil {
		http.Error(w, "user database not configured", http.StatusNotImplemented)
		return
	}

	var body struct {
		Public bool `json:"public"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if err := s.users.SetPublicGallery(r.Context(), userID, body.Public); err != nil {
		s.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"public": body.Public})
}

func (s *Server) apiError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, workspace.ErrPieceNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, workspace.ErrInvalidUserID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrUserNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		if s.metrics != nil {
			s.metrics.RecordError("server", "api_failure")
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

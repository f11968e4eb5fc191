// Package server is the HTTP surface of Easel: the per-user WebSocket,
// the authenticated REST API, the public gallery pages, and the metrics
// listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/easel/internal/auth"
	"github.com/haasonsaas/easel/internal/canvas"
	"github.com/haasonsaas/easel/internal/config"
	"github.com/haasonsaas/easel/internal/observability"
	"github.com/haasonsaas/easel/internal/registry"
	"github.com/haasonsaas/easel/internal/storage"
	"github.com/haasonsaas/easel/pkg/protocol"
)

// Server owns the listeners and the connection lifecycle.
type Server struct {
	cfg     *config.Config
	auth    *auth.Service
	reg     *registry.Registry
	users   *storage.Store
	log     *observability.Logger
	metrics *observability.Metrics
	version string

	draining atomic.Bool

	httpSrv    *http.Server
	metricsSrv *http.Server

	upgrader websocket.Upgrader
}

// New assembles the server. users may be nil, which disables the public
// gallery routes.
func New(cfg *config.Config, authSvc *auth.Service, reg *registry.Registry, users *storage.Store, version string, log *observability.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		auth:    authSvc,
		reg:     reg,
		users:   users,
		log:     log.WithComponent("server"),
		metrics: metrics,
		version: version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The browser client runs on a different origin in development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Run serves until ctx is cancelled, then shuts down in order: stop
// accepting, drain connections, flush workspaces.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.log.Info(ctx, "listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		s.log.Info(ctx, "metrics listening", "addr", s.metricsSrv.Addr)
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info(ctx, "shutting down", "timeout", s.cfg.Server.ShutdownTimeout.String())
	s.draining.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	s.reg.Shutdown(shutdownCtx)
	_ = s.httpSrv.Shutdown(shutdownCtx)
	_ = s.metricsSrv.Shutdown(shutdownCtx)

	s.log.Info(shutdownCtx, "shutdown complete")
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("GET /state", s.withAuth(s.handleState))
	mux.HandleFunc("GET /canvas.png", s.withAuth(s.handleCanvasPNG))
	mux.HandleFunc("GET /canvas.svg", s.withAuth(s.handleCanvasSVG))
	mux.HandleFunc("GET /strokes/pending", s.withAuth(s.handlePendingStrokes))
	mux.HandleFunc("GET /gallery", s.withAuth(s.handleGallery))
	mux.HandleFunc("GET /gallery/{id}", s.withAuth(s.handleGalleryPiece))
	mux.HandleFunc("GET /gallery/thumbnail/{file}", s.withAuth(s.handleGalleryThumbnail))
	mux.HandleFunc("POST /piece_number/{n}", s.withAuth(s.handleSetPieceNumber))
	mux.HandleFunc("POST /gallery/visibility", s.withAuth(s.handleGalleryVisibility))

	mux.HandleFunc("GET /public/gallery", s.handlePublicIndex)
	mux.HandleFunc("GET /public/gallery/{user}", s.handlePublicGallery)
	mux.HandleFunc("GET /public/gallery/{user}/{id}/strokes", s.handlePublicPieceStrokes)
	mux.HandleFunc("GET /public/gallery/{user}/{id}/og-image.png", s.handlePublicOGImage)
	mux.HandleFunc("GET /sitemap.xml", s.handleSitemap)
	mux.HandleFunc("GET /robots.txt", s.handleRobots)

	return mux
}

// handleWS upgrades the socket, authenticates, attaches to the workspace,
// and pumps messages until the client leaves.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	ctx := r.Context()
	if trace := r.URL.Query().Get("trace_id"); trace != "" {
		ctx = observability.WithTraceID(ctx, trace)
	}

	userID, err := s.auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		s.closeSocket(sock, 4001, "invalid token")
		return
	}
	ctx = observability.WithUserID(ctx, userID)

	connID := uuid.NewString()
	ctx = observability.WithConnID(ctx, connID)
	conn := newWSConn(connID, sock, s.log)

	ws, err := s.reg.Attach(ctx, userID, conn)
	switch {
	case errors.Is(err, registry.ErrShuttingDown):
		s.closeSocket(sock, 1001, "server shutting down")
		return
	case err != nil:
		s.closeSocket(sock, 4003, err.Error())
		return
	}

	s.log.Info(ctx, "client connected")
	if s.users != nil {
		if err := s.users.TouchLastSeen(ctx, userID); err != nil && !errors.Is(err, storage.ErrUserNotFound) {
			s.log.Warn(ctx, "failed to record activity", "error", err)
		}
	}

	s.sendInit(ws, conn)
	s.reg.ResendPending(ws, conn)

	// The write loop lives for the connection; the read loop returning
	// means the client is gone.
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	defer cancelLoops()
	go conn.writeLoop(loopCtx)

	conn.readLoop(ctx, func(raw []byte) {
		ws.Dispatcher.Handle(ctx, conn, raw)
	})

	s.reg.Detach(ctx, userID, conn)
	conn.Close(websocket.CloseNormalClosure, "")
	s.log.Info(ctx, "client disconnected")
}

// sendInit delivers the full workspace snapshot as the first message.
func (s *Server) sendInit(ws *registry.ActiveWorkspace, conn *wsConn) {
	state := ws.Store.Snapshot()
	metas, _ := ws.Store.ListGallery()

	init := protocol.NewServerMessage(protocol.ServerInit,
		"canvas", state.Canvas,
		"status", string(state.Status),
		"paused", state.Paused(),
		"pause_reason", string(state.PauseReason),
		"piece_number", state.PieceNumber,
		"piece_completed", ws.Orc.PieceCompleted(),
		"notes", state.Notes,
		"monologue", state.Monologue,
		"current_piece_title", state.CurrentPieceTitle,
		"pending_count", len(state.PendingStrokes),
		"stroke_batch_id", state.StrokeBatchID,
		"drawing_style", string(state.Canvas.DrawingStyle),
		"style_config", canvas.StyleConfig(state.Canvas.DrawingStyle),
		"gallery", metas,
	)
	_ = conn.Send(init)
}

func (s *Server) closeSocket(sock *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = sock.Close()
}

// withAuth resolves the bearer token to a user id and passes it through.
func (s *Server) withAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if h := r.Header.Get("Authorization"); h != "" {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		userID, err := s.auth.ValidateToken(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(observability.WithUserID(r.Context(), userID)), userID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"workspaces": s.reg.Count(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

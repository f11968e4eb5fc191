// Package registry tracks active workspaces: it activates a user's
// workspace on first connection, keeps it warm while connections remain,
// pauses and eventually deactivates it after the last disconnect, and
// deactivates everything on shutdown.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/easel/internal/agent"
	"github.com/haasonsaas/easel/internal/conns"
	"github.com/haasonsaas/easel/internal/dispatch"
	"github.com/haasonsaas/easel/internal/observability"
	"github.com/haasonsaas/easel/internal/orchestrator"
	"github.com/haasonsaas/easel/internal/ratelimit"
	"github.com/haasonsaas/easel/internal/tools"
	"github.com/haasonsaas/easel/internal/workspace"
	"github.com/haasonsaas/easel/pkg/protocol"
)

// ErrShuttingDown is returned by Attach once shutdown has begun.
var ErrShuttingDown = errors.New("server is shutting down")

// SessionFactory builds an agent session whose tool calls run through the
// given runner. The registry calls it once per workspace activation.
type SessionFactory func(runner agent.ToolRunner) (agent.Session, error)

// Options configures the registry.
type Options struct {
	// Root is the directory holding per-user workspace directories.
	Root string

	Workspace    workspace.Options
	Orchestrator orchestrator.Config

	// Sessions builds the agent session for each activated workspace.
	Sessions SessionFactory

	// Python and Imagine are shared across workspaces; either may be nil.
	Python         *tools.PythonRunner
	Imagine        tools.ImagineClient
	ImagineTimeout time.Duration

	// StrokesPerMinute bounds human stroke rate per user. 0 disables.
	StrokesPerMinute int

	// ConnsPerUser caps concurrent connections per workspace. 0 = unlimited.
	ConnsPerUser int

	// IdleGracePeriod is how long an empty workspace stays active before
	// deactivation.
	IdleGracePeriod time.Duration

	Log     *observability.Logger
	Metrics *observability.Metrics
}

// ActiveWorkspace bundles everything serving one user.
type ActiveWorkspace struct {
	Store      *workspace.Store
	Conns      *conns.Set
	Orc        *orchestrator.Orchestrator
	Dispatcher *dispatch.Dispatcher

	session   agent.Session
	idleTimer *time.Timer
}

// Registry is the collection of active workspaces. The lock guards the
// maps only and is never held across workspace I/O.
type Registry struct {
	opts    Options
	limiter *ratelimit.Limiter
	log     *observability.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	active       map[string]*ActiveWorkspace
	loading      map[string]chan struct{}
	shuttingDown bool
}

// New creates a registry. The parent context bounds every orchestrator
// loop started by it.
func New(parent context.Context, opts Options) *Registry {
	if opts.IdleGracePeriod <= 0 {
		opts.IdleGracePeriod = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(parent)
	return &Registry{
		opts:    opts,
		limiter: ratelimit.NewLimiter(opts.StrokesPerMinute),
		log:     opts.Log.WithComponent("registry"),
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[string]*ActiveWorkspace),
		loading: make(map[string]chan struct{}),
	}
}

// Attach activates the user's workspace if needed and admits the
// connection. A reconnect within the grace period cancels deactivation and
// lifts a disconnect pause.
func (r *Registry) Attach(ctx context.Context, userID string, conn conns.Conn) (*ActiveWorkspace, error) {
	ws, err := r.activate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := ws.Conns.Add(conn); err != nil {
		return nil, err
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.OpenConnections.Inc()
	}

	r.mu.Lock()
	if ws.idleTimer != nil {
		ws.idleTimer.Stop()
		ws.idleTimer = nil
	}
	r.mu.Unlock()

	r.resumeAfterReconnect(ctx, ws)
	return ws, nil
}

// ResendPending tells a fresh connection about strokes queued before it
// attached so nothing waits unanimated. The server calls it after the init
// snapshot so the announcement never precedes init.
func (r *Registry) ResendPending(ws *ActiveWorkspace, conn conns.Conn) {
	state := ws.Store.Snapshot()
	if len(state.PendingStrokes) == 0 {
		return
	}
	_ = conn.Send(protocol.StrokesReady(len(state.PendingStrokes), state.StrokeBatchID, state.PieceNumber))
}

// Detach removes the connection. When it was the last one the workspace is
// paused for disconnect and scheduled for deactivation after the grace
// period.
func (r *Registry) Detach(ctx context.Context, userID string, conn conns.Conn) {
	r.mu.Lock()
	ws, ok := r.active[userID]
	r.mu.Unlock()
	if !ok {
		return
	}

	ws.Conns.Remove(conn)
	if r.opts.Metrics != nil {
		r.opts.Metrics.OpenConnections.Dec()
	}
	if !ws.Conns.IsEmpty() {
		return
	}

	// A user pause holds its reason; only an unpaused workspace records the
	// disconnect.
	if !ws.Store.Snapshot().Paused() {
		if err := ws.Store.SetPause(true, workspace.PauseDisconnect); err != nil {
			r.log.Warn(ctx, "failed to record disconnect pause", "user_id", userID, "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shuttingDown || r.active[userID] != ws {
		return
	}
	if ws.idleTimer != nil {
		ws.idleTimer.Stop()
	}
	ws.idleTimer = time.AfterFunc(r.opts.IdleGracePeriod, func() {
		r.deactivateIfIdle(userID, ws)
	})
	r.log.Info(ctx, "last connection closed, grace period started", "user_id", userID)
}

// Lookup returns the active workspace for a user, or nil.
func (r *Registry) Lookup(userID string) *ActiveWorkspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[userID]
}

// Count returns the number of active workspaces.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown deactivates every workspace after closing its connections. New
// attachments are refused from the first call onward.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.shuttingDown = true
	all := make(map[string]*ActiveWorkspace, len(r.active))
	for id, ws := range r.active {
		all[id] = ws
	}
	r.mu.Unlock()

	for userID, ws := range all {
		ws.Conns.CloseAll(1001, "server shutting down")
		r.deactivate(ctx, userID, ws)
	}
	r.cancel()
	r.log.Info(ctx, "registry shut down", "workspaces", len(all))
}

// activate returns the running workspace for userID, loading it if
// necessary. Concurrent activations of the same user coalesce onto one
// load.
func (r *Registry) activate(ctx context.Context, userID string) (*ActiveWorkspace, error) {
	for {
		r.mu.Lock()
		if r.shuttingDown {
			r.mu.Unlock()
			return nil, ErrShuttingDown
		}
		if ws, ok := r.active[userID]; ok {
			r.mu.Unlock()
			return ws, nil
		}
		if wait, ok := r.loading[userID]; ok {
			r.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		wait := make(chan struct{})
		r.loading[userID] = wait
		r.mu.Unlock()

		ws, err := r.load(ctx, userID)

		r.mu.Lock()
		delete(r.loading, userID)
		close(wait)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		if r.shuttingDown {
			r.mu.Unlock()
			r.deactivate(ctx, userID, ws)
			return nil, ErrShuttingDown
		}
		r.active[userID] = ws
		r.mu.Unlock()

		if r.opts.Metrics != nil {
			r.opts.Metrics.ActiveWorkspaces.Inc()
		}
		r.log.Info(ctx, "workspace activated", "user_id", userID)
		return ws, nil
	}
}

// load builds a full workspace stack off the registry lock.
func (r *Registry) load(ctx context.Context, userID string) (*ActiveWorkspace, error) {
	store, err := workspace.LoadForUser(r.opts.Root, userID, r.opts.Workspace, r.opts.Log)
	if err != nil {
		return nil, fmt.Errorf("loading workspace: %w", err)
	}

	set := conns.NewSet(r.opts.ConnsPerUser)
	orc := orchestrator.New(orchestrator.Options{
		Store:          store,
		Conns:          set,
		Python:         r.opts.Python,
		Imagine:        r.opts.Imagine,
		ImagineTimeout: r.opts.ImagineTimeout,
		Config:         r.opts.Orchestrator,
		Log:            r.opts.Log,
		Metrics:        r.opts.Metrics,
	})

	session, err := r.opts.Sessions(orc.RunTool)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating agent session: %w", err)
	}
	orc.AttachSession(session)
	orc.Start(r.ctx)

	return &ActiveWorkspace{
		Store:      store,
		Conns:      set,
		Orc:        orc,
		Dispatcher: dispatch.New(store, set, orc, r.limiter, r.opts.Log, r.opts.Metrics),
		session:    session,
	}, nil
}

// deactivateIfIdle runs at the end of the grace period. A reconnect in the
// meantime leaves the workspace alone.
func (r *Registry) deactivateIfIdle(userID string, ws *ActiveWorkspace) {
	r.mu.Lock()
	if r.active[userID] != ws || !ws.Conns.IsEmpty() {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.deactivate(context.Background(), userID, ws)
}

// deactivate stops the loop and flushes state. Safe to call twice; the
// second call finds the map entry gone.
func (r *Registry) deactivate(ctx context.Context, userID string, ws *ActiveWorkspace) {
	r.mu.Lock()
	if r.active[userID] != ws {
		r.mu.Unlock()
		return
	}
	delete(r.active, userID)
	if ws.idleTimer != nil {
		ws.idleTimer.Stop()
		ws.idleTimer = nil
	}
	r.mu.Unlock()

	ws.Orc.Stop()
	if err := ws.session.Close(); err != nil {
		r.log.Warn(ctx, "session close failed", "user_id", userID, "error", err)
	}
	if err := ws.Store.Close(); err != nil {
		r.log.Error(ctx, "final save failed", "user_id", userID, "error", err)
	}
	r.limiter.Reset(userID)
	if r.opts.Metrics != nil {
		r.opts.Metrics.ActiveWorkspaces.Dec()
	}
	r.log.Info(ctx, "workspace deactivated", "user_id", userID)
}

// resumeAfterReconnect lifts a disconnect pause. A user pause stays.
func (r *Registry) resumeAfterReconnect(ctx context.Context, ws *ActiveWorkspace) {
	state := ws.Store.Snapshot()
	if state.PauseReason != workspace.PauseDisconnect {
		return
	}
	if err := ws.Store.SetPause(false, workspace.PauseNone); err != nil {
		r.log.Warn(ctx, "failed to lift disconnect pause", "error", err)
		return
	}
	ws.Conns.Broadcast(protocol.Paused(false, ""))
	ws.Orc.Wake()
}

package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/easel/internal/canvas"
	"github.com/haasonsaas/easel/internal/observability"
)

const (
	stateFileName = "workspace.json"
	galleryDir    = "gallery"
	referencesDir = "references"
	logsDir       = "logs"

	// canvasTrimChunk strokes are dropped per trim round when the
	// serialized state exceeds the byte cap.
	canvasTrimChunk = 10
)

// ErrInvalidUserID rejects user ids that could escape the workspace root.
var ErrInvalidUserID = errors.New("invalid user id")

// userIDPattern is anchored so a user id can never carry path separators
// into the workspace root.
var userIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Options configures a Store. Zero values fall back to safe defaults at
// load time.
type Options struct {
	CanvasWidth  int
	CanvasHeight int

	// MaxBytes caps the serialized workspace.json size. 0 disables
	// trimming.
	MaxBytes int

	// MaxPending caps the pending-stroke queue. 0 disables the cap.
	MaxPending int

	// Density is the interpolation steps per unit of path length.
	Density float64

	// SaveDebounce coalesces rapid saves into one deferred write. 0 makes
	// every save synchronous.
	SaveDebounce time.Duration
}

// Store is the in-memory workspace with durable backing. One lock guards
// the canvas and pending queue; a second serializes persistence so the
// strokes-lock is never held across disk I/O.
type Store struct {
	userID string
	dir    string
	opts   Options
	log    *observability.Logger

	mu    sync.Mutex
	state State

	saveMu sync.Mutex
	saver  *saveScheduler
}

// LoadForUser ensures the per-user directory exists, reads workspace.json
// if present, and returns an in-memory Store. A file that fails to parse is
// quarantined with a .corrupted suffix and a fresh state is used.
func LoadForUser(root, userID string, opts Options, log *observability.Logger) (*Store, error) {
	if !userIDPattern.MatchString(userID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}

	dir := filepath.Join(root, userID)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace dir: %w", err)
	}
	if !strings.HasPrefix(absDir, absRoot+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: resolved outside workspace root", ErrInvalidUserID)
	}

	for _, sub := range []string{"", galleryDir, referencesDir, logsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace dir: %w", err)
		}
	}

	s := &Store{
		userID: userID,
		dir:    dir,
		opts:   opts,
		log:    log.WithComponent("workspace").WithFields("user_id", userID),
	}
	s.saver = newSaveScheduler(opts.SaveDebounce, s.saveNow)

	statePath := filepath.Join(dir, stateFileName)
	data, err := os.ReadFile(statePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First activation for this user.
	case err != nil:
		return nil, fmt.Errorf("reading workspace state: %w", err)
	default:
		if jsonErr := json.Unmarshal(data, &s.state); jsonErr != nil {
			quarantine := statePath + ".corrupted"
			if renameErr := os.Rename(statePath, quarantine); renameErr != nil {
				return nil, fmt.Errorf("quarantining corrupt state: %w", renameErr)
			}
			s.log.Warn(context.Background(), "corrupt workspace state quarantined",
				"path", quarantine, "parse_error", jsonErr)
			s.state = State{}
		}
	}

	applyStateDefaults(&s.state, opts.CanvasWidth, opts.CanvasHeight)
	return s, nil
}

// UserID returns the owning user id.
func (s *Store) UserID() string { return s.userID }

// Dir returns the workspace directory.
func (s *Store) Dir() string { return s.dir }

// ReferencesDir returns the directory for saved reference images.
func (s *Store) ReferencesDir() string { return filepath.Join(s.dir, referencesDir) }

// LogsDir returns the directory for per-turn agent logs.
func (s *Store) LogsDir() string { return filepath.Join(s.dir, logsDir) }

// Snapshot returns a copy of the current state. Slices are cloned so the
// caller can read without holding the lock.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneLocked()
}

func (s *Store) cloneLocked() State {
	out := s.state
	out.Canvas.Strokes = append([]canvas.Path(nil), s.state.Canvas.Strokes...)
	out.PendingStrokes = append([]canvas.PendingStroke(nil), s.state.PendingStrokes...)
	return out
}

// Bounds returns the canvas clamping rectangle.
func (s *Store) Bounds() canvas.Bounds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return canvas.Bounds{
		Width:  float64(s.state.Canvas.Width),
		Height: float64(s.state.Canvas.Height),
	}
}

// Style returns the active drawing style.
func (s *Store) Style() canvas.DrawingStyle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Canvas.DrawingStyle
}

// AddStroke appends a validated path to the canvas.
func (s *Store) AddStroke(p canvas.Path) error {
	s.mu.Lock()
	s.state.Canvas.Strokes = append(s.state.Canvas.Strokes, p)
	s.touchLocked()
	s.mu.Unlock()
	return s.scheduleSave()
}

// ClearCanvas empties the canvas strokes and the pending queue in one
// critical section, so an already-queued batch cannot animate over the
// blank canvas.
func (s *Store) ClearCanvas() error {
	s.mu.Lock()
	s.state.Canvas.Strokes = nil
	s.state.PendingStrokes = nil
	s.touchLocked()
	s.mu.Unlock()
	return s.scheduleSave()
}

// BatchResult summarizes one queued stroke batch.
type BatchResult struct {
	BatchID     int64
	Entries     int
	TotalPoints int
}

// QueueStrokes runs the stroke pipeline over paths and appends the result
// to the pending queue under the next batch id. When the queue cap would be
// exceeded, the oldest entries equal in count to the new batch are dropped
// first.
func (s *Store) QueueStrokes(paths []canvas.Path) (BatchResult, error) {
	s.mu.Lock()
	s.state.StrokeBatchID++
	batchID := s.state.StrokeBatchID

	entries, total := canvas.BuildBatch(paths, s.state.Canvas.DrawingStyle, batchID, s.opts.Density)

	if s.opts.MaxPending > 0 && len(s.state.PendingStrokes)+len(entries) > s.opts.MaxPending {
		drop := len(entries)
		if drop > len(s.state.PendingStrokes) {
			drop = len(s.state.PendingStrokes)
		}
		s.state.PendingStrokes = s.state.PendingStrokes[drop:]
	}
	s.state.PendingStrokes = append(s.state.PendingStrokes, entries...)
	s.touchLocked()
	s.mu.Unlock()

	result := BatchResult{BatchID: batchID, Entries: len(entries), TotalPoints: total}
	if err := s.scheduleSave(); err != nil {
		return result, err
	}
	return result, nil
}

// PopStrokes atomically takes and clears the pending queue. A second call
// with nothing queued returns an empty slice.
func (s *Store) PopStrokes() ([]canvas.PendingStroke, error) {
	s.mu.Lock()
	out := s.state.PendingStrokes
	s.state.PendingStrokes = nil
	s.touchLocked()
	s.mu.Unlock()

	if err := s.scheduleSave(); err != nil {
		return out, err
	}
	return out, nil
}

// PendingCount returns the number of queued pending strokes.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.PendingStrokes)
}

// DiscardBatchesAfter removes pending entries with a batch id greater than
// cutoff. The orchestrator uses it to drop late batches from an aborted
// turn.
func (s *Store) DiscardBatchesAfter(cutoff int64) error {
	s.mu.Lock()
	kept := s.state.PendingStrokes[:0]
	for _, e := range s.state.PendingStrokes {
		if e.BatchID <= cutoff {
			kept = append(kept, e)
		}
	}
	s.state.PendingStrokes = kept
	s.touchLocked()
	s.mu.Unlock()
	return s.scheduleSave()
}

// SetStatus updates the agent status.
func (s *Store) SetStatus(status Status) error {
	s.mu.Lock()
	s.state.Status = status
	s.touchLocked()
	s.mu.Unlock()
	return s.scheduleSave()
}

// SetPause sets or clears the pause state. A disconnect pause never
// overwrites a user pause; clearing resets the reason to none.
func (s *Store) SetPause(paused bool, reason PauseReason) error {
	s.mu.Lock()
	switch {
	case !paused:
		s.state.PauseReason = PauseNone
		if s.state.Status == StatusPaused {
			s.state.Status = StatusIdle
		}
	case s.state.PauseReason == PauseUser:
		// User intent wins over automatic pauses.
	default:
		s.state.PauseReason = reason
		s.state.Status = StatusPaused
	}
	s.touchLocked()
	s.mu.Unlock()
	return s.scheduleSave()
}

// SetStyle changes the drawing style. Returns true when the style actually
// changed, so callers broadcast at most once for repeated sets.
func (s *Store) SetStyle(style canvas.DrawingStyle) (bool, error) {
	s.mu.Lock()
	changed := s.state.Canvas.DrawingStyle != style
	s.state.Canvas.DrawingStyle = style
	s.touchLocked()
	s.mu.Unlock()
	if !changed {
		return false, nil
	}
	return true, s.scheduleSave()
}

// SetNotes replaces the agent's inter-turn notes.
func (s *Store) SetNotes(notes string) error {
	s.mu.Lock()
	s.state.Notes = notes
	s.touchLocked()
	s.mu.Unlock()
	return s.scheduleSave()
}

// SetMonologue records the last turn's streamed text.
func (s *Store) SetMonologue(text string) error {
	s.mu.Lock()
	s.state.Monologue = text
	s.touchLocked()
	s.mu.Unlock()
	return s.scheduleSave()
}

// SetTitle records the current piece's title.
func (s *Store) SetTitle(title string) error {
	s.mu.Lock()
	s.state.CurrentPieceTitle = title
	s.touchLocked()
	s.mu.Unlock()
	return s.scheduleSave()
}

// SetPieceNumber force-sets the piece counter. Dev and admin use only.
func (s *Store) SetPieceNumber(n int) error {
	s.mu.Lock()
	s.state.PieceNumber = n
	s.touchLocked()
	s.mu.Unlock()
	return s.Save()
}

// NewCanvas finalizes the current piece and starts the next one: saves the
// canvas to the gallery when non-empty, clears the pending queue before
// anything can be queued against the new piece, empties the strokes,
// advances the piece number, and resets notes, monologue, and title. The
// optional style applies to the new canvas. Returns the saved piece id, or
// "" when the canvas was empty.
func (s *Store) NewCanvas(style canvas.DrawingStyle) (string, error) {
	savedID, err := s.SaveToGallery()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.state.PendingStrokes = nil
	s.state.Canvas.Strokes = nil
	s.state.PieceNumber++
	s.state.Notes = ""
	s.state.Monologue = ""
	s.state.CurrentPieceTitle = ""
	if style != "" {
		s.state.Canvas.DrawingStyle = style
	}
	s.touchLocked()
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return savedID, err
	}
	return savedID, nil
}

func (s *Store) touchLocked() {
	s.state.UpdatedAt = time.Now().UTC()
}

// Save persists the current state synchronously, flushing any pending
// debounced write.
func (s *Store) Save() error {
	s.saver.Cancel()
	return s.saveNow()
}

// scheduleSave persists either immediately or through the debounce window.
func (s *Store) scheduleSave() error {
	if s.opts.SaveDebounce <= 0 {
		return s.saveNow()
	}
	s.saver.Schedule()
	return nil
}

// saveNow serializes the full state to a temp file in the workspace
// directory and renames it over workspace.json. When the serialized size
// exceeds the byte cap, the oldest canvas strokes are trimmed in chunks
// until it fits or few enough strokes remain.
func (s *Store) saveNow() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	snapshot := s.cloneLocked()
	s.mu.Unlock()

	data, err := json.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("serializing workspace state: %w", err)
	}

	trimmed := 0
	for s.opts.MaxBytes > 0 && len(data) > s.opts.MaxBytes && len(snapshot.Canvas.Strokes) > canvasTrimChunk {
		snapshot.Canvas.Strokes = snapshot.Canvas.Strokes[canvasTrimChunk:]
		trimmed += canvasTrimChunk
		if data, err = json.Marshal(&snapshot); err != nil {
			return fmt.Errorf("serializing workspace state: %w", err)
		}
	}
	if trimmed > 0 {
		s.mu.Lock()
		if len(s.state.Canvas.Strokes) >= trimmed {
			s.state.Canvas.Strokes = s.state.Canvas.Strokes[trimmed:]
		}
		s.mu.Unlock()
		s.log.Warn(context.Background(), "workspace over size cap, trimmed oldest strokes",
			"trimmed", trimmed, "bytes", len(data))
	}

	return writeFileAtomic(filepath.Join(s.dir, stateFileName), data)
}

// Close flushes any deferred save and stops the scheduler.
func (s *Store) Close() error {
	s.saver.Stop()
	return s.saveNow()
}

// writeFileAtomic writes data to a temp file in the target's directory,
// syncs, and renames into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".easel-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("committing file: %w", err)
	}
	return nil
}

package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/haasonsaas/easel/internal/canvas"
)

// ErrPieceNotFound is returned when a gallery piece does not exist.
var ErrPieceNotFound = errors.New("gallery piece not found")

// GalleryPiece is a standalone immutable record of a finished canvas. Once
// written it is never modified.
type GalleryPiece struct {
	PieceNumber  int                 `json:"piece_number"`
	Strokes      []canvas.Path       `json:"strokes"`
	CreatedAt    time.Time           `json:"created_at"`
	DrawingStyle canvas.DrawingStyle `json:"drawing_style"`
	Title        string              `json:"title,omitempty"`
}

// GalleryMeta is the listing view of a piece, without its stroke data.
type GalleryMeta struct {
	PieceID      string              `json:"piece_id"`
	PieceNumber  int                 `json:"piece_number"`
	StrokeCount  int                 `json:"stroke_count"`
	CreatedAt    time.Time           `json:"created_at"`
	DrawingStyle canvas.DrawingStyle `json:"drawing_style"`
	Title        string              `json:"title,omitempty"`
}

var (
	galleryFilePattern = regexp.MustCompile(`^piece_(\d{6})\.json$`)
	pieceIDPattern     = regexp.MustCompile(`^piece_(\d{1,6})$`)
)

// PieceID formats a piece number as its stable gallery identifier.
func PieceID(number int) string {
	return fmt.Sprintf("piece_%06d", number)
}

// ParsePieceID extracts the piece number from an id like "piece_000003".
func ParsePieceID(id string) (int, error) {
	m := pieceIDPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, fmt.Errorf("%w: invalid id %q", ErrPieceNotFound, id)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrPieceNotFound, id)
	}
	return n, nil
}

// SaveToGallery writes the current canvas as a new gallery record under the
// current piece number and returns its id. An empty canvas saves nothing
// and returns "". An existing record is never rewritten.
func (s *Store) SaveToGallery() (string, error) {
	s.mu.Lock()
	if len(s.state.Canvas.Strokes) == 0 {
		s.mu.Unlock()
		return "", nil
	}
	piece := GalleryPiece{
		PieceNumber:  s.state.PieceNumber,
		Strokes:      append([]canvas.Path(nil), s.state.Canvas.Strokes...),
		CreatedAt:    time.Now().UTC(),
		DrawingStyle: s.state.Canvas.DrawingStyle,
		Title:        s.state.CurrentPieceTitle,
	}
	s.mu.Unlock()

	id := PieceID(piece.PieceNumber)
	path := filepath.Join(s.dir, galleryDir, id+".json")
	if _, err := os.Stat(path); err == nil {
		// Already finalized under this number.
		return id, nil
	}

	data, err := json.Marshal(&piece)
	if err != nil {
		return "", fmt.Errorf("serializing gallery piece: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	return id, nil
}

// LoadFromGallery reads the piece saved under number.
func (s *Store) LoadFromGallery(number int) (*GalleryPiece, error) {
	path := filepath.Join(s.dir, galleryDir, PieceID(number)+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrPieceNotFound, PieceID(number))
	}
	if err != nil {
		return nil, fmt.Errorf("reading gallery piece: %w", err)
	}
	var piece GalleryPiece
	if err := json.Unmarshal(data, &piece); err != nil {
		return nil, fmt.Errorf("parsing gallery piece: %w", err)
	}
	if piece.DrawingStyle == "" {
		piece.DrawingStyle = canvas.StylePlotter
	}
	return &piece, nil
}

// LoadCanvasIntoWorkspace replaces the current canvas with a gallery
// piece's strokes and style. The pending queue is cleared so no stale
// batch renders over the restored piece.
func (s *Store) LoadCanvasIntoWorkspace(number int) (*GalleryPiece, error) {
	piece, err := s.LoadFromGallery(number)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.state.Canvas.Strokes = append([]canvas.Path(nil), piece.Strokes...)
	s.state.Canvas.DrawingStyle = piece.DrawingStyle
	s.state.PendingStrokes = nil
	s.state.CurrentPieceTitle = piece.Title
	s.touchLocked()
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return piece, err
	}
	return piece, nil
}

// ListGallery returns metadata for every saved piece, oldest first.
func (s *Store) ListGallery() ([]GalleryMeta, error) {
	dir := filepath.Join(s.dir, galleryDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing gallery: %w", err)
	}

	metas := make([]GalleryMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !galleryFilePattern.MatchString(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var piece GalleryPiece
		if err := json.Unmarshal(data, &piece); err != nil {
			// A damaged record drops out of the listing but stays on disk.
			continue
		}
		metas = append(metas, GalleryMeta{
			PieceID:      PieceID(piece.PieceNumber),
			PieceNumber:  piece.PieceNumber,
			StrokeCount:  len(piece.Strokes),
			CreatedAt:    piece.CreatedAt,
			DrawingStyle: piece.DrawingStyle,
			Title:        piece.Title,
		})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].PieceNumber < metas[j].PieceNumber })
	return metas, nil
}

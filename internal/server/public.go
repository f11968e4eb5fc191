package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/haasonsaas/easel/internal/auth"
	"github.com/haasonsaas/easel/internal/render"
	"github.com/haasonsaas/easel/internal/storage"
	"github.com/haasonsaas/easel/internal/workspace"
)

const publicIndexDefaultLimit = 20

// publicUser resolves a public gallery owner from the path. The user must
// exist and have opted in; everything else is a uniform 404 so the routes
// cannot be used to probe which user ids exist.
func (s *Server) publicUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.users == nil {
		http.NotFound(w, r)
		return "", false
	}
	userID := r.PathValue("user")
	if !auth.ValidUserID(userID) {
		http.NotFound(w, r)
		return "", false
	}
	user, err := s.users.GetUser(r.Context(), userID)
	if errors.Is(err, storage.ErrUserNotFound) {
		http.NotFound(w, r)
		return "", false
	}
	if err != nil {
		s.apiError(w, r, err)
		return "", false
	}
	if !user.PublicGallery {
		http.NotFound(w, r)
		return "", false
	}
	return userID, true
}

// handlePublicIndex lists gallery metadata for opted-in users, newest users
// first, honoring ?limit=N.
func (s *Server) handlePublicIndex(w http.ResponseWriter, r *http.Request) {
	limit := publicIndexDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	galleries := []map[string]any{}
	if s.users != nil {
		users, err := s.users.ListPublicUsers(r.Context())
		if err != nil {
			s.apiError(w, r, err)
			return
		}
		for _, u := range users {
			if len(galleries) >= limit {
				break
			}
			store, release, err := s.openStore(u.ID)
			if err != nil {
				s.log.Warn(r.Context(), "skipping unreadable public workspace", "user_id", u.ID, "error", err)
				continue
			}
			metas, err := store.ListGallery()
			release()
			if err != nil {
				continue
			}
			if metas == nil {
				metas = []workspace.GalleryMeta{}
			}
			galleries = append(galleries, map[string]any{
				"user_id":      u.ID,
				"display_name": u.DisplayName,
				"canvases":     metas,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"galleries": galleries})
}

func (s *Server) handlePublicGallery(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.publicUser(w, r)
	if !ok {
		return
	}

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

func (s *Server) handlePublicPieceStrokes(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.publicUser(w, r)
	if !ok {
		return
	}
	piece, _, ok := s.loadPiece(w, r, userID, r.PathValue("id"))
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	writeJSON(w, http.StatusOK, piece)
}

// handlePublicOGImage renders an archived piece as a 1200x630 social
// preview card.
func (s *Server) handlePublicOGImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.publicUser(w, r)
	if !ok {
		return
	}
	piece, store, ok := s.loadPiece(w, r, userID, r.PathValue("id"))
	if !ok {
		return
	}

	png, err := render.OGImage(s.pieceCanvas(store, piece))
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(png)
}

// handleSitemap lists public gallery URLs for crawlers.
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` + "\n")

	base := "https://" + r.Host
	fmt.Fprintf(&b, "  <url><loc>%s/public/gallery</loc></url>\n", base)
	if s.users != nil {
		users, err := s.users.ListPublicUsers(r.Context())
		if err == nil {
			for _, u := range users {
				fmt.Fprintf(&b, "  <url><loc>%s/public/gallery/%s</loc></url>\n", base, u.ID)
			}
		}
	}
	b.WriteString("</urlset>\n")

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(b.String()))
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("User-agent: *\nAllow: /public/\nDisallow: /\nSitemap: https://" + r.Host + "/sitemap.xml\n"))
}

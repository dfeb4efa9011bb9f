// Cache introspection and manual unload handlers.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/platformx/internal/httputil"
)

func (s *Server) listCached(w http.ResponseWriter, r *http.Request) {
	snaps := s.Cache.ListCached()
	httputil.JSON(w, r, http.StatusOK, map[string]any{"cached": snaps, "count": len(snaps)})
}

func (s *Server) unloadApp(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	s.Cache.Evict(slug)
	httputil.JSON(w, r, http.StatusOK, map[string]any{"slug": slug})
}

func (s *Server) unloadIdle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IdleThresholdMs int64 `json:"idleThresholdMs"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	evicted := s.Cache.EvictIdle(time.Duration(body.IdleThresholdMs) * time.Millisecond)
	httputil.JSON(w, r, http.StatusOK, map[string]any{"evicted": evicted})
}

// Tenant log handlers.
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/platformx/internal/httputil"
)

func (s *Server) appLogs(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if _, err := s.Registry.Get(r.Context(), slug); err != nil {
		httputil.Error(w, r, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	switch r.URL.Query().Get("format") {
	case "text":
		text, err := s.Events.TailFile(slug, 256<<10)
		if err != nil {
			httputil.Error(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(text))
	default:
		entries, err := s.Events.Recent(r.Context(), slug, limit)
		if err != nil {
			httputil.Error(w, r, err)
			return
		}
		httputil.JSON(w, r, http.StatusOK, map[string]any{"logs": entries, "count": len(entries)})
	}
}

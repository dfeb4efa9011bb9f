// Health probes.  Liveness is unconditional; readiness pings the durable
// store so an orchestrator stops routing before the platform can serve.
package api

import (
	"net/http"

	"github.com/yanizio/platformx/internal/httputil"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"cached": len(s.Cache.ListCached()),
	})
}

func (s *Server) healthLive(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, r, http.StatusOK, map[string]any{"status": "live"})
}

func (s *Server) healthReady(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.DB().PingContext(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"success":false,"status":"store unavailable"}`))
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"status": "ready"})
}

// Root handler and admin route table.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yanizio/platformx/internal/hostparse"
	"github.com/yanizio/platformx/internal/metrics"
	"github.com/yanizio/platformx/internal/middleware"
)

// Handler returns the process-wide root handler.
func (s *Server) Handler() http.Handler {
	admin := s.adminRouter()
	front := http.HandlerFunc(s.serveTenant)

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := s.Parser.Parse(r.Host)
		switch res.Kind {
		case hostparse.Platform:
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			admin.ServeHTTP(rec, r)
			metrics.HTTPRequestsTotal.WithLabelValues("apex", statusClass(rec.status)).Inc()
		case hostparse.App:
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			front.ServeHTTP(rec, r.WithContext(withSlug(r.Context(), res.Slug)))
			metrics.HTTPRequestsTotal.WithLabelValues("tenant", statusClass(rec.status)).Inc()
		default:
			http.NotFound(w, r)
			metrics.HTTPRequestsTotal.WithLabelValues("reject", "4xx").Inc()
		}
	})

	// Outermost decoration applies to both host classes.
	var h http.Handler = root
	h = middleware.Timeout(s.requestTimeout)(h)
	h = middleware.Recovery(h)
	h = s.Enricher.Middleware(h)
	h = middleware.RequestID(h)
	return h
}

func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Security)

	// Unauthenticated surface.
	r.Get("/health", s.health)
	r.Get("/health/live", s.healthLive)
	r.Get("/health/ready", s.healthReady)
	r.Handle("/metrics", promhttp.Handler())

	loginLimiter := middleware.NewRateLimiter(5, 15*time.Minute)
	r.With(loginLimiter.Handler).Post("/api/auth/login", s.login)
	r.Get("/api/auth/verify", s.verify)

	// Everything below requires a bearer token.
	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware)

		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/apps", s.listApps)
			r.Post("/apps", s.createApp)
			r.Post("/apps/sync", s.syncApps)
			r.Route("/apps/{slug}", func(r chi.Router) {
				r.Get("/", s.getApp)
				r.Patch("/", s.patchApp)
				r.Delete("/", s.deleteApp)
				r.Post("/redeploy", s.redeployApp)
				r.Post("/rename", s.renameApp)
				r.Post("/backup", s.createBackup)
				r.Get("/logs", s.appLogs)
				r.Get("/env", s.getEnv)
				r.Patch("/env", s.patchEnv)
				r.Delete("/env", s.deleteEnv)
				r.Get("/webhook", s.getWebhook)
				r.Post("/webhook", s.setWebhook)
				r.Delete("/webhook", s.deleteWebhook)
				r.Post("/webhook/test", s.testWebhook)
			})

			r.Get("/backups", s.listBackups)
			r.Post("/backups/restore", s.restoreBackup)
			r.Post("/backups/prune", s.pruneBackups)
			r.Delete("/backups/{name}", s.deleteBackup)

			r.Get("/settings", s.listSettings)
			r.Put("/settings", s.putSettingsBulk)
			r.Get("/settings/category/{category}", s.settingsByCategory)
			r.Get("/settings/{key}", s.getSetting)
			r.Put("/settings/{key}", s.putSetting)
			r.Delete("/settings/{key}", s.deleteSetting)
		})

		r.Route("/api/apps", func(r chi.Router) {
			r.Post("/upload", s.uploadArchive)
			r.Post("/git-import", s.gitImport)
			r.Post("/git-update/{slug}", s.gitUpdate)
			r.Get("/cached", s.listCached)
			r.Post("/unload-idle", s.unloadIdle)
			r.Post("/{slug}/unload", s.unloadApp)
		})
	})

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

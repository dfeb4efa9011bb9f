// Admin app CRUD, rename, redeploy, and sync handlers.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/eventlog"
	"github.com/yanizio/platformx/internal/httputil"
	"github.com/yanizio/platformx/internal/registry"
	"github.com/yanizio/platformx/internal/webhook"
)

func (s *Server) listApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.Registry.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"apps": apps, "count": len(apps)})
}

func (s *Server) getApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.Registry.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"app": app})
}

func (s *Server) createApp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Slug      string `json:"slug"`
		Name      string `json:"name"`
		Kind      string `json:"kind"`
		EntryPath string `json:"entryPath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}

	app, err := s.Registry.Create(r.Context(), registry.CreateParams{
		Slug:      body.Slug,
		Name:      body.Name,
		Kind:      body.Kind,
		EntryPath: body.EntryPath,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusCreated, map[string]any{"app": app})
}

func (s *Server) patchApp(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var body struct {
		Name           *string              `json:"name"`
		Status         *string              `json:"status"`
		Kind           *string              `json:"kind"`
		EntryPath      *string              `json:"entryPath"`
		BuildOutputDir *string              `json:"buildOutputDir"`
		ProxyMap       []registry.ProxyRule `json:"proxyMap"`
		WebhookURL     *string              `json:"webhookURL"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}

	app, err := s.Registry.Update(r.Context(), slug, registry.Patch{
		Name:           body.Name,
		Status:         body.Status,
		Kind:           body.Kind,
		EntryPath:      body.EntryPath,
		BuildOutputDir: body.BuildOutputDir,
		ProxyMap:       body.ProxyMap,
		WebhookURL:     body.WebhookURL,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"app": app})
}

func (s *Server) deleteApp(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	// Capture the webhook target before the row disappears.
	hookURL := ""
	if rec, err := s.Registry.Get(r.Context(), slug); err == nil {
		hookURL = rec.WebhookURL
	}

	if err := s.Registry.Delete(r.Context(), slug); err != nil {
		httputil.Error(w, r, err)
		return
	}

	s.Events.Log(r.Context(), slug, eventlog.EventDelete, "info", "app deleted", nil)
	s.Hooks.Dispatch(hookURL, webhook.EventDeleted, slug, nil)
	httputil.JSON(w, r, http.StatusOK, map[string]any{"slug": slug})
}

func (s *Server) renameApp(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var body struct {
		NewName string `json:"newName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}

	app, err := s.Registry.Rename(r.Context(), slug, body.NewName)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	s.Events.Log(r.Context(), app.Slug, eventlog.EventRename, "info",
		"renamed from "+slug, map[string]any{"oldSlug": slug})
	httputil.JSON(w, r, http.StatusOK, map[string]any{
		"oldSlug": slug,
		"newSlug": app.Slug,
		"app":     app,
	})
}

func (s *Server) redeployApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.Pipeline.Redeploy(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"app": app})
}

func (s *Server) syncApps(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AutoRename bool `json:"autoRename"`
	}
	// Empty body means autoRename=false.
	_ = json.NewDecoder(r.Body).Decode(&body)

	report, err := s.Registry.Sync(r.Context(), body.AutoRename)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"report": report})
}

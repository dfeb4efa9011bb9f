// Per-tenant webhook registration handlers.
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/httputil"
	"github.com/yanizio/platformx/internal/registry"
	"github.com/yanizio/platformx/internal/webhook"
)

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	app, err := s.Registry.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{
		"webhookURL": app.WebhookURL,
		"configured": app.WebhookURL != "",
	})
}

func (s *Server) setWebhook(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}
	parsed, err := url.Parse(body.URL)
	if err != nil || parsed.Host == "" ||
		(parsed.Scheme != "http" && parsed.Scheme != "https") {
		httputil.Error(w, r, apperr.Invalid("webhook URL must be absolute http(s)"))
		return
	}

	app, err := s.Registry.Update(r.Context(), slug, registry.Patch{WebhookURL: &body.URL})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"webhookURL": app.WebhookURL})
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	empty := ""
	if _, err := s.Registry.Update(r.Context(), chi.URLParam(r, "slug"),
		registry.Patch{WebhookURL: &empty}); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, nil)
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	app, err := s.Registry.Get(r.Context(), slug)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	if app.WebhookURL == "" {
		httputil.Error(w, r, apperr.Invalid("no webhook configured"))
		return
	}

	err = s.Hooks.DispatchSync(app.WebhookURL, webhook.EventTest, slug,
		map[string]any{"message": "test delivery"})
	if err != nil {
		msg := err.Error()
		if strings.TrimSpace(msg) == "" {
			msg = "delivery failed"
		}
		httputil.JSON(w, r, http.StatusOK, map[string]any{
			"delivered": false,
			"error":     msg,
		})
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"delivered": true})
}

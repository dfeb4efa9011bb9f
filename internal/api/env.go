// Per-tenant env handlers.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/eventlog"
	"github.com/yanizio/platformx/internal/httputil"
)

func (s *Server) getEnv(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if _, err := s.Registry.Get(r.Context(), slug); err != nil {
		httputil.Error(w, r, err)
		return
	}
	env, err := s.Env.Load(slug)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"env": env})
}

func (s *Server) patchEnv(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var body struct {
		Env    map[string]string `json:"env"`
		Action string            `json:"action"` // merge (default) | replace
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}
	if _, err := s.Registry.Get(r.Context(), slug); err != nil {
		httputil.Error(w, r, err)
		return
	}

	// Env updates are mutating admin operations: serialise per slug.
	s.Registry.Locks().Lock(slug)
	defer s.Registry.Locks().Unlock(slug)

	var err error
	switch body.Action {
	case "", "merge":
		err = s.Env.Merge(slug, body.Env)
	case "replace":
		err = s.Env.Save(slug, body.Env)
	default:
		err = apperr.Invalid("action must be merge or replace")
	}
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	s.Events.Log(r.Context(), slug, eventlog.EventEnvUpdate, "info",
		"env updated", map[string]any{"action": body.Action, "keys": len(body.Env)})

	env, err := s.Env.Load(slug)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"env": env})
}

func (s *Server) deleteEnv(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var body struct {
		Keys []string `json:"keys"`
	}
	// No body (or no keys) deletes the whole file.
	_ = json.NewDecoder(r.Body).Decode(&body)

	if _, err := s.Registry.Get(r.Context(), slug); err != nil {
		httputil.Error(w, r, err)
		return
	}

	s.Registry.Locks().Lock(slug)
	defer s.Registry.Locks().Unlock(slug)

	var err error
	if len(body.Keys) == 0 {
		err = s.Env.DeleteFile(slug)
	} else {
		err = s.Env.DeleteKeys(slug, body.Keys)
	}
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	s.Events.Log(r.Context(), slug, eventlog.EventEnvUpdate, "info",
		"env keys deleted", map[string]any{"keys": len(body.Keys)})
	httputil.JSON(w, r, http.StatusOK, nil)
}

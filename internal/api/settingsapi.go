// Platform settings handlers.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/httputil"
)

type settingBody struct {
	Value       json.RawMessage `json:"value"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Encrypted   bool            `json:"encrypted"`
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Settings.List(r.Context(), true)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"settings": rows, "count": len(rows)})
}

func (s *Server) settingsByCategory(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Settings.ByCategory(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"settings": rows, "count": len(rows)})
}

func (s *Server) getSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	val, err := s.Settings.Get(r.Context(), key, nil)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	if val == nil {
		httputil.Error(w, r, apperr.New(apperr.CodeAppNotFound, "setting not found", 404).
			WithDetail("key", key))
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"key": key, "value": val})
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body settingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}
	if err := s.Settings.Set(r.Context(), key, body.Value,
		body.Category, body.Description, body.Encrypted); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"key": key})
}

func (s *Server) putSettingsBulk(w http.ResponseWriter, r *http.Request) {
	var body map[string]settingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}
	for key, sb := range body {
		if err := s.Settings.Set(r.Context(), key, sb.Value,
			sb.Category, sb.Description, sb.Encrypted); err != nil {
			httputil.Error(w, r, err)
			return
		}
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"updated": len(body)})
}

func (s *Server) deleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := s.Settings.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, nil)
}

// Backup handlers.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/httputil"
)

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	infos, err := s.Backups.List()
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"backups": infos, "count": len(infos)})
}

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	info, err := s.Backups.Create(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusCreated, map[string]any{"backup": info})
}

func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BackupName string `json:"backupName"`
		NewName    string `json:"newName"`
		Overwrite  bool   `json:"overwrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}
	if body.BackupName == "" {
		httputil.Error(w, r, apperr.Invalid("backupName is required"))
		return
	}

	app, err := s.Backups.Restore(r.Context(), body.BackupName, body.NewName, body.Overwrite)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"app": app})
}

func (s *Server) pruneBackups(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Days int `json:"days"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Days <= 0 {
		// Fall back to the configured retention horizon.
		if raw, err := s.Settings.Get(r.Context(), "backup.retention_days", nil); err == nil && raw != nil {
			var d int
			if json.Unmarshal(raw, &d) == nil {
				body.Days = d
			}
		}
	}
	if body.Days <= 0 {
		body.Days = 30
	}
	removed, err := s.Backups.Prune(body.Days)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) deleteBackup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.Backups.Delete(name); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"name": name})
}

// Deploy handlers: multipart archive upload, git import, git update.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/deploy"
	"github.com/yanizio/platformx/internal/httputil"
	"github.com/yanizio/platformx/internal/registry"
)

func (s *Server) uploadArchive(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.Cfg.Deploy.MaxArchiveBytes

	// The multipart body carries the archive plus small text fields; the
	// overall cap leaves headroom beyond the archive limit itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httputil.Error(w, r, apperr.PayloadTooBig(maxBytes))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.Error(w, r, apperr.Invalid("missing file field"))
		return
	}
	defer file.Close()

	var proxyMap []registry.ProxyRule
	if raw := r.FormValue("proxyMap"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &proxyMap); err != nil {
			httputil.Error(w, r, apperr.Invalid("malformed proxyMap JSON"))
			return
		}
	}

	app, err := s.Pipeline.DeployArchive(r.Context(), deploy.ArchiveParams{
		Slug:           r.FormValue("slug"),
		File:           file,
		Size:           header.Size,
		Filename:       header.Filename,
		EntryPath:      r.FormValue("entryPath"),
		Kind:           r.FormValue("kind"),
		BuildOutputDir: r.FormValue("buildOutputDir"),
		ProxyMap:       proxyMap,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusCreated, map[string]any{
		"slug": app.Slug,
		"kind": app.Kind,
		"app":  app,
	})
}

func (s *Server) gitImport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RepoURL   string `json:"repoURL"`
		Branch    string `json:"branch"`
		Slug      string `json:"slug"`
		EntryPath string `json:"entryPath"`
		Kind      string `json:"kind"`
		Token     string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.Error(w, r, apperr.Invalid("malformed JSON body"))
		return
	}

	app, err := s.Pipeline.DeployGit(r.Context(), deploy.GitParams{
		Slug:      body.Slug,
		RepoURL:   body.RepoURL,
		Branch:    body.Branch,
		EntryPath: body.EntryPath,
		Kind:      body.Kind,
		Token:     body.Token,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusCreated, map[string]any{
		"slug": app.Slug,
		"kind": app.Kind,
		"app":  app,
	})
}

func (s *Server) gitUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Branch string `json:"branch"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	app, err := s.Pipeline.GitUpdate(r.Context(), chi.URLParam(r, "slug"), body.Branch)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.JSON(w, r, http.StatusOK, map[string]any{"app": app})
}

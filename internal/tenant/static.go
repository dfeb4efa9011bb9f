// Frontend handler: build-output static files behind the configured proxy
// rules, with an SPA fallback to index.html for unmatched routes.
package tenant

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/registry"
)

// buildOutputCandidates are probed when the row does not name a build
// output directory.
var buildOutputCandidates = []string{"dist", "build", "out", ".next", "public", "www", "_site"}

func (c *Cache) buildStatic(rec *registry.Tenant, dir string) (http.Handler, error) {
	outDir := rec.BuildOutputDir
	if outDir == "" {
		outDir = detectBuildOutput(dir)
	}
	root := filepath.Join(dir, outDir)
	if st, err := os.Stat(root); err != nil || !st.IsDir() {
		return nil, apperr.New(apperr.CodeDirMissing, "build output directory missing",
			http.StatusInternalServerError).WithDetail("buildOutputDir", outDir)
	}

	var proxies []proxyRoute
	for _, rule := range rec.ProxyMap() {
		target, err := url.Parse(rule.Upstream)
		if err != nil || target.Host == "" {
			zap.L().Warn("skipping malformed proxy rule",
				zap.String("slug", rec.Slug), zap.String("upstream", rule.Upstream))
			continue
		}
		proxies = append(proxies, newProxyRoute(rule.PathPrefix, target))
	}

	return &staticHandler{root: root, proxies: proxies}, nil
}

// detectBuildOutput returns the first candidate containing an index.html,
// falling back to the tenant directory itself.
func detectBuildOutput(dir string) string {
	for _, cand := range buildOutputCandidates {
		if _, err := os.Stat(filepath.Join(dir, cand, "index.html")); err == nil {
			return cand
		}
	}
	return "."
}

type proxyRoute struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

func newProxyRoute(prefix string, target *url.URL) proxyRoute {
	rp := httputil.NewSingleHostReverseProxy(target)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		ae := apperr.Upstream(err)
		http.Error(w, ae.Message+": "+err.Error(), http.StatusBadGateway)
	}
	return proxyRoute{prefix: prefix, proxy: rp}
}

// staticHandler applies proxy rules first (order preserved, first prefix
// match wins), then static files, then the SPA fallback.
type staticHandler struct {
	root    string
	proxies []proxyRoute
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.proxies {
		if strings.HasPrefix(r.URL.Path, p.prefix) {
			p.proxy.ServeHTTP(w, r)
			return
		}
	}

	// Resolve inside the root only; Clean plus the prefix check below keep
	// traversal out.
	rel := filepath.Clean(strings.TrimPrefix(r.URL.Path, "/"))
	if rel == "." {
		rel = "index.html"
	}
	full := filepath.Join(h.root, rel)
	if !strings.HasPrefix(full, h.root) {
		http.NotFound(w, r)
		return
	}

	if st, err := os.Stat(full); err == nil && !st.IsDir() {
		http.ServeFile(w, r, full)
		return
	}

	// SPA fallback.
	index := filepath.Join(h.root, "index.html")
	if _, err := os.Stat(index); err == nil {
		http.ServeFile(w, r, index)
		return
	}
	http.NotFound(w, r)
}

// TryFile reports whether the static tree has a real file for path; the
// fullstack composite uses it to decide between assets and the backend
// handler.
func (h *staticHandler) TryFile(path string) bool {
	rel := filepath.Clean(strings.TrimPrefix(path, "/"))
	if rel == "." {
		rel = "index.html"
	}
	full := filepath.Join(h.root, rel)
	if !strings.HasPrefix(full, h.root) {
		return false
	}
	st, err := os.Stat(full)
	return err == nil && !st.IsDir()
}

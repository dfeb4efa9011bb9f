package tenant

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func newStaticFixture(t *testing.T, upstream string) *staticHandler {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"),
		[]byte("<html>app</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "main.js"), []byte("js"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &staticHandler{root: root}
	if upstream != "" {
		target, err := url.Parse(upstream)
		if err != nil {
			t.Fatal(err)
		}
		h.proxies = []proxyRoute{newProxyRoute("/api", target)}
	}
	return h
}

func TestStatic_ServesFilesAndFallback(t *testing.T) {
	h := newStaticFixture(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/main.js", nil))
	if rec.Code != 200 || rec.Body.String() != "js" {
		t.Errorf("asset: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/some/spa/route", nil))
	if rec.Code != 200 || rec.Body.String() != "<html>app</html>" {
		t.Errorf("fallback: %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatic_TraversalBlocked(t *testing.T) {
	h := newStaticFixture(t, "")
	secret := filepath.Join(filepath.Dir(h.root), "secret.txt")
	if err := os.WriteFile(secret, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.URL.Path = "/../secret.txt"
	h.ServeHTTP(rec, req)
	if rec.Body.String() == "nope" {
		t.Fatal("path traversal leaked a file outside the root")
	}
}

func TestStatic_ProxyRuleWins(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("from upstream " + r.URL.Path))
	}))
	defer upstream.Close()

	h := newStaticFixture(t, upstream.URL)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/orders", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("proxy status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "from upstream /api/orders" {
		t.Errorf("proxy body = %q", got)
	}
}

func TestStatic_ProxyFailureIs502(t *testing.T) {
	// Point at a closed port.
	h := newStaticFixture(t, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/orders", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("dead upstream status = %d, want 502", rec.Code)
	}
}

func TestStatic_TryFile(t *testing.T) {
	h := newStaticFixture(t, "")
	if !h.TryFile("/main.js") {
		t.Error("TryFile missed a real asset")
	}
	if h.TryFile("/missing.js") {
		t.Error("TryFile invented an asset")
	}
	if h.TryFile("/../secret.txt") {
		t.Error("TryFile followed a traversal")
	}
}

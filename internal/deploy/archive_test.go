package deploy

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func makeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "upload.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractZip(t *testing.T) {
	archive := makeZip(t, map[string]string{
		"server.js":      "module.exports = h",
		"lib/helpers.js": "x",
	})
	dest := t.TempDir()

	if err := extractZip(archive, dest); err != nil {
		t.Fatalf("extractZip: %v", err)
	}
	for _, rel := range []string{"server.js", "lib/helpers.js"} {
		if _, err := os.Stat(filepath.Join(dest, rel)); err != nil {
			t.Errorf("missing %s after extract: %v", rel, err)
		}
	}
}

func TestExtractZip_RejectsTraversal(t *testing.T) {
	archive := makeZip(t, map[string]string{"../evil.js": "x"})
	dest := t.TempDir()

	if err := extractZip(archive, dest); err == nil {
		t.Fatal("extractZip accepted a traversal entry")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "evil.js")); err == nil {
		t.Fatal("traversal entry escaped the destination")
	}
}

func TestFlattenSingleDir(t *testing.T) {
	dest := t.TempDir()
	inner := filepath.Join(dest, "my-app-main")
	if err := os.MkdirAll(filepath.Join(inner, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, rel := range []string{"server.js", "lib/util.js"} {
		if err := os.WriteFile(filepath.Join(inner, rel), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := flattenSingleDir(dest); err != nil {
		t.Fatalf("flattenSingleDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "server.js")); err != nil {
		t.Error("server.js not promoted")
	}
	if _, err := os.Stat(inner); !os.IsNotExist(err) {
		t.Error("inner directory survived the flatten")
	}
}

func TestFlattenSingleDir_NoopCases(t *testing.T) {
	// Top-level file present: leave as is.
	dest := t.TempDir()
	if err := os.Mkdir(filepath.Join(dest, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dest, "server.js"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := flattenSingleDir(dest); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dest, "src")); err != nil {
		t.Error("flatten touched a tree with top-level files")
	}

	// Two dirs: leave as is.
	dest2 := t.TempDir()
	for _, d := range []string{"a", "b"} {
		if err := os.Mkdir(filepath.Join(dest2, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := flattenSingleDir(dest2); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"a", "b"} {
		if _, err := os.Stat(filepath.Join(dest2, d)); err != nil {
			t.Errorf("flatten touched sibling dir %s", d)
		}
	}
}

func TestSaveUpload_Caps(t *testing.T) {
	p := &Pipeline{maxArchive: 64}
	stage := t.TempDir()

	// Wrong extension.
	if _, err := p.saveUpload(stage, strings.NewReader("x"), 1, "app.tar.gz"); err == nil {
		t.Error("saveUpload accepted a non-zip name")
	}

	// At the cap: accepted.
	if _, err := p.saveUpload(stage, strings.NewReader(strings.Repeat("a", 64)), 64, "app.zip"); err != nil {
		t.Errorf("saveUpload rejected an archive at the cap: %v", err)
	}

	// One byte over: rejected, even when the declared size lies.
	if _, err := p.saveUpload(stage, strings.NewReader(strings.Repeat("a", 65)), 64, "app.zip"); err == nil {
		t.Error("saveUpload accepted an archive over the cap")
	}
}

func TestInjectToken(t *testing.T) {
	got := injectToken("https://github.com/acme/shop.git", "tok123")
	if !strings.Contains(got, "x-access-token:tok123@github.com") {
		t.Errorf("github token not injected: %s", got)
	}

	unchanged := injectToken("git@github.com:acme/shop.git", "tok123")
	if unchanged != "git@github.com:acme/shop.git" {
		t.Errorf("ssh URL mutated: %s", unchanged)
	}

	if got := injectToken("https://example.com/x.git", "tok"); strings.Contains(got, "tok") {
		t.Errorf("token injected for unknown host: %s", got)
	}
}

func TestValidateRepoURL(t *testing.T) {
	for _, ok := range []string{
		"https://github.com/a/b.git",
		"http://internal/a.git",
		"git://host/repo.git",
		"git@github.com:a/b.git",
	} {
		if err := validateRepoURL(ok); err != nil {
			t.Errorf("validateRepoURL(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"ftp://x/y.git", "file:///etc/passwd", "/local/path"} {
		if err := validateRepoURL(bad); err == nil {
			t.Errorf("validateRepoURL accepted %q", bad)
		}
	}
}

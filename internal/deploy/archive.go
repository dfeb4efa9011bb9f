// Archive ingestion: size and extension checks, staged extraction, and the
// single-top-level-directory flatten.
package deploy

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yanizio/platformx/internal/apperr"
)

// saveUpload streams the multipart file to the staging dir, enforcing the
// byte cap exactly: size is checked when known, and the copy itself is
// limited so a lying Content-Length cannot slip past.
func (p *Pipeline) saveUpload(stage string, src io.Reader, size int64, filename string) (string, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".zip") {
		return "", apperr.Invalid("archive must be a .zip file").WithDetail("filename", filename)
	}
	if size > p.maxArchive {
		return "", apperr.PayloadTooBig(p.maxArchive)
	}

	dst := filepath.Join(stage, "upload.zip")
	f, err := os.Create(dst)
	if err != nil {
		return "", apperr.FSFailure(err)
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(src, p.maxArchive+1))
	if err != nil {
		return "", apperr.FSFailure(err)
	}
	if n > p.maxArchive {
		return "", apperr.PayloadTooBig(p.maxArchive)
	}
	return dst, nil
}

// extractZip unpacks archivePath into destDir, refusing entries that would
// escape the destination and preserving file modes.
func extractZip(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return apperr.Wrap(apperr.CodeExtractFailed, "archive unreadable", 400, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target, err := safeJoin(destDir, zf.Name)
		if err != nil {
			return apperr.Wrap(apperr.CodeExtractFailed, "archive contains unsafe path", 400, err)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apperr.FSFailure(err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return apperr.FSFailure(err)
		}

		rc, err := zf.Open()
		if err != nil {
			return apperr.Wrap(apperr.CodeExtractFailed, "archive entry unreadable", 400, err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, zf.Mode().Perm()|0o200)
		if err != nil {
			rc.Close()
			return apperr.FSFailure(err)
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return apperr.FSFailure(err)
		}
	}
	return nil
}

// safeJoin joins name under base, rejecting traversal outside base.
func safeJoin(base, name string) (string, error) {
	target := filepath.Join(base, filepath.FromSlash(name))
	if target != base && !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes archive root", name)
	}
	return target, nil
}

// flattenSingleDir promotes the contents of a lone top-level directory one
// level up, the common shape of zips produced by "compress folder".
func flattenSingleDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var dirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		} else {
			return nil // files at top level: nothing to flatten
		}
	}
	if len(dirs) != 1 {
		return nil
	}

	inner := filepath.Join(dir, dirs[0].Name())
	children, err := os.ReadDir(inner)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := os.Rename(
			filepath.Join(inner, child.Name()),
			filepath.Join(dir, child.Name()),
		); err != nil {
			return err
		}
	}
	return os.Remove(inner)
}

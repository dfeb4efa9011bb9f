// Package backup snapshots tenant trees as portable zip archives.  Each
// archive carries the full tenant directory plus a metadata.json document
// with the registry row at snapshot time, so a restore can rebuild both
// the filesystem and the store entry.  The engine exclusively owns the
// backups directory.
//
// Archive names are <slug>-<ISO8601-no-colons>.zip, e.g.
// shop-20260801T093012Z.zip.
package backup

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/eventlog"
	"github.com/yanizio/platformx/internal/registry"
)

const (
	metadataName = "metadata.json"
	stampLayout  = "20060102T150405Z"
)

// Info describes one archive on disk.
type Info struct {
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
	SizeBytes int64     `json:"sizeBytes"`
}

// Engine creates, lists, restores, and prunes archives.
type Engine struct {
	dir    string
	reg    *registry.Registry
	events *eventlog.Logger
	evict  func(slug string)
}

// New builds an Engine rooted at dir.
func New(dir string, reg *registry.Registry, events *eventlog.Logger, evict func(slug string)) *Engine {
	if evict == nil {
		evict = func(string) {}
	}
	return &Engine{dir: dir, reg: reg, events: events, evict: evict}
}

// Create snapshots one tenant.  Returns the archive info.
func (e *Engine) Create(ctx context.Context, slug string) (*Info, error) {
	// Hold the slug lock so a concurrent deploy cannot swap the tree out
	// mid-snapshot.
	locks := e.reg.Locks()
	locks.Lock(slug)
	defer locks.Unlock(slug)

	rec, err := e.reg.Get(ctx, slug)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, apperr.FSFailure(err)
	}

	stamp := time.Now().UTC().Format(stampLayout)
	name := fmt.Sprintf("%s-%s.zip", slug, stamp)
	path := filepath.Join(e.dir, name)

	if err := e.writeArchive(path, e.reg.Dir(slug), rec); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, apperr.FSFailure(err)
	}

	e.events.Log(ctx, slug, eventlog.EventBackup, "info",
		"backup created", map[string]any{"name": name, "sizeBytes": st.Size()})

	return &Info{Name: name, Slug: slug, CreatedAt: time.Now().UTC(), SizeBytes: st.Size()}, nil
}

func (e *Engine) writeArchive(path, tenantDir string, rec *registry.Tenant) error {
	out, err := os.Create(path)
	if err != nil {
		return apperr.FSFailure(err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apperr.Internal(err)
	}
	w, err := zw.Create(metadataName)
	if err != nil {
		return apperr.FSFailure(err)
	}
	if _, err := w.Write(meta); err != nil {
		return apperr.FSFailure(err)
	}

	err = filepath.WalkDir(tenantDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(tenantDir, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(filepath.Join("tree", rel)))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return apperr.FSFailure(err)
	}
	return nil
}

// List enumerates archives newest first.
func (e *Engine) List() ([]Info, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, apperr.FSFailure(err)
	}

	out := []Info{}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".zip") {
			continue
		}
		slug, at, ok := parseName(ent.Name())
		if !ok {
			continue
		}
		st, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Name: ent.Name(), Slug: slug, CreatedAt: at, SizeBytes: st.Size()})
	}
	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Restore extracts an archive into the apps root and upserts the tenant
// row from its metadata.  targetSlug defaults to the original slug;
// restoring onto an existing tenant requires overwrite.
func (e *Engine) Restore(ctx context.Context, archiveName, targetSlug string, overwrite bool) (*registry.Tenant, error) {
	path, err := e.safeArchivePath(archiveName)
	if err != nil {
		return nil, err
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.CodeBackupNotFound, "backup not found", 404).
				WithDetail("name", archiveName)
		}
		return nil, apperr.FSFailure(err)
	}
	defer zr.Close()

	meta, err := readMetadata(&zr.Reader)
	if err != nil {
		return nil, err
	}

	if targetSlug == "" {
		targetSlug = meta.Slug
	}
	if err := registry.CheckSlug(targetSlug); err != nil {
		return nil, err
	}

	locks := e.reg.Locks()
	locks.Lock(targetSlug)
	defer locks.Unlock(targetSlug)

	_, getErr := e.reg.Get(ctx, targetSlug)
	exists := getErr == nil
	if exists && !overwrite {
		return nil, apperr.New(apperr.CodeBackupExists,
			"target app exists; pass overwrite to replace it", 409).
			WithDetail("slug", targetSlug)
	}
	if exists {
		e.evict(targetSlug)
		if err := os.RemoveAll(e.reg.Dir(targetSlug)); err != nil {
			return nil, apperr.FSFailure(err)
		}
	}

	dest := e.reg.Dir(targetSlug)
	if err := extractTree(&zr.Reader, dest); err != nil {
		_ = os.RemoveAll(dest)
		return nil, err
	}

	now := time.Now()
	t := *meta
	t.Slug = targetSlug
	t.LastDeployedAt.Time, t.LastDeployedAt.Valid = now, true
	if t.Status == "" || !registry.ValidStatus(t.Status) {
		t.Status = registry.StatusActive
	}
	if exists {
		if ok, err := e.deleteRow(ctx, targetSlug); err != nil || !ok {
			zap.L().Warn("stale row delete before restore", zap.Bool("deleted", ok), zap.Error(err))
		}
	}
	if err := e.reg.Upsert(ctx, &t); err != nil {
		_ = os.RemoveAll(dest)
		return nil, err
	}

	e.events.Log(ctx, targetSlug, eventlog.EventBackup, "info",
		"backup restored", map[string]any{"archive": archiveName, "from": meta.Slug})

	return e.reg.Get(ctx, targetSlug)
}

// Delete removes one archive.
func (e *Engine) Delete(archiveName string) error {
	path, err := e.safeArchivePath(archiveName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return apperr.New(apperr.CodeBackupNotFound, "backup not found", 404).
				WithDetail("name", archiveName)
		}
		return apperr.FSFailure(err)
	}
	return nil
}

// Prune deletes archives older than days.  Returns how many were removed.
func (e *Engine) Prune(days int) (int, error) {
	if days <= 0 {
		return 0, apperr.Invalid("prune days must be positive")
	}
	infos, err := e.List()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	removed := 0
	for _, info := range infos {
		if info.CreatedAt.Before(cutoff) {
			if err := os.Remove(filepath.Join(e.dir, info.Name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

//
// helpers
//

// parseName splits <slug>-<stamp>.zip.  The slug itself may contain
// hyphens, so split at the last one.
func parseName(name string) (slug string, at time.Time, ok bool) {
	base := strings.TrimSuffix(name, ".zip")
	i := strings.LastIndexByte(base, '-')
	if i <= 0 {
		return "", time.Time{}, false
	}
	at, err := time.Parse(stampLayout, base[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return base[:i], at.UTC(), true
}

func (e *Engine) safeArchivePath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", apperr.Invalid("invalid backup name").WithDetail("name", name)
	}
	return filepath.Join(e.dir, name), nil
}

func readMetadata(zr *zip.Reader) (*registry.Tenant, error) {
	for _, zf := range zr.File {
		if zf.Name != metadataName {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, apperr.FSFailure(err)
		}
		defer rc.Close()
		var t registry.Tenant
		if err := json.NewDecoder(rc).Decode(&t); err != nil {
			return nil, apperr.Wrap(apperr.CodeExtractFailed, "backup metadata unreadable", 400, err)
		}
		return &t, nil
	}
	return nil, apperr.Wrap(apperr.CodeExtractFailed, "backup has no metadata.json", 400, nil)
}

func extractTree(zr *zip.Reader, dest string) error {
	for _, zf := range zr.File {
		if !strings.HasPrefix(zf.Name, "tree/") {
			continue
		}
		rel := strings.TrimPrefix(zf.Name, "tree/")
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if target != dest && !strings.HasPrefix(target, dest+string(filepath.Separator)) {
			return apperr.Wrap(apperr.CodeExtractFailed, "backup contains unsafe path", 400, nil)
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
			return apperr.FSFailure(err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
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

// deleteRow removes the stale row before re-upserting restored metadata.
func (e *Engine) deleteRow(ctx context.Context, slug string) (bool, error) {
	res, err := e.reg.DB().ExecContext(ctx, `DELETE FROM tenant WHERE slug = ?`, slug)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

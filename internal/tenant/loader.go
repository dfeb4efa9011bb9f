// slug → Loaded tenant loader.
//
// The cache's slow path calls load to transform a slug into a live Loaded
// tenant.  The function performs the blocking steps in order:
//
//  1. Fetch the tenant row and check its status.
//  2. Resolve the tenant directory and (for backend kinds) the entry file.
//  3. Re-scan the entry file for forbidden patterns (defense in depth; the
//     deploy pipeline already scanned it once).
//  4. Snapshot the per-tenant .env.
//  5. Ensure and open the tenant's database namespace with a small pool.
//  6. Instantiate the handler: a sandboxed runtime for backend code, a
//     static/proxy handler for frontend assets, or both for fullstack.
//
// Heavy resources (DB pool, goja runtime) are created once per cache entry
// and reused until eviction.
package tenant

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/database"
	"github.com/yanizio/platformx/internal/registry"
	"github.com/yanizio/platformx/internal/sandbox"
)

func (c *Cache) load(ctx context.Context, slug string) (*Loaded, error) {
	// 1. row and status
	rec, err := c.reg.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if rec.Status == registry.StatusDisabled {
		return nil, apperr.New(apperr.CodeAppDisabled, "app is disabled", http.StatusForbidden).
			WithDetail("slug", slug)
	}

	// 2. directory
	dir := c.reg.Dir(slug)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, apperr.New(apperr.CodeDirMissing, "app directory missing", http.StatusInternalServerError).
			WithDetail("slug", slug)
	}

	loaded := &Loaded{
		Slug:     slug,
		Kind:     rec.Kind,
		Meta:     *rec,
		LoadedAt: time.Now(),
		dev:      c.dev,
	}

	if rec.Kind == registry.KindBackend || rec.Kind == registry.KindFullstack {
		if err := c.loadBackend(ctx, rec, dir, loaded); err != nil {
			loaded.Close()
			return nil, err
		}
	}

	if rec.Kind == registry.KindFrontend || rec.Kind == registry.KindFullstack {
		static, err := c.buildStatic(rec, dir)
		if err != nil {
			loaded.Close()
			return nil, err
		}
		loaded.Static = static
	}

	return loaded, nil
}

func (c *Cache) loadBackend(ctx context.Context, rec *registry.Tenant, dir string, loaded *Loaded) error {
	entryPath := rec.EntryPath
	if entryPath == "" {
		entryPath = registry.EntryCandidates[0]
	}
	entryFile := filepath.Join(dir, entryPath)

	// 3. forbidden-pattern scan
	res, err := c.scanner.CheckFile(entryFile)
	if err != nil {
		return apperr.Wrap(apperr.CodeLoadFailed, "entry file unreadable", http.StatusInternalServerError, err).
			WithDetail("entryPath", entryPath)
	}
	if !res.Valid {
		return apperr.ForbiddenCode(res.Reason)
	}

	// 4. env snapshot
	env, err := c.env.Load(rec.Slug)
	if err != nil {
		return err
	}
	loaded.Env = env

	// 5. tenant database namespace
	ns := database.Namespace(rec.Slug)
	if err := database.EnsureNamespace(ctx, c.reg.DB(), ns); err != nil {
		return apperr.StoreFailure(fmt.Errorf("ensure namespace %s: %w", ns, err))
	}
	db, err := database.OpenWithOptions(fmt.Sprintf(c.tenantDSNBase, ns), c.maxOpenPerApp, c.maxIdlePerApp)
	if err != nil {
		return apperr.StoreFailure(fmt.Errorf("open namespace %s: %w", ns, err))
	}
	loaded.DB = db

	// 6. sandboxed handler
	source, err := os.ReadFile(entryFile)
	if err != nil {
		return apperr.FSFailure(err)
	}
	slug := rec.Slug
	rt, err := sandbox.New(string(source), sandbox.Options{
		Slug:    slug,
		Env:     env,
		DB:      db,
		Console: func(line string) { c.events.AppendRaw(slug, line) },
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeLoadFailed, "handler instantiation failed",
			http.StatusInternalServerError, err)
	}
	loaded.Runtime = rt
	return nil
}

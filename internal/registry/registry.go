// Package registry is the authoritative store of tenant metadata and the
// coupler between the durable `tenant` table and the on-disk tree under the
// apps root.  Every mutating operation holds the per-slug mutex shared with
// the tenant cache, so a deploy, rename, or delete never races a load.
//
// Ownership: the registry exclusively owns persisted Tenant rows and the
// directory layout under <root>/apps.  Cache eviction is delegated through
// an injected evict callback to avoid a package cycle with the cache.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/codescan"
	"github.com/yanizio/platformx/internal/keymutex"
)

// EntryCandidates are the file names recognised as a backend entry during
// filesystem sync and kind detection, in priority order.
var EntryCandidates = []string{"server.js", "app.js", "index.js", "main.js"}

// Registry couples the tenant table with the apps directory tree.
type Registry struct {
	db       *sqlx.DB
	appsRoot string
	locks    *keymutex.Map
	scanner  *codescan.Checker
	evict    func(slug string)
}

// New builds a Registry.  locks is shared with the tenant cache so per-slug
// serialisation spans loads and admin mutations.
func New(db *sqlx.DB, appsRoot string, locks *keymutex.Map) *Registry {
	return &Registry{
		db:       db,
		appsRoot: appsRoot,
		locks:    locks,
		scanner:  codescan.NewChecker(),
		evict:    func(string) {},
	}
}

// SetEvictFunc installs the cache-evict callback.  Must be called during
// wiring, before any mutating operation runs.
func (r *Registry) SetEvictFunc(fn func(slug string)) { r.evict = fn }

// DB exposes the control-plane handle for collaborating stores.
func (r *Registry) DB() *sqlx.DB { return r.db }

// AppsRoot returns the absolute apps directory.
func (r *Registry) AppsRoot() string { return r.appsRoot }

// Dir returns the tenant directory for slug.
func (r *Registry) Dir(slug string) string { return filepath.Join(r.appsRoot, slug) }

// Locks exposes the shared per-slug mutex map.
func (r *Registry) Locks() *keymutex.Map { return r.locks }

// List returns tenants, optionally filtered by status.
func (r *Registry) List(ctx context.Context, statusFilter string) ([]Tenant, error) {
	if statusFilter != "" && !ValidStatus(statusFilter) {
		return nil, apperr.Invalid("unknown status filter").WithDetail("status", statusFilter)
	}
	rows, err := selectAll(ctx, r.db, statusFilter)
	if err != nil {
		return nil, apperr.StoreFailure(err)
	}
	return rows, nil
}

// Get fetches one tenant row.
func (r *Registry) Get(ctx context.Context, slug string) (*Tenant, error) {
	t, err := selectBySlug(ctx, r.db, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.AppNotFound(slug)
	}
	if err != nil {
		return nil, apperr.StoreFailure(err)
	}
	return t, nil
}

// CreateParams seeds a manual tenant row.
type CreateParams struct {
	Slug      string
	Name      string
	Kind      string
	EntryPath string
}

// Create inserts a tenant row and ensures its directory exists.  Used by
// the manual-create admin path; the deploy pipeline uses Upsert instead.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*Tenant, error) {
	if err := CheckSlug(p.Slug); err != nil {
		return nil, err
	}
	if p.Kind == "" {
		p.Kind = KindBackend
	}
	if !ValidKind(p.Kind) {
		return nil, apperr.Invalid("unknown kind").WithDetail("kind", p.Kind)
	}

	r.locks.Lock(p.Slug)
	defer r.locks.Unlock(p.Slug)

	if _, err := selectBySlug(ctx, r.db, p.Slug); err == nil {
		return nil, apperr.AppExists(p.Slug)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.StoreFailure(err)
	}

	if err := os.MkdirAll(r.Dir(p.Slug), 0o755); err != nil {
		return nil, apperr.FSFailure(err)
	}

	name := p.Name
	if name == "" {
		name = p.Slug
	}
	entry := p.EntryPath
	if entry == "" && p.Kind != KindFrontend {
		entry = EntryCandidates[0]
	}
	t := &Tenant{
		Slug:      p.Slug,
		Name:      name,
		Status:    StatusActive,
		Kind:      p.Kind,
		EntryPath: entry,
		Source:    SourceManual,
	}
	if err := insertTenant(ctx, r.db, t); err != nil {
		return nil, apperr.StoreFailure(err)
	}
	return r.Get(ctx, p.Slug)
}

// Patch carries optional field updates; nil pointers are left unchanged.
type Patch struct {
	Name           *string
	Status         *string
	Kind           *string
	EntryPath      *string
	BuildOutputDir *string
	ProxyMap       []ProxyRule
	WebhookURL     *string
}

// Update applies a patch under the slug lock.  Status and kind values must
// stay inside their enums.  Any patch evicts the cache entry so the next
// request observes the new metadata.
func (r *Registry) Update(ctx context.Context, slug string, p Patch) (*Tenant, error) {
	r.locks.Lock(slug)
	defer r.locks.Unlock(slug)

	t, err := r.Get(ctx, slug)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Status != nil {
		if !ValidStatus(*p.Status) {
			return nil, apperr.Invalid("unknown status").WithDetail("status", *p.Status)
		}
		t.Status = *p.Status
		if t.Status != StatusError {
			t.LastError = ""
		}
	}
	if p.Kind != nil {
		if !ValidKind(*p.Kind) {
			return nil, apperr.Invalid("unknown kind").WithDetail("kind", *p.Kind)
		}
		t.Kind = *p.Kind
	}
	if p.EntryPath != nil {
		t.EntryPath = *p.EntryPath
	}
	if p.BuildOutputDir != nil {
		t.BuildOutputDir = *p.BuildOutputDir
	}
	if p.ProxyMap != nil {
		t.SetProxyMap(p.ProxyMap)
	}
	if p.WebhookURL != nil {
		t.WebhookURL = *p.WebhookURL
	}

	if err := updateTenant(ctx, r.db, t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.AppNotFound(slug)
		}
		return nil, apperr.StoreFailure(err)
	}

	r.evict(slug)
	return r.Get(ctx, slug)
}

// Upsert writes a full tenant record, inserting or updating by slug.  The
// deploy pipeline and backup restore call this after the tree is in place.
func (r *Registry) Upsert(ctx context.Context, t *Tenant) error {
	_, err := selectBySlug(ctx, r.db, t.Slug)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := insertTenant(ctx, r.db, t); err != nil {
			return apperr.StoreFailure(err)
		}
		return nil
	case err != nil:
		return apperr.StoreFailure(err)
	default:
		if err := updateTenant(ctx, r.db, t); err != nil {
			return apperr.StoreFailure(err)
		}
		return nil
	}
}

// Delete evicts the tenant, removes its directory, and deletes the row, in
// that order.  Any failure leaves the row intact with status=error.
func (r *Registry) Delete(ctx context.Context, slug string) error {
	r.locks.Lock(slug)
	defer r.locks.Unlock(slug)

	if _, err := r.Get(ctx, slug); err != nil {
		return err
	}

	r.evict(slug)

	if err := os.RemoveAll(r.Dir(slug)); err != nil {
		_ = setStatusError(ctx, r.db, slug, "delete failed: "+err.Error())
		return apperr.FSFailure(err)
	}

	ok, err := deleteTenantRow(ctx, r.db, slug)
	if err != nil {
		_ = setStatusError(ctx, r.db, slug, "row delete failed: "+err.Error())
		return apperr.StoreFailure(err)
	}
	if !ok {
		return apperr.AppNotFound(slug)
	}
	zap.L().Info("tenant deleted", zap.String("slug", slug))
	return nil
}

// Rename atomically moves the tenant to a new slug: evict, move directory,
// update row.  If the directory move fails the row is untouched.
func (r *Registry) Rename(ctx context.Context, slug, newSlug string) (*Tenant, error) {
	if err := CheckSlug(newSlug); err != nil {
		return nil, err
	}
	if slug == newSlug {
		return nil, apperr.Invalid("new slug equals current slug")
	}

	// Lock both slugs in lexical order to avoid lock-order inversion with a
	// concurrent rename in the opposite direction.
	first, second := slug, newSlug
	if second < first {
		first, second = second, first
	}
	r.locks.Lock(first)
	defer r.locks.Unlock(first)
	r.locks.Lock(second)
	defer r.locks.Unlock(second)

	if _, err := r.Get(ctx, slug); err != nil {
		return nil, err
	}
	if _, err := selectBySlug(ctx, r.db, newSlug); err == nil {
		return nil, apperr.AppExists(newSlug)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.StoreFailure(err)
	}
	if _, err := os.Stat(r.Dir(newSlug)); err == nil {
		return nil, apperr.AppExists(newSlug).WithDetail("reason", "directory exists")
	}

	r.evict(slug)

	if err := os.Rename(r.Dir(slug), r.Dir(newSlug)); err != nil {
		return nil, apperr.FSFailure(err)
	}

	if err := renameTenantRow(ctx, r.db, slug, newSlug); err != nil {
		// Roll the directory back so filesystem and store stay coupled.
		if rbErr := os.Rename(r.Dir(newSlug), r.Dir(slug)); rbErr != nil {
			zap.L().Error("rename rollback failed",
				zap.String("slug", slug), zap.Error(rbErr))
		}
		return nil, apperr.StoreFailure(err)
	}

	zap.L().Info("tenant renamed",
		zap.String("from", slug), zap.String("to", newSlug))
	return r.Get(ctx, newSlug)
}

// SyncReport lists per-item outcomes of one reconciliation pass.
type SyncReport struct {
	Added   []SyncItem `json:"added"`
	Removed []SyncItem `json:"removed"`
	Renamed []SyncItem `json:"renamed"`
	Skipped []SyncItem `json:"skipped"`
}

// SyncItem names one directory or row and why it was touched.
type SyncItem struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Sync reconciles the filesystem with the store:
//
//  1. Directories with a recognised entry file and no row gain a row; an
//     invalid name is sanitised and the folder renamed when autoRename is
//     set, or skipped otherwise.  Entry files failing the code scan skip.
//  2. Rows whose directory is absent are removed.
//
// The operation is idempotent: a second call with no intervening change
// reports zero deltas.
func (r *Registry) Sync(ctx context.Context, autoRename bool) (*SyncReport, error) {
	report := &SyncReport{
		Added:   []SyncItem{},
		Removed: []SyncItem{},
		Renamed: []SyncItem{},
		Skipped: []SyncItem{},
	}

	entries, err := os.ReadDir(r.appsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return nil, apperr.FSFailure(err)
		}
	}

	known, err := selectAll(ctx, r.db, "")
	if err != nil {
		return nil, apperr.StoreFailure(err)
	}
	bySlug := make(map[string]*Tenant, len(known))
	for i := range known {
		bySlug[known[i].Slug] = &known[i]
	}

	// Pass 1: adopt directories without rows.
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		name := ent.Name()
		if _, ok := bySlug[name]; ok {
			continue
		}

		entry := r.findEntryFile(name)
		if entry == "" {
			report.Skipped = append(report.Skipped,
				SyncItem{Name: name, Reason: "no recognised entry file"})
			continue
		}

		slug := name
		if CheckSlug(slug) != nil {
			if !autoRename {
				report.Skipped = append(report.Skipped,
					SyncItem{Name: name, Reason: "invalid name; autoRename disabled"})
				continue
			}
			slug = Sanitize(name)
			if CheckSlug(slug) != nil {
				report.Skipped = append(report.Skipped,
					SyncItem{Name: name, Reason: "name cannot be sanitised to a valid slug"})
				continue
			}
			if _, taken := bySlug[slug]; taken {
				report.Skipped = append(report.Skipped,
					SyncItem{Name: name, Reason: fmt.Sprintf("sanitised slug %q collides", slug)})
				continue
			}
			if _, err := os.Stat(r.Dir(slug)); err == nil {
				report.Skipped = append(report.Skipped,
					SyncItem{Name: name, Reason: fmt.Sprintf("directory %q exists", slug)})
				continue
			}
			if err := os.Rename(r.Dir(name), r.Dir(slug)); err != nil {
				report.Skipped = append(report.Skipped,
					SyncItem{Name: name, Reason: "rename failed: " + err.Error()})
				continue
			}
			report.Renamed = append(report.Renamed,
				SyncItem{Name: name, Reason: "renamed to " + slug})
		}

		res, err := r.scanner.CheckFile(filepath.Join(r.Dir(slug), entry))
		if err != nil {
			report.Skipped = append(report.Skipped,
				SyncItem{Name: slug, Reason: "entry unreadable: " + err.Error()})
			continue
		}
		if !res.Valid {
			report.Skipped = append(report.Skipped,
				SyncItem{Name: slug, Reason: "rejected: " + res.Reason})
			continue
		}

		r.locks.Lock(slug)
		t := &Tenant{
			Slug:      slug,
			Name:      name,
			Status:    StatusActive,
			Kind:      KindBackend,
			EntryPath: entry,
			Source:    SourceUnknown,
		}
		err = insertTenant(ctx, r.db, t)
		r.locks.Unlock(slug)
		if err != nil {
			report.Skipped = append(report.Skipped,
				SyncItem{Name: slug, Reason: "insert failed: " + err.Error()})
			continue
		}
		bySlug[slug] = t
		report.Added = append(report.Added, SyncItem{Name: slug, Reason: "adopted from filesystem"})
	}

	// Pass 2: drop rows whose directory is gone.
	for slug := range bySlug {
		if _, err := os.Stat(r.Dir(slug)); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			report.Skipped = append(report.Skipped,
				SyncItem{Name: slug, Reason: "stat failed: " + err.Error()})
			continue
		}
		r.locks.Lock(slug)
		r.evict(slug)
		_, err := deleteTenantRow(ctx, r.db, slug)
		r.locks.Unlock(slug)
		if err != nil {
			report.Skipped = append(report.Skipped,
				SyncItem{Name: slug, Reason: "row delete failed: " + err.Error()})
			continue
		}
		report.Removed = append(report.Removed,
			SyncItem{Name: slug, Reason: "directory absent"})
	}

	return report, nil
}

// findEntryFile returns the first recognised entry file inside dir, or "".
func (r *Registry) findEntryFile(dir string) string {
	for _, cand := range EntryCandidates {
		if st, err := os.Stat(filepath.Join(r.Dir(dir), cand)); err == nil && !st.IsDir() {
			return cand
		}
	}
	return ""
}

// SetError flags a tenant as failed with a reason; used by the cache when a
// load blows up and by the deploy pipeline on update failures.
func (r *Registry) SetError(ctx context.Context, slug, reason string) {
	if err := setStatusError(ctx, r.db, slug, reason); err != nil {
		zap.L().Error("set tenant error status failed",
			zap.String("slug", slug), zap.Error(err))
	}
}

// ClearError restores active status after a successful deploy or load.
func (r *Registry) ClearError(ctx context.Context, slug string) {
	if err := clearError(ctx, r.db, slug); err != nil {
		zap.L().Error("clear tenant error failed",
			zap.String("slug", slug), zap.Error(err))
	}
}

// MarkDeployed stamps last_deployed_at.
func (r *Registry) MarkDeployed(ctx context.Context, slug string, at time.Time) {
	if err := touchDeployed(ctx, r.db, slug, at); err != nil {
		zap.L().Error("mark deployed failed", zap.String("slug", slug), zap.Error(err))
	}
}

// AddRequests adds delta to the durable request counter.  Best effort; the
// forwarder calls this asynchronously and drops the count on store outage.
func (r *Registry) AddRequests(ctx context.Context, slug string, delta uint64) error {
	return bumpRequestCount(ctx, r.db, slug, delta)
}

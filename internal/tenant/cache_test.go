// Cache tests exercise the frontend load path, which needs no tenant
// database: a registry row plus a build-output tree on disk is a complete
// loadable tenant.  The store side is sqlmock, as elsewhere.
package tenant

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/envstore"
	"github.com/yanizio/platformx/internal/eventlog"
	"github.com/yanizio/platformx/internal/keymutex"
	"github.com/yanizio/platformx/internal/registry"
)

var tenantColumns = []string{
	"slug", "name", "status", "kind", "entry_path", "build_output_dir",
	"proxy_map", "source", "repo_url", "branch", "webhook_url", "last_error",
	"request_count", "created_at", "updated_at", "last_deployed_at",
}

func frontendRow(slug string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(tenantColumns).AddRow(
		slug, slug, registry.StatusActive, registry.KindFrontend, "",
		"dist", "", registry.SourceArchive, "", "", "", "", 0, now, now, now,
	)
}

func disabledRow(slug string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(tenantColumns).AddRow(
		slug, slug, registry.StatusDisabled, registry.KindFrontend, "",
		"dist", "", registry.SourceArchive, "", "", "", "", 0, now, now, now,
	)
}

func newTestCache(t *testing.T) (*Cache, sqlmock.Sqlmock, string) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	sdb := sqlx.NewDb(db, "sqlmock")
	appsRoot := t.TempDir()
	locks := keymutex.New()
	reg := registry.New(sdb, appsRoot, locks)
	events := eventlog.New(sdb, t.TempDir())
	env := envstore.New(appsRoot, nil)

	c := New(reg, env, events, locks, nil, Options{
		TenantDSNBase: "root@tcp(localhost)/%s",
		IdleTTL:       time.Hour,
	})
	reg.SetEvictFunc(c.Evict)
	return c, mock, appsRoot
}

func writeFrontendTree(t *testing.T, appsRoot, slug string) {
	t.Helper()
	dist := filepath.Join(appsRoot, slug, "dist")
	if err := os.MkdirAll(dist, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dist, "index.html"),
		[]byte("<html>shop</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetOrLoad_FrontendServes(t *testing.T) {
	c, mock, appsRoot := newTestCache(t)
	writeFrontendTree(t, appsRoot, "shop")

	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).WillReturnRows(frontendRow("shop"))

	ten, err := c.GetOrLoad(context.Background(), "shop")
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	if ten.Kind != registry.KindFrontend || ten.Static == nil {
		t.Fatalf("loaded = %+v", ten)
	}

	rec := httptest.NewRecorder()
	ten.ServeHTTP(rec, httptest.NewRequest("GET", "http://shop.test/", nil))
	if rec.Code != 200 || rec.Body.String() != "<html>shop</html>" {
		t.Errorf("served %d %q", rec.Code, rec.Body.String())
	}

	// SPA fallback for an unknown route.
	rec = httptest.NewRecorder()
	ten.ServeHTTP(rec, httptest.NewRequest("GET", "http://shop.test/deep/route", nil))
	if rec.Code != 200 || rec.Body.String() != "<html>shop</html>" {
		t.Errorf("SPA fallback %d %q", rec.Code, rec.Body.String())
	}
}

func TestGetOrLoad_SingleLoadForConcurrentCallers(t *testing.T) {
	c, mock, appsRoot := newTestCache(t)
	writeFrontendTree(t, appsRoot, "shop")

	// Exactly one row query may reach the store.
	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).WillReturnRows(frontendRow("shop"))

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrLoad(context.Background(), "shop")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("more than one load hit the store: %v", err)
	}
}

func TestGetOrLoad_StoreErrorSurfaces(t *testing.T) {
	c, mock, _ := newTestCache(t)
	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).
		WillReturnError(os.ErrNotExist) // any non-row error surfaces

	if _, err := c.GetOrLoad(context.Background(), "ghost"); err == nil {
		t.Fatal("load of unknown slug succeeded")
	}
}

func TestGetOrLoad_DisabledTenant(t *testing.T) {
	c, mock, appsRoot := newTestCache(t)
	writeFrontendTree(t, appsRoot, "shop")

	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).WillReturnRows(disabledRow("shop"))

	// Disabled is not a failed load: the row keeps its status.
	_, err := c.GetOrLoad(context.Background(), "shop")
	if apperr.From(err).Code != apperr.CodeAppDisabled {
		t.Fatalf("want app-disabled, got %v", err)
	}
}

func TestEvict_Idempotent(t *testing.T) {
	c, mock, appsRoot := newTestCache(t)
	writeFrontendTree(t, appsRoot, "shop")
	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).WillReturnRows(frontendRow("shop"))

	if _, err := c.GetOrLoad(context.Background(), "shop"); err != nil {
		t.Fatal(err)
	}
	if len(c.ListCached()) != 1 {
		t.Fatal("entry not cached")
	}

	c.Evict("shop")
	c.Evict("shop") // second call is a no-op
	if len(c.ListCached()) != 0 {
		t.Error("entry survived evict")
	}

	// Next access reloads.
	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).WillReturnRows(frontendRow("shop"))
	ten, err := c.GetOrLoad(context.Background(), "shop")
	if err != nil {
		t.Fatal(err)
	}
	if ten.LoadedAt.IsZero() {
		t.Error("reload produced no LoadedAt")
	}
}

func TestEvictIdle(t *testing.T) {
	c, mock, appsRoot := newTestCache(t)
	writeFrontendTree(t, appsRoot, "shop")
	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).WillReturnRows(frontendRow("shop"))

	if _, err := c.GetOrLoad(context.Background(), "shop"); err != nil {
		t.Fatal(err)
	}

	// Generous threshold: nothing to do.
	if n := c.EvictIdle(time.Hour); n != 0 {
		t.Errorf("EvictIdle(1h) evicted %d", n)
	}

	time.Sleep(20 * time.Millisecond)
	if n := c.EvictIdle(time.Millisecond); n != 1 {
		t.Errorf("EvictIdle(1ms) evicted %d, want 1", n)
	}
	if len(c.ListCached()) != 0 {
		t.Error("idle entry survived")
	}
}

func TestListCached_Snapshot(t *testing.T) {
	c, mock, appsRoot := newTestCache(t)
	writeFrontendTree(t, appsRoot, "shop")
	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).WillReturnRows(frontendRow("shop"))

	ten, err := c.GetOrLoad(context.Background(), "shop")
	if err != nil {
		t.Fatal(err)
	}
	ten.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	snaps := c.ListCached()
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %+v", snaps)
	}
	s := snaps[0]
	if s.Slug != "shop" || s.RequestCount != 1 || s.LoadedAt.IsZero() {
		t.Errorf("snapshot = %+v", s)
	}
	if s.IdleMs < 0 {
		t.Errorf("negative idle: %+v", s)
	}
}

func TestShutdown_RefusesNewLoads(t *testing.T) {
	c, _, _ := newTestCache(t)
	c.Shutdown()
	_, err := c.GetOrLoad(context.Background(), "shop")
	if apperr.From(err).Code != apperr.CodeShuttingDown {
		t.Fatalf("want shutting-down, got %v", err)
	}
}

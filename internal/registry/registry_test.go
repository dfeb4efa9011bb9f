// Registry tests run against sqlmock for the store side and t.TempDir for
// the filesystem side, mirroring how the alias cache was tested in earlier
// iterations of this stack.
package registry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/keymutex"
)

var tenantColumns = []string{
	"slug", "name", "status", "kind", "entry_path", "build_output_dir",
	"proxy_map", "source", "repo_url", "branch", "webhook_url", "last_error",
	"request_count", "created_at", "updated_at", "last_deployed_at",
}

func tenantRow(slug, kind string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(tenantColumns).AddRow(
		slug, slug, StatusActive, kind, "server.js", "", "",
		SourceManual, "", "", "", "", 0, now, now, nil,
	)
}

func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock, string, *[]string) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	appsRoot := t.TempDir()
	reg := New(sqlx.NewDb(db, "sqlmock"), appsRoot, keymutex.New())

	var evicted []string
	reg.SetEvictFunc(func(slug string) { evicted = append(evicted, slug) })
	return reg, mock, appsRoot, &evicted
}

func TestGet_NotFound(t *testing.T) {
	reg, mock, _, _ := newTestRegistry(t)
	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).
		WillReturnError(sql.ErrNoRows)

	_, err := reg.Get(context.Background(), "ghost")
	if apperr.From(err).Code != apperr.CodeAppNotFound {
		t.Fatalf("want app-not-found, got %v", err)
	}
}

func TestCreate_RejectsBadSlugsWithoutTouchingStore(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	for _, slug := range []string{"ab", "admin", "Has Spaces", "with--dash"} {
		if _, err := reg.Create(context.Background(), CreateParams{Slug: slug}); err == nil {
			t.Errorf("Create(%q) succeeded", slug)
		}
	}
}

func TestDelete_RemovesDirThenRow(t *testing.T) {
	reg, mock, appsRoot, evicted := newTestRegistry(t)

	dir := filepath.Join(appsRoot, "shop")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).
		WillReturnRows(tenantRow("shop", KindBackend))
	mock.ExpectExec(`DELETE FROM tenant WHERE slug`).
		WithArgs("shop").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := reg.Delete(context.Background(), "shop"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("tenant directory survived delete")
	}
	if len(*evicted) != 1 || (*evicted)[0] != "shop" {
		t.Errorf("evictions = %v", *evicted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRename_MovesDirectory(t *testing.T) {
	reg, mock, appsRoot, evicted := newTestRegistry(t)

	if err := os.MkdirAll(filepath.Join(appsRoot, "shop"), 0o755); err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).
		WillReturnRows(tenantRow("shop", KindBackend)) // Get(shop)
	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).
		WillReturnError(sql.ErrNoRows) // conflict probe on store
	mock.ExpectExec(`UPDATE tenant SET slug`).
		WithArgs("store", "shop").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT .* FROM tenant WHERE slug`).
		WillReturnRows(tenantRow("store", KindBackend)) // final Get

	got, err := reg.Rename(context.Background(), "shop", "store")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got.Slug != "store" {
		t.Errorf("slug = %q", got.Slug)
	}
	if _, err := os.Stat(filepath.Join(appsRoot, "shop")); !os.IsNotExist(err) {
		t.Error("old directory still present")
	}
	if _, err := os.Stat(filepath.Join(appsRoot, "store")); err != nil {
		t.Error("new directory missing")
	}
	if len(*evicted) == 0 || (*evicted)[0] != "shop" {
		t.Errorf("evictions = %v", *evicted)
	}
}

func TestRename_RejectsReservedTarget(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	if _, err := reg.Rename(context.Background(), "shop", "admin"); err == nil {
		t.Fatal("rename onto a reserved slug succeeded")
	}
}

func TestSync_AdoptsAndIsIdempotent(t *testing.T) {
	reg, mock, appsRoot, _ := newTestRegistry(t)

	dir := filepath.Join(appsRoot, "myapp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "server.js"),
		[]byte("module.exports = h"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A directory without an entry file must be skipped, not adopted.
	if err := os.MkdirAll(filepath.Join(appsRoot, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}

	// First pass: store empty, one insert expected.
	mock.ExpectQuery(`SELECT .* FROM tenant ORDER BY slug`).
		WillReturnRows(sqlmock.NewRows(tenantColumns))
	mock.ExpectExec(`INSERT INTO tenant`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	report, err := reg.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(report.Added) != 1 || report.Added[0].Name != "myapp" {
		t.Errorf("added = %+v", report.Added)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Name != "notes" {
		t.Errorf("skipped = %+v", report.Skipped)
	}

	// Second pass: store already matches the filesystem, zero deltas.
	mock.ExpectQuery(`SELECT .* FROM tenant ORDER BY slug`).
		WillReturnRows(tenantRow("myapp", KindBackend))

	report, err = reg.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(report.Added)+len(report.Removed)+len(report.Renamed) != 0 {
		t.Errorf("second sync not idempotent: %+v", report)
	}
}

func TestSync_RemovesOrphanRows(t *testing.T) {
	reg, mock, _, evicted := newTestRegistry(t)

	mock.ExpectQuery(`SELECT .* FROM tenant ORDER BY slug`).
		WillReturnRows(tenantRow("gone", KindBackend))
	mock.ExpectExec(`DELETE FROM tenant WHERE slug`).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := reg.Sync(context.Background(), false)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(report.Removed) != 1 || report.Removed[0].Name != "gone" {
		t.Errorf("removed = %+v", report.Removed)
	}
	if len(*evicted) != 1 {
		t.Errorf("orphan removal must evict, got %v", *evicted)
	}
}

func TestSync_AutoRenameSanitises(t *testing.T) {
	reg, mock, appsRoot, _ := newTestRegistry(t)

	dir := filepath.Join(appsRoot, "My App")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "server.js"),
		[]byte("module.exports = h"), 0o644); err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery(`SELECT .* FROM tenant ORDER BY slug`).
		WillReturnRows(sqlmock.NewRows(tenantColumns))
	mock.ExpectExec(`INSERT INTO tenant`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	report, err := reg.Sync(context.Background(), true)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(report.Renamed) != 1 {
		t.Fatalf("renamed = %+v", report.Renamed)
	}
	if _, err := os.Stat(filepath.Join(appsRoot, "my-app")); err != nil {
		t.Error("sanitised directory missing")
	}
}

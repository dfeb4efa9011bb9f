// Thin data-access helpers for the persistent `tenant` table.  Each helper
// is a single-purpose query, returning a strongly typed struct so callers
// do not repeat column names.  Callers translate sql.ErrNoRows into the
// domain not-found error.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

const tenantCols = `slug, name, status, kind, entry_path, build_output_dir,
	proxy_map, source, repo_url, branch, webhook_url, last_error,
	request_count, created_at, updated_at, last_deployed_at`

func selectAll(ctx context.Context, db *sqlx.DB, statusFilter string) ([]Tenant, error) {
	var rows []Tenant
	if statusFilter != "" {
		err := db.SelectContext(ctx, &rows,
			`SELECT `+tenantCols+` FROM tenant WHERE status = ? ORDER BY slug`, statusFilter)
		return rows, err
	}
	err := db.SelectContext(ctx, &rows,
		`SELECT `+tenantCols+` FROM tenant ORDER BY slug`)
	return rows, err
}

func selectBySlug(ctx context.Context, db *sqlx.DB, slug string) (*Tenant, error) {
	var t Tenant
	err := db.GetContext(ctx, &t,
		`SELECT `+tenantCols+` FROM tenant WHERE slug = ? LIMIT 1`, slug)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func insertTenant(ctx context.Context, db *sqlx.DB, t *Tenant) error {
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO tenant
			(slug, name, status, kind, entry_path, build_output_dir,
			 proxy_map, source, repo_url, branch, webhook_url, last_error,
			 request_count, last_deployed_at)
		VALUES
			(:slug, :name, :status, :kind, :entry_path, :build_output_dir,
			 :proxy_map, :source, :repo_url, :branch, :webhook_url, :last_error,
			 :request_count, :last_deployed_at)`, t)
	return err
}

func updateTenant(ctx context.Context, db *sqlx.DB, t *Tenant) error {
	res, err := db.NamedExecContext(ctx, `
		UPDATE tenant SET
			name = :name, status = :status, kind = :kind,
			entry_path = :entry_path, build_output_dir = :build_output_dir,
			proxy_map = :proxy_map, source = :source, repo_url = :repo_url,
			branch = :branch, webhook_url = :webhook_url,
			last_error = :last_error, last_deployed_at = :last_deployed_at
		WHERE slug = :slug`, t)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Zero rows may mean an identical update; confirm existence.
		if _, err := selectBySlug(ctx, db, t.Slug); errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
	}
	return nil
}

func deleteTenantRow(ctx context.Context, db *sqlx.DB, slug string) (bool, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM tenant WHERE slug = ?`, slug)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func renameTenantRow(ctx context.Context, db *sqlx.DB, oldSlug, newSlug string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE tenant SET slug = ? WHERE slug = ?`, newSlug, oldSlug)
	return err
}

func setStatusError(ctx context.Context, db *sqlx.DB, slug, lastError string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE tenant SET status = ?, last_error = ? WHERE slug = ?`,
		StatusError, lastError, slug)
	return err
}

func clearError(ctx context.Context, db *sqlx.DB, slug string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE tenant SET status = ?, last_error = '' WHERE slug = ?`,
		StatusActive, slug)
	return err
}

func touchDeployed(ctx context.Context, db *sqlx.DB, slug string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE tenant SET last_deployed_at = ? WHERE slug = ?`, at, slug)
	return err
}

func bumpRequestCount(ctx context.Context, db *sqlx.DB, slug string, delta uint64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE tenant SET request_count = request_count + ? WHERE slug = ?`,
		delta, slug)
	return err
}

// Package database centralises sqlx connection helpers.  The default driver
// is go-sql-driver/mysql, which also works with MariaDB when configured for
// the MySQL wire protocol.
//
// Public entry points:
//
//	Open(dsn)                              – quick helper, conservative pool.
//	OpenWithOptions(dsn, maxOpen, maxIdle) – fine-grained control.
//	Namespace(slug)                        – tenant slug → schema name.
//	EnsureNamespace(ctx, db, ns)           – create-if-absent tenant schema.
//
// Open helpers Ping the database before returning so callers can fail fast
// during bootstrap.  Callers should Close() the returned *sqlx.DB when no
// longer needed.
package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Open returns a *sqlx.DB with sane defaults: 15 max open, 5 idle, and a
// 30-minute connection lifetime.  Suitable for the control-plane pool.
func Open(dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(dsn, 15, 5)
}

// OpenWithOptions lets callers tune maxOpen and maxIdle per pool.  Used by
// the tenant loader to keep per-tenant resource usage small.
func OpenWithOptions(dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

var namespaceRe = regexp.MustCompile(`^app_[a-z0-9_]+$`)

// Namespace derives the isolated schema name for a tenant: the slug prefixed
// with "app_" and hyphens replaced by underscores.
func Namespace(slug string) string {
	return "app_" + strings.ReplaceAll(slug, "-", "_")
}

// EnsureNamespace creates the tenant schema when absent.  The name is
// validated against the derived-namespace shape because schema names cannot
// be bound as placeholders.
func EnsureNamespace(ctx context.Context, db *sqlx.DB, ns string) error {
	if !namespaceRe.MatchString(ns) {
		return fmt.Errorf("invalid tenant namespace %q", ns)
	}
	_, err := db.ExecContext(ctx,
		"CREATE DATABASE IF NOT EXISTS `"+ns+"` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci")
	return err
}

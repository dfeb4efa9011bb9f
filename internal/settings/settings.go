// Package settings persists platform-wide key-value configuration rows
// grouped by category.  Values are opaque JSON documents.  A row flagged
// encrypted is never returned by public bulk listings; when Vault is
// configured and the stored value is a "vault:path#key" string, Get
// resolves it transparently.
//
// The table schema:
//
//	CREATE TABLE setting (
//	    k           VARCHAR(128) PRIMARY KEY,
//	    v           TEXT NOT NULL,
//	    category    ENUM('github', 'system', 'backup', 'webhook', 'general') NOT NULL DEFAULT 'general',
//	    encrypted   TINYINT(1) NOT NULL DEFAULT 0,
//	    description VARCHAR(512) NOT NULL DEFAULT '',
//	    updated_at  TIMESTAMP NOT NULL DEFAULT NOW() ON UPDATE NOW()
//	);
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/vault"
)

// Valid categories.
var categories = map[string]struct{}{
	"github": {}, "system": {}, "backup": {}, "webhook": {}, "general": {},
}

// ValidCategory reports membership in the category enum.
func ValidCategory(c string) bool {
	_, ok := categories[c]
	return ok
}

// Entry is one persisted setting row.
type Entry struct {
	Key         string          `db:"k" json:"key"`
	Value       json.RawMessage `db:"v" json:"value"`
	Category    string          `db:"category" json:"category"`
	Encrypted   bool            `db:"encrypted" json:"encrypted"`
	Description string          `db:"description" json:"description,omitempty"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// Store reads and writes setting rows.
type Store struct {
	db    *sqlx.DB
	vault *vault.Client // nil when Vault is not configured
}

// New builds a Store.  vcli may be nil.
func New(db *sqlx.DB, vcli *vault.Client) *Store {
	return &Store{db: db, vault: vcli}
}

// Get returns the raw value for key, or def when the row is absent.
// Encrypted values stored as vault URIs are resolved when possible.
func (s *Store) Get(ctx context.Context, key string, def json.RawMessage) (json.RawMessage, error) {
	var e Entry
	err := s.db.GetContext(ctx, &e,
		`SELECT k, v, category, encrypted, description, updated_at
		 FROM setting WHERE k = ? LIMIT 1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return nil, apperr.StoreFailure(err)
	}
	return s.resolve(ctx, &e)
}

// GetString unwraps a JSON string value; non-string or absent rows return def.
func (s *Store) GetString(ctx context.Context, key, def string) string {
	raw, err := s.Get(ctx, key, nil)
	if err != nil || raw == nil {
		return def
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// GetBool unwraps a JSON bool value.
func (s *Store) GetBool(ctx context.Context, key string, def bool) bool {
	raw, err := s.Get(ctx, key, nil)
	if err != nil || raw == nil {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// Set upserts one row.
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage, category, description string, encrypted bool) error {
	if key == "" {
		return apperr.Invalid("setting key must be non-empty")
	}
	if category == "" {
		category = "general"
	}
	if !ValidCategory(category) {
		return apperr.Invalid("unknown setting category").WithDetail("category", category)
	}
	if !json.Valid(value) {
		return apperr.Invalid("setting value must be valid JSON").WithDetail("key", key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO setting (k, v, category, encrypted, description)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			v = VALUES(v), category = VALUES(category),
			encrypted = VALUES(encrypted), description = VALUES(description)`,
		key, string(value), category, encrypted, description)
	if err != nil {
		return apperr.StoreFailure(err)
	}
	return nil
}

// Delete removes one row.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM setting WHERE k = ?`, key)
	if err != nil {
		return apperr.StoreFailure(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.CodeAppNotFound, "setting not found", 404).
			WithDetail("key", key)
	}
	return nil
}

// List returns all rows.  When public is true, encrypted values are masked.
func (s *Store) List(ctx context.Context, public bool) ([]Entry, error) {
	var rows []Entry
	err := s.db.SelectContext(ctx, &rows,
		`SELECT k, v, category, encrypted, description, updated_at
		 FROM setting ORDER BY category, k`)
	if err != nil {
		return nil, apperr.StoreFailure(err)
	}
	if public {
		for i := range rows {
			if rows[i].Encrypted {
				rows[i].Value = json.RawMessage(`"********"`)
			}
		}
	}
	return rows, nil
}

// ByCategory returns rows in one category, encrypted values masked.
func (s *Store) ByCategory(ctx context.Context, category string) ([]Entry, error) {
	if !ValidCategory(category) {
		return nil, apperr.Invalid("unknown setting category").WithDetail("category", category)
	}
	var rows []Entry
	err := s.db.SelectContext(ctx, &rows,
		`SELECT k, v, category, encrypted, description, updated_at
		 FROM setting WHERE category = ? ORDER BY k`, category)
	if err != nil {
		return nil, apperr.StoreFailure(err)
	}
	for i := range rows {
		if rows[i].Encrypted {
			rows[i].Value = json.RawMessage(`"********"`)
		}
	}
	return rows, nil
}

// resolve expands encrypted vault-URI values through the Vault client.
func (s *Store) resolve(ctx context.Context, e *Entry) (json.RawMessage, error) {
	if !e.Encrypted || s.vault == nil {
		return e.Value, nil
	}
	var v string
	if err := json.Unmarshal(e.Value, &v); err != nil || !strings.HasPrefix(v, "vault:") {
		return e.Value, nil
	}
	parts := strings.SplitN(strings.TrimPrefix(v, "vault:"), "#", 2)
	if len(parts) != 2 {
		return e.Value, nil
	}
	plain, err := s.vault.GetKV(ctx, parts[0], parts[1], 10*time.Minute)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	b, _ := json.Marshal(plain)
	return b, nil
}

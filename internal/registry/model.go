// Tenant row model and enums.
//
// The table schema:
//
//	CREATE TABLE tenant (
//	    slug             VARCHAR(63)  PRIMARY KEY,
//	    name             VARCHAR(256) NOT NULL,
//	    status           ENUM('active', 'disabled', 'error') NOT NULL DEFAULT 'active',
//	    kind             ENUM('backend', 'frontend', 'fullstack') NOT NULL DEFAULT 'backend',
//	    entry_path       VARCHAR(256) NOT NULL DEFAULT '',
//	    build_output_dir VARCHAR(256) NOT NULL DEFAULT '',
//	    proxy_map        TEXT         NOT NULL,
//	    source           ENUM('archive-upload', 'git-import', 'manual', 'unknown') NOT NULL DEFAULT 'unknown',
//	    repo_url         VARCHAR(512) NOT NULL DEFAULT '',
//	    branch           VARCHAR(128) NOT NULL DEFAULT '',
//	    webhook_url      VARCHAR(512) NOT NULL DEFAULT '',
//	    last_error       TEXT         NOT NULL,
//	    request_count    BIGINT UNSIGNED NOT NULL DEFAULT 0,
//	    created_at       TIMESTAMP NOT NULL DEFAULT NOW(),
//	    updated_at       TIMESTAMP NOT NULL DEFAULT NOW() ON UPDATE NOW(),
//	    last_deployed_at TIMESTAMP NULL
//	);
package registry

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Status values.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
	StatusError    = "error"
)

// Kind values.
const (
	KindBackend   = "backend"
	KindFrontend  = "frontend"
	KindFullstack = "fullstack"
)

// Source values.
const (
	SourceArchive = "archive-upload"
	SourceGit     = "git-import"
	SourceManual  = "manual"
	SourceUnknown = "unknown"
)

// ValidStatus reports membership in the status enum.
func ValidStatus(s string) bool {
	return s == StatusActive || s == StatusDisabled || s == StatusError
}

// ValidKind reports membership in the kind enum.
func ValidKind(k string) bool {
	return k == KindBackend || k == KindFrontend || k == KindFullstack
}

// ProxyRule forwards one path prefix to an upstream base URL.  Only
// meaningful for frontend and fullstack tenants; order matters, first
// matching prefix wins.
type ProxyRule struct {
	PathPrefix string `json:"pathPrefix"`
	Upstream   string `json:"upstream"`
}

// Tenant mirrors one row from the `tenant` table.
type Tenant struct {
	Slug           string       `db:"slug" json:"slug"`
	Name           string       `db:"name" json:"name"`
	Status         string       `db:"status" json:"status"`
	Kind           string       `db:"kind" json:"kind"`
	EntryPath      string       `db:"entry_path" json:"entryPath"`
	BuildOutputDir string       `db:"build_output_dir" json:"buildOutputDir"`
	ProxyMapJSON   string       `db:"proxy_map" json:"-"`
	Source         string       `db:"source" json:"source"`
	RepoURL        string       `db:"repo_url" json:"repoURL,omitempty"`
	Branch         string       `db:"branch" json:"branch,omitempty"`
	WebhookURL     string       `db:"webhook_url" json:"webhookURL,omitempty"`
	LastError      string       `db:"last_error" json:"lastError,omitempty"`
	RequestCount   uint64       `db:"request_count" json:"requestCount"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updatedAt"`
	LastDeployedAt sql.NullTime `db:"last_deployed_at" json:"-"`
}

// ProxyMap decodes the stored rules; an empty column yields nil.
func (t *Tenant) ProxyMap() []ProxyRule {
	if t.ProxyMapJSON == "" {
		return nil
	}
	var rules []ProxyRule
	if err := json.Unmarshal([]byte(t.ProxyMapJSON), &rules); err != nil {
		return nil
	}
	return rules
}

// SetProxyMap encodes rules into the JSON column.
func (t *Tenant) SetProxyMap(rules []ProxyRule) {
	if len(rules) == 0 {
		t.ProxyMapJSON = ""
		return
	}
	b, _ := json.Marshal(rules)
	t.ProxyMapJSON = string(b)
}

// MarshalJSON adds lastDeployedAt as RFC3339 or null.
func (t Tenant) MarshalJSON() ([]byte, error) {
	type alias Tenant
	out := struct {
		alias
		LastDeployedAt *time.Time  `json:"lastDeployedAt"`
		ProxyMap       []ProxyRule `json:"proxyMap,omitempty"`
	}{alias: alias(t), ProxyMap: t.ProxyMap()}
	if t.LastDeployedAt.Valid {
		out.LastDeployedAt = &t.LastDeployedAt.Time
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON; backup metadata round-trips
// through it.
func (t *Tenant) UnmarshalJSON(data []byte) error {
	type alias Tenant
	aux := struct {
		*alias
		LastDeployedAt *time.Time  `json:"lastDeployedAt"`
		ProxyMap       []ProxyRule `json:"proxyMap"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.LastDeployedAt != nil {
		t.LastDeployedAt = sql.NullTime{Time: *aux.LastDeployedAt, Valid: true}
	}
	if aux.ProxyMap != nil {
		t.SetProxyMap(aux.ProxyMap)
	}
	return nil
}

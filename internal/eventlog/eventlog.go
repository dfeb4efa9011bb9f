// Package eventlog records tenant lifecycle events twice: as rows in the
// event_log table for queries, and as lines appended to logs/<slug>.log so
// an operator can tail one file per tenant.  Append failures are logged and
// swallowed; the event log never fails the operation that produced it.
//
// The table schema:
//
//	CREATE TABLE event_log (
//	    id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
//	    slug       VARCHAR(63)  NOT NULL,
//	    event      VARCHAR(32)  NOT NULL,
//	    level      VARCHAR(8)   NOT NULL DEFAULT 'info',
//	    message    TEXT         NOT NULL,
//	    metadata   TEXT         NOT NULL,
//	    created_at TIMESTAMP    NOT NULL DEFAULT NOW(),
//	    KEY idx_event_log_slug (slug, id)
//	);
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Event names.
const (
	EventLoad          = "load"
	EventUnload        = "unload"
	EventDeploy        = "deploy"
	EventRedeploy      = "redeploy"
	EventEnvUpdate     = "env-update"
	EventGitImport     = "git-import"
	EventArchiveUpload = "archive-upload"
	EventError         = "error"
	EventDelete        = "delete"
	EventRename        = "rename"
	EventBackup        = "backup"
	EventWebhook       = "webhook"
)

// Entry is one persisted event row.
type Entry struct {
	ID        uint64    `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Event     string    `db:"event" json:"event"`
	Level     string    `db:"level" json:"level"`
	Message   string    `db:"message" json:"message"`
	Metadata  string    `db:"metadata" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"timestamp"`
}

// MarshalJSON inlines the metadata document.
func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	out := struct {
		alias
		Metadata json.RawMessage `json:"metadata,omitempty"`
	}{alias: alias(e)}
	if e.Metadata != "" && json.Valid([]byte(e.Metadata)) {
		out.Metadata = json.RawMessage(e.Metadata)
	}
	return json.Marshal(out)
}

// Logger writes events to the store and the per-tenant text file.
type Logger struct {
	db      *sqlx.DB
	logsDir string
}

// New builds a Logger rooted at logsDir (created on demand).
func New(db *sqlx.DB, logsDir string) *Logger {
	return &Logger{db: db, logsDir: logsDir}
}

// Log records one event.  metadata may be nil.
func (l *Logger) Log(ctx context.Context, slug, event, level, message string, metadata map[string]any) {
	if level == "" {
		level = "info"
	}
	meta := ""
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}

	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO event_log (slug, event, level, message, metadata)
		VALUES (?, ?, ?, ?, ?)`, slug, event, level, message, meta); err != nil {
		zap.L().Warn("event log insert failed",
			zap.String("slug", slug), zap.String("event", event), zap.Error(err))
	}

	l.appendFile(slug, event, level, message)
}

// Recent returns the newest limit entries for slug, newest first.
func (l *Logger) Recent(ctx context.Context, slug string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []Entry
	err := l.db.SelectContext(ctx, &rows, `
		SELECT id, slug, event, level, message, metadata, created_at
		FROM event_log WHERE slug = ?
		ORDER BY id DESC LIMIT ?`, slug, limit)
	return rows, err
}

// TailFile returns up to maxBytes from the end of the tenant's text log.
func (l *Logger) TailFile(slug string, maxBytes int64) (string, error) {
	path := filepath.Join(l.logsDir, slug+".log")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	off := int64(0)
	if st.Size() > maxBytes {
		off = st.Size() - maxBytes
	}
	buf := make([]byte, st.Size()-off)
	if _, err := f.ReadAt(buf, off); err != nil {
		return "", err
	}
	return string(buf), nil
}

// AppendRaw writes one free-form line to the tenant's text log; used by the
// sandbox to surface console output.
func (l *Logger) AppendRaw(slug, line string) {
	l.appendFile(slug, "console", "info", line)
}

func (l *Logger) appendFile(slug, event, level, message string) {
	if err := os.MkdirAll(l.logsDir, 0o755); err != nil {
		zap.L().Warn("log dir create failed", zap.Error(err))
		return
	}
	path := filepath.Join(l.logsDir, slug+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		zap.L().Warn("tenant log open failed", zap.String("slug", slug), zap.Error(err))
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s [%s] %s: %s\n",
		time.Now().UTC().Format(time.RFC3339), level, event, message)
	if _, err := f.WriteString(line); err != nil {
		zap.L().Warn("tenant log append failed", zap.String("slug", slug), zap.Error(err))
	}
}

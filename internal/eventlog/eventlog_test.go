package eventlog

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newTestLogger(t *testing.T) (*Logger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock"), t.TempDir()), mock
}

func TestLog_WritesRowAndFile(t *testing.T) {
	l, mock := newTestLogger(t)

	mock.ExpectExec(`INSERT INTO event_log`).
		WithArgs("shop", EventDeploy, "info", "deploy complete", `{"kind":"backend"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	l.Log(context.Background(), "shop", EventDeploy, "", "deploy complete",
		map[string]any{"kind": "backend"})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}

	text, err := l.TailFile("shop", 4096)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "deploy: deploy complete") {
		t.Errorf("file line = %q", text)
	}
	if !strings.Contains(text, "[info]") {
		t.Errorf("level missing from line: %q", text)
	}
}

func TestLog_StoreOutageIsSwallowed(t *testing.T) {
	l, _ := newTestLogger(t)
	// No expectation: the insert errors, the call must not panic or fail.
	l.Log(context.Background(), "shop", EventError, "error", "boom", nil)

	text, err := l.TailFile("shop", 4096)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "boom") {
		t.Error("file append must survive a store outage")
	}
}

func TestTailFile_AbsentIsEmpty(t *testing.T) {
	l, _ := newTestLogger(t)
	text, err := l.TailFile("ghost", 1024)
	if err != nil || text != "" {
		t.Errorf("TailFile absent = %q, %v", text, err)
	}
}

func TestEntryJSON_InlinesMetadata(t *testing.T) {
	e := Entry{
		Slug:      "shop",
		Event:     EventLoad,
		Level:     "info",
		Message:   "tenant loaded",
		Metadata:  `{"kind":"backend"}`,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	meta, ok := doc["metadata"].(map[string]any)
	if !ok || meta["kind"] != "backend" {
		t.Errorf("metadata not inlined: %v", doc)
	}
	if _, ok := doc["timestamp"]; !ok {
		t.Error("timestamp key missing")
	}
}

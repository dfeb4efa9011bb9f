package sandbox

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDirectHandler(t *testing.T) {
	src := `
module.exports = function (req, res) {
  res.status(201).set("X-Custom", "yes").json({method: req.method, path: req.path});
};
`
	rt, err := New(src, Options{Slug: "shop"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest("POST", "http://shop.test/orders?id=5", strings.NewReader("body"))
	rec := httptest.NewRecorder()
	if err := rt.Invoke(context.Background(), rec, req); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if rec.Code != 201 {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if rec.Header().Get("X-Custom") != "yes" {
		t.Error("custom header missing")
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["method"] != "POST" || body["path"] != "/orders" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestFactoryHandler(t *testing.T) {
	src := `
module.exports = function (ctx) {
  return function (req, res) {
    res.send("hello from " + ctx.slug + " to " + (process.env.WHO || "nobody"));
  };
};
`
	rt, err := New(src, Options{Slug: "shop", Env: map[string]string{"WHO": "world"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := httptest.NewRecorder()
	if err := rt.Invoke(context.Background(), rec, httptest.NewRequest("GET", "/", nil)); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := rec.Body.String(); got != "hello from shop to world" {
		t.Errorf("body = %q", got)
	}
}

func TestCompletionValueExport(t *testing.T) {
	// No module.exports: the file's final expression is the handler factory.
	src := `(function (ctx) { return function (req, res) { res.send("ok"); }; })`
	rt, err := New(src, Options{Slug: "shop"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := httptest.NewRecorder()
	if err := rt.Invoke(context.Background(), rec, httptest.NewRequest("GET", "/", nil)); err != nil {
		t.Fatal(err)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestReturnValueBecomesResponse(t *testing.T) {
	src := `module.exports = function (req, res) { return {answer: 42}; };`
	rt, err := New(src, Options{})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	if err := rt.Invoke(context.Background(), rec, httptest.NewRequest("GET", "/", nil)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), "42") {
		t.Errorf("returned object not encoded: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestConsoleCapture(t *testing.T) {
	var lines []string
	src := `
module.exports = function (req, res) {
  console.log("serving", req.path);
  res.send("ok");
};
`
	rt, err := New(src, Options{Console: func(line string) { lines = append(lines, line) }})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	if err := rt.Invoke(context.Background(), rec, httptest.NewRequest("GET", "/x", nil)); err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "/x") {
		t.Errorf("console lines = %v", lines)
	}
}

func TestNonFunctionExportRejected(t *testing.T) {
	if _, err := New(`module.exports = {not: "a function"}`, Options{}); err == nil {
		t.Fatal("object export accepted")
	}
	if _, err := New(`syntax error here(`, Options{}); err == nil {
		t.Fatal("syntax error accepted")
	}
}

func TestContextCancelInterrupts(t *testing.T) {
	src := `module.exports = function (req, res) { while (true) {} };`
	rt, err := New(src, Options{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- rt.Invoke(ctx, httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("infinite loop returned without error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not stop the runtime")
	}
}

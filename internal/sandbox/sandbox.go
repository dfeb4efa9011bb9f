// Package sandbox executes tenant backend code inside an embedded goja
// runtime.  The tenant cache owns each runtime: load creates it, evict
// discards it, and nothing of the tenant's JS state survives outside the
// cache entry.
//
// Contract with tenant code
// -------------------------
// The entry file must yield a function, either by assigning to
// `module.exports` or as the file's final expression.  A function declaring
// two or more parameters is used directly as the `(req, res)` handler; a
// function with fewer parameters is treated as a factory, called once with
// a context object `{slug, env}`, and must return the handler.
//
// Inside the runtime tenant code sees:
//
//	process.env   – immutable snapshot of the tenant's .env
//	console.*     – captured into logs/<slug>.log
//	db.query(sql, [args]) / db.exec(sql, [args]) – the tenant's namespace
//
// goja runtimes are not goroutine-safe, so Invoke serialises requests per
// runtime with a mutex; distinct tenants run in parallel.  The request
// context arms goja's interrupt so the platform's wall timeout cancels
// long-running scripts.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/jmoiron/sqlx"
)

// Options configure one tenant runtime.
type Options struct {
	Slug    string
	Env     map[string]string
	DB      *sqlx.DB          // tenant namespace handle; may be nil
	Console func(line string) // sink for console output; may be nil
}

// Runtime wraps a goja VM holding one instantiated tenant handler.
type Runtime struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	handler goja.Callable
	opts    Options
}

// New compiles the entry source and instantiates the handler.
func New(source string, opts Options) (*Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	if opts.Console == nil {
		opts.Console = func(string) {}
	}
	if err := attachConsole(vm, opts.Console); err != nil {
		return nil, fmt.Errorf("attach console: %w", err)
	}
	if err := attachProcessEnv(vm, opts.Env); err != nil {
		return nil, fmt.Errorf("attach env: %w", err)
	}
	if opts.DB != nil {
		if err := attachDB(vm, opts.DB); err != nil {
			return nil, fmt.Errorf("attach db: %w", err)
		}
	}

	exported, err := evalModule(vm, source)
	if err != nil {
		return nil, fmt.Errorf("evaluate entry: %w", err)
	}

	handler, err := resolveHandler(vm, exported, opts)
	if err != nil {
		return nil, err
	}

	return &Runtime{vm: vm, handler: handler, opts: opts}, nil
}

// evalModule runs the source with CommonJS-style module/exports objects and
// returns module.exports, falling back to the script's completion value.
func evalModule(vm *goja.Runtime, source string) (goja.Value, error) {
	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := vm.Set("module", module); err != nil {
		return nil, err
	}
	if err := vm.Set("exports", exports); err != nil {
		return nil, err
	}

	completion, err := vm.RunString(source)
	if err != nil {
		return nil, err
	}

	exp := module.Get("exports")
	// An untouched exports object means the file relied on its completion
	// value instead of module.exports.
	if obj, ok := exp.(*goja.Object); ok && obj == exports && len(obj.Keys()) == 0 {
		return completion, nil
	}
	return exp, nil
}

// resolveHandler applies the factory convention described in the package
// comment.
func resolveHandler(vm *goja.Runtime, exported goja.Value, opts Options) (goja.Callable, error) {
	fn, ok := goja.AssertFunction(exported)
	if !ok {
		return nil, fmt.Errorf("entry file must export a function, got %s", exported)
	}

	arity := 0
	if obj := exported.ToObject(vm); obj != nil {
		arity = int(obj.Get("length").ToInteger())
	}
	if arity >= 2 {
		return fn, nil
	}

	ctxObj := vm.NewObject()
	_ = ctxObj.Set("slug", opts.Slug)
	_ = ctxObj.Set("env", opts.Env)
	result, err := fn(goja.Undefined(), ctxObj)
	if err != nil {
		return nil, fmt.Errorf("handler factory failed: %w", err)
	}
	handler, ok := goja.AssertFunction(result)
	if !ok {
		return nil, fmt.Errorf("handler factory must return a function, got %s", result)
	}
	return handler, nil
}

// Invoke runs the tenant handler for one HTTP exchange.  The runtime is
// interrupted when ctx is cancelled; the error then carries ctx.Err().
func (r *Runtime) Invoke(ctx context.Context, w http.ResponseWriter, req *http.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The interrupt goroutine must be fully stopped before ClearInterrupt,
	// or a late Interrupt could poison the runtime for the next request.
	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-watcherDone
		r.vm.ClearInterrupt()
	}()

	jsReq, err := r.buildRequest(req)
	if err != nil {
		return err
	}
	res := newResponder(r.vm)

	ret, err := r.handler(goja.Undefined(), jsReq, res.object)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("tenant handler: %w", err)
	}

	res.finish(w, ret)
	return nil
}

func (r *Runtime) buildRequest(req *http.Request) (*goja.Object, error) {
	body := ""
	if req.Body != nil {
		b, err := io.ReadAll(io.LimitReader(req.Body, 10<<20))
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = string(b)
	}

	headers := make(map[string]string, len(req.Header))
	for k := range req.Header {
		headers[strings.ToLower(k)] = req.Header.Get(k)
	}
	query := make(map[string]string)
	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			query[k] = vs[0]
		}
	}

	obj := r.vm.NewObject()
	_ = obj.Set("method", req.Method)
	_ = obj.Set("path", req.URL.Path)
	_ = obj.Set("query", query)
	_ = obj.Set("headers", headers)
	_ = obj.Set("body", body)
	return obj, nil
}

//
// response collector
//

type responder struct {
	vm      *goja.Runtime
	object  *goja.Object
	status  int
	headers map[string]string
	body    []byte
	sent    bool
	isJSON  bool
}

func newResponder(vm *goja.Runtime) *responder {
	res := &responder{vm: vm, status: http.StatusOK, headers: map[string]string{}}
	obj := vm.NewObject()

	_ = obj.Set("status", func(code int) goja.Value {
		res.status = code
		return obj
	})
	_ = obj.Set("set", func(k, v string) goja.Value {
		res.headers[k] = v
		return obj
	})
	_ = obj.Set("send", func(v goja.Value) goja.Value {
		res.sent = true
		res.body = []byte(v.String())
		return obj
	})
	_ = obj.Set("json", func(v goja.Value) goja.Value {
		res.sent = true
		res.isJSON = true
		b, err := json.Marshal(v.Export())
		if err != nil {
			panic(vm.ToValue("unserialisable json response: " + err.Error()))
		}
		res.body = b
		return obj
	})

	res.object = obj
	return res
}

// finish writes the collected response.  A handler that never called send
// or json may instead have returned a value: strings pass through, other
// values are JSON-encoded.
func (res *responder) finish(w http.ResponseWriter, ret goja.Value) {
	if !res.sent && ret != nil && !goja.IsUndefined(ret) && !goja.IsNull(ret) {
		exp := ret.Export()
		if s, ok := exp.(string); ok {
			res.body = []byte(s)
		} else if b, err := json.Marshal(exp); err == nil {
			res.isJSON = true
			res.body = b
		}
	}

	for k, v := range res.headers {
		w.Header().Set(k, v)
	}
	if res.isJSON && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(res.status)
	_, _ = w.Write(res.body)
}

//
// bindings
//

func attachConsole(vm *goja.Runtime, sink func(string)) error {
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = fmt.Sprint(arg.Export())
		}
		sink(strings.Join(parts, " "))
		return goja.Undefined()
	}
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, logFn); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

func attachProcessEnv(vm *goja.Runtime, env map[string]string) error {
	snapshot := make(map[string]string, len(env))
	for k, v := range env {
		snapshot[k] = v
	}
	process := vm.NewObject()
	if err := process.Set("env", snapshot); err != nil {
		return err
	}
	return vm.Set("process", process)
}

// attachDB exposes a minimal synchronous query interface bound to the
// tenant's namespace.  Rows come back as plain objects keyed by column.
func attachDB(vm *goja.Runtime, db *sqlx.DB) error {
	obj := vm.NewObject()

	queryFn := func(call goja.FunctionCall) goja.Value {
		sqlText, args := sqlArgs(call)
		rows, err := db.Queryx(sqlText, args...)
		if err != nil {
			panic(vm.ToValue("db.query: " + err.Error()))
		}
		defer rows.Close()

		var out []map[string]any
		for rows.Next() {
			m := map[string]any{}
			if err := rows.MapScan(m); err != nil {
				panic(vm.ToValue("db.query scan: " + err.Error()))
			}
			for k, v := range m {
				if b, ok := v.([]byte); ok {
					m[k] = string(b)
				}
			}
			out = append(out, m)
		}
		return vm.ToValue(out)
	}

	execFn := func(call goja.FunctionCall) goja.Value {
		sqlText, args := sqlArgs(call)
		res, err := db.Exec(sqlText, args...)
		if err != nil {
			panic(vm.ToValue("db.exec: " + err.Error()))
		}
		affected, _ := res.RowsAffected()
		ret := vm.NewObject()
		_ = ret.Set("affected", affected)
		return ret
	}

	if err := obj.Set("query", queryFn); err != nil {
		return err
	}
	if err := obj.Set("exec", execFn); err != nil {
		return err
	}
	return vm.Set("db", obj)
}

func sqlArgs(call goja.FunctionCall) (string, []any) {
	sqlText := ""
	if len(call.Arguments) > 0 {
		sqlText = call.Arguments[0].String()
	}
	var args []any
	if len(call.Arguments) > 1 {
		if arr, ok := call.Arguments[1].Export().([]any); ok {
			args = arr
		}
	}
	return sqlText, args
}

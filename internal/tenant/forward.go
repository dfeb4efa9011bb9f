// Request forwarding into a loaded tenant.
//
// The front door resolves the slug, calls Cache.GetOrLoad, and hands the
// exchange to Loaded.ServeHTTP.  The forwarder decorates the request
// context with the tenant handle (slug, env snapshot, db pool), dispatches
// to the right handler for the tenant's kind, and converts panics and
// handler errors into a 500 whose body is opaque in production and
// diagnostic in development.
package tenant

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type ctxKey struct{}

// FromContext returns the Loaded tenant attached to a forwarded request.
// Tenant-facing middleware and the sandbox bindings use it.
func FromContext(ctx context.Context) (*Loaded, bool) {
	t, ok := ctx.Value(ctxKey{}).(*Loaded)
	return t, ok
}

// ServeHTTP dispatches one request into the tenant.
func (t *Loaded) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.CountRequest()
	r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, t))

	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("tenant handler panicked",
				zap.String("slug", t.Slug), zap.Any("panic", rec))
			writeTenantError(w, r, t, rec)
		}
	}()

	switch {
	case t.Runtime != nil && t.Static != nil:
		// Fullstack: real asset paths are served statically, everything
		// else reaches the backend handler.
		if sh, ok := t.Static.(*staticHandler); ok && sh.TryFile(r.URL.Path) {
			t.Static.ServeHTTP(w, r)
			return
		}
		t.invokeRuntime(w, r)
	case t.Runtime != nil:
		t.invokeRuntime(w, r)
	case t.Static != nil:
		t.Static.ServeHTTP(w, r)
	default:
		http.Error(w, "tenant has no handler", http.StatusInternalServerError)
	}
}

func (t *Loaded) invokeRuntime(w http.ResponseWriter, r *http.Request) {
	if err := t.Runtime.Invoke(r.Context(), w, r); err != nil {
		if r.Context().Err() != nil {
			// Wall timeout already produced a response upstream.
			return
		}
		zap.L().Warn("tenant handler error",
			zap.String("slug", t.Slug), zap.Error(err))
		writeTenantError(w, r, t, err)
	}
}

func writeTenantError(w http.ResponseWriter, _ *http.Request, t *Loaded, cause any) {
	body := "internal application error"
	if t.dev {
		body = "internal application error: " + stringify(cause)
	}
	http.Error(w, body, http.StatusInternalServerError)
}

func stringify(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "panic"
}

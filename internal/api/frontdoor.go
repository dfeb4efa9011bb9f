// Tenant branch of the front door: slug → cache → forwarder.
package api

import (
	"context"
	"net/http"

	"github.com/yanizio/platformx/internal/apperr"
)

type slugKey struct{}

func withSlug(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, slugKey{}, slug)
}

func slugFrom(ctx context.Context) string {
	s, _ := ctx.Value(slugKey{}).(string)
	return s
}

// serveTenant resolves the loaded tenant and forwards the request.  Load
// failures surface as plain-text errors on the tenant host — the JSON
// envelope belongs to the admin surface only.
func (s *Server) serveTenant(w http.ResponseWriter, r *http.Request) {
	slug := slugFrom(r.Context())

	ten, err := s.Cache.GetOrLoad(r.Context(), slug)
	if err != nil {
		ae := apperr.From(err)
		switch ae.Code {
		case apperr.CodeAppNotFound:
			http.NotFound(w, r)
		case apperr.CodeAppDisabled:
			http.Error(w, "application disabled", http.StatusForbidden)
		case apperr.CodeShuttingDown:
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		default:
			body := "application failed to load"
			if s.Cfg.Development {
				body = "application failed to load: " + ae.Error()
			}
			http.Error(w, body, http.StatusInternalServerError)
		}
		return
	}

	ten.ServeHTTP(w, r)

	// The durable counter must never delay the response.
	s.Counter.Add(slug)
}

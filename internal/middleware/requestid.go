// Package middleware holds small, composable HTTP wrappers shared by the
// admin API and the front door.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/yanizio/platformx/internal/httputil"
)

// RequestID issues a UUID per request, stores it in the context, and
// echoes it as X-Request-ID.  An inbound X-Request-ID is preserved so
// upstream proxies can correlate.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(httputil.WithRequestID(r.Context(), id)))
	})
}

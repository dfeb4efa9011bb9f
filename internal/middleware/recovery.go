package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/httputil"
)

// Recovery converts panics into a structured 500 and logs the stack.  The
// front-door process must never die because of one bad request.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.ByteString("stack", debug.Stack()),
				)
				httputil.Error(w, r, apperr.New(apperr.CodeInternal,
					"internal server error", http.StatusInternalServerError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/httputil"
)

// Timeout enforces a wall clock on every request.  On expiry, if no header
// has been written yet, the client receives 408; either way the wrapped
// handler's context is cancelled so sandboxed tenant code is interrupted.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}
			done := make(chan struct{})

			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				tw.mu.Lock()
				if !tw.wrote {
					tw.timedOut = true
					tw.mu.Unlock()
					httputil.Error(w, r, apperr.Timeout("request timed out"))
				} else {
					tw.mu.Unlock()
				}
				// The handler goroutine keeps draining into the dead writer
				// until the cancelled context unwinds it.
				<-done
			}
		})
	}
}

// timeoutWriter suppresses writes that race the timeout response.
type timeoutWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	wrote    bool
	timedOut bool
}

func (w *timeoutWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return
	}
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *timeoutWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timedOut {
		return len(b), nil
	}
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

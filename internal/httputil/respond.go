// Package httputil centralises the JSON response envelope used by the admin
// API.  Success payloads are wrapped as {"success": true, ...fields}; error
// payloads carry the taxonomy code and the request ID so operators can grep
// one line in the logs.
package httputil

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/apperr"
)

type ctxKey struct{}

// WithRequestID stores the request ID issued by the middleware.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the request ID, or "" when middleware did not run
// (tests, internal calls).
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// JSON writes a success envelope.  Fields from payload are merged beside
// "success"; pass nil for a bare acknowledgement.
func JSON(w http.ResponseWriter, r *http.Request, status int, payload map[string]any) {
	body := make(map[string]any, len(payload)+1)
	body["success"] = true
	for k, v := range payload {
		body[k] = v
	}
	write(w, r, status, body)
}

// Error writes the error envelope for any error, coercing non-taxonomy
// errors into an internal-error wrapper.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	body := map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    ae.Code,
			"message": ae.Message,
		},
		"requestId": RequestID(r.Context()),
	}
	if len(ae.Details) > 0 {
		body["error"].(map[string]any)["details"] = ae.Details
	}
	write(w, r, ae.HTTPStatus, body)
}

func write(w http.ResponseWriter, r *http.Request, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if id := RequestID(r.Context()); id != "" && w.Header().Get("X-Request-ID") == "" {
		w.Header().Set("X-Request-ID", id)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

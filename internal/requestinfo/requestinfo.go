// Package requestinfo collects lightweight per-request metadata: client IP,
// parsed user-agent, and (when a MaxMind database is configured) the
// country code.  The structs are inert — no handles, no large buffers — so
// they are safe to log or JSON-encode from audit paths.
package requestinfo

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/ua"
)

type ctxKey struct{}

// Info is attached to the request context by Enrich.
type Info struct {
	IP      string
	Country string // ISO code; empty without a GeoIP database
	UA      ua.Info
}

// Enricher owns the optional GeoIP reader.
type Enricher struct {
	geo *geoip2.Reader // nil when no database configured
}

// New opens the MaxMind database at dbPath when non-empty.  A missing or
// unreadable database downgrades to UA-only enrichment with a warning.
func New(dbPath string) *Enricher {
	e := &Enricher{}
	if dbPath == "" {
		return e
	}
	rdr, err := geoip2.Open(dbPath)
	if err != nil {
		zap.L().Warn("geoip database unavailable", zap.String("path", dbPath), zap.Error(err))
		return e
	}
	e.geo = rdr
	return e
}

// Close releases the GeoIP reader.
func (e *Enricher) Close() {
	if e.geo != nil {
		_ = e.geo.Close()
	}
}

// Middleware attaches Info to every request context.
func (e *Enricher) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := Info{
			IP: clientIP(r),
			UA: ua.Parse(r.UserAgent()),
		}
		if e.geo != nil {
			if ip := net.ParseIP(info.IP); ip != nil {
				if rec, err := e.geo.Country(ip); err == nil {
					info.Country = rec.Country.IsoCode
				}
			}
		}
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), ctxKey{}, info)))
	})
}

// FromContext returns the attached Info; the zero value when Enrich did
// not run.
func FromContext(ctx context.Context) Info {
	info, _ := ctx.Value(ctxKey{}).(Info)
	return info
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

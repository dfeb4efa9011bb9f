// Tenant cache entry and aggregate.
//
// A live Loaded tenant aggregates everything the front door needs to serve
// one app: the registry snapshot it was loaded from, the immutable env
// snapshot, the per-tenant database pool, and the instantiated handler
// (sandboxed runtime for backend code, static/proxy handler for frontend
// assets, or both for fullstack).
package tenant

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/platformx/internal/registry"
	"github.com/yanizio/platformx/internal/sandbox"
)

// Cache entry wrapper.
type entry struct {
	tenant   *Loaded
	lastSeen int64 // UnixNano
}

// Loaded is the in-memory handle held by the cache.  Mutable fields are
// atomics; everything else is fixed at load time and safe to share.
type Loaded struct {
	Slug     string
	Kind     string
	Meta     registry.Tenant   // snapshot of the row at load time
	Env      map[string]string // immutable after load
	DB       *sqlx.DB          // per-tenant namespace pool; nil for frontend
	Runtime  *sandbox.Runtime  // nil for frontend
	Static   http.Handler      // nil for backend
	LoadedAt time.Time

	dev      bool   // diagnostic error bodies
	requests uint64 // served since load
}

// Close releases the tenant's pooled resources.  Called by the cache on
// eviction; the goja runtime needs no teardown beyond dropping the
// reference.
func (t *Loaded) Close() error {
	if t.DB != nil {
		return t.DB.Close()
	}
	return nil
}

// CountRequest bumps the in-memory served counter.
func (t *Loaded) CountRequest() { atomic.AddUint64(&t.requests, 1) }

// Requests reports requests served since load.
func (t *Loaded) Requests() uint64 { return atomic.LoadUint64(&t.requests) }

// Snapshot is the observability view returned by ListCached.
type Snapshot struct {
	Slug         string    `json:"slug"`
	Kind         string    `json:"kind"`
	LoadedAt     time.Time `json:"loadedAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
	RequestCount uint64    `json:"requestCount"`
	IdleMs       int64     `json:"idleMs"`
}

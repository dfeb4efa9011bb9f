// Cache implements a concurrency-safe, lazy-loading map of runtime
// tenants.  Each tenant is loaded from the registry the first time its
// slug appears, wrapped with its sandboxed handler and per-tenant DB pool,
// and stored in a sync.Map.  Idle and LRU eviction passes live in
// evictor.go and are driven by the supervisor's schedule.
//
// Per slug the lifecycle is UNLOADED → LOADING → LOADED → EVICTED →
// UNLOADED.  Concurrent callers for a missing slug share one in-flight
// load through singleflight; a failed load publishes nothing and every
// waiter receives the same error.  Loads additionally hold the per-slug
// mutex shared with mutating admin operations, so a deploy never races a
// load for the same tenant.
package tenant

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/platformx/internal/apperr"
	"github.com/yanizio/platformx/internal/codescan"
	"github.com/yanizio/platformx/internal/envstore"
	"github.com/yanizio/platformx/internal/eventlog"
	"github.com/yanizio/platformx/internal/keymutex"
	"github.com/yanizio/platformx/internal/metrics"
	"github.com/yanizio/platformx/internal/registry"
	"github.com/yanizio/platformx/internal/watcher"
)

// Options configure a Cache.
type Options struct {
	TenantDSNBase string // template with one %s for the namespace
	MaxOpenPerApp int
	MaxIdlePerApp int
	IdleTTL       time.Duration
	MaxEntries    int // 0 disables size eviction
	Dev           bool
}

// Cache is the process-wide slug → Loaded tenant map.
type Cache struct {
	reg     *registry.Registry
	env     *envstore.Store
	events  *eventlog.Logger
	scanner *codescan.Checker
	locks   *keymutex.Map
	watch   *watcher.Watcher // nil when watching is disabled

	sfg singleflight.Group
	m   sync.Map // slug → *entry

	tenantDSNBase string
	maxOpenPerApp int
	maxIdlePerApp int
	idleTTL       time.Duration
	maxEntries    int
	dev           bool

	shuttingDown atomic.Bool
}

// New builds a Cache.  locks must be the same map handed to the registry.
// The watcher may be nil (production default).
func New(reg *registry.Registry, env *envstore.Store, events *eventlog.Logger,
	locks *keymutex.Map, watch *watcher.Watcher, opts Options) *Cache {

	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 15 * time.Minute
	}
	if opts.MaxOpenPerApp <= 0 {
		opts.MaxOpenPerApp = 5
	}
	if opts.MaxIdlePerApp <= 0 {
		opts.MaxIdlePerApp = 2
	}
	return &Cache{
		reg:           reg,
		env:           env,
		events:        events,
		scanner:       codescan.NewChecker(),
		locks:         locks,
		watch:         watch,
		tenantDSNBase: opts.TenantDSNBase,
		maxOpenPerApp: opts.MaxOpenPerApp,
		maxIdlePerApp: opts.MaxIdlePerApp,
		idleTTL:       opts.IdleTTL,
		maxEntries:    opts.MaxEntries,
		dev:           opts.Dev,
	}
}

// GetOrLoad looks up slug, loading it on demand.  Thread-safe; updates the
// entry's last-seen timestamp each hit.
func (c *Cache) GetOrLoad(ctx context.Context, slug string) (*Loaded, error) {
	// Fast path: present in map.
	if v, ok := c.m.Load(slug); ok {
		ent := v.(*entry)
		atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
		return ent.tenant, nil
	}

	if c.shuttingDown.Load() {
		return nil, apperr.ShuttingDown()
	}

	// Slow path: singleflight so only one goroutine performs the load.
	v, err, _ := c.sfg.Do(slug, func() (any, error) {
		// Double-check after the barrier.
		if v, ok := c.m.Load(slug); ok {
			ent := v.(*entry)
			atomic.StoreInt64(&ent.lastSeen, time.Now().UnixNano())
			return ent.tenant, nil
		}

		c.locks.Lock(slug)
		defer c.locks.Unlock(slug)

		if c.shuttingDown.Load() {
			return nil, apperr.ShuttingDown()
		}

		zap.L().Info("tenant loading", zap.String("slug", slug))

		ten, err := c.load(ctx, slug)
		if err != nil {
			metrics.TenantLoadErrorsTotal.Inc()
			ae := apperr.From(err)
			// A missing row or a disabled tenant is not a failed load; only
			// genuine failures flip the row to status=error.
			if ae.Code != apperr.CodeAppNotFound && ae.Code != apperr.CodeAppDisabled {
				c.reg.SetError(context.WithoutCancel(ctx), slug, ae.Message)
				c.events.Log(context.WithoutCancel(ctx), slug, eventlog.EventError, "error",
					"load failed: "+ae.Message, nil)
			}
			zap.L().Warn("tenant load failed", zap.String("slug", slug), zap.Error(err))
			return nil, err
		}

		ent := &entry{tenant: ten, lastSeen: time.Now().UnixNano()}
		c.m.Store(slug, ent)

		if c.watch != nil {
			if err := c.watch.Register(slug, c.reg.Dir(slug)); err != nil {
				zap.L().Warn("watcher register failed",
					zap.String("slug", slug), zap.Error(err))
			}
		}

		zap.L().Info("tenant online", zap.String("slug", slug), zap.String("kind", ten.Kind))
		metrics.TenantLoadTotal.Inc()
		metrics.ActiveTenants.Inc()
		c.events.Log(context.WithoutCancel(ctx), slug, eventlog.EventLoad, "info",
			"tenant loaded", map[string]any{"kind": ten.Kind})
		return ten, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Loaded), nil
}

// Evict removes the slug's entry, tears down its watcher, and releases its
// resources.  Idempotent; safe from any goroutine, and never takes the
// slug mutex so watcher callbacks cannot deadlock against admin operations.
func (c *Cache) Evict(slug string) {
	v, ok := c.m.LoadAndDelete(slug)
	if !ok {
		return
	}
	ent := v.(*entry)

	if c.watch != nil {
		c.watch.Unregister(slug)
	}
	if err := ent.tenant.Close(); err != nil {
		zap.L().Warn("tenant close failed", zap.String("slug", slug), zap.Error(err))
	}

	metrics.TenantEvictTotal.Inc()
	metrics.ActiveTenants.Dec()
	zap.L().Info("tenant evicted", zap.String("slug", slug))
	c.events.Log(context.Background(), slug, eventlog.EventUnload, "info", "tenant evicted", nil)
}

// ListCached returns an observability snapshot per entry.
func (c *Cache) ListCached() []Snapshot {
	now := time.Now()
	var out []Snapshot
	c.m.Range(func(key, value any) bool {
		ent := value.(*entry)
		last := time.Unix(0, atomic.LoadInt64(&ent.lastSeen))
		out = append(out, Snapshot{
			Slug:         key.(string),
			Kind:         ent.tenant.Kind,
			LoadedAt:     ent.tenant.LoadedAt,
			LastUsedAt:   last,
			RequestCount: ent.tenant.Requests(),
			IdleMs:       now.Sub(last).Milliseconds(),
		})
		return true
	})
	return out
}

// Shutdown refuses new loads and evicts everything.
func (c *Cache) Shutdown() {
	c.shuttingDown.Store(true)
	c.m.Range(func(key, _ any) bool {
		c.Evict(key.(string))
		return true
	})
}

// ServeHTTP is implemented on Loaded in forward.go; keep the compile-time
// wiring honest here.
var _ http.Handler = (*Loaded)(nil)

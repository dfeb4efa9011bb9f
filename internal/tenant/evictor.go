// Eviction passes for Cache.  The supervisor schedule calls EvictIdle every
// sweep interval; each pass removes tenants idle longer than the threshold
// and then trims the map to MaxEntries via LRU.  Each eviction is logged
// and counted by the shared Prometheus collectors inside Evict.
package tenant

import (
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EvictIdle performs one idle pass with the given threshold (the configured
// IdleTTL when threshold <= 0) and then one LRU pressure pass.  Returns the
// number of entries evicted.
func (c *Cache) EvictIdle(threshold time.Duration) int {
	if threshold <= 0 {
		threshold = c.idleTTL
	}
	now := time.Now().UnixNano()
	evicted := 0
	count := 0

	c.m.Range(func(key, value any) bool {
		count++
		ent := value.(*entry)
		idle := time.Duration(now - atomic.LoadInt64(&ent.lastSeen))
		if idle > threshold {
			c.Evict(key.(string))
			zap.L().Info("tenant idle-evicted",
				zap.String("slug", key.(string)),
				zap.Duration("idle", idle.Truncate(time.Second)))
			evicted++
			count--
		}
		return true
	})

	// LRU pressure pass.
	if c.maxEntries > 0 && count > c.maxEntries {
		type kv struct {
			slug string
			at   int64
		}
		var all []kv
		c.m.Range(func(key, value any) bool {
			ent := value.(*entry)
			all = append(all, kv{slug: key.(string), at: atomic.LoadInt64(&ent.lastSeen)})
			return true
		})
		sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
		for i := 0; i < len(all)-c.maxEntries; i++ {
			c.Evict(all[i].slug)
			zap.L().Info("tenant evicted (LRU pressure)", zap.String("slug", all[i].slug))
			evicted++
		}
	}

	return evicted
}

// Durable request counting.  The forwarder must never delay a response on
// the store, so per-request increments land in an in-memory batch that a
// background goroutine flushes every few seconds.  A store outage drops
// the pending deltas after a warning; an orderly shutdown flushes first.
package tenant

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const counterFlushInterval = 5 * time.Second

// Counter batches per-slug request-count deltas.
type Counter struct {
	mu      sync.Mutex
	pending map[string]uint64
	sink    func(ctx context.Context, slug string, delta uint64) error
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewCounter starts the flush goroutine.  sink is registry.AddRequests.
func NewCounter(sink func(ctx context.Context, slug string, delta uint64) error) *Counter {
	c := &Counter{
		pending: make(map[string]uint64),
		sink:    sink,
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Add records one served request for slug.  Never blocks.
func (c *Counter) Add(slug string) {
	c.mu.Lock()
	c.pending[slug]++
	c.mu.Unlock()
}

// Stop flushes outstanding deltas and stops the goroutine.
func (c *Counter) Stop() {
	close(c.done)
	c.wg.Wait()
	c.flush()
}

func (c *Counter) loop() {
	defer c.wg.Done()
	t := time.NewTicker(counterFlushInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.flush()
		}
	}
}

func (c *Counter) flush() {
	c.mu.Lock()
	batch := c.pending
	c.pending = make(map[string]uint64)
	c.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for slug, delta := range batch {
		if err := c.sink(ctx, slug, delta); err != nil {
			// Counts are best effort; drop on store outage.
			zap.L().Warn("request count flush failed",
				zap.String("slug", slug), zap.Uint64("delta", delta), zap.Error(err))
		}
	}
}

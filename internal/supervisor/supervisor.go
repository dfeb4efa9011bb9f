// Package supervisor owns the platform's background schedule and the
// shutdown sequence.  Two recurring jobs run on a cron scheduler: the
// tenant-cache idle sweep and the stale-staging cleanup.  Stop cancels the
// schedule, drains the HTTP server, tears the cache down, and flushes the
// request counter, in that order.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/yanizio/platformx/internal/tenant"
	"github.com/yanizio/platformx/internal/watcher"
)

const tempMaxAge = 24 * time.Hour

// Options configure the schedule.
type Options struct {
	SweepInterval time.Duration // idle sweep cadence; default 10 min
	TempInterval  time.Duration // staging cleanup cadence; default 6 h
	UploadsDir    string
	ShutdownGrace time.Duration
}

// Supervisor runs the background jobs and coordinates shutdown.
type Supervisor struct {
	cron    *cron.Cron
	cache   *tenant.Cache
	counter *tenant.Counter
	watch   *watcher.Watcher // may be nil
	srv     *http.Server
	opts    Options
}

// New wires a Supervisor; call Start to begin the schedule.
func New(cache *tenant.Cache, counter *tenant.Counter, watch *watcher.Watcher,
	srv *http.Server, opts Options) *Supervisor {

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Minute
	}
	if opts.TempInterval <= 0 {
		opts.TempInterval = 6 * time.Hour
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	return &Supervisor{
		cron:    cron.New(),
		cache:   cache,
		counter: counter,
		watch:   watch,
		srv:     srv,
		opts:    opts,
	}
}

// Start registers and launches the recurring jobs.
func (s *Supervisor) Start() error {
	if _, err := s.cron.AddFunc(every(s.opts.SweepInterval), func() {
		if n := s.cache.EvictIdle(0); n > 0 {
			zap.L().Info("idle sweep complete", zap.Int("evicted", n))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(every(s.opts.TempInterval), s.cleanTemp); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// cleanTemp removes staging directories older than tempMaxAge; a crashed
// deploy must not leak disk forever.
func (s *Supervisor) cleanTemp() {
	entries, err := os.ReadDir(s.opts.UploadsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("temp cleanup scan failed", zap.Error(err))
		}
		return
	}
	cutoff := time.Now().Add(-tempMaxAge)
	removed := 0
	for _, ent := range entries {
		info, err := ent.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.opts.UploadsDir, ent.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		zap.L().Info("stale staging dirs removed", zap.Int("count", removed))
	}
}

// Stop performs the orderly shutdown sequence.
func (s *Supervisor) Stop() {
	zap.L().Info("shutdown starting")

	// 1. stop the schedule; running jobs finish.
	cronCtx := s.cron.Stop()

	// 2. stop accepting connections and drain in-flight requests.
	drainCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(drainCtx); err != nil {
		zap.L().Warn("http drain incomplete", zap.Error(err))
	}

	// 3. tear down watchers and the cache.
	if s.watch != nil {
		_ = s.watch.Close()
	}
	s.cache.Shutdown()

	// 4. flush pending request counts.
	s.counter.Stop()

	<-cronCtx.Done()
	zap.L().Info("shutdown complete")
}

// every renders a cron @every spec.
func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// Package watcher observes loaded tenant directories and turns filesystem
// churn into cache evictions.  One fsnotify watch set covers all registered
// tenants; node_modules and version-control metadata are ignored.  Events
// are debounced per slug (default 300 ms of stability) before the evict
// callback fires, so an npm install or a large copy triggers one reload,
// not hundreds.
//
// The callback runs on the watcher's own goroutine and must only enqueue
// work; in particular it must not take a slug mutex.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var ignoredDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".svn":         {},
	".hg":          {},
}

// Watcher multiplexes per-tenant directory watches.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	onChange func(slug string)

	mu     sync.Mutex
	roots  map[string]string      // slug → absolute tenant dir
	timers map[string]*time.Timer // slug → pending debounce timer
	done   chan struct{}
}

// New starts the watcher goroutine.  onChange is invoked once per debounced
// change burst with the affected slug.
func New(debounce time.Duration, onChange func(slug string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	w := &Watcher{
		fs:       fsw,
		debounce: debounce,
		onChange: onChange,
		roots:    make(map[string]string),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Register begins watching a tenant's tree.  Called by the cache after a
// successful load.  Errors on subdirectories are logged and skipped; a
// partially watched tree still catches the common edit paths.
func (w *Watcher) Register(slug, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.roots[slug] = abs
	w.mu.Unlock()

	return filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := ignoredDirs[d.Name()]; skip {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			zap.L().Debug("watch add failed", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

// Unregister stops watching a tenant's tree.  Called on evict.  Idempotent.
func (w *Watcher) Unregister(slug string) {
	w.mu.Lock()
	root, ok := w.roots[slug]
	delete(w.roots, slug)
	if t, hasTimer := w.timers[slug]; hasTimer {
		t.Stop()
		delete(w.timers, slug)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	// fsnotify removes watches for deleted paths on its own; sweep the
	// remainder best effort.
	for _, p := range w.fs.WatchList() {
		if p == root || strings.HasPrefix(p, root+string(filepath.Separator)) {
			_ = w.fs.Remove(p)
		}
	}
}

// Close tears the watcher down.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			zap.L().Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if inIgnoredDir(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for slug, root := range w.roots {
		if ev.Name != root && !strings.HasPrefix(ev.Name, root+string(filepath.Separator)) {
			continue
		}

		// New subdirectories join the watch set so nested edits keep firing.
		if ev.Op&fsnotify.Create != 0 {
			if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
				if _, skip := ignoredDirs[filepath.Base(ev.Name)]; !skip {
					_ = w.fs.Add(ev.Name)
				}
			}
		}

		w.bumpLocked(slug)
		return
	}
}

// bumpLocked (re)arms the debounce timer for slug.  Caller holds w.mu.
func (w *Watcher) bumpLocked(slug string) {
	if t, ok := w.timers[slug]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[slug] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, slug)
		_, stillWatched := w.roots[slug]
		w.mu.Unlock()
		if stillWatched {
			zap.L().Info("tenant files changed", zap.String("slug", slug))
			w.onChange(slug)
		}
	})
}

func inIgnoredDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if _, skip := ignoredDirs[part]; skip {
			return true
		}
	}
	return false
}

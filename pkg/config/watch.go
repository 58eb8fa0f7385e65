package config

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce lets editors finish writing before a reload.
const watchDebounce = 100 * time.Millisecond

// Watch reloads cached profiles and the catalog when their files change.
// It returns once the watcher is registered; reloading stops when ctx ends.
// onReload, if non-nil, is called with the reloaded file's base name.
func (r *Resolver) Watch(ctx context.Context, onReload func(name string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return err
	}

	go r.watchLoop(ctx, w, onReload)
	return nil
}

func (r *Resolver) watchLoop(ctx context.Context, w *fsnotify.Watcher, onReload func(string)) {
	defer w.Close()

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !r.interested(name) {
				continue
			}

			mu.Lock()
			if t, ok := timers[name]; ok {
				t.Stop()
			}
			timers[name] = time.AfterFunc(watchDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				r.reload(name)
				if onReload != nil {
					onReload(name)
				}
			})
			mu.Unlock()

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}

// interested reports whether name is the catalog or an already-loaded profile.
func (r *Resolver) interested(name string) bool {
	if isCatalogFile(name) {
		return true
	}
	if !strings.HasSuffix(name, ".toml") {
		return false
	}
	env := strings.TrimSuffix(name, ".toml")
	r.mu.RLock()
	_, cached := r.profiles[env]
	r.mu.RUnlock()
	return cached
}

func (r *Resolver) reload(name string) {
	if isCatalogFile(name) {
		r.LoadCatalog()
		return
	}
	r.Load(strings.TrimSuffix(name, ".toml"))
}

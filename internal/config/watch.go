package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Live holds the most recently loaded Config and refreshes it in the
// background when the backing file changes, so a long-running process picks
// up edits (most usefully, Signal.AllowedUsers) without a restart. Fields
// that only take effect at wiring time (DATABASE_URL, MAPLE_API_URL, ...)
// still require a restart; only callers that read through Current() see the
// update.
type Live struct {
	path    string
	current atomic.Pointer[Config]
}

// Watch returns a Live seeded with initial. If path is empty (an env-only
// deployment has no file to watch), it returns a Live that never changes.
// Otherwise it starts a background fsnotify watcher on path's directory
// (editors commonly replace a file via rename-into-place, which a
// watch-the-file-directly handle would miss) and reloads on every relevant
// event, logging and keeping the prior Config on a reload failure.
func Watch(ctx context.Context, path string, initial *Config) (*Live, error) {
	lv := &Live{path: path}
	lv.current.Store(initial)

	if path == "" {
		return lv, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	go lv.run(ctx, w)
	return lv, nil
}

// Current returns the most recently loaded Config.
func (lv *Live) Current() *Config {
	return lv.current.Load()
}

func (lv *Live) run(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(lv.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			lv.reload()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watch error", "error", err)
		}
	}
}

func (lv *Live) reload() {
	cfg, err := Load(lv.path)
	if err != nil {
		slog.Warn("config: reload failed, keeping previous configuration", "path", lv.path, "error", err)
		return
	}
	lv.current.Store(cfg)
	slog.Info("config: reloaded", "path", lv.path)
}

// Package watcher re-indexes a project shortly after its files change on
// disk, using fsnotify rather than polling so large trees don't pay a
// stat() pass every tick.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/badgergraph/codegraph/internal/store"
)

const debounce = 10 * time.Second

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, "bin": true, "__pycache__": true,
	".venv": true, "venv": true, ".tox": true, ".mypy_cache": true,
}

// IndexFunc is the callback signature for triggering a re-index.
type IndexFunc func(ctx context.Context, projectName, rootPath string) error

// Watcher runs one fsnotify watch per project and triggers a debounced
// re-index whenever that project's tree changes.
type Watcher struct {
	router  *store.StoreRouter
	indexFn IndexFunc

	mu       sync.Mutex
	watching map[string]context.CancelFunc
}

// New creates a Watcher. indexFn is called after a project's tree settles
// following a burst of filesystem events.
func New(r *store.StoreRouter, indexFn IndexFunc) *Watcher {
	return &Watcher{
		router:   r,
		indexFn:  indexFn,
		watching: make(map[string]context.CancelFunc),
	}
}

// Run starts a watch goroutine for every currently-indexed project and then
// blocks, picking up newly indexed projects every 30s, until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.syncProjects(ctx)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			for _, cancel := range w.watching {
				cancel()
			}
			w.watching = make(map[string]context.CancelFunc)
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.syncProjects(ctx)
		}
	}
}

// syncProjects starts a watch goroutine for any indexed project not
// already being watched.
func (w *Watcher) syncProjects(ctx context.Context) {
	infos, err := w.router.ListProjects()
	if err != nil {
		slog.Warn("watcher.list_projects", "err", err)
		return
	}
	for _, info := range infos {
		if info.RootPath == "" {
			continue
		}
		w.WatchProject(ctx, info.Name, info.RootPath)
	}
}

// WatchProject starts watching a single project's root if it isn't already
// being watched. Safe to call repeatedly.
func (w *Watcher) WatchProject(ctx context.Context, name, rootPath string) {
	w.mu.Lock()
	if _, ok := w.watching[name]; ok {
		w.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w.watching[name] = cancel
	w.mu.Unlock()

	go w.runProject(watchCtx, name, rootPath)
}

// StopProject stops watching a project (e.g. after it is deleted).
func (w *Watcher) StopProject(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.watching[name]; ok {
		cancel()
		delete(w.watching, name)
	}
}

func (w *Watcher) runProject(ctx context.Context, name, rootPath string) {
	if _, err := os.Stat(rootPath); err != nil {
		slog.Warn("watcher.root_gone", "project", name, "path", rootPath)
		return
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("watcher.create", "project", name, "err", err)
		return
	}
	defer fsw.Close()

	watched := addDirsRecursive(fsw, rootPath)
	slog.Debug("watcher.start", "project", name, "dirs", watched)

	var timer *time.Timer
	var timerCh <-chan time.Time
	events := 0

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			events++
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					_ = addDirsRecursive(fsw, event.Name)
				}
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher.fsnotify_err", "project", name, "err", err)
		case <-timerCh:
			timerCh = nil
			slog.Info("watcher.changed", "project", name, "events", events)
			events = 0
			if err := w.indexFn(ctx, name, rootPath); err != nil {
				slog.Warn("watcher.index", "project", name, "err", err)
			}
		}
	}
}

// addDirsRecursive adds root and every non-skipped subdirectory to the
// fsnotify watcher. Returns the number of directories added.
func addDirsRecursive(fsw *fsnotify.Watcher, root string) int {
	count := 0
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if skipDirs[base] || (strings.HasPrefix(base, ".") && base != filepath.Base(root)) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		return nil
	})
	return count
}

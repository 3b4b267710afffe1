// Package watch rebuilds a project whenever one of its package sources
// changes.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/pkgbuild/internal/logfields"
)

// DefaultDebounce coalesces bursts of file events into one rebuild.
const DefaultDebounce = 500 * time.Millisecond

// RebuildFunc performs one rebuild and returns the source directories to
// watch afterwards.
type RebuildFunc func(ctx context.Context) ([]string, error)

// Watcher monitors package source trees and triggers debounced rebuilds.
type Watcher struct {
	rebuild  RebuildFunc
	debounce time.Duration
	watcher  *fsnotify.Watcher
	ignore   []string

	mu      sync.Mutex
	watched map[string]bool
	runs    int
}

// New creates a watcher. ignore lists directories whose events never trigger
// a rebuild, such as the package store.
func New(rebuild RebuildFunc, debounce time.Duration, ignore ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		rebuild:  rebuild,
		debounce: debounce,
		watcher:  fw,
		ignore:   ignore,
		watched:  make(map[string]bool),
	}, nil
}

// Runs returns the number of rebuilds performed so far.
func (w *Watcher) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// Run performs an initial rebuild and then rebuilds after every burst of
// changes until ctx is cancelled. Rebuild failures are logged and watching
// continues.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", logfields.Error(err))
		}
	}()

	w.runOnce(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("Source change detected", logfields.Path(event.Name))
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			w.runOnce(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	dirs, err := w.rebuild(ctx)
	w.mu.Lock()
	w.runs++
	w.mu.Unlock()
	if err != nil {
		slog.Error("Rebuild failed", logfields.Error(err))
	}
	for _, d := range dirs {
		w.addTree(d)
	}
	w.mu.Lock()
	n := len(w.watched)
	w.mu.Unlock()
	slog.Info("Waiting for changes", logfields.Count(n))
}

// addTree watches dir and its subdirectories, skipping VCS metadata.
func (w *Watcher) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || w.ignored(p) {
			return filepath.SkipDir
		}
		w.mu.Lock()
		seen := w.watched[p]
		w.watched[p] = true
		w.mu.Unlock()
		if seen {
			return nil
		}
		if err := w.watcher.Add(p); err != nil {
			slog.Warn("Failed to watch directory", logfields.Path(p), logfields.Error(err))
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	if strings.Contains(filepath.ToSlash(path), "/.git/") || filepath.Base(path) == ".git" {
		return true
	}
	for _, ig := range w.ignore {
		if ig == "" {
			continue
		}
		if path == ig || strings.HasPrefix(path, ig+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

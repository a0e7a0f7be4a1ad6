package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/openmined/distbr/internal/compress"
	"github.com/openmined/distbr/internal/config"
	"github.com/openmined/distbr/internal/postbuild"
	"github.com/openmined/distbr/internal/utils"
)

const DefaultDebounce = 500 * time.Millisecond

var ErrWatcherClosed = errors.New("watcher closed")

// Watcher re-runs the post-build pass for files a rebuild rewrites. Siblings
// are always overwritten since their sources changed.
type Watcher struct {
	// Debounce is the quiet period after the last change before a batch runs.
	Debounce time.Duration

	hook    *postbuild.Hook
	root    string
	watcher *fsnotify.Watcher
	ready   chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
}

func New(cfg *config.Config) (*Watcher, error) {
	c := *cfg
	c.Overwrite = true

	hook, err := postbuild.Setup(&c)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	return &Watcher{
		Debounce: DefaultDebounce,
		hook:     hook,
		root:     hook.Root(),
		watcher:  watcher,
		ready:    make(chan struct{}),
		pending:  make(map[string]struct{}),
	}, nil
}

// Ready is closed once the initial pass is done and the tree is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Start runs a full pass, then processes changed files until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	defer w.watcher.Close()

	if _, err := w.hook.Run(ctx); err != nil {
		if errors.Is(err, postbuild.ErrLocked) || ctx.Err() != nil {
			return err
		}
		slog.Warn("initial pass finished with errors", "error", err)
	}

	if err := w.addRecursive(w.hook.Root()); err != nil {
		return err
	}
	close(w.ready)
	slog.Info("watching", "root", w.hook.Root(), "debounce", w.Debounce)

	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return ErrWatcherClosed
			}
			if w.handleEvent(event) {
				timer.Reset(w.Debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			slog.Warn("watch error", "error", err)

		case <-timer.C:
			if w.flush(ctx) {
				timer.Reset(w.Debounce)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleEvent queues the files touched by event and reports whether anything
// was queued.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// already gone again, e.g. a bundler temp file
		slog.Debug("watch stat", "path", event.Name, "error", err)
		return false
	}
	if w.ignored(event.Name, info.IsDir()) {
		return false
	}

	if !info.IsDir() {
		w.enqueue(event.Name)
		return true
	}

	// a new directory may arrive with its files already in place
	if err := w.addRecursive(event.Name); err != nil {
		slog.Warn("watch add", "path", event.Name, "error", err)
	}
	queued := false
	_ = filepath.WalkDir(event.Name, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == event.Name {
			return nil
		}
		if w.ignored(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			w.enqueue(path)
			queued = true
		}
		return nil
	})
	return queued
}

// ignored reports whether path is one of our own entries: a sibling
// directory or anything below one, or the lock or ignore file at the root.
// Regular files that merely share those names are still processed.
func (w *Watcher) ignored(path string, isDir bool) bool {
	name := filepath.Base(path)
	if isDir && name == compress.DirName {
		return true
	}
	parent := filepath.Dir(path)
	if !isDir && parent == w.root && (name == config.LockFileName || name == config.IgnoreFileName) {
		return true
	}
	return utils.HasElem(utils.RelSlash(w.root, parent), compress.DirName)
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	w.pending[path] = struct{}{}
	w.mu.Unlock()
}

// flush runs the pending batch and reports whether it must be retried. A batch
// that hits another run's lock goes back into pending.
func (w *Watcher) flush(ctx context.Context) bool {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if len(paths) == 0 {
		return false
	}
	sort.Strings(paths)

	_, err := w.hook.RunFiles(ctx, paths)
	switch {
	case err == nil:
		return false
	case errors.Is(err, postbuild.ErrLocked):
		slog.Info("output root locked, retrying batch", "files", len(paths), "retry", w.Debounce)
		w.mu.Lock()
		for _, path := range paths {
			w.pending[path] = struct{}{}
		}
		w.mu.Unlock()
		return true
	default:
		slog.Warn("rebuild pass finished with errors", "files", len(paths), "error", err)
		return false
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk dir: %w", err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("fsnotify add watch: %w", err)
		}
		return nil
	})
}

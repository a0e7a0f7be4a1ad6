package walker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/openmined/distbr/internal/filter"
	"github.com/openmined/distbr/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Func is called once per regular file with its absolute path.
type Func func(ctx context.Context, path string) error

type Option func(*options)

type options struct {
	concurrency int
	filter      *filter.Filter
	skipDirs    map[string]struct{}
	skipRoot    map[string]struct{}
}

// WithConcurrency bounds the number of Func calls in flight.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithFilter(f *filter.Filter) Option {
	return func(o *options) {
		o.filter = f
	}
}

// WithSkipDirs never descends into directories with one of these base names,
// at any depth. Regular files with the same names are still visited.
func WithSkipDirs(names ...string) Option {
	return func(o *options) {
		for _, name := range names {
			o.skipDirs[name] = struct{}{}
		}
	}
}

// WithSkipRootFiles ignores files with these names directly under root only.
func WithSkipRootFiles(names ...string) Option {
	return func(o *options) {
		for _, name := range names {
			o.skipRoot[name] = struct{}{}
		}
	}
}

type walk struct {
	root string
	fn   Func
	opts *options
	eg   *errgroup.Group

	mu   sync.Mutex
	errs []error
}

// Walk calls fn for every regular file under root. Directories are listed in
// sequence while file callbacks run concurrently. Walk returns only after every
// callback has returned.
//
// A root that cannot be listed fails immediately. Any other error, including
// those returned by fn, is collected and returned joined once the walk is done;
// one failing file never stops the others.
func Walk(ctx context.Context, root string, fn Func, opts ...Option) error {
	o := &options{
		concurrency: runtime.NumCPU(),
		skipDirs:    make(map[string]struct{}),
		skipRoot:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read root %s: %w", root, err)
	}

	eg := &errgroup.Group{}
	eg.SetLimit(o.concurrency)

	w := &walk{root: root, fn: fn, opts: o, eg: eg}
	w.visit(ctx, root, entries)

	// callbacks never return an error to the group, see dispatch
	_ = eg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := ctx.Err(); err != nil {
		w.errs = append([]error{err}, w.errs...)
	}
	return errors.Join(w.errs...)
}

func (w *walk) visit(ctx context.Context, dir string, entries []os.DirEntry) {
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		name := entry.Name()
		path := filepath.Join(dir, name)
		rel := utils.RelSlash(w.root, path)

		// follows symlinks
		info, err := os.Stat(path)
		if err != nil {
			w.fail(fmt.Errorf("stat %s: %w", path, err))
			continue
		}

		switch {
		case info.IsDir():
			if _, ok := w.opts.skipDirs[name]; ok {
				continue
			}
			if !w.opts.filter.MatchDir(rel) {
				slog.Debug("walk skip dir", "path", path)
				continue
			}
			children, err := os.ReadDir(path)
			if err != nil {
				w.fail(fmt.Errorf("read dir %s: %w", path, err))
				continue
			}
			w.visit(ctx, path, children)

		case info.Mode().IsRegular():
			if _, ok := w.opts.skipRoot[name]; ok && dir == w.root {
				continue
			}
			if !w.opts.filter.MatchFile(rel) {
				slog.Debug("walk skip file", "path", path)
				continue
			}
			w.dispatch(ctx, path)

		default:
			slog.Debug("walk skip irregular", "path", path, "mode", info.Mode().String())
		}
	}
}

func (w *walk) dispatch(ctx context.Context, path string) {
	w.eg.Go(func() error {
		if err := w.fn(ctx, path); err != nil {
			w.fail(err)
		}
		return nil
	})
}

func (w *walk) fail(err error) {
	w.mu.Lock()
	w.errs = append(w.errs, err)
	w.mu.Unlock()
}

package postbuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/openmined/distbr/internal/compress"
	"github.com/openmined/distbr/internal/config"
	"github.com/openmined/distbr/internal/filter"
	"github.com/openmined/distbr/internal/utils"
	"github.com/openmined/distbr/internal/walker"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotDirectory = errors.New("output root is not a directory")
	ErrLocked       = errors.New("output root is locked by another run")
)

// Hook is the post-build step. Setup resolves everything once the build
// configuration is known; Run is called after the build has written its output
// and may be called again for every rebuild.
type Hook struct {
	cfg    config.Config
	root   string
	filter *filter.Filter
	proc   *compress.Processor
	flock  *flock.Flock
}

func Setup(cfg *config.Config) (*Hook, error) {
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	info, err := os.Stat(c.OutDir)
	if err != nil {
		return nil, fmt.Errorf("stat output root %s: %w", c.OutDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, c.OutDir)
	}

	f, err := filter.New(c.Include, c.Exclude)
	if err != nil {
		return nil, err
	}
	if err := f.LoadIgnoreFile(filepath.Join(c.OutDir, config.IgnoreFileName)); err != nil {
		return nil, err
	}

	proc := compress.New(compress.Options{
		Threshold: c.Threshold,
		Quality:   c.Quality,
		Overwrite: c.Overwrite,
	})

	return &Hook{
		cfg:    c,
		root:   c.OutDir,
		filter: f,
		proc:   proc,
		flock:  flock.New(filepath.Join(c.OutDir, config.LockFileName)),
	}, nil
}

// Root is the resolved absolute output directory.
func (h *Hook) Root() string {
	return h.root
}

// Run processes every file under the output root. The report is nil only when
// the root could not be locked.
func (h *Hook) Run(ctx context.Context) (*Report, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.unlock()

	rep := newReport(h.root)
	slog.Info("postbuild start", "root", h.root, "concurrency", h.cfg.Concurrency, "overwrite", h.cfg.Overwrite)

	err := walker.Walk(ctx, h.root, h.processFunc(rep),
		walker.WithConcurrency(h.cfg.Concurrency),
		walker.WithFilter(h.filter),
		walker.WithSkipDirs(compress.DirName),
		walker.WithSkipRootFiles(config.LockFileName, config.IgnoreFileName),
	)

	rep.finish(err)
	logReport(rep)
	return rep, err
}

// RunFiles processes only the given files, as long as they live under the
// output root and pass the same rules Run applies.
func (h *Hook) RunFiles(ctx context.Context, paths []string) (*Report, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.unlock()

	rep := newReport(h.root)
	fn := h.processFunc(rep)

	var (
		errs = make([]error, len(paths))
		eg   errgroup.Group
	)
	eg.SetLimit(h.cfg.Concurrency)
	for i, file := range paths {
		if !h.Accepts(file) {
			slog.Debug("postbuild skip", "path", file)
			continue
		}
		eg.Go(func() error {
			errs[i] = fn(ctx, file)
			return nil
		})
	}
	_ = eg.Wait()

	err := errors.Join(errs...)
	rep.finish(err)
	logReport(rep)
	return rep, err
}

// Accepts reports whether file is one Run would process.
func (h *Hook) Accepts(file string) bool {
	rel := utils.RelSlash(h.root, file)
	if rel == "" {
		return false
	}
	if rel == config.LockFileName || rel == config.IgnoreFileName {
		return false
	}
	if dir := path.Dir(rel); dir != "." && utils.HasElem(dir, compress.DirName) {
		return false
	}
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if !h.filter.MatchDir(dir) {
			return false
		}
	}
	return utils.FileExists(file) && h.filter.MatchFile(rel)
}

func (h *Hook) processFunc(rep *Report) walker.Func {
	return func(ctx context.Context, path string) error {
		res, err := h.proc.Process(ctx, path)
		rep.add(res)
		return err
	}
}

func (h *Hook) lock() error {
	locked, err := h.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock output root: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

func (h *Hook) unlock() {
	if !h.flock.Locked() {
		return
	}
	if err := h.flock.Unlock(); err != nil {
		slog.Warn("failed to unlock output root", "path", h.flock.Path(), "error", err)
		return
	}
	if err := os.Remove(h.flock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove lock file", "path", h.flock.Path(), "error", err)
	}
}

func logReport(rep *Report) {
	attrs := []any{
		"root", rep.Root,
		"files", rep.Files,
		"written", rep.Written,
		"skipped", rep.Skipped,
		"exists", rep.Exists,
		"failed", rep.Failed,
		"saved", humanize.IBytes(uint64(rep.SavedBytes)),
		"took", rep.Duration.Round(time.Millisecond),
	}
	if rep.Err != nil {
		slog.Error("postbuild done with errors", append(attrs, "error", rep.Err)...)
		return
	}
	slog.Info("postbuild done", attrs...)
}

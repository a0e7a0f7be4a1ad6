package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/andybalholm/brotli"
	"github.com/dustin/go-humanize"
)

// DirName is the sibling directory holding the compressed variant of each file.
const DirName = "_br"

type Outcome string

const (
	OutcomeWritten Outcome = "written"
	OutcomeSkipped Outcome = "skipped"
	OutcomeExists  Outcome = "exists"
	OutcomeFailed  Outcome = "failed"
)

type Result struct {
	Path           string
	Dest           string
	OriginalSize   int64
	CompressedSize int64
	Passed         bool
	Outcome        Outcome
}

// Ratio is compressed/original, 0 for an empty original.
func (r Result) Ratio() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return float64(r.CompressedSize) / float64(r.OriginalSize)
}

type Options struct {
	// Threshold is the largest compressed/original ratio (exclusive) worth keeping.
	Threshold float64
	// Quality is the Brotli quality level, 0-11.
	Quality int
	// Overwrite replaces an existing sibling instead of leaving it alone.
	Overwrite bool
	Logger    *slog.Logger
}

type Processor struct {
	threshold float64
	quality   int
	overwrite bool
	log       *slog.Logger
}

func New(opts Options) *Processor {
	p := &Processor{
		threshold: opts.Threshold,
		quality:   opts.Quality,
		overwrite: opts.Overwrite,
		log:       opts.Logger,
	}
	if p.threshold <= 0 || p.threshold > 1 {
		p.threshold = 0.95
	}
	if p.quality < brotli.BestSpeed || p.quality > brotli.BestCompression {
		p.quality = brotli.BestCompression
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Destination returns dir/_br/name for dir/name.
func Destination(path string) string {
	return filepath.Join(filepath.Dir(path), DirName, filepath.Base(path))
}

// Worth reports whether a compressed size beats original*threshold.
func Worth(original, compressed int64, threshold float64) bool {
	return float64(compressed) < float64(original)*threshold
}

// Process compresses the file at path and persists the result to
// Destination(path) when it is worth it. It logs exactly one line per call.
func (p *Processor) Process(ctx context.Context, path string) (res Result, err error) {
	res = Result{Path: path, Dest: Destination(path), Outcome: OutcomeFailed}
	defer func() { p.report(res, err) }()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	compressed, err := Compress(data, p.quality)
	if err != nil {
		return res, fmt.Errorf("compress %s: %w", path, err)
	}

	res.OriginalSize = int64(len(data))
	res.CompressedSize = int64(len(compressed))
	res.Passed = Worth(res.OriginalSize, res.CompressedSize, p.threshold)
	if !res.Passed {
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	if p.overwrite {
		err = replace(res.Dest, compressed)
	} else {
		err = create(res.Dest, compressed)
	}
	switch {
	case errors.Is(err, fs.ErrExist):
		res.Outcome = OutcomeExists
		return res, nil
	case err != nil:
		return res, fmt.Errorf("write %s: %w", res.Dest, err)
	}

	res.Outcome = OutcomeWritten
	return res, nil
}

func (p *Processor) report(res Result, err error) {
	attrs := []any{
		"path", res.Path,
		"size", humanize.IBytes(uint64(res.OriginalSize)),
		"compressed", humanize.IBytes(uint64(res.CompressedSize)),
		"bytes", res.OriginalSize,
		"compressed_bytes", res.CompressedSize,
		"ratio", fmt.Sprintf("%.3fx", res.Ratio()),
		"pass", marker(res.Passed),
		"outcome", string(res.Outcome),
	}

	switch {
	case err != nil:
		p.log.Error("brotli", append(attrs, "error", err)...)
	case res.Outcome == OutcomeExists:
		p.log.Warn("brotli", append(attrs, "dest", res.Dest)...)
	default:
		p.log.Info("brotli", attrs...)
	}
}

func marker(passed bool) string {
	if passed {
		return "✅"
	}
	return "❌"
}

// Compress returns data Brotli-encoded at the given quality.
func Compress(data []byte, quality int) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, quality)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// create writes data to dest only if dest does not exist yet; otherwise it
// returns an error wrapping fs.ErrExist and leaves dest untouched.
func create(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}

// replace atomically swaps dest for data through a temp file in the same dir.
func replace(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

package postbuild

import (
	"sync"
	"time"

	"github.com/openmined/distbr/internal/compress"
)

// Report summarizes one pass over the output root.
type Report struct {
	Root     string
	Files    int
	Written  int
	Skipped  int
	Exists   int
	Failed   int
	Duration time.Duration

	// OriginalBytes is the size of every processed file, WrittenBytes the
	// size of the siblings written by this pass and SavedBytes what those
	// siblings save over their originals.
	OriginalBytes int64
	WrittenBytes  int64
	SavedBytes    int64

	// Err joins every per-file error, nil when there were none.
	Err error

	mu      sync.Mutex
	started time.Time
}

func newReport(root string) *Report {
	return &Report{Root: root, started: time.Now()}
}

func (r *Report) add(res compress.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Files++
	r.OriginalBytes += res.OriginalSize

	switch res.Outcome {
	case compress.OutcomeWritten:
		r.Written++
		r.WrittenBytes += res.CompressedSize
		r.SavedBytes += res.OriginalSize - res.CompressedSize
	case compress.OutcomeSkipped:
		r.Skipped++
	case compress.OutcomeExists:
		r.Exists++
	default:
		r.Failed++
	}
}

func (r *Report) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
	r.Duration = time.Since(r.started)
}

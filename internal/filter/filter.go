package filter

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

var ErrInvalidPattern = errors.New("invalid glob pattern")

// Filter decides which files under the output root get processed. Paths are
// root-relative and slash-separated. A nil *Filter accepts everything.
type Filter struct {
	include []string
	exclude []string
	ignore  *gitignore.GitIgnore
}

func New(include, exclude []string) (*Filter, error) {
	inc, err := compile(include)
	if err != nil {
		return nil, err
	}
	exc, err := compile(exclude)
	if err != nil {
		return nil, err
	}
	return &Filter{include: inc, exclude: exc}, nil
}

func compile(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = normalize(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadIgnoreFile appends the gitignore-style rules in path to the excludes.
// A missing file is not an error.
func (f *Filter) LoadIgnoreFile(path string) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ignore file: %w", err)
	}

	if len(lines) > 0 {
		f.ignore = gitignore.CompileIgnoreLines(lines...)
		slog.Debug("loaded ignore file", "path", path, "rules", len(lines))
	}
	return nil
}

// MatchFile reports whether the file at rel should be processed.
func (f *Filter) MatchFile(rel string) bool {
	if f == nil {
		return true
	}
	rel = normalize(rel)
	if f.excluded(rel) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	return matchAny(f.include, rel)
}

// MatchDir reports whether the walk should descend into rel. Only excludes
// prune directories; includes are checked per file.
func (f *Filter) MatchDir(rel string) bool {
	if f == nil {
		return true
	}
	rel = normalize(rel)
	if f.ignore != nil && f.ignore.MatchesPath(rel+"/") {
		return false
	}
	return !matchAny(f.exclude, rel)
}

func (f *Filter) excluded(rel string) bool {
	if f.ignore != nil && f.ignore.MatchesPath(rel) {
		return true
	}
	return matchAny(f.exclude, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}

package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := New(Options{Level: slog.LevelInfo, Console: &console})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("brotli", "path", "a.js")
	logger.Debug("hidden")

	out := console.String()
	assert.Contains(t, out, "brotli")
	assert.Contains(t, out, "path=a.js")
	assert.NotContains(t, out, "hidden")
	assert.NotContains(t, out, "\x1b[", "no colour off-terminal")
}

func TestNew_MirrorsToFile(t *testing.T) {
	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "distbr.log")

	logger, closer, err := New(Options{Level: slog.LevelDebug, Console: &console, File: logFile})
	require.NoError(t, err)

	logger.With("run", 1).Warn("exists", "dest", "_br/a.js")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "level=WARN")
	assert.Contains(t, string(data), "run=1")
	assert.Contains(t, string(data), "dest=_br/a.js")
	assert.Contains(t, console.String(), "exists")
}

func TestFanout_Enabled(t *testing.T) {
	var a, b bytes.Buffer
	h := &fanout{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}}

	logger := slog.New(h.WithGroup("pass"))
	logger.Info("only b", "n", 1)

	assert.Empty(t, a.String())
	assert.Contains(t, b.String(), "pass.n=1")
}

func TestNew_FileError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	logger, closer, err := New(Options{Level: slog.LevelInfo, Console: &bytes.Buffer{}, File: filepath.Join(blocker, "distbr.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create log directory")
	assert.Nil(t, logger)
	assert.Nil(t, closer)
}

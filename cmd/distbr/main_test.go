package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/openmined/distbr/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

var jsData = bytes.Repeat([]byte("import { h } from 'vue'; export default () => h('div');\n"), 200)

// configCmd runs loadConfig through a real cobra execution so flags are parsed.
func configCmd(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	var (
		cfg    *config.Config
		cfgErr error
	)
	cmd := &cobra.Command{
		Use:  "distbr",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgErr = loadConfig(cmd, args)
			return nil
		},
	}
	cmd.PersistentFlags().StringP("config", "c", "", "")
	addRunFlags(cmd)
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	require.NoError(t, cmd.Execute())
	return cfg, cfgErr
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := configCmd(t)
	require.NoError(t, err)

	assert.Equal(t, "dist", filepath.Base(cfg.OutDir))
	assert.True(t, filepath.IsAbs(cfg.OutDir))
	assert.Equal(t, config.DefaultThreshold, cfg.Threshold)
	assert.Equal(t, config.DefaultQuality, cfg.Quality)
	assert.Positive(t, cfg.Concurrency)
	assert.Empty(t, cfg.Include)
	assert.False(t, cfg.Overwrite)
	assert.Empty(t, cfg.Path)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	outDir := t.TempDir()
	t.Setenv("DISTBR_OUT_DIR", outDir)
	t.Setenv("DISTBR_THRESHOLD", "0.8")
	t.Setenv("DISTBR_QUALITY", "4")
	t.Setenv("DISTBR_OVERWRITE", "true")

	cfg, err := configCmd(t)
	require.NoError(t, err)

	assert.Equal(t, outDir, cfg.OutDir)
	assert.Equal(t, 0.8, cfg.Threshold)
	assert.Equal(t, 4, cfg.Quality)
	assert.True(t, cfg.Overwrite)
}

func TestLoadConfig_JSONFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "build")
	configFile := filepath.Join(dir, "distbr.json")
	require.NoError(t, os.WriteFile(configFile, []byte(`{
	"out_dir": "`+filepath.ToSlash(outDir)+`",
	"threshold": 0.9,
	"quality": 9,
	"include": ["**/*.js", "**/*.css"]
}`), 0o644))

	cfg, err := configCmd(t, "--config", configFile, "--quality", "3")
	require.NoError(t, err)

	assert.Equal(t, configFile, cfg.Path)
	assert.Equal(t, filepath.Clean(outDir), cfg.OutDir)
	assert.Equal(t, 0.9, cfg.Threshold)
	assert.Equal(t, 3, cfg.Quality, "flag wins over file")
	assert.Equal(t, []string{"**/*.js", "**/*.css"}, cfg.Include)
}

func TestLoadConfig_PositionalOutDirWins(t *testing.T) {
	t.Setenv("DISTBR_OUT_DIR", filepath.Join(t.TempDir(), "from-env"))
	outDir := t.TempDir()

	cfg, err := configCmd(t, outDir, "--exclude", "vendor,**/*.map")
	require.NoError(t, err)
	assert.Equal(t, outDir, cfg.OutDir)
	assert.Equal(t, []string{"vendor", "**/*.map"}, cfg.Exclude)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := configCmd(t, t.TempDir(), "--threshold", "1.5")
	assert.ErrorIs(t, err, config.ErrInvalidThreshold)

	_, err = configCmd(t, t.TempDir(), "--config", filepath.Join(t.TempDir(), "broken.json"))
	assert.NoError(t, err, "missing explicit config file is tolerated")
}

func TestRootCommand_CompressesOutDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.js"), jsData, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "assets", "tiny.txt"), []byte("x"), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{root, "-q", "5", "-j", "2"})

	require.NoError(t, cmd.Execute())
	assert.FileExists(t, filepath.Join(root, "_br", "index.js"))
	assert.NoFileExists(t, filepath.Join(root, "assets", "_br", "tiny.txt"))

	summary := stripANSI(out.String())
	assert.Contains(t, summary, "done")
	assert.Contains(t, summary, "files    2")
	assert.Contains(t, summary, "written  1")
	assert.Contains(t, summary, "skipped  1")
}

func TestRootCommand_SecondRunReportsExisting(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.js"), jsData, 0o644))

	for range 2 {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{root, "-q", "5"})
		require.NoError(t, cmd.Execute())
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{root, "-q", "5"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stripANSI(out.String()), "exists   1")
}

func TestRootCommand_MissingOutDir(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRootCommand_LogFile(t *testing.T) {
	root := t.TempDir()
	logFile := filepath.Join(t.TempDir(), "distbr.log")
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.js"), jsData, 0o644))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{root, "-q", "5", "--log-file", logFile})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "index.js")
	assert.Contains(t, string(data), "postbuild done")
}

func TestSetupLogging_Error(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	restore, err := setupLogging(filepath.Join(blocker, "distbr.log"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging:")
	assert.Nil(t, restore)
}

package config

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/openmined/distbr/internal/utils"
)

const (
	// DefaultThreshold keeps a compressed sibling only when it saves at least 5%.
	DefaultThreshold = 0.95
	// DefaultQuality matches the Brotli encoder's maximum (and Node's zlib default).
	DefaultQuality = 11
	// DefaultOutDir is where Vite and most bundlers emit the build.
	DefaultOutDir = "dist"

	LockFileName   = ".distbr.lock"
	IgnoreFileName = ".distbrignore"
)

var (
	ErrInvalidThreshold   = errors.New("threshold must be within (0, 1]")
	ErrInvalidQuality     = errors.New("quality must be within [0, 11]")
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
)

type Config struct {
	OutDir      string   `json:"out_dir" mapstructure:"out_dir"`
	Threshold   float64  `json:"threshold" mapstructure:"threshold"`
	Quality     int      `json:"quality" mapstructure:"quality"`
	Concurrency int      `json:"concurrency" mapstructure:"concurrency"`
	Include     []string `json:"include,omitempty" mapstructure:"include"`
	Exclude     []string `json:"exclude,omitempty" mapstructure:"exclude"`
	Overwrite   bool     `json:"overwrite" mapstructure:"overwrite"`
	LogFile     string   `json:"log_file,omitempty" mapstructure:"log_file"`
	Path        string   `json:"-" mapstructure:"-"`
}

func Default() *Config {
	return &Config{
		OutDir:      DefaultOutDir,
		Threshold:   DefaultThreshold,
		Quality:     DefaultQuality,
		Concurrency: runtime.NumCPU(),
	}
}

// Validate checks the bounds of every field and resolves OutDir (and LogFile,
// when set) to clean absolute paths.
func (c *Config) Validate() error {
	outDir, err := utils.ResolvePath(c.OutDir)
	if err != nil {
		return fmt.Errorf("out dir: %w", err)
	}
	c.OutDir = outDir

	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, c.Threshold)
	}

	if c.Quality < 0 || c.Quality > 11 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuality, c.Quality)
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, c.Concurrency)
	}

	if c.LogFile != "" {
		logFile, err := utils.ResolvePath(c.LogFile)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		c.LogFile = logFile
	}

	return nil
}

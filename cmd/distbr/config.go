package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/openmined/distbr/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "DISTBR"
	configFileName = "distbr"
)

func addRunFlags(cmd *cobra.Command) {
	defaults := config.Default()

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.Float64("threshold", defaults.Threshold, "keep a sibling only when compressed < original * threshold")
	flags.IntP("quality", "q", defaults.Quality, "Brotli quality, 0-11")
	flags.IntP("concurrency", "j", defaults.Concurrency, "files compressed in parallel")
	flags.StringSlice("include", nil, "only process files matching these globs")
	flags.StringSlice("exclude", nil, "skip files and directories matching these globs")
	flags.Bool("overwrite", defaults.Overwrite, "replace existing _br siblings")
	flags.String("log-file", "", "also write logs to this file")
}

// loadConfig merges, lowest to highest precedence: defaults, the config
// file, DISTBR_* environment variables, flags, then the positional outdir.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	v := viper.New()

	defaults := config.Default()
	v.SetDefault("out_dir", defaults.OutDir)
	v.SetDefault("threshold", defaults.Threshold)
	v.SetDefault("quality", defaults.Quality)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("overwrite", defaults.Overwrite)

	// config path
	if flag := cmd.Flag("config"); flag != nil && flag.Changed {
		v.SetConfigFile(flag.Value.String())
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	// Bind flags to viper
	for key, name := range map[string]string{
		"threshold":   "threshold",
		"quality":     "quality",
		"concurrency": "concurrency",
		"include":     "include",
		"exclude":     "exclude",
		"overwrite":   "overwrite",
		"log_file":    "log-file",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if len(args) > 0 {
		v.Set("out_dir", args[0])
	}

	cfg := &config.Config{
		OutDir:      v.GetString("out_dir"),
		Threshold:   v.GetFloat64("threshold"),
		Quality:     v.GetInt("quality"),
		Concurrency: v.GetInt("concurrency"),
		Include:     v.GetStringSlice("include"),
		Exclude:     v.GetStringSlice("exclude"),
		Overwrite:   v.GetBool("overwrite"),
		LogFile:     v.GetString("log_file"),
		Path:        v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

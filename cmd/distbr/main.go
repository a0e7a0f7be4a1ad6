package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openmined/distbr/internal/logging"
	"github.com/openmined/distbr/internal/postbuild"
	"github.com/openmined/distbr/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "distbr [outdir]",
		Short: "Brotli-compress a build output directory into _br/ siblings",
		Long: `distbr walks a build output directory and writes dir/_br/name for every
file whose Brotli encoding saves at least 5% (see --threshold). Existing
siblings are left alone unless --overwrite is set.`,
		Version: version.Detailed(),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}

			closeLog, err := setupLogging(cfg.LogFile)
			if err != nil {
				return err
			}
			defer closeLog()

			hook, err := postbuild.Setup(cfg)
			if err != nil {
				return err
			}

			// config is fine, errors from here on are not usage errors
			cmd.SilenceUsage = true

			rep, err := hook.Run(cmd.Context())
			if rep != nil {
				printSummary(cmd.OutOrStdout(), rep)
			}
			return err
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "config file (default ./distbr.json)")
	addRunFlags(cmd)
	return cmd
}

func main() {
	logger, _, err := logging.New(logging.Options{Level: slog.LevelInfo})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging mirrors logs into logFile when one is configured.
func setupLogging(logFile string) (func(), error) {
	if logFile == "" {
		return func() {}, nil
	}

	logger, closer, err := logging.New(logging.Options{Level: slog.LevelInfo, File: logFile})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	prev := slog.Default()
	slog.SetDefault(logger)
	return func() {
		slog.SetDefault(prev)
		closer.Close()
	}, nil
}

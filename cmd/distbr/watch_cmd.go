package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/distbr/internal/watch"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	var debounce = watch.DefaultDebounce

	cmd := &cobra.Command{
		Use:   "watch [outdir]",
		Short: "Keep _br siblings in sync while a watch build rewrites the output",
		Args:  cobra.MaximumNArgs(1),
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

			w, err := watch.New(cfg)
			if err != nil {
				return err
			}
			w.Debounce = debounce

			cmd.SilenceUsage = true
			defer slog.Info("Bye!")

			if err := w.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	addRunFlags(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a changed batch is processed")
	return cmd
}

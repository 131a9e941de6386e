package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hivemind/internal/curation"
	"hivemind/internal/logging"
)

// =============================================================================
// RUN COMMAND
// =============================================================================

func (c *cli) runCmd() *cobra.Command {
	var every bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a curation cycle",
		Long: `Runs one curation cycle: collect learning snapshots from every team,
mine cross-team patterns, enrich and distribute them, persist them into the
global knowledge repository, and report insights.

With --every the curator keeps running on the configured interval until
interrupted, reloading patterns written by other curators when
knowledge.watch is enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !every {
				ins, err := a.curator.Run(ctx)
				if err != nil {
					return err
				}
				return c.printInsights(cmd, ins)
			}

			if interval <= 0 {
				interval = c.cfg.GetInterval()
			}
			if c.cfg.Knowledge.Watch {
				w, err := a.curator.Watch(ctx)
				if err != nil {
					return err
				}
				defer w.Stop()
			}

			err = a.curator.RunEvery(ctx, interval, func(ins curation.Insights, err error) {
				if err != nil {
					c.logger.Error("Cycle failed", zap.Error(err))
					return
				}
				if perr := c.printInsights(cmd, ins); perr != nil {
					c.logger.Warn("Failed to print insights", zap.Error(perr))
				}
			})
			if errors.Is(err, context.Canceled) {
				logging.Curation("Curator stopped")
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&every, "every", false, "Keep running cycles on an interval")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Override the configured cycle interval")
	return cmd
}

func (c *cli) printInsights(cmd *cobra.Command, ins curation.Insights) error {
	if c.jsonOut {
		return writeJSON(cmd.OutOrStdout(), ins)
	}
	renderInsights(cmd.OutOrStdout(), defaultStyles(), ins)
	return nil
}

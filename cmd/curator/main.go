// Package main implements the hivemind curator CLI: run curation cycles,
// inspect global patterns and transfer metrics, and feed team memory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hivemind/internal/config"
	"hivemind/internal/logging"
)

// cli holds global flags and the state resolved before each command runs.
type cli struct {
	configPath string
	verbose    bool
	jsonOut    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "curator",
		Short: "hivemind - cross-team knowledge curation",
		Long: `curator notices when independent teams converge on the same effective
behavior, turns it into a transferable pattern, and delivers it into the
memory of every other team that would benefit.

Run "curator init" once, record team learning, then "curator run".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if c.verbose {
				cfg.Logging.DebugMode = true
			}
			if err := logging.Initialize(cfg.Logging); err != nil {
				return err
			}
			if err := logging.InitAudit(cfg.Logging.AuditFile); err != nil {
				return fmt.Errorf("failed to open audit log: %w", err)
			}
			c.cfg = cfg
			c.logger = logging.Root()
			c.logger.Debug("Configuration loaded", zap.String("path", c.configPath), zap.String("root", cfg.Knowledge.Root))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.CloseAudit()
			_ = logging.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", ".hivemind/config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(
		c.initCmd(),
		c.runCmd(),
		c.patternsCmd(),
		c.metricsCmd(),
		c.teamsCmd(),
		c.recordCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

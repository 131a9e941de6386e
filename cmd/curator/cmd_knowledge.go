package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hivemind/internal/knowledge"
	"hivemind/internal/metrics"
	"hivemind/internal/types"
)

// =============================================================================
// KNOWLEDGE COMMANDS
// =============================================================================

// patternsCmd lists the global knowledge repository.
func (c *cli) patternsCmd() *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List patterns in the global knowledge repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			repo := knowledge.NewRepository(c.cfg.Knowledge.Project)
			entries, err := repo.LoadEntries(ctx, c.cfg.Knowledge.Root)
			if err != nil {
				return fmt.Errorf("failed to load patterns: %w", err)
			}
			if group != "" {
				want := types.NormalizeIdentifier(group)
				kept := entries[:0]
				for _, e := range entries {
					if types.NormalizeIdentifier(e.GroupType) == want {
						kept = append(kept, e)
					}
				}
				entries = kept
			}
			sort.SliceStable(entries, func(i, j int) bool {
				if entries[i].GlobalUsageCount != entries[j].GlobalUsageCount {
					return entries[i].GlobalUsageCount > entries[j].GlobalUsageCount
				}
				return entries[i].ID < entries[j].ID
			})

			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No patterns found.")
				return nil
			}
			t := NewTable(fmt.Sprintf("Global patterns (%d)", len(entries)),
				"ID", "Type", "Group", "Sources", "Confidence", "Impact", "Usage", "Success", "Project")
			for _, e := range entries {
				t.AddRow(
					shortID(e.ID),
					string(e.Kind),
					e.GroupType,
					strings.Join(e.SourceAgents, ", "),
					fmt.Sprintf("%.2f", e.Confidence),
					fmt.Sprintf("%.2f", e.Impact),
					fmt.Sprintf("%d", e.GlobalUsageCount),
					fmt.Sprintf("%.0f%%", e.SuccessRate*100),
					e.Project,
				)
			}
			fmt.Fprint(cmd.OutOrStdout(), t.View(defaultStyles()))
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Only show patterns of this group type")
	return cmd
}

// metricsCmd derives knowledge-flow metrics from the transfer log.
func (c *cli) metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show knowledge velocity, reuse rate and innovation index",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.cfg.Knowledge.TransferLogPath()
			if path == "" {
				return fmt.Errorf("no transfer log configured (knowledge.transfer_log)")
			}
			records, err := metrics.ReadTransferLog(path)
			if err != nil && !os.IsNotExist(err) {
				return err
			}
			snap := metrics.Compute(records, time.Now(), c.cfg.GetVelocityWindow(), c.cfg.GetInnovationWindow())
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderMetrics(defaultStyles(), snap))
			return nil
		},
	}
}

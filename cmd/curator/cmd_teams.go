package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"hivemind/internal/config"
	"hivemind/internal/team"
	"hivemind/internal/types"
)

// =============================================================================
// INIT
// =============================================================================

func (c *cli) initCmd() *cobra.Command {
	var root string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file and an empty teams file",
		Long: `Creates a config with SQLite-backed team memory under --root, the global
knowledge repository under <root>/knowledge and an empty teams file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(c.configPath); err == nil && !force {
				return fmt.Errorf("config %s already exists (use --force to overwrite)", c.configPath)
			}

			cfg := config.DefaultConfig()
			cfg.Memory.Backend = "sqlite"
			cfg.Memory.Dir = filepath.Join(root, "memory")
			cfg.Knowledge.Root = filepath.Join(root, "knowledge")
			cfg.TeamsFile = filepath.Join(root, "teams.yaml")
			cfg.Logging.AuditFile = filepath.Join(root, "audit.jsonl")
			if err := cfg.Save(c.configPath); err != nil {
				return err
			}
			if err := os.MkdirAll(root, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", root, err)
			}
			if _, err := os.Stat(cfg.TeamsFile); os.IsNotExist(err) {
				if err := team.SaveDefinitions(cfg.TeamsFile, []team.Definition{}); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (teams: %s, knowledge: %s)\n", c.configPath, cfg.TeamsFile, cfg.Knowledge.Root)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", ".hivemind", "Directory for memory, knowledge and the teams file")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}

// =============================================================================
// TEAMS
// =============================================================================

func (c *cli) teamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "List registered teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openTeams(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var metas []types.AgentMetadata
			for _, agent := range a.registry.Agents() {
				meta, err := agent.Metadata(cmd.Context())
				if err != nil {
					return err
				}
				metas = append(metas, meta)
			}
			if c.jsonOut {
				return writeJSON(cmd.OutOrStdout(), metas)
			}
			if len(metas) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No teams registered.")
				return nil
			}
			t := NewTable(fmt.Sprintf("Teams (%d)", len(metas)), "Agent", "Team", "Project", "Domains", "Capabilities", "Tags")
			for _, m := range metas {
				t.AddRow(m.AgentID, m.TeamTag, m.ProjectTag,
					strings.Join(m.Domains, ", "), strings.Join(m.Capabilities, ", "), strings.Join(m.Tags, ", "))
			}
			fmt.Fprint(cmd.OutOrStdout(), t.View(defaultStyles()))
			return nil
		},
	}
	cmd.AddCommand(c.teamsAddCmd())
	return cmd
}

func (c *cli) teamsAddCmd() *cobra.Command {
	var def team.Definition

	cmd := &cobra.Command{
		Use:   "add <agent-id>",
		Short: "Add or replace a team definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def.AgentID = args[0]
			defs, err := team.LoadDefinitions(c.cfg.TeamsFile)
			if err != nil {
				return err
			}
			replaced := false
			for i := range defs {
				if defs[i].AgentID == def.AgentID {
					defs[i] = def
					replaced = true
				}
			}
			if !replaced {
				defs = append(defs, def)
			}
			if err := os.MkdirAll(filepath.Dir(c.cfg.TeamsFile), 0755); err != nil {
				return err
			}
			if err := team.SaveDefinitions(c.cfg.TeamsFile, defs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved team %s to %s\n", def.AgentID, c.cfg.TeamsFile)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&def.TeamTag, "team", "", "Team tag")
	f.StringVar(&def.ProjectTag, "project", "", "Project tag")
	f.StringSliceVar(&def.Domains, "domain", nil, "Domain (repeatable)")
	f.StringSliceVar(&def.Capabilities, "capability", nil, "Capability (repeatable)")
	f.StringSliceVar(&def.Tags, "tag", nil, "Tag (repeatable)")
	f.StringVar(&def.Context.Domain, "context-domain", "", "Working domain used when adapting patterns")
	f.StringSliceVar(&def.Context.Stack, "stack", nil, "Technology stack entry (repeatable)")
	f.StringSliceVar(&def.Context.Constraints, "constraint", nil, "Constraint (repeatable)")
	f.StringSliceVar(&def.Context.Conventions, "convention", nil, "Convention (repeatable)")
	return cmd
}

// =============================================================================
// RECORD
// =============================================================================

func (c *cli) recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Write episodes, procedures and facts into team memory",
	}
	cmd.AddCommand(
		c.recordEpisodeCmd(),
		c.recordProcedureCmd(),
		c.recordFactCmd(),
		c.recordUpdateCmd(),
		c.recordSyncCmd(),
	)
	return cmd
}

// parseFields turns key=value pairs into a content map. Numeric and boolean
// values keep their type.
func parseFields(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid field %q (want key=value)", kv)
		}
		k = strings.TrimSpace(k)
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func (c *cli) recordEpisodeCmd() *cobra.Command {
	var reward float64
	var fields []string

	cmd := &cobra.Command{
		Use:   "episode <agent-id> <kind>",
		Short: "Record an episode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := parseFields(fields)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("reward") {
				content["reward"] = reward
			}
			a, err := c.openTeams(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.team(args[0])
			if err != nil {
				return err
			}
			ep, err := t.RecordEpisode(cmd.Context(), args[1], content)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded episode %s for %s\n", ep.ID, args[0])
			return nil
		},
	}
	cmd.Flags().Float64Var(&reward, "reward", 0, "Outcome reward in [0,1]")
	cmd.Flags().StringSliceVar(&fields, "set", nil, "Content field key=value (repeatable)")
	return cmd
}

func (c *cli) recordProcedureCmd() *cobra.Command {
	var category string
	var fields []string

	cmd := &cobra.Command{
		Use:   "procedure <agent-id> <name>",
		Short: "Upsert a learned procedure",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := parseFields(fields)
			if err != nil {
				return err
			}
			def["name"] = args[1]
			if category != "" {
				def["category"] = category
			}
			a, err := c.openTeams(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.team(args[0])
			if err != nil {
				return err
			}
			proc := types.Procedure{ID: types.NormalizeIdentifier(args[1]), Definition: def}
			if err := t.Learn(cmd.Context(), []types.Procedure{proc}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved procedure %s for %s\n", proc.ID, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "Category used to group patterns")
	cmd.Flags().StringSliceVar(&fields, "set", nil, "Definition field key=value (repeatable)")
	return cmd
}

func (c *cli) recordFactCmd() *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "fact <agent-id> <label>",
		Short: "Upsert a semantic fact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := parseFields(fields)
			if err != nil {
				return err
			}
			content["label"] = args[1]
			a, err := c.openTeams(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			t, err := a.team(args[0])
			if err != nil {
				return err
			}
			fact := types.SemanticFact{ID: types.NormalizeIdentifier(args[1]), Content: content}
			if err := t.Learn(cmd.Context(), nil, []types.SemanticFact{fact}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved fact %s for %s\n", fact.ID, args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "set", nil, "Content field key=value (repeatable)")
	return cmd
}

func (c *cli) recordUpdateCmd() *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "update <agent-id>",
		Short: "Record a team status update",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update, err := parseFields(fields)
			if err != nil {
				return err
			}
			a, err := c.openTeams(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.team(args[0]); err != nil {
				return err
			}
			ep, err := a.memory.RecordTeamUpdate(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded update %s for %s\n", ep.ID, args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "set", nil, "Update field key=value (repeatable)")
	return cmd
}

func (c *cli) recordSyncCmd() *cobra.Command {
	var fields []string

	cmd := &cobra.Command{
		Use:   "sync <agent-id> <from-team>",
		Short: "Record knowledge received from another team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			knowledge, err := parseFields(fields)
			if err != nil {
				return err
			}
			a, err := c.openTeams(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if _, err := a.team(args[0]); err != nil {
				return err
			}
			ep, err := a.memory.RecordCrossTeamSync(cmd.Context(), args[0], args[1], knowledge)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded sync %s for %s\n", ep.ID, args[0])
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "set", nil, "Knowledge field key=value (repeatable)")
	return cmd
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"hivemind/internal/types"
)

// Config holds all hivemind configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Curation engine thresholds, weights and windows
	Curation CurationConfig `yaml:"curation"`

	// Per-agent memory stores
	Memory MemoryConfig `yaml:"memory"`

	// Global knowledge repository
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// YAML file describing the registered teams
	TeamsFile string `yaml:"teams_file"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "hivemind",
		Version: "0.3.0",

		Curation: CurationConfig{
			AcceptanceThreshold:  0.7,
			BeneficiaryThreshold: 0.6,
			MetaGroupSize:        3,
			SemanticWeight:       0.6,
			ProceduralWeight:     0.4,
			MinReward:            0.7,
			Workers:              4,
			DeliveryRetries:      1,
			VelocityWindow:       "1h",
			InnovationWindow:     "168h",
			Interval:             "15m",
		},

		Memory: MemoryConfig{
			Backend: "memory",
			Driver:  "sqlite",
			Dir:     ".hivemind/memory",
		},

		Knowledge: KnowledgeConfig{
			Root:        ".hivemind/knowledge",
			Project:     "default",
			Watch:       false,
			TransferLog: "transfers.jsonl",
		},

		TeamsFile: ".hivemind/teams.yaml",

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, types.ConfigurationError("Load", path, fmt.Errorf("failed to parse config: %w", err))
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Legacy knowledge root first so the namespaced variable wins
	if root := os.Getenv("AI_TEAM_KNOWLEDGE"); root != "" {
		c.Knowledge.Root = root
	}
	if root := os.Getenv("HIVEMIND_KNOWLEDGE_ROOT"); root != "" {
		c.Knowledge.Root = root
	}
	if teams := os.Getenv("HIVEMIND_TEAMS_FILE"); teams != "" {
		c.TeamsFile = teams
	}
	if project := os.Getenv("HIVEMIND_PROJECT"); project != "" {
		c.Knowledge.Project = project
	}

	if dir := os.Getenv("HIVEMIND_MEMORY_DIR"); dir != "" {
		c.Memory.Dir = dir
		if c.Memory.Backend == "" || c.Memory.Backend == "memory" {
			c.Memory.Backend = "sqlite"
		}
	}

	if w := os.Getenv("HIVEMIND_WORKERS"); w != "" {
		if n, err := strconv.Atoi(w); err == nil {
			c.Curation.Workers = n
		}
	}

	if level := os.Getenv("HIVEMIND_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetVelocityWindow returns the knowledge velocity window as a duration.
func (c *Config) GetVelocityWindow() time.Duration {
	d, err := time.ParseDuration(c.Curation.VelocityWindow)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// GetInnovationWindow returns the innovation index window as a duration.
func (c *Config) GetInnovationWindow() time.Duration {
	d, err := time.ParseDuration(c.Curation.InnovationWindow)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// GetInterval returns the periodic curation interval as a duration.
func (c *Config) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Curation.Interval)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// Validate validates the configuration. Any failure is a ConfigurationError.
func (c *Config) Validate() error {
	if err := c.Curation.Validate(); err != nil {
		return types.ConfigurationError("Validate", "curation", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return types.ConfigurationError("Validate", "memory", err)
	}
	if err := c.Knowledge.Validate(); err != nil {
		return types.ConfigurationError("Validate", "knowledge", err)
	}
	for _, d := range []struct{ name, value string }{
		{"velocity_window", c.Curation.VelocityWindow},
		{"innovation_window", c.Curation.InnovationWindow},
		{"interval", c.Curation.Interval},
	} {
		if d.value == "" {
			continue
		}
		if v, err := time.ParseDuration(d.value); err != nil || v <= 0 {
			return types.ConfigurationError("Validate", "curation", fmt.Errorf("invalid %s: %q", d.name, d.value))
		}
	}
	return nil
}

package config

import (
	"fmt"
	"path/filepath"
)

// MemoryConfig configures the per-agent memory stores.
type MemoryConfig struct {
	// Backend: "memory" (process-local maps) or "sqlite" (one file per agent)
	Backend string `yaml:"backend" json:"backend"`

	// Driver: "sqlite" (modernc, pure Go) or "sqlite3" (mattn, cgo)
	Driver string `yaml:"driver" json:"driver"`

	// Directory holding <agent>_memory.db files when Backend is "sqlite"
	Dir string `yaml:"dir" json:"dir"`
}

// Validate checks the backend and driver selection.
func (c MemoryConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "sqlite":
	default:
		return fmt.Errorf("unknown memory backend %q (valid: memory, sqlite)", c.Backend)
	}
	switch c.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unknown sqlite driver %q (valid: sqlite, sqlite3)", c.Driver)
	}
	if c.Dir == "" {
		return fmt.Errorf("memory dir required for sqlite backend")
	}
	return nil
}

// KnowledgeConfig configures the global knowledge repository.
type KnowledgeConfig struct {
	// Root directory; patterns live under <root>/patterns. Absence is not an error.
	Root string `yaml:"root" json:"root"`

	// Project tag stamped on every saved pattern
	Project string `yaml:"project" json:"project"`

	// Watch <root>/patterns and reload on change
	Watch bool `yaml:"watch" json:"watch"`

	// JSONL transfer log; relative paths resolve under Root. Empty keeps
	// transfers in memory only.
	TransferLog string `yaml:"transfer_log" json:"transfer_log"`
}

// PatternsDir returns the directory holding pattern buckets.
func (c KnowledgeConfig) PatternsDir() string {
	return filepath.Join(c.Root, "patterns")
}

// TransferLogPath returns the resolved transfer log path, or "" when disabled.
func (c KnowledgeConfig) TransferLogPath() string {
	if c.TransferLog == "" || filepath.IsAbs(c.TransferLog) {
		return c.TransferLog
	}
	return filepath.Join(c.Root, c.TransferLog)
}

// Validate checks the knowledge root settings.
func (c KnowledgeConfig) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("knowledge root required")
	}
	if c.Watch && c.Project == "" {
		return fmt.Errorf("knowledge project required when watch is enabled")
	}
	return nil
}

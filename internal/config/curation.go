package config

import (
	"fmt"
	"math"
)

// weightTolerance absorbs float noise when checking that weights sum to one.
const weightTolerance = 1e-9

// CurationConfig configures the knowledge curation engine.
type CurationConfig struct {
	AcceptanceThreshold  float64 `yaml:"acceptance_threshold" json:"acceptance_threshold"`   // Min similarity to accept a pattern (default: 0.7)
	BeneficiaryThreshold float64 `yaml:"beneficiary_threshold" json:"beneficiary_threshold"` // Min relevance to receive a pattern (default: 0.6)
	MetaGroupSize        int     `yaml:"meta_group_size" json:"meta_group_size"`             // Patterns per group before a meta-pattern forms (default: 3)
	SemanticWeight       float64 `yaml:"semantic_weight" json:"semantic_weight"`             // Weight of fact similarity (default: 0.6)
	ProceduralWeight     float64 `yaml:"procedural_weight" json:"procedural_weight"`         // Weight of procedure overlap (default: 0.4)
	MinReward            float64 `yaml:"min_reward" json:"min_reward"`                       // Episode reward floor for snapshots (default: 0.7)
	Workers              int     `yaml:"workers" json:"workers"`                             // Parallel comparisons/distributions (default: 4)
	DeliveryRetries      int     `yaml:"delivery_retries" json:"delivery_retries"`           // Retries after a failed ingestion (default: 1)
	VelocityWindow       string  `yaml:"velocity_window" json:"velocity_window"`             // Knowledge velocity window (default: 1h)
	InnovationWindow     string  `yaml:"innovation_window" json:"innovation_window"`         // Innovation index window (default: 168h)
	Interval             string  `yaml:"interval" json:"interval"`                           // Periodic cycle interval (default: 15m)
}

// Validate checks thresholds, weights and worker counts.
func (c CurationConfig) Validate() error {
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"acceptance_threshold", c.AcceptanceThreshold},
		{"beneficiary_threshold", c.BeneficiaryThreshold},
		{"semantic_weight", c.SemanticWeight},
		{"procedural_weight", c.ProceduralWeight},
		{"min_reward", c.MinReward},
	} {
		if math.IsNaN(th.value) || th.value < 0 || th.value > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", th.name, th.value)
		}
	}
	if sum := c.SemanticWeight + c.ProceduralWeight; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("semantic_weight + procedural_weight must equal 1, got %v", sum)
	}
	if c.MetaGroupSize < 2 {
		return fmt.Errorf("meta_group_size must be >= 2, got %d", c.MetaGroupSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.DeliveryRetries < 0 {
		return fmt.Errorf("delivery_retries must be >= 0, got %d", c.DeliveryRetries)
	}
	return nil
}

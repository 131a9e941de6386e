package curation

import (
	"fmt"
	"sort"
	"time"

	"hivemind/internal/metrics"
	"hivemind/internal/types"
)

// Report limits.
const (
	maxTopPatterns      = 5
	maxPriorityPatterns = 3
	maxTargetedPatterns = 5
	priorityImpact      = 0.8
)

// RecommendationType names a kind of follow-up suggestion.
type RecommendationType string

const (
	RecommendPriorityAdoption     RecommendationType = "priority_adoption"
	RecommendTargetedDistribution RecommendationType = "targeted_distribution"
)

// TopPattern is a reporting view of one pattern.
type TopPattern struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Impact   float64 `json:"impact"`
	Adoption int     `json:"adoption"`
}

// Recommendation suggests what to do with discovered patterns.
type Recommendation struct {
	Type       RecommendationType `json:"type"`
	PatternIDs []string           `json:"patterns"`
	Agents     []string           `json:"agents,omitempty"`
	Rationale  string             `json:"rationale"`
}

// Insights is the report produced by every cycle, complete or not.
type Insights struct {
	CycleID          string                 `json:"cycle_id"`
	Summary          string                 `json:"summary"`
	PatternCount     int                    `json:"pattern_count"`
	MetaPatternCount int                    `json:"meta_pattern_count"`
	TopPatterns      []TopPattern           `json:"top_patterns"`
	Recommendations  []Recommendation       `json:"recommendations"`
	Metrics          metrics.Snapshot       `json:"metrics"`
	Errors           types.ErrorSummary     `json:"errors"`
	Partial          bool                   `json:"partial"`
	States           []StateTiming          `json:"states"`
	Transfers        []types.TransferRecord `json:"transfers"`
	Patterns         []types.Pattern        `json:"patterns"`
	StartedAt        time.Time              `json:"started_at"`
	FinishedAt       time.Time              `json:"finished_at"`
}

// report builds the insights for cy. Metrics cover the whole transfer log.
func (c *Curator) report(cy *cycle) Insights {
	now := c.now()
	ranked := rankByImpact(cy.patterns)

	ins := Insights{
		CycleID:          cy.id,
		PatternCount:     len(cy.mined.Patterns),
		MetaPatternCount: len(cy.mined.MetaPatterns),
		TopPatterns:      topPatterns(ranked),
		Recommendations:  c.recommend(ranked, cy),
		Metrics:          metrics.Compute(c.deps.TransferLog.Records(), now, c.velocityWindow, c.innovationWindow),
		Errors:           cy.errs,
		Partial:          cy.partial,
		States:           cy.states,
		Transfers:        c.deps.TransferLog.Since(cy.logMark),
		Patterns:         cy.patterns,
		StartedAt:        cy.started,
		FinishedAt:       now,
	}
	ins.Summary = fmt.Sprintf("Discovered %d transferable patterns", len(cy.patterns))
	if ins.MetaPatternCount > 0 {
		ins.Summary += fmt.Sprintf(" (%d meta-patterns)", ins.MetaPatternCount)
	}
	return ins
}

// rankByImpact orders patterns by impact, highest first, ties by ID.
func rankByImpact(patterns []types.Pattern) []types.Pattern {
	out := append([]types.Pattern(nil), patterns...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Impact != out[j].Impact {
			return out[i].Impact > out[j].Impact
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func topPatterns(ranked []types.Pattern) []TopPattern {
	n := min(len(ranked), maxTopPatterns)
	out := make([]TopPattern, 0, n)
	for _, p := range ranked[:n] {
		out = append(out, TopPattern{
			ID:       p.ID,
			Name:     p.Description,
			Impact:   p.Impact,
			Adoption: len(p.Applications),
		})
	}
	return out
}

func (c *Curator) recommend(ranked []types.Pattern, cy *cycle) []Recommendation {
	var recs []Recommendation

	var priority []string
	for _, p := range ranked {
		if p.Impact > priorityImpact {
			priority = append(priority, p.ID)
		}
		if len(priority) == maxPriorityPatterns {
			break
		}
	}
	if len(priority) > 0 {
		recs = append(recs, Recommendation{
			Type:       RecommendPriorityAdoption,
			PatternIDs: priority,
			Rationale:  "High-impact patterns with proven success",
		})
	}

	n := min(len(ranked), maxTargetedPatterns)
	for _, p := range ranked[:n] {
		missing := underutilized(p, cy.agents, cy.dist.Recipients[p.ID])
		if len(missing) == 0 {
			continue
		}
		recs = append(recs, Recommendation{
			Type:       RecommendTargetedDistribution,
			PatternIDs: []string{p.ID},
			Agents:     missing,
			Rationale:  "Agents that have not adopted a proven pattern",
		})
	}
	return recs
}

// underutilized lists agents that neither produced nor received p.
func underutilized(p types.Pattern, agents []types.Agent, recipients []string) []string {
	got := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		got[r] = struct{}{}
	}
	var out []string
	for _, a := range agents {
		id := a.ID()
		if p.HasSource(id) {
			continue
		}
		if _, ok := got[id]; ok {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

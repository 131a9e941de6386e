// Package types provides shared type definitions used across hivemind packages.
// This package exists to break import cycles between store, miner, distributor and curation.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"sort"
	"strings"
	"time"
)

// =============================================================================
// MEMORY RECORDS
// =============================================================================

// Episode kinds written by the memory layer itself.
const (
	EpisodeKindTeamUpdate      = "team_update"
	EpisodeKindCrossTeamSync   = "cross_team_sync"
	EpisodeKindKnowledgeIngest = "knowledge_ingest"
)

// Episode is one observed outcome recorded by an agent. Immutable once stored.
type Episode struct {
	ID         string                 `json:"id"`
	AgentID    string                 `json:"agent_id"`
	Kind       string                 `json:"kind"`
	Content    map[string]interface{} `json:"content"`
	CreatedAt  time.Time              `json:"created_at"`
	ProjectTag string                 `json:"project_tag,omitempty"`
	TeamTag    string                 `json:"team_tag,omitempty"`
}

// Reward returns the numeric "reward" carried in the episode content.
func (e Episode) Reward() (float64, bool) {
	if e.Content == nil {
		return 0, false
	}
	return ExtractFloat64(e.Content["reward"])
}

// IngestedKey marks procedures and facts written by knowledge ingestion.
// Its value is the originating pattern ID.
const IngestedKey = "source_pattern"

// Procedure is a named, reusable behavior an agent has learned.
// Upserted by ID; the latest write wins.
type Procedure struct {
	ID         string                 `json:"id"`
	AgentID    string                 `json:"agent_id"`
	Definition map[string]interface{} `json:"definition"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Category returns the optional "category" of the procedure definition.
func (p Procedure) Category() string {
	if p.Definition == nil {
		return ""
	}
	return strings.TrimSpace(ExtractString(p.Definition["category"]))
}

// Name returns the procedure's display name, falling back to its ID.
func (p Procedure) Name() string {
	if p.Definition != nil {
		if name := ExtractString(p.Definition["name"]); name != "" {
			return name
		}
	}
	return p.ID
}

// IsIngested reports whether the procedure was delivered by another agent's
// pattern rather than learned locally.
func (p Procedure) IsIngested() bool {
	_, ok := p.Definition[IngestedKey]
	return ok
}

// SemanticFact is a labeled relationship or belief held by an agent.
type SemanticFact struct {
	ID        string                 `json:"id"`
	AgentID   string                 `json:"agent_id"`
	Content   map[string]interface{} `json:"content"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Label returns a human readable label for the fact, falling back to its ID.
func (f SemanticFact) Label() string {
	if f.Content != nil {
		for _, key := range []string{"label", "name", "statement"} {
			if v := ExtractString(f.Content[key]); v != "" {
				return v
			}
		}
	}
	return f.ID
}

// IsIngested reports whether the fact was written by knowledge ingestion.
func (f SemanticFact) IsIngested() bool {
	_, ok := f.Content[IngestedKey]
	return ok
}

// LearningSnapshot is the per-agent aggregate built fresh for each curation pass.
type LearningSnapshot struct {
	AgentID            string         `json:"agent_id"`
	HighRewardEpisodes []Episode      `json:"high_reward_episodes"`
	Procedures         []Procedure    `json:"procedures"`
	Facts              []SemanticFact `json:"facts"`
	Metadata           AgentMetadata  `json:"metadata"`
}

// IsEmpty reports whether the snapshot carries no learned material.
func (s LearningSnapshot) IsEmpty() bool {
	return len(s.HighRewardEpisodes) == 0 && len(s.Procedures) == 0 && len(s.Facts) == 0
}

// =============================================================================
// PATTERNS
// =============================================================================

// PatternKind distinguishes pairwise patterns from synthesized meta-patterns.
type PatternKind string

const (
	PatternKindCrossTeam PatternKind = "cross_team_pattern"
	PatternKindMeta      PatternKind = "meta_pattern"
)

// DefaultGroupType is used when no procedure category can be derived.
const DefaultGroupType = "general"

// Application describes one place a pattern applies, in agent-agnostic terms.
type Application struct {
	Kind        string `json:"kind" yaml:"kind"` // "procedure" or "fact"
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// PatternContext is the domain envelope attached during enrichment.
type PatternContext struct {
	Domains      []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Projects     []string `json:"projects,omitempty" yaml:"projects,omitempty"`
}

// Terms returns the normalized, de-duplicated vocabulary of the context.
func (c PatternContext) Terms() []string {
	var all []string
	all = append(all, c.Domains...)
	all = append(all, c.Capabilities...)
	all = append(all, c.Tags...)
	return NormalizeSet(all)
}

// Pattern is a candidate transferable unit of knowledge.
type Pattern struct {
	ID                  string         `json:"id" yaml:"id"`
	Kind                PatternKind    `json:"type" yaml:"type"`
	SourceAgents        []string       `json:"source_agents" yaml:"source_agents"`
	Description         string         `json:"description" yaml:"description"`
	GroupType           string         `json:"group_type" yaml:"group_type"`
	Confidence          float64        `json:"confidence" yaml:"confidence"`
	Applications        []Application  `json:"applications,omitempty" yaml:"applications,omitempty"`
	Context             PatternContext `json:"context" yaml:"context"`
	Impact              float64        `json:"impact" yaml:"impact"`
	ImplementationGuide []string       `json:"implementation_guide,omitempty" yaml:"implementation_guide,omitempty"`
	SuccessCriteria     []string       `json:"success_criteria,omitempty" yaml:"success_criteria,omitempty"`
	DerivedFrom         []string       `json:"derived_from,omitempty" yaml:"derived_from,omitempty"`
	Procedures          []string       `json:"procedures,omitempty" yaml:"procedures,omitempty"`
	Facts               []string       `json:"facts,omitempty" yaml:"facts,omitempty"`
}

// IsMeta reports whether the pattern was synthesized from a pattern group.
func (p Pattern) IsMeta() bool {
	return p.Kind == PatternKindMeta
}

// HasSource reports whether agentID contributed to the pattern.
func (p Pattern) HasSource(agentID string) bool {
	for _, a := range p.SourceAgents {
		if a == agentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so adaptation never touches the shared pattern.
func (p Pattern) Clone() Pattern {
	c := p
	c.SourceAgents = cloneStrings(p.SourceAgents)
	if p.Applications != nil {
		c.Applications = append([]Application(nil), p.Applications...)
	}
	c.Context = PatternContext{
		Domains:      cloneStrings(p.Context.Domains),
		Capabilities: cloneStrings(p.Context.Capabilities),
		Tags:         cloneStrings(p.Context.Tags),
		Projects:     cloneStrings(p.Context.Projects),
	}
	c.ImplementationGuide = cloneStrings(p.ImplementationGuide)
	c.SuccessCriteria = cloneStrings(p.SuccessCriteria)
	c.DerivedFrom = cloneStrings(p.DerivedFrom)
	c.Procedures = cloneStrings(p.Procedures)
	c.Facts = cloneStrings(p.Facts)
	return c
}

// AdaptedPattern is a recipient-specific copy of a pattern.
type AdaptedPattern struct {
	Pattern        Pattern  `json:"pattern"`
	Recipient      string   `json:"recipient"`
	Implementation string   `json:"implementation"`
	Examples       []string `json:"examples,omitempty"`
	Constraints    []string `json:"constraints,omitempty"`
}

// =============================================================================
// TRANSFERS AND GLOBAL KNOWLEDGE
// =============================================================================

// TransferStatus is the outcome of one delivery attempt.
type TransferStatus string

const (
	TransferStatusTransferred TransferStatus = "transferred"
	TransferStatusRejected    TransferStatus = "rejected"
)

// TransferRecord is an append-only audit entry for one delivery of a pattern.
type TransferRecord struct {
	PatternID       string         `json:"pattern_id"`
	FromAgents      []string       `json:"from_agents"`
	ToAgent         string         `json:"to_agent"`
	TimestampMillis int64          `json:"timestamp"`
	Status          TransferStatus `json:"status"`
	Attempts        int            `json:"attempts"`
	Error           string         `json:"error,omitempty"`
}

// GlobalKnowledgeEntry is a persisted pattern plus its usage bookkeeping.
// The pattern fields are flattened so entries stay readable as plain pattern records.
type GlobalKnowledgeEntry struct {
	Pattern           `yaml:",inline"`
	GlobalUsageCount  int       `json:"global_usage" yaml:"global_usage"`
	SuccessRate       float64   `json:"success_rate" yaml:"success_rate"`
	LastUpdatedMillis int64     `json:"last_updated" yaml:"last_updated"`
	Project           string    `json:"project,omitempty" yaml:"project,omitempty"`
	SavedAt           time.Time `json:"timestamp" yaml:"timestamp"`
}

// =============================================================================
// HELPERS
// =============================================================================

// NormalizeIdentifier lowercases and collapses separators so that
// "Retry With Backoff", "retry_with_backoff" and "retry-with-backoff" match.
func NormalizeIdentifier(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	var sb strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '/':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && sb.Len() > 0 {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

// NormalizeSet normalizes, de-duplicates and sorts identifiers.
func NormalizeSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		n := NormalizeIdentifier(item)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SortedUnique returns a sorted copy of items without duplicates or empties.
func SortedUnique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

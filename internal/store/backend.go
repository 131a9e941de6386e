// Package store implements per-agent memory for hivemind.
// Each agent owns an append-only episode log plus upserted procedures and
// semantic facts. The Memory facade fronts a durable Backend and serializes
// writes per agent.
package store

import (
	"context"

	"hivemind/internal/types"
)

// Backend is the durable storage behind Memory. Implementations must be
// safe for concurrent use; Memory only guarantees that writes for one agent
// never overlap.
type Backend interface {
	// AppendEpisode durably appends an episode. Duplicate IDs are an error.
	AppendEpisode(ctx context.Context, ep types.Episode) error

	// HighRewardEpisodes returns every episode for agentID whose reward exceeds minReward.
	// Episodes without a numeric reward never qualify.
	HighRewardEpisodes(ctx context.Context, agentID string, minReward float64) ([]types.Episode, error)

	// TeamEpisodes returns episodes tagged with teamTag across all agents.
	TeamEpisodes(ctx context.Context, teamTag string) ([]types.Episode, error)

	// UpsertProcedures replaces known IDs in place and appends unseen ones.
	UpsertProcedures(ctx context.Context, agentID string, procs []types.Procedure) error
	Procedures(ctx context.Context, agentID string) ([]types.Procedure, error)

	// UpsertFacts has the same semantics as UpsertProcedures.
	UpsertFacts(ctx context.Context, agentID string, facts []types.SemanticFact) error
	Facts(ctx context.Context, agentID string) ([]types.SemanticFact, error)

	// ApplyIngest writes a knowledge ingestion atomically: either every
	// record lands or none does.
	ApplyIngest(ctx context.Context, batch IngestBatch) error

	// Agents lists the agent IDs with stored data.
	Agents(ctx context.Context) ([]string, error)

	Close() error
}

// IngestBatch is the set of records written when a pattern is delivered.
type IngestBatch struct {
	AgentID   string
	Procedure types.Procedure
	Fact      types.SemanticFact
	Episode   types.Episode
}

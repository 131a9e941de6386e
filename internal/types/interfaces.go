package types

import (
	"context"
)

// Agent is the handle the curation core uses to reach a team.
// The core never assumes how the agent reasons or acts.
type Agent interface {
	ID() string
	Metadata(ctx context.Context) (AgentMetadata, error)
	Context(ctx context.Context) (AgentContext, error)
	// IngestKnowledge writes an adapted pattern into the agent's memory.
	// A non-nil error means nothing was written.
	IngestKnowledge(ctx context.Context, adapted AdaptedPattern) error
}

// SnapshotSource builds learning snapshots for registered agents.
type SnapshotSource interface {
	Snapshot(ctx context.Context, agent Agent, minReward float64) (LearningSnapshot, error)
}

// TransferRecorder receives transfer records as deliveries complete.
type TransferRecorder interface {
	Append(rec TransferRecord) TransferRecord
}

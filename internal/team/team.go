// Package team provides the default agent handle backed by the shared
// memory layer, a registry of handles, and YAML team definitions.
package team

import (
	"context"
	"fmt"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Agent is the handle the curation core uses to reach a team.
type Agent = types.Agent

// Team is an Agent whose memory lives in a store.Memory.
type Team struct {
	meta   types.AgentMetadata
	actx   types.AgentContext
	memory *store.Memory
}

// New creates a team handle and registers its tags with memory so its
// episodes are partitioned by team and project.
func New(memory *store.Memory, meta types.AgentMetadata, actx types.AgentContext) (*Team, error) {
	if meta.AgentID == "" {
		return nil, types.ValidationError("team.New", "", fmt.Errorf("agent id required"))
	}
	if memory == nil {
		return nil, types.ConfigurationError("team.New", meta.AgentID, fmt.Errorf("memory required"))
	}
	actx.AgentID = meta.AgentID
	memory.Register(meta)
	logging.Get(logging.CategoryTeam).Debug("Registered team handle %s (team=%s project=%s)", meta.AgentID, meta.TeamTag, meta.ProjectTag)
	return &Team{meta: meta, actx: actx, memory: memory}, nil
}

// ID implements Agent.
func (t *Team) ID() string { return t.meta.AgentID }

// Metadata implements Agent.
func (t *Team) Metadata(ctx context.Context) (types.AgentMetadata, error) {
	if err := ctx.Err(); err != nil {
		return types.AgentMetadata{}, err
	}
	return t.meta, nil
}

// Context implements Agent.
func (t *Team) Context(ctx context.Context) (types.AgentContext, error) {
	if err := ctx.Err(); err != nil {
		return types.AgentContext{}, err
	}
	return t.actx, nil
}

// IngestKnowledge writes the adapted pattern into this team's memory.
func (t *Team) IngestKnowledge(ctx context.Context, adapted types.AdaptedPattern) error {
	if adapted.Recipient != "" && adapted.Recipient != t.meta.AgentID {
		return types.ValidationError("IngestKnowledge", t.meta.AgentID,
			fmt.Errorf("pattern adapted for %s", adapted.Recipient))
	}
	adapted.Recipient = t.meta.AgentID

	start := time.Now()
	err := t.memory.Ingest(ctx, adapted)
	event := logging.AuditEvent{
		EventType:  logging.AuditMemoryIngest,
		Category:   string(logging.CategoryTeam),
		AgentID:    t.meta.AgentID,
		PatternID:  adapted.Pattern.ID,
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
		logging.Get(logging.CategoryTeam).Error("Failed to ingest %s into %s: %v", adapted.Pattern.ID, t.meta.AgentID, err)
	}
	logging.Audit().Log(event)
	return err
}

// RecordEpisode appends an episode to this team's memory.
func (t *Team) RecordEpisode(ctx context.Context, kind string, content map[string]interface{}) (types.Episode, error) {
	return t.memory.RecordEpisode(ctx, t.meta.AgentID, kind, content)
}

// Learn upserts locally learned procedures and facts.
func (t *Team) Learn(ctx context.Context, procs []types.Procedure, facts []types.SemanticFact) error {
	if len(procs) > 0 {
		if err := t.memory.UpsertProcedures(ctx, t.meta.AgentID, procs); err != nil {
			return err
		}
	}
	if len(facts) > 0 {
		if err := t.memory.UpsertFacts(ctx, t.meta.AgentID, facts); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// MemorySnapshots builds snapshots from a store.Memory for any Agent.
type MemorySnapshots struct {
	Memory *store.Memory
}

// Snapshot implements types.SnapshotSource.
func (s MemorySnapshots) Snapshot(ctx context.Context, agent Agent, minReward float64) (types.LearningSnapshot, error) {
	meta, err := agent.Metadata(ctx)
	if err != nil {
		return types.LearningSnapshot{}, types.StorageError("Snapshot", agent.ID(), fmt.Errorf("failed to read metadata: %w", err))
	}
	if meta.AgentID == "" {
		meta.AgentID = agent.ID()
	}
	return s.Memory.Snapshot(ctx, meta, minReward)
}

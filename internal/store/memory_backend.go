package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hivemind/internal/types"
)

// agentRecords is one agent's slice of the in-process backend.
type agentRecords struct {
	episodes   []types.Episode
	episodeIDs map[string]struct{}
	procedures []types.Procedure
	procIndex  map[string]int
	facts      []types.SemanticFact
	factIndex  map[string]int
}

func newAgentRecords() *agentRecords {
	return &agentRecords{
		episodeIDs: make(map[string]struct{}),
		procIndex:  make(map[string]int),
		factIndex:  make(map[string]int),
	}
}

// MemoryBackend keeps all records in mutex-guarded maps. Nothing survives
// the process; use it for tests and ephemeral curators.
type MemoryBackend struct {
	mu     sync.RWMutex
	agents map[string]*agentRecords
	closed bool
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{agents: make(map[string]*agentRecords)}
}

// records returns the agent's records, creating them when create is set.
// Callers must hold b.mu (write lock when create is set).
func (b *MemoryBackend) records(agentID string, create bool) *agentRecords {
	r, ok := b.agents[agentID]
	if !ok && create {
		r = newAgentRecords()
		b.agents[agentID] = r
	}
	return r
}

func (b *MemoryBackend) checkOpen() error {
	if b.closed {
		return fmt.Errorf("memory backend closed")
	}
	return nil
}

// AppendEpisode appends ep to its agent's log.
func (b *MemoryBackend) AppendEpisode(ctx context.Context, ep types.Episode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.appendEpisodeLocked(ep)
}

func (b *MemoryBackend) appendEpisodeLocked(ep types.Episode) error {
	r := b.records(ep.AgentID, true)
	if _, dup := r.episodeIDs[ep.ID]; dup {
		return fmt.Errorf("duplicate episode id %s", ep.ID)
	}
	ep.Content = copyPayload(ep.Content)
	r.episodes = append(r.episodes, ep)
	r.episodeIDs[ep.ID] = struct{}{}
	return nil
}

// HighRewardEpisodes filters the agent's log by reward.
func (b *MemoryBackend) HighRewardEpisodes(ctx context.Context, agentID string, minReward float64) ([]types.Episode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	r := b.records(agentID, false)
	if r == nil {
		return nil, nil
	}
	var out []types.Episode
	for _, ep := range r.episodes {
		if reward, ok := ep.Reward(); ok && reward > minReward {
			ep.Content = copyPayload(ep.Content)
			out = append(out, ep)
		}
	}
	return out, nil
}

// TeamEpisodes scans every agent for episodes carrying teamTag.
func (b *MemoryBackend) TeamEpisodes(ctx context.Context, teamTag string) ([]types.Episode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var out []types.Episode
	for _, id := range b.sortedAgentsLocked() {
		for _, ep := range b.agents[id].episodes {
			if ep.TeamTag == teamTag {
				ep.Content = copyPayload(ep.Content)
				out = append(out, ep)
			}
		}
	}
	return out, nil
}

// UpsertProcedures replaces by ID, preserving the position of existing entries.
func (b *MemoryBackend) UpsertProcedures(ctx context.Context, agentID string, procs []types.Procedure) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.upsertProceduresLocked(agentID, procs)
	return nil
}

func (b *MemoryBackend) upsertProceduresLocked(agentID string, procs []types.Procedure) {
	r := b.records(agentID, true)
	for _, p := range procs {
		p.AgentID = agentID
		p.Definition = copyPayload(p.Definition)
		if i, ok := r.procIndex[p.ID]; ok {
			r.procedures[i] = p
			continue
		}
		r.procIndex[p.ID] = len(r.procedures)
		r.procedures = append(r.procedures, p)
	}
}

// Procedures returns the agent's procedures in storage order.
func (b *MemoryBackend) Procedures(ctx context.Context, agentID string) ([]types.Procedure, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	r := b.records(agentID, false)
	if r == nil {
		return nil, nil
	}
	out := make([]types.Procedure, len(r.procedures))
	for i, p := range r.procedures {
		p.Definition = copyPayload(p.Definition)
		out[i] = p
	}
	return out, nil
}

// UpsertFacts replaces by ID, preserving the position of existing entries.
func (b *MemoryBackend) UpsertFacts(ctx context.Context, agentID string, facts []types.SemanticFact) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.upsertFactsLocked(agentID, facts)
	return nil
}

func (b *MemoryBackend) upsertFactsLocked(agentID string, facts []types.SemanticFact) {
	r := b.records(agentID, true)
	for _, f := range facts {
		f.AgentID = agentID
		f.Content = copyPayload(f.Content)
		if i, ok := r.factIndex[f.ID]; ok {
			r.facts[i] = f
			continue
		}
		r.factIndex[f.ID] = len(r.facts)
		r.facts = append(r.facts, f)
	}
}

// Facts returns the agent's facts in storage order.
func (b *MemoryBackend) Facts(ctx context.Context, agentID string) ([]types.SemanticFact, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	r := b.records(agentID, false)
	if r == nil {
		return nil, nil
	}
	out := make([]types.SemanticFact, len(r.facts))
	for i, f := range r.facts {
		f.Content = copyPayload(f.Content)
		out[i] = f
	}
	return out, nil
}

// ApplyIngest writes the batch under one lock acquisition.
func (b *MemoryBackend) ApplyIngest(ctx context.Context, batch IngestBatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkOpen(); err != nil {
		return err
	}
	r := b.records(batch.AgentID, true)
	if _, dup := r.episodeIDs[batch.Episode.ID]; dup {
		return fmt.Errorf("duplicate episode id %s", batch.Episode.ID)
	}
	b.upsertProceduresLocked(batch.AgentID, []types.Procedure{batch.Procedure})
	b.upsertFactsLocked(batch.AgentID, []types.SemanticFact{batch.Fact})
	return b.appendEpisodeLocked(batch.Episode)
}

// Agents lists agent IDs in sorted order.
func (b *MemoryBackend) Agents(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return b.sortedAgentsLocked(), nil
}

func (b *MemoryBackend) sortedAgentsLocked() []string {
	ids := make([]string, 0, len(b.agents))
	for id := range b.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close marks the backend closed; later calls fail.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// copyPayload makes a shallow copy so callers cannot mutate stored records.
func copyPayload(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

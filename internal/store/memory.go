package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// DefaultMinReward is the reward floor used when building snapshots.
const DefaultMinReward = 0.7

// Memory is the per-agent memory layer. Writes for one agent are serialized
// by that agent's lock; the agent's own write path and knowledge ingestion
// share it.
type Memory struct {
	backend Backend
	project string
	now     func() time.Time

	seq atomic.Uint64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	tagsMu sync.RWMutex
	tags   map[string]types.AgentMetadata
}

// Option configures a Memory.
type Option func(*Memory)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// WithProject sets the project tag stamped on episodes of unregistered agents.
func WithProject(project string) Option {
	return func(m *Memory) { m.project = project }
}

// New creates a Memory over backend.
func New(backend Backend, opts ...Option) *Memory {
	m := &Memory{
		backend: backend,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
		tags:    make(map[string]types.AgentMetadata),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open builds a Memory from the memory config section.
func Open(cfg config.MemoryConfig, project string) (*Memory, error) {
	switch cfg.Backend {
	case "", "memory":
		logging.Store("Using in-process memory backend")
		return New(NewMemoryBackend(), WithProject(project)), nil
	case "sqlite":
		b, err := NewSQLiteBackend(cfg.Dir, cfg.Driver)
		if err != nil {
			return nil, types.StorageError("Open", cfg.Dir, err)
		}
		return New(b, WithProject(project)), nil
	default:
		return nil, types.ConfigurationError("Open", "memory", fmt.Errorf("unknown memory backend %q", cfg.Backend))
	}
}

// Close releases the backend.
func (m *Memory) Close() error {
	return m.backend.Close()
}

// Register records an agent's team and project tags so its episodes are
// partitioned correctly.
func (m *Memory) Register(meta types.AgentMetadata) {
	m.tagsMu.Lock()
	defer m.tagsMu.Unlock()
	m.tags[meta.AgentID] = meta
}

func (m *Memory) tagsFor(agentID string) (team, project string) {
	m.tagsMu.RLock()
	meta, ok := m.tags[agentID]
	m.tagsMu.RUnlock()
	team, project = agentID, m.project
	if ok {
		if meta.TeamTag != "" {
			team = meta.TeamTag
		}
		if meta.ProjectTag != "" {
			project = meta.ProjectTag
		}
	}
	return team, project
}

// lockFor returns the write lock for one agent.
func (m *Memory) lockFor(agentID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[agentID] = l
	}
	return l
}

// nextEpisodeID combines kind, wall-clock millis and a per-store counter so
// IDs stay unique under parallel writers and across restarts.
func (m *Memory) nextEpisodeID(kind string, at time.Time) string {
	n := m.seq.Add(1)
	return fmt.Sprintf("%s_%d_%d", kind, at.UnixMilli(), n)
}

func validateAgent(op, agentID string) error {
	if strings.TrimSpace(agentID) == "" {
		return types.ValidationError(op, "", fmt.Errorf("agent id required"))
	}
	return nil
}

// =============================================================================
// EPISODES
// =============================================================================

// RecordEpisode assigns an ID and timestamp, appends the episode durably and
// returns the stored value.
func (m *Memory) RecordEpisode(ctx context.Context, agentID, kind string, content map[string]interface{}) (types.Episode, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Memory.RecordEpisode")
	defer timer.Stop()

	if err := validateAgent("RecordEpisode", agentID); err != nil {
		return types.Episode{}, err
	}
	if kind == "" {
		kind = "episode"
	}

	lock := m.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	now := m.now().UTC()
	team, project := m.tagsFor(agentID)
	ep := types.Episode{
		ID:         m.nextEpisodeID(kind, now),
		AgentID:    agentID,
		Kind:       kind,
		Content:    copyPayload(content),
		CreatedAt:  now,
		ProjectTag: project,
		TeamTag:    team,
	}
	if err := m.backend.AppendEpisode(ctx, ep); err != nil {
		return types.Episode{}, types.StorageError("RecordEpisode", agentID, err)
	}
	logging.StoreDebug("Recorded episode %s for agent=%s", ep.ID, agentID)
	return ep, nil
}

// RecordTeamUpdate stores a team_update episode for agentID.
func (m *Memory) RecordTeamUpdate(ctx context.Context, agentID string, update map[string]interface{}) (types.Episode, error) {
	team, _ := m.tagsFor(agentID)
	return m.RecordEpisode(ctx, agentID, types.EpisodeKindTeamUpdate, map[string]interface{}{
		"team":      team,
		"update":    update,
		"timestamp": m.now().UTC().Format(time.RFC3339Nano),
	})
}

// RecordCrossTeamSync stores knowledge received from another team.
func (m *Memory) RecordCrossTeamSync(ctx context.Context, agentID, fromTeam string, knowledge map[string]interface{}) (types.Episode, error) {
	team, _ := m.tagsFor(agentID)
	return m.RecordEpisode(ctx, agentID, types.EpisodeKindCrossTeamSync, map[string]interface{}{
		"from_team": fromTeam,
		"to_team":   team,
		"knowledge": knowledge,
		"timestamp": m.now().UTC().Format(time.RFC3339Nano),
	})
}

// QueryHighRewardEpisodes returns the agent's episodes with reward strictly
// above minReward. No qualifying episodes is an empty result, not an error.
func (m *Memory) QueryHighRewardEpisodes(ctx context.Context, agentID string, minReward float64) ([]types.Episode, error) {
	eps, err := m.backend.HighRewardEpisodes(ctx, agentID, minReward)
	if err != nil {
		return nil, types.StorageError("QueryHighRewardEpisodes", agentID, err)
	}
	return eps, nil
}

// QueryTeamEpisodes returns episodes tagged with teamTag only.
func (m *Memory) QueryTeamEpisodes(ctx context.Context, teamTag string) ([]types.Episode, error) {
	eps, err := m.backend.TeamEpisodes(ctx, teamTag)
	if err != nil {
		return nil, types.StorageError("QueryTeamEpisodes", teamTag, err)
	}
	return eps, nil
}

// =============================================================================
// PROCEDURES AND FACTS
// =============================================================================

// QueryProcedures returns every procedure owned by agentID.
func (m *Memory) QueryProcedures(ctx context.Context, agentID string) ([]types.Procedure, error) {
	procs, err := m.backend.Procedures(ctx, agentID)
	if err != nil {
		return nil, types.StorageError("QueryProcedures", agentID, err)
	}
	return procs, nil
}

// QueryFacts returns every semantic fact owned by agentID.
func (m *Memory) QueryFacts(ctx context.Context, agentID string) ([]types.SemanticFact, error) {
	facts, err := m.backend.Facts(ctx, agentID)
	if err != nil {
		return nil, types.StorageError("QueryFacts", agentID, err)
	}
	return facts, nil
}

// UpsertProcedures replaces procedures by ID and inserts unseen ones.
// Storage order of untouched IDs is preserved.
func (m *Memory) UpsertProcedures(ctx context.Context, agentID string, procs []types.Procedure) error {
	if err := validateAgent("UpsertProcedures", agentID); err != nil {
		return err
	}
	now := m.now().UTC()
	stamped := make([]types.Procedure, 0, len(procs))
	for _, p := range procs {
		if p.ID == "" {
			return types.ValidationError("UpsertProcedures", agentID, fmt.Errorf("procedure id required"))
		}
		p.AgentID = agentID
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
		stamped = append(stamped, p)
	}

	lock := m.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.backend.UpsertProcedures(ctx, agentID, stamped); err != nil {
		return types.StorageError("UpsertProcedures", agentID, err)
	}
	return nil
}

// UpsertFacts replaces facts by ID and inserts unseen ones.
func (m *Memory) UpsertFacts(ctx context.Context, agentID string, facts []types.SemanticFact) error {
	if err := validateAgent("UpsertFacts", agentID); err != nil {
		return err
	}
	now := m.now().UTC()
	stamped := make([]types.SemanticFact, 0, len(facts))
	for _, f := range facts {
		if f.ID == "" {
			return types.ValidationError("UpsertFacts", agentID, fmt.Errorf("fact id required"))
		}
		f.AgentID = agentID
		if f.UpdatedAt.IsZero() {
			f.UpdatedAt = now
		}
		stamped = append(stamped, f)
	}

	lock := m.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.backend.UpsertFacts(ctx, agentID, stamped); err != nil {
		return types.StorageError("UpsertFacts", agentID, err)
	}
	return nil
}

// =============================================================================
// KNOWLEDGE INGESTION
// =============================================================================

// IngestedID is the procedure/fact ID under which a delivered pattern is stored.
func IngestedID(patternID string) string {
	return "pattern:" + patternID
}

// Ingest writes an adapted pattern into the recipient's memory as one
// procedure, one fact and one knowledge_ingest episode. The three records
// land together or not at all.
func (m *Memory) Ingest(ctx context.Context, adapted types.AdaptedPattern) error {
	timer := logging.StartTimer(logging.CategoryStore, "Memory.Ingest")
	defer timer.Stop()

	agentID := adapted.Recipient
	if err := validateAgent("Ingest", agentID); err != nil {
		return err
	}
	p := adapted.Pattern
	if p.ID == "" {
		return types.ValidationError("Ingest", agentID, fmt.Errorf("pattern id required"))
	}

	lock := m.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	now := m.now().UTC()
	team, project := m.tagsFor(agentID)
	id := IngestedID(p.ID)
	batch := IngestBatch{
		AgentID: agentID,
		Procedure: types.Procedure{
			ID:      id,
			AgentID: agentID,
			Definition: map[string]interface{}{
				"name":            p.Description,
				"category":        p.GroupType,
				"implementation":  adapted.Implementation,
				"examples":        stringsToAny(adapted.Examples),
				"constraints":     stringsToAny(adapted.Constraints),
				"steps":           stringsToAny(p.ImplementationGuide),
				"procedures":      stringsToAny(p.Procedures),
				types.IngestedKey: p.ID,
			},
			UpdatedAt: now,
		},
		Fact: types.SemanticFact{
			ID:      id,
			AgentID: agentID,
			Content: map[string]interface{}{
				"label":           p.Description,
				"confidence":      p.Confidence,
				"impact":          p.Impact,
				"source_agents":   stringsToAny(p.SourceAgents),
				"facts":           stringsToAny(p.Facts),
				types.IngestedKey: p.ID,
			},
			UpdatedAt: now,
		},
		Episode: types.Episode{
			ID:      m.nextEpisodeID(types.EpisodeKindKnowledgeIngest, now),
			AgentID: agentID,
			Kind:    types.EpisodeKindKnowledgeIngest,
			Content: map[string]interface{}{
				"pattern_id":  p.ID,
				"from_agents": stringsToAny(p.SourceAgents),
				"group_type":  p.GroupType,
			},
			CreatedAt:  now,
			ProjectTag: project,
			TeamTag:    team,
		},
	}
	if err := m.backend.ApplyIngest(ctx, batch); err != nil {
		return types.StorageError("Ingest", agentID, err)
	}
	logging.Store("Ingested pattern %s into agent=%s", p.ID, agentID)
	return nil
}

// stringsToAny keeps payloads JSON-shaped so both backends return the same values.
func stringsToAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// Agents lists every agent known to the backend or registered in-process.
func (m *Memory) Agents(ctx context.Context) ([]string, error) {
	ids, err := m.backend.Agents(ctx)
	if err != nil {
		return nil, types.StorageError("Agents", "", err)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	m.tagsMu.RLock()
	for id := range m.tags {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	m.tagsMu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Snapshot builds the learning snapshot for one agent.
func (m *Memory) Snapshot(ctx context.Context, meta types.AgentMetadata, minReward float64) (types.LearningSnapshot, error) {
	agentID := meta.AgentID
	eps, err := m.QueryHighRewardEpisodes(ctx, agentID, minReward)
	if err != nil {
		return types.LearningSnapshot{}, err
	}
	procs, err := m.QueryProcedures(ctx, agentID)
	if err != nil {
		return types.LearningSnapshot{}, err
	}
	facts, err := m.QueryFacts(ctx, agentID)
	if err != nil {
		return types.LearningSnapshot{}, err
	}
	return types.LearningSnapshot{
		AgentID:            agentID,
		HighRewardEpisodes: eps,
		Procedures:         procs,
		Facts:              facts,
		Metadata:           meta,
	}, nil
}

package team

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/store"
	"hivemind/internal/types"
)

func newMemory(t *testing.T) *store.Memory {
	t.Helper()
	m := store.New(store.NewMemoryBackend(), store.WithProject("shop"))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestTeamIngestKnowledgeWritesMemory(t *testing.T) {
	mem := newMemory(t)
	ctx := context.Background()
	tm, err := New(mem, types.AgentMetadata{AgentID: "web", TeamTag: "frontend"}, types.AgentContext{Domain: "ui"})
	require.NoError(t, err)

	adapted := types.AdaptedPattern{
		Pattern:        types.Pattern{ID: "p1", Description: "retry with backoff", GroupType: "error-recovery", SourceAgents: []string{"a", "b"}},
		Recipient:      "web",
		Implementation: "wrap fetch",
	}
	require.NoError(t, tm.IngestKnowledge(ctx, adapted))

	procs, err := mem.QueryProcedures(ctx, "web")
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, store.IngestedID("p1"), procs[0].ID)
	assert.True(t, procs[0].IsIngested())
	assert.Equal(t, "error-recovery", procs[0].Category())

	facts, err := mem.QueryFacts(ctx, "web")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.True(t, facts[0].IsIngested())

	eps, err := mem.QueryTeamEpisodes(ctx, "frontend")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, types.EpisodeKindKnowledgeIngest, eps[0].Kind)
}

func TestTeamRejectsForeignRecipient(t *testing.T) {
	tm, err := New(newMemory(t), types.AgentMetadata{AgentID: "web"}, types.AgentContext{})
	require.NoError(t, err)

	err = tm.IngestKnowledge(context.Background(), types.AdaptedPattern{Pattern: types.Pattern{ID: "p"}, Recipient: "api"})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindValidation))
}

func TestTeamMetadataAndContext(t *testing.T) {
	meta := types.AgentMetadata{AgentID: "api", Domains: []string{"payments"}}
	tm, err := New(newMemory(t), meta, types.AgentContext{Stack: []string{"go"}})
	require.NoError(t, err)

	got, err := tm.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	actx, err := tm.Context(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "api", actx.AgentID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tm.Metadata(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewValidation(t *testing.T) {
	_, err := New(newMemory(t), types.AgentMetadata{}, types.AgentContext{})
	assert.True(t, types.IsKind(err, types.ErrorKindValidation))

	_, err = New(nil, types.AgentMetadata{AgentID: "x"}, types.AgentContext{})
	assert.True(t, types.IsKind(err, types.ErrorKindConfiguration))
}

func TestRegistry(t *testing.T) {
	mem := newMemory(t)
	reg := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		tm, err := New(mem, types.AgentMetadata{AgentID: id}, types.AgentContext{})
		require.NoError(t, err)
		require.NoError(t, reg.Register(tm))
	}
	dup, _ := New(mem, types.AgentMetadata{AgentID: "a"}, types.AgentContext{})
	assert.Error(t, reg.Register(dup))

	var ids []string
	for _, a := range reg.Agents() {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	reg.Remove("b")
	_, ok := reg.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, reg.Len())
}

func TestDefinitionsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teams.yaml")
	defs := []Definition{
		{
			AgentMetadata: types.AgentMetadata{AgentID: "api", TeamTag: "backend", ProjectTag: "shop", Domains: []string{"payments"}},
			Context:       types.AgentContext{Domain: "payments", Stack: []string{"go"}, Constraints: []string{"pci"}},
		},
		{AgentMetadata: types.AgentMetadata{AgentID: "web", Capabilities: []string{"retry"}}},
	}
	require.NoError(t, SaveDefinitions(path, defs))

	loaded, err := LoadDefinitions(path)
	require.NoError(t, err)
	if diff := cmp.Diff(defs, loaded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("definitions mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefinitionsErrors(t *testing.T) {
	dir := t.TempDir()

	defs, err := LoadDefinitions(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, defs)

	dupPath := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dupPath, []byte("teams:\n  - agent_id: a\n  - agent_id: a\n"), 0644))
	_, err = LoadDefinitions(dupPath)
	assert.True(t, types.IsKind(err, types.ErrorKindConfiguration))

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("teams: [\n"), 0644))
	_, err = LoadDefinitions(badPath)
	assert.True(t, types.IsKind(err, types.ErrorKindConfiguration))
}

func TestBuildIncludesUndefinedAgents(t *testing.T) {
	mem := newMemory(t)
	defs := []Definition{{AgentMetadata: types.AgentMetadata{AgentID: "api", TeamTag: "backend"}}}

	reg, err := Build(mem, defs, []string{"api", "legacy"})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	legacy, ok := reg.Get("legacy")
	require.True(t, ok)
	meta, err := legacy.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "legacy", meta.AgentID)
}

func TestMemorySnapshots(t *testing.T) {
	mem := newMemory(t)
	ctx := context.Background()
	tm, err := New(mem, types.AgentMetadata{AgentID: "api", Domains: []string{"payments"}}, types.AgentContext{})
	require.NoError(t, err)

	_, err = tm.RecordEpisode(ctx, "task", map[string]interface{}{"reward": 0.9})
	require.NoError(t, err)
	_, err = tm.RecordEpisode(ctx, "task", map[string]interface{}{"reward": 0.2})
	require.NoError(t, err)
	require.NoError(t, tm.Learn(ctx,
		[]types.Procedure{{ID: "retry", Definition: map[string]interface{}{"name": "retry"}}},
		[]types.SemanticFact{{ID: "f", Content: map[string]interface{}{"label": "idempotency"}}},
	))

	snap, err := MemorySnapshots{Memory: mem}.Snapshot(ctx, tm, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "api", snap.AgentID)
	assert.Len(t, snap.HighRewardEpisodes, 1)
	assert.Len(t, snap.Procedures, 1)
	assert.Len(t, snap.Facts, 1)
	assert.Equal(t, []string{"payments"}, snap.Metadata.Domains)
}

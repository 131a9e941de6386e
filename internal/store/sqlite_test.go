package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/types"
)

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewSQLiteBackend(dir, DriverModernc)
	require.NoError(t, err)
	m := New(b)
	_, err = m.RecordEpisode(ctx, "team/alpha", "task", map[string]interface{}{"reward": 0.95})
	require.NoError(t, err)
	require.NoError(t, m.UpsertProcedures(ctx, "team/alpha", []types.Procedure{{ID: "p1", Definition: map[string]interface{}{"category": "ops"}}}))
	require.NoError(t, m.Close())

	reopened, err := NewSQLiteBackend(dir, DriverModernc)
	require.NoError(t, err)
	defer reopened.Close()

	agents, err := reopened.Agents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"team/alpha"}, agents)

	eps, err := reopened.HighRewardEpisodes(ctx, "team/alpha", 0.9)
	require.NoError(t, err)
	require.Len(t, eps, 1)

	procs, err := reopened.Procedures(ctx, "team/alpha")
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "ops", procs[0].Category())
}

func TestSQLiteBackendReadsDoNotCreateFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := NewSQLiteBackend(dir, DriverModernc)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Procedures(context.Background(), "nobody")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, fileName("nobody")))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSQLiteBackendRejectsDuplicateEpisode(t *testing.T) {
	b, err := NewSQLiteBackend(t.TempDir(), DriverModernc)
	require.NoError(t, err)
	defer b.Close()

	ep := types.Episode{ID: "dup", AgentID: "a", Kind: "task"}
	require.NoError(t, b.AppendEpisode(context.Background(), ep))
	assert.Error(t, b.AppendEpisode(context.Background(), ep))
}

func TestSQLiteBackendIngestIsAtomic(t *testing.T) {
	b, err := NewSQLiteBackend(t.TempDir(), DriverModernc)
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.AppendEpisode(ctx, types.Episode{ID: "taken", AgentID: "a", Kind: "task"}))

	err = b.ApplyIngest(ctx, IngestBatch{
		AgentID:   "a",
		Procedure: types.Procedure{ID: "pattern:x", Definition: map[string]interface{}{"name": "x"}},
		Fact:      types.SemanticFact{ID: "pattern:x", Content: map[string]interface{}{"label": "x"}},
		Episode:   types.Episode{ID: "taken", AgentID: "a", Kind: types.EpisodeKindKnowledgeIngest},
	})
	require.Error(t, err)

	procs, err := b.Procedures(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, procs, "procedure must roll back with the failed episode insert")
	facts, err := b.Facts(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestSQLiteBackendClosed(t *testing.T) {
	b, err := NewSQLiteBackend(t.TempDir(), DriverModernc)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	assert.Error(t, b.AppendEpisode(context.Background(), types.Episode{ID: "x", AgentID: "a"}))
}

func TestSQLiteBackendMattnDriver(t *testing.T) {
	b, err := NewSQLiteBackend(t.TempDir(), DriverMattn)
	require.NoError(t, err)
	defer b.Close()

	err = b.AppendEpisode(context.Background(), types.Episode{ID: "e1", AgentID: "a", Kind: "task",
		Content: map[string]interface{}{"reward": 0.8}})
	if err != nil {
		t.Skipf("sqlite3 driver unavailable (cgo disabled?): %v", err)
	}
	eps, err := b.HighRewardEpisodes(context.Background(), "a", 0.7)
	require.NoError(t, err)
	assert.Len(t, eps, 1)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewSQLiteBackend(t.TempDir(), "postgres")
	assert.Error(t, err)
}

func TestFileNameSanitizes(t *testing.T) {
	name := fileName("team/alpha")
	assert.True(t, strings.HasPrefix(name, "team_alpha-"), name)
	assert.True(t, strings.HasSuffix(name, dbSuffix), name)
	assert.True(t, strings.HasPrefix(fileName("a-b.c"), "a-b.c-"))

	assert.NotEqual(t, fileName("team/a"), fileName("team_a"))
	assert.Equal(t, fileName("team/a"), fileName("team/a"))
	assert.LessOrEqual(t, len(fileName(strings.Repeat("x", 500))), maxFilePrefix+1+12+len(dbSuffix))
}

func TestSQLiteBackendRejectsForeignFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewSQLiteBackend(dir, DriverModernc)
	require.NoError(t, err)
	require.NoError(t, b.AppendEpisode(ctx, types.Episode{ID: "e1", AgentID: "owner", Kind: "task"}))
	require.NoError(t, b.Close())

	// Another agent's file under this agent's name must not be read.
	require.NoError(t, os.Rename(filepath.Join(dir, fileName("owner")), filepath.Join(dir, fileName("intruder"))))

	reopened, err := NewSQLiteBackend(dir, DriverModernc)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.Procedures(ctx, "intruder")
	assert.ErrorContains(t, err, `belongs to agent "owner"`)
}

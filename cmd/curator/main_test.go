package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hivemind/internal/curation"
	"hivemind/internal/metrics"
	"hivemind/internal/team"
	"hivemind/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("os/signal.signal_recv"),
		goleak.IgnoreTopFunction("os/signal.loop"),
	)
}

// execute runs the root command with args and returns everything it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// workspace is an initialized curator directory.
type workspace struct {
	config string
	root   string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	for _, key := range []string{"AI_TEAM_KNOWLEDGE", "HIVEMIND_KNOWLEDGE_ROOT", "HIVEMIND_TEAMS_FILE", "HIVEMIND_PROJECT", "HIVEMIND_MEMORY_DIR"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	w := workspace{config: filepath.Join(dir, "config.yaml"), root: filepath.Join(dir, "hm")}
	out, err := execute(t, "--config", w.config, "init", "--root", w.root)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+w.config)
	return w
}

func (w workspace) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, append([]string{"--config", w.config}, args...)...)
	require.NoError(t, err, out)
	return out
}

func TestTableView(t *testing.T) {
	tbl := NewTable("Teams", "Agent", "Project")
	assert.Empty(t, tbl.View(defaultStyles()))

	tbl.AddRow("api", "shop")
	tbl.AddRow("checkout-frontend")
	view := tbl.View(defaultStyles())
	lines := strings.Split(strings.TrimRight(view, "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "Teams")
	assert.Contains(t, lines[1], "Agent")
	assert.Contains(t, lines[3], "api")
	assert.Contains(t, lines[4], "checkout-frontend")
}

func TestParseFields(t *testing.T) {
	got, err := parseFields([]string{"reward=0.5", "ok=true", "note=fast path"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"reward": 0.5, "ok": true, "note": "fast path"}, got)

	_, err = parseFields([]string{"novalue"})
	assert.Error(t, err)
}

func TestInitRefusesToOverwrite(t *testing.T) {
	w := newWorkspace(t)
	_, err := execute(t, "--config", w.config, "init", "--root", w.root)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "--config", w.config, "init", "--root", w.root, "--force")
	assert.NoError(t, err)
}

func TestTeamsAddReplacesDefinition(t *testing.T) {
	w := newWorkspace(t)
	w.run(t, "teams", "add", "api", "--team", "backend", "--project", "shop")
	w.run(t, "teams", "add", "api", "--team", "platform", "--domain", "payments")

	defs, err := team.LoadDefinitions(filepath.Join(w.root, "teams.yaml"))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "platform", defs[0].TeamTag)
	assert.Equal(t, []string{"payments"}, defs[0].Domains)

	var metas []types.AgentMetadata
	require.NoError(t, json.Unmarshal([]byte(w.run(t, "--json", "teams")), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, "api", metas[0].AgentID)
}

func TestCurationEndToEnd(t *testing.T) {
	w := newWorkspace(t)

	for _, id := range []string{"api", "billing", "checkout"} {
		w.run(t, "teams", "add", id, "--team", id, "--project", "shop",
			"--domain", "payments", "--capability", "retry", "--context-domain", id, "--stack", "go")
	}
	w.run(t, "teams", "add", "seo", "--team", "growth", "--project", "blog", "--domain", "marketing")

	for _, id := range []string{"api", "billing"} {
		w.run(t, "record", "procedure", id, "retry-with-backoff", "--category", "resilience")
		w.run(t, "record", "procedure", id, "circuit-breaker", "--category", "resilience")
		w.run(t, "record", "fact", id, "idempotency")
	}
	w.run(t, "record", "episode", "api", "task", "--reward", "0.9")
	w.run(t, "record", "episode", "billing", "task", "--reward", "0.95")
	w.run(t, "record", "procedure", "checkout", "cache-warmup", "--category", "performance")
	w.run(t, "record", "procedure", "seo", "seo-audit")
	w.run(t, "record", "update", "checkout", "--set", "status=green")

	var ins curation.Insights
	require.NoError(t, json.Unmarshal([]byte(w.run(t, "--json", "run")), &ins))
	assert.False(t, ins.Partial)
	assert.Zero(t, ins.Errors.Total())
	assert.Equal(t, 1, ins.PatternCount)
	require.Len(t, ins.Transfers, 1)
	assert.Equal(t, "checkout", ins.Transfers[0].ToAgent)
	assert.Equal(t, types.TransferStatusTransferred, ins.Transfers[0].Status)
	assert.Equal(t, []string{"api", "billing"}, ins.Transfers[0].FromAgents)

	var entries []types.GlobalKnowledgeEntry
	require.NoError(t, json.Unmarshal([]byte(w.run(t, "--json", "patterns")), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, ins.Patterns[0].ID, entries[0].ID)
	assert.Equal(t, 1, entries[0].GlobalUsageCount)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal([]byte(w.run(t, "--json", "metrics")), &snap))
	assert.Equal(t, 1, snap.Transfers)
	assert.Zero(t, snap.Rejections)

	// A second process sees the persisted transfer log and repository.
	out := w.run(t, "run")
	assert.Contains(t, out, "Curation cycle")
	assert.Contains(t, out, "Knowledge flow")

	require.NoError(t, json.Unmarshal([]byte(w.run(t, "--json", "metrics")), &snap))
	assert.Equal(t, 2, snap.Transfers)

	assert.Contains(t, w.run(t, "patterns", "--group", "nothing-like-this"), "No patterns found.")
}

func TestMetricsWithoutTransfers(t *testing.T) {
	w := newWorkspace(t)
	out := w.run(t, "metrics")
	assert.Contains(t, out, "Knowledge velocity")
}

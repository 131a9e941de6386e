package miner

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hivemind/internal/similarity"
	"hivemind/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func snap(agent, category string, procs []string, facts []string) types.LearningSnapshot {
	s := types.LearningSnapshot{AgentID: agent}
	for _, p := range procs {
		s.Procedures = append(s.Procedures, types.Procedure{
			ID:         p,
			AgentID:    agent,
			Definition: map[string]interface{}{"name": p, "category": category},
		})
	}
	for _, f := range facts {
		s.Facts = append(s.Facts, types.SemanticFact{ID: f, AgentID: agent, Content: map[string]interface{}{"label": f}})
	}
	return s
}

func engine(t *testing.T) *similarity.Engine {
	t.Helper()
	e, err := similarity.New()
	require.NoError(t, err)
	return e
}

// stubComparer returns fixed scores keyed by "a|b".
type stubComparer struct {
	scores map[string]float64
	panics map[string]bool
}

func (s stubComparer) Compare(a, b types.LearningSnapshot) similarity.Result {
	key := a.AgentID + "|" + b.AgentID
	if s.panics[key] {
		panic("boom")
	}
	score := s.scores[key]
	return similarity.Result{
		Score: score,
		Pattern: types.Pattern{
			SourceAgents: []string{a.AgentID, b.AgentID},
			GroupType:    "g",
			Procedures:   []string{key},
		},
	}
}

func TestMineIdenticalAgentsAccepted(t *testing.T) {
	m := New(engine(t))
	snaps := map[string]types.LearningSnapshot{
		"agent-1": snap("agent-1", "error-recovery", []string{"retry-with-backoff"}, []string{"idempotency"}),
		"agent-2": snap("agent-2", "error-recovery", []string{"retry-with-backoff"}, []string{"idempotency"}),
	}

	res, err := m.Mine(context.Background(), snaps)
	require.NoError(t, err)
	require.Len(t, res.Patterns, 1)
	p := res.Patterns[0]
	assert.Equal(t, []string{"agent-1", "agent-2"}, p.SourceAgents)
	assert.GreaterOrEqual(t, p.Confidence, 0.7)
	assert.Equal(t, types.PatternKindCrossTeam, p.Kind)
	_, err = uuid.Parse(p.ID)
	assert.NoError(t, err)
	assert.Empty(t, res.MetaPatterns)
	assert.Equal(t, 1, res.Compared)
}

func TestMineSynthesizesOneMetaPatternPerGroup(t *testing.T) {
	// Four disjoint twin pairs, each converging on its own error-recovery
	// procedure and fact.
	snaps := make(map[string]types.LearningSnapshot)
	for i := 0; i < 4; i++ {
		proc := fmt.Sprintf("recovery-%d", i)
		for _, side := range []string{"a", "b"} {
			id := fmt.Sprintf("agent-%d%s", i, side)
			snaps[id] = snap(id, "error-recovery", []string{proc}, []string{fmt.Sprintf("lesson-%d", i)})
		}
	}

	res, err := New(engine(t)).Mine(context.Background(), snaps)
	require.NoError(t, err)
	require.Len(t, res.Patterns, 4)
	require.Len(t, res.MetaPatterns, 1)

	meta := res.MetaPatterns[0]
	assert.True(t, meta.IsMeta())
	assert.Equal(t, "error-recovery", meta.GroupType)
	var ids []string
	for _, p := range res.Patterns {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, ids, meta.DerivedFrom)
	assert.Len(t, meta.SourceAgents, 8)
	assert.Equal(t, 28, res.Compared)
	assert.Equal(t, 24, res.Rejected)
}

func TestMineThresholdIsStrict(t *testing.T) {
	stub := stubComparer{scores: map[string]float64{"a|b": 0.7, "a|c": 0.71, "b|c": 0.2}}
	snaps := map[string]types.LearningSnapshot{
		"a": {AgentID: "a"}, "b": {AgentID: "b"}, "c": {AgentID: "c"},
	}
	res, err := New(stub).Mine(context.Background(), snaps)
	require.NoError(t, err)
	require.Len(t, res.Patterns, 1)
	assert.Equal(t, []string{"a", "c"}, res.Patterns[0].SourceAgents)
	assert.InDelta(t, 0.71, res.Patterns[0].Confidence, 1e-9)
}

func TestMineSkipsSelfPairs(t *testing.T) {
	stub := stubComparer{scores: map[string]float64{"x|x": 1}}
	snaps := map[string]types.LearningSnapshot{
		"x":       {AgentID: "x"},
		"x-alias": {AgentID: "x"},
	}
	res, err := New(stub).Mine(context.Background(), snaps)
	require.NoError(t, err)
	assert.Zero(t, res.Compared)
	assert.Empty(t, res.Patterns)
}

func TestMineIsDeterministic(t *testing.T) {
	snaps := map[string]types.LearningSnapshot{}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("agent-%d", i)
		snaps[id] = snap(id, "ops", []string{"deploy", fmt.Sprintf("p%d", i%2)}, []string{"shared"})
	}

	first, err := New(engine(t), WithWorkers(8)).Mine(context.Background(), snaps)
	require.NoError(t, err)
	for run := 0; run < 5; run++ {
		again, err := New(engine(t), WithWorkers(1+run)).Mine(context.Background(), snaps)
		require.NoError(t, err)
		assert.Equal(t, first.All(), again.All())
	}
}

func TestMineContainsPairFailures(t *testing.T) {
	stub := stubComparer{
		scores: map[string]float64{"a|b": 0.9, "a|c": 2.0},
		panics: map[string]bool{"b|c": true},
	}
	snaps := map[string]types.LearningSnapshot{
		"a": {AgentID: "a"}, "b": {AgentID: "b"}, "c": {AgentID: "c"},
	}
	res, err := New(stub).Mine(context.Background(), snaps)
	require.NoError(t, err)
	assert.Len(t, res.Patterns, 1)
	assert.Equal(t, 2, res.Errors.Count(types.ErrorKindValidation))
	assert.Equal(t, 3, res.Compared)
}

func TestMineCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snaps := map[string]types.LearningSnapshot{
		"a": {AgentID: "a"}, "b": {AgentID: "b"},
	}
	res, err := New(engine(t)).Mine(ctx, snaps)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Partial)
	assert.Zero(t, res.Compared)
}

func TestSynthesizeMetaPatternConfidenceBound(t *testing.T) {
	group := []types.Pattern{
		{ID: "p1", SourceAgents: []string{"a", "b"}, GroupType: "g", Confidence: 0.9},
		{ID: "p2", SourceAgents: []string{"b", "c"}, GroupType: "g", Confidence: 0.75},
		{ID: "p3", SourceAgents: []string{"c", "d"}, GroupType: "g", Confidence: 0.8},
	}
	meta, err := SynthesizeMetaPattern(group)
	require.NoError(t, err)
	assert.LessOrEqual(t, meta.Confidence, 0.75)
	assert.Equal(t, []string{"p1", "p2", "p3"}, meta.DerivedFrom)
	assert.Equal(t, []string{"a", "b", "c", "d"}, meta.SourceAgents)
	assert.NotEmpty(t, meta.ID)

	_, err = SynthesizeMetaPattern(group[:1])
	assert.True(t, types.IsKind(err, types.ErrorKindValidation))
}

func TestPatternIDStable(t *testing.T) {
	p := types.Pattern{Kind: types.PatternKindCrossTeam, SourceAgents: []string{"b", "a"}, GroupType: "g", Procedures: []string{"x"}}
	q := p
	q.SourceAgents = []string{"a", "b"}
	q.Confidence = 0.1
	assert.Equal(t, PatternID(p), PatternID(q))

	q.Procedures = []string{"y"}
	assert.NotEqual(t, PatternID(p), PatternID(q))
}

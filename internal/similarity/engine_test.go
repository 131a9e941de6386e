package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/config"
	"hivemind/internal/types"
)

func snapshot(agent string, procs []string, facts []string) types.LearningSnapshot {
	s := types.LearningSnapshot{AgentID: agent}
	for _, p := range procs {
		s.Procedures = append(s.Procedures, types.Procedure{
			ID:         p,
			AgentID:    agent,
			Definition: map[string]interface{}{"name": p, "category": "error-recovery"},
		})
	}
	for _, f := range facts {
		s.Facts = append(s.Facts, types.SemanticFact{
			ID:      f,
			AgentID: agent,
			Content: map[string]interface{}{"label": f},
		})
	}
	return s
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(opts...)
	require.NoError(t, err)
	return e
}

func TestJaccard(t *testing.T) {
	j := Jaccard{}
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"x", "y"}, []string{"y", "x"}, 1},
		{"disjoint", []string{"x"}, []string{"y"}, 0},
		{"half", []string{"x", "y"}, []string{"y", "z"}, 1.0 / 3.0},
		{"both empty", nil, nil, 0},
		{"one empty", []string{"x"}, nil, 0},
		{"normalized", []string{"Retry With Backoff"}, []string{"retry_with_backoff"}, 1},
		{"duplicates ignored", []string{"x", "x"}, []string{"x"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, j.Score(tt.a, tt.b), 1e-9)
		})
	}
}

func TestJaccardMonotonicInOverlap(t *testing.T) {
	base := []string{"a", "b", "c", "d"}
	prev := -1.0
	for k := 0; k <= len(base); k++ {
		other := append([]string{"z1", "z2", "z3", "z4"}[:len(base)-k], base[:k]...)
		score := Jaccard{}.Score(base, other)
		assert.GreaterOrEqual(t, score, prev)
		prev = score
	}
	assert.InDelta(t, 1, prev, 1e-9)
}

func TestCompareIdenticalSnapshots(t *testing.T) {
	e := newEngine(t)
	a := snapshot("agent-a", []string{"retry-with-backoff"}, []string{"idempotent endpoints"})
	b := snapshot("agent-b", []string{"retry-with-backoff"}, []string{"idempotent endpoints"})

	res := e.Compare(a, b)
	assert.InDelta(t, 1, res.Score, 1e-9)
	assert.GreaterOrEqual(t, res.Score, 0.7)
	assert.Equal(t, []string{"agent-a", "agent-b"}, res.Pattern.SourceAgents)
	assert.Equal(t, types.PatternKindCrossTeam, res.Pattern.Kind)
	assert.Equal(t, "error-recovery", res.Pattern.GroupType)
	assert.Equal(t, []string{"retry-with-backoff"}, res.Pattern.Procedures)
	assert.Equal(t, []string{"idempotent-endpoints"}, res.Pattern.Facts)
	assert.Len(t, res.Applications, 2)
	assert.Contains(t, res.Pattern.Description, "retry-with-backoff")
	assert.NotContains(t, res.Pattern.Description, "agent-a", "description must be agent-agnostic")
}

func TestCompareSelfIsOne(t *testing.T) {
	e := newEngine(t)
	a := snapshot("a", []string{"p1", "p2"}, []string{"f1"})
	assert.InDelta(t, 1, e.Compare(a, a).Score, 1e-9)
}

func TestCompareWeightedSum(t *testing.T) {
	e := newEngine(t)
	a := snapshot("a", []string{"p1", "p2"}, []string{"f1"})
	b := snapshot("b", []string{"p2", "p3"}, []string{"f1"})

	res := e.Compare(a, b)
	assert.InDelta(t, 1, res.Semantic, 1e-9)
	assert.InDelta(t, 1.0/3.0, res.Procedural, 1e-9)
	assert.InDelta(t, 0.6*1+0.4*(1.0/3.0), res.Score, 1e-9)
}

func TestCompareEmptySnapshots(t *testing.T) {
	e := newEngine(t)
	res := e.Compare(types.LearningSnapshot{AgentID: "a"}, types.LearningSnapshot{AgentID: "b"})
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Applications)
	assert.Equal(t, types.DefaultGroupType, res.Pattern.GroupType)
}

func TestCompareEmptyComponentScoresZero(t *testing.T) {
	e := newEngine(t)
	a := snapshot("a", []string{"retry-with-backoff"}, nil)
	b := snapshot("b", []string{"retry-with-backoff"}, nil)
	res := e.Compare(a, b)
	assert.Zero(t, res.Semantic)
	assert.InDelta(t, 1, res.Procedural, 1e-9)
	assert.InDelta(t, 0.4, res.Score, 1e-9)

	// Adding shared evidence never lowers the score.
	c := snapshot("c", []string{"retry-with-backoff"}, []string{"idempotency"})
	d := snapshot("d", []string{"retry-with-backoff"}, []string{"idempotency"})
	assert.InDelta(t, 1, e.Compare(c, d).Score, 1e-9)

	// A fact on one side only is disagreement, not absence.
	assert.InDelta(t, 0.4, e.Compare(a, c).Score, 1e-9)
}

func TestCompareEmptyComponentIgnoresCustomScorer(t *testing.T) {
	e := newEngine(t, WithSemanticScorer(ScorerFunc(func(a, b []string) float64 { return 1 })))
	res := e.Compare(snapshot("a", []string{"p"}, nil), snapshot("b", []string{"p"}, nil))
	assert.Zero(t, res.Semantic)
	assert.InDelta(t, 0.4, res.Score, 1e-9)
}

func TestCompareIgnoresIngestedRecords(t *testing.T) {
	e := newEngine(t)
	a := snapshot("a", []string{"local"}, nil)
	b := snapshot("b", []string{"other"}, nil)
	echo := types.Procedure{ID: "pattern:x", Definition: map[string]interface{}{
		"name": "local", types.IngestedKey: "x",
	}}
	b.Procedures = append(b.Procedures, echo)

	assert.Zero(t, e.Compare(a, b).Score)
}

func TestCompareGroupTypeTieBreak(t *testing.T) {
	e := newEngine(t)
	mk := func(agent string) types.LearningSnapshot {
		return types.LearningSnapshot{AgentID: agent, Procedures: []types.Procedure{
			{ID: "1", Definition: map[string]interface{}{"name": "deploy", "category": "Zeta"}},
			{ID: "2", Definition: map[string]interface{}{"name": "rollback", "category": "Alpha"}},
		}}
	}
	assert.Equal(t, "alpha", e.Compare(mk("a"), mk("b")).Pattern.GroupType)
}

func TestCustomScorerIsClamped(t *testing.T) {
	e := newEngine(t,
		WithSemanticScorer(ScorerFunc(func(a, b []string) float64 { return 5 })),
		WithProceduralScorer(ScorerFunc(func(a, b []string) float64 { return math.NaN() })),
	)
	res := e.Compare(snapshot("a", []string{"p"}, []string{"f"}), snapshot("b", []string{"q"}, []string{"g"}))
	assert.InDelta(t, 1, res.Semantic, 1e-9)
	assert.Zero(t, res.Procedural)
	assert.InDelta(t, 0.6, res.Score, 1e-9)
}

func TestNewRejectsBadWeights(t *testing.T) {
	_, err := New(WithWeights(Weights{Semantic: 0.7, Procedural: 0.7}))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrorKindConfiguration))

	_, err = New(WithSemanticScorer(nil))
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Curation
	cfg.SemanticWeight, cfg.ProceduralWeight = 0.5, 0.5
	e, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, Weights{Semantic: 0.5, Procedural: 0.5}, e.Weights())
}

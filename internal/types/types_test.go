package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodeReward(t *testing.T) {
	tests := []struct {
		name    string
		content map[string]interface{}
		want    float64
		ok      bool
	}{
		{"float", map[string]interface{}{"reward": 0.9}, 0.9, true},
		{"int", map[string]interface{}{"reward": 1}, 1, true},
		{"json number", map[string]interface{}{"reward": json.Number("0.71")}, 0.71, true},
		{"string", map[string]interface{}{"reward": "0.5"}, 0.5, true},
		{"missing", map[string]interface{}{"other": 1}, 0, false},
		{"nil content", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Episode{Content: tt.content}.Reward()
			if ok != tt.ok || got != tt.want {
				t.Errorf("Reward() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestProcedureCategoryAndName(t *testing.T) {
	p := Procedure{ID: "p1", Definition: map[string]interface{}{"category": " error-recovery ", "name": "Retry"}}
	assert.Equal(t, "error-recovery", p.Category())
	assert.Equal(t, "Retry", p.Name())

	bare := Procedure{ID: "p2"}
	assert.Equal(t, "", bare.Category())
	assert.Equal(t, "p2", bare.Name())
}

func TestNormalizeIdentifier(t *testing.T) {
	cases := map[string]string{
		"Retry With Backoff":   "retry-with-backoff",
		"retry_with_backoff":   "retry-with-backoff",
		"  retry--with backoff": "retry-with-backoff",
		"":                     "",
		"!!!":                  "",
		"v1.2/api":             "v1.2/api",
	}
	for in, want := range cases {
		if got := NormalizeIdentifier(in); got != want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSet(t *testing.T) {
	got := NormalizeSet([]string{"B", "a", "b", "", "A "})
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("NormalizeSet mismatch (-want +got):\n%s", diff)
	}
}

func TestPatternCloneIsDeep(t *testing.T) {
	orig := Pattern{
		ID:                  "p",
		SourceAgents:        []string{"a", "b"},
		Applications:        []Application{{Kind: "procedure", Name: "retry"}},
		Context:             PatternContext{Domains: []string{"web"}},
		ImplementationGuide: []string{"step"},
		Procedures:          []string{"retry"},
	}
	c := orig.Clone()
	require.True(t, cmp.Equal(orig, c))

	c.SourceAgents[0] = "x"
	c.Applications[0].Name = "changed"
	c.Context.Domains[0] = "changed"
	c.ImplementationGuide[0] = "changed"
	c.Procedures[0] = "changed"

	assert.Equal(t, "a", orig.SourceAgents[0])
	assert.Equal(t, "retry", orig.Applications[0].Name)
	assert.Equal(t, "web", orig.Context.Domains[0])
	assert.Equal(t, "step", orig.ImplementationGuide[0])
	assert.Equal(t, "retry", orig.Procedures[0])
}

func TestPatternHasSource(t *testing.T) {
	p := Pattern{SourceAgents: []string{"a", "b"}}
	assert.True(t, p.HasSource("a"))
	assert.False(t, p.HasSource("c"))
}

func TestGlobalKnowledgeEntryFlattensPattern(t *testing.T) {
	entry := GlobalKnowledgeEntry{
		Pattern: Pattern{ID: "p1", Kind: PatternKindCrossTeam, Confidence: 0.8},
		Project: "web",
		SavedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "p1", raw["id"])
	assert.Equal(t, "cross_team_pattern", raw["type"])
	assert.Equal(t, "web", raw["project"])
	assert.NotContains(t, raw, "Pattern")
}

func TestSnapshotIsEmpty(t *testing.T) {
	assert.True(t, LearningSnapshot{AgentID: "a"}.IsEmpty())
	assert.False(t, LearningSnapshot{Facts: []SemanticFact{{ID: "f"}}}.IsEmpty())
}

// Package similarity scores how closely two agents' learned behavior
// converges and summarizes the shared part as a candidate pattern.
package similarity

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// Weights splits the combined score between fact and procedure overlap.
type Weights struct {
	Semantic   float64
	Procedural float64
}

// DefaultWeights favors facts over procedures 60/40.
var DefaultWeights = Weights{Semantic: 0.6, Procedural: 0.4}

// Validate checks both weights are in [0,1] and sum to 1.
func (w Weights) Validate() error {
	if w.Semantic < 0 || w.Semantic > 1 || w.Procedural < 0 || w.Procedural > 1 {
		return fmt.Errorf("weights must be within [0,1], got %v/%v", w.Semantic, w.Procedural)
	}
	if math.Abs(w.Semantic+w.Procedural-1) > 1e-9 {
		return fmt.Errorf("weights must sum to 1, got %v", w.Semantic+w.Procedural)
	}
	return nil
}

// Result is the outcome of comparing two snapshots.
type Result struct {
	Score        float64
	Semantic     float64
	Procedural   float64
	Pattern      types.Pattern
	Applications []types.Application
}

// Engine compares learning snapshots. Safe for concurrent use.
type Engine struct {
	weights    Weights
	semantic   Scorer
	procedural Scorer
}

// Option configures an Engine.
type Option func(*Engine)

// WithWeights overrides the default 0.6/0.4 split.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithSemanticScorer replaces the fact scorer.
func WithSemanticScorer(s Scorer) Option {
	return func(e *Engine) { e.semantic = s }
}

// WithProceduralScorer replaces the procedure scorer.
func WithProceduralScorer(s Scorer) Option {
	return func(e *Engine) { e.procedural = s }
}

// New creates an engine with Jaccard scorers and default weights.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		weights:    DefaultWeights,
		semantic:   Jaccard{},
		procedural: Jaccard{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.weights.Validate(); err != nil {
		return nil, types.ConfigurationError("similarity.New", "weights", err)
	}
	if e.semantic == nil || e.procedural == nil {
		return nil, types.ConfigurationError("similarity.New", "scorer", fmt.Errorf("scorer must not be nil"))
	}
	return e, nil
}

// NewFromConfig creates an engine using the configured weights.
func NewFromConfig(cfg config.CurationConfig, opts ...Option) (*Engine, error) {
	all := append([]Option{WithWeights(Weights{Semantic: cfg.SemanticWeight, Procedural: cfg.ProceduralWeight})}, opts...)
	return New(all...)
}

// Weights returns the engine's weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Compare scores two snapshots and extracts their shared pattern.
//
// Score is the weighted sum of the semantic and procedural sub-scores. A
// component with nothing on either side scores 0. Records delivered by
// earlier cycles are ignored so agents do not converge on echoes.
func (e *Engine) Compare(a, b types.LearningSnapshot) Result {
	factsA, factsB := factTerms(a), factTerms(b)
	procsA, procsB := procedureTerms(a), procedureTerms(b)

	var res Result
	if len(factsA)+len(factsB) > 0 {
		res.Semantic = clamp01(e.semantic.Score(factsA, factsB))
	}
	if len(procsA)+len(procsB) > 0 {
		res.Procedural = clamp01(e.procedural.Score(procsA, procsB))
	}
	res.Score = clamp01(e.weights.Semantic*res.Semantic + e.weights.Procedural*res.Procedural)

	sharedProcs := Intersect(procsA, procsB)
	sharedFacts := Intersect(factsA, factsB)
	res.Applications = applications(sharedProcs, sharedFacts)
	res.Pattern = types.Pattern{
		Kind:         types.PatternKindCrossTeam,
		SourceAgents: types.SortedUnique([]string{a.AgentID, b.AgentID}),
		GroupType:    groupType(sharedProcs, a, b),
		Confidence:   res.Score,
		Applications: res.Applications,
		Procedures:   sharedProcs,
		Facts:        sharedFacts,
	}
	res.Pattern.Description = describe(res.Pattern)

	logging.Get(logging.CategorySimilarity).Debug("Compared %s and %s: score=%.3f semantic=%.3f procedural=%.3f",
		a.AgentID, b.AgentID, res.Score, res.Semantic, res.Procedural)
	return res
}

// =============================================================================
// EXTRACTION
// =============================================================================

func factTerms(s types.LearningSnapshot) []string {
	terms := make([]string, 0, len(s.Facts))
	for _, f := range s.Facts {
		if f.IsIngested() {
			continue
		}
		terms = append(terms, f.Label())
	}
	return types.NormalizeSet(terms)
}

func procedureTerms(s types.LearningSnapshot) []string {
	terms := make([]string, 0, len(s.Procedures))
	for _, p := range s.Procedures {
		if p.IsIngested() {
			continue
		}
		terms = append(terms, p.Name())
	}
	return types.NormalizeSet(terms)
}

func applications(procs, facts []string) []types.Application {
	if len(procs)+len(facts) == 0 {
		return nil
	}
	apps := make([]types.Application, 0, len(procs)+len(facts))
	for _, p := range procs {
		apps = append(apps, types.Application{Kind: "procedure", Name: p})
	}
	for _, f := range facts {
		apps = append(apps, types.Application{Kind: "fact", Name: f})
	}
	return apps
}

// groupType picks the most common category among the shared procedures,
// falling back to all local procedures of both agents. Ties break
// lexicographically.
func groupType(shared []string, a, b types.LearningSnapshot) string {
	inShared := make(map[string]struct{}, len(shared))
	for _, s := range shared {
		inShared[s] = struct{}{}
	}

	count := func(onlyShared bool) map[string]int {
		counts := make(map[string]int)
		for _, snap := range []types.LearningSnapshot{a, b} {
			for _, p := range snap.Procedures {
				if p.IsIngested() {
					continue
				}
				if onlyShared {
					if _, ok := inShared[types.NormalizeIdentifier(p.Name())]; !ok {
						continue
					}
				}
				if c := types.NormalizeIdentifier(p.Category()); c != "" {
					counts[c]++
				}
			}
		}
		return counts
	}

	counts := count(true)
	if len(counts) == 0 {
		counts = count(false)
	}
	best, bestN := "", 0
	for c, n := range counts {
		if n > bestN || (n == bestN && c < best) {
			best, bestN = c, n
		}
	}
	if best == "" {
		return types.DefaultGroupType
	}
	return best
}

func describe(p types.Pattern) string {
	var parts []string
	parts = append(parts, p.Procedures...)
	parts = append(parts, p.Facts...)
	sort.Strings(parts)
	if len(parts) == 0 {
		return fmt.Sprintf("Convergent %s behavior", p.GroupType)
	}
	const maxItems = 5
	if len(parts) > maxItems {
		parts = append(parts[:maxItems], fmt.Sprintf("+%d more", len(parts)-maxItems))
	}
	return fmt.Sprintf("Shared %s practice: %s", p.GroupType, strings.Join(parts, ", "))
}

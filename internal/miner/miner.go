// Package miner finds transferable patterns by comparing every pair of
// agent snapshots and synthesizes meta-patterns from recurring groups.
package miner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/similarity"
	"hivemind/internal/types"
)

// Comparer scores a pair of snapshots. *similarity.Engine satisfies it.
type Comparer interface {
	Compare(a, b types.LearningSnapshot) similarity.Result
}

// Miner runs pairwise comparisons with a bounded worker pool.
type Miner struct {
	engine        Comparer
	threshold     float64
	metaGroupSize int
	workers       int
}

// Option configures a Miner.
type Option func(*Miner)

// WithThreshold sets the acceptance threshold. Scores must be strictly greater.
func WithThreshold(th float64) Option {
	return func(m *Miner) { m.threshold = th }
}

// WithMetaGroupSize sets how many patterns a group needs to form a meta-pattern.
func WithMetaGroupSize(n int) Option {
	return func(m *Miner) { m.metaGroupSize = n }
}

// WithWorkers bounds concurrent comparisons.
func WithWorkers(n int) Option {
	return func(m *Miner) { m.workers = n }
}

// New creates a miner with the default 0.7 threshold, groups of 3 and 4 workers.
func New(engine Comparer, opts ...Option) *Miner {
	m := &Miner{
		engine:        engine,
		threshold:     0.7,
		metaGroupSize: 3,
		workers:       4,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workers < 1 {
		m.workers = 1
	}
	if m.metaGroupSize < 2 {
		m.metaGroupSize = 2
	}
	return m
}

// NewFromConfig creates a miner from the curation config.
func NewFromConfig(engine Comparer, cfg config.CurationConfig) *Miner {
	return New(engine,
		WithThreshold(cfg.AcceptanceThreshold),
		WithMetaGroupSize(cfg.MetaGroupSize),
		WithWorkers(cfg.Workers),
	)
}

// Result is the output of one mining pass.
type Result struct {
	Patterns     []types.Pattern // Accepted pairwise patterns, in pair order
	MetaPatterns []types.Pattern // One per qualifying group, sorted by group
	Compared     int
	Rejected     int // Pairs at or below the threshold
	Errors       types.ErrorSummary
	Partial      bool // Cancelled before every pair was compared
}

// All returns pairwise patterns followed by meta-patterns.
func (r Result) All() []types.Pattern {
	out := make([]types.Pattern, 0, len(r.Patterns)+len(r.MetaPatterns))
	out = append(out, r.Patterns...)
	return append(out, r.MetaPatterns...)
}

type pair struct {
	a, b types.LearningSnapshot
}

// Mine compares every unordered pair of distinct agents. Output order and
// pattern IDs depend only on the snapshot contents.
//
// A cancelled context stops new comparisons; finished ones are kept and the
// result is marked Partial alongside the context error.
func (m *Miner) Mine(ctx context.Context, snapshots map[string]types.LearningSnapshot) (Result, error) {
	timer := logging.StartTimer(logging.CategoryMiner, "Miner.Mine")
	defer timer.Stop()

	res := Result{Errors: types.NewErrorSummary()}
	pairs := m.pairs(snapshots)
	logging.Miner("Mining %d agents (%d pairs, workers=%d, threshold=%.2f)",
		len(snapshots), len(pairs), m.workers, m.threshold)

	accepted := make([]*types.Pattern, len(pairs))
	done := make([]bool, len(pairs))

	var mu sync.Mutex
	addError := func(err error) {
		mu.Lock()
		res.Errors.Add(err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i := range pairs {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			p, err := m.comparePair(pairs[i])
			done[i] = true
			if err != nil {
				logging.Get(logging.CategoryMiner).Warn("Comparison %s/%s failed: %v", pairs[i].a.AgentID, pairs[i].b.AgentID, err)
				addError(err)
				return nil
			}
			accepted[i] = p
			return nil
		})
	}
	_ = g.Wait() // Workers never return errors; failures are contained above.

	for i := range pairs {
		if !done[i] {
			res.Partial = true
			continue
		}
		res.Compared++
		if accepted[i] == nil {
			continue
		}
		res.Patterns = append(res.Patterns, *accepted[i])
	}
	res.Rejected = res.Compared - len(res.Patterns) - res.Errors.Total()

	res.MetaPatterns = m.synthesizeGroups(res.Patterns, &res.Errors)

	logging.Miner("Mined %d patterns and %d meta-patterns from %d comparisons (errors: %s)",
		len(res.Patterns), len(res.MetaPatterns), res.Compared, res.Errors.String())

	if res.Partial {
		return res, ctx.Err()
	}
	return res, nil
}

// pairs enumerates unordered pairs of distinct agents sorted by agent ID.
func (m *Miner) pairs(snapshots map[string]types.LearningSnapshot) []pair {
	ids := make([]string, 0, len(snapshots))
	for id := range snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []pair
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := snapshots[ids[i]], snapshots[ids[j]]
			if a.AgentID == "" {
				a.AgentID = ids[i]
			}
			if b.AgentID == "" {
				b.AgentID = ids[j]
			}
			if a.AgentID == b.AgentID {
				continue
			}
			out = append(out, pair{a: a, b: b})
		}
	}
	return out
}

// comparePair returns the accepted pattern, nil when rejected, or an error
// when the comparison itself failed.
func (m *Miner) comparePair(p pair) (accepted *types.Pattern, err error) {
	defer func() {
		if r := recover(); r != nil {
			accepted = nil
			err = types.ValidationError("Miner.Compare", p.a.AgentID+"/"+p.b.AgentID, fmt.Errorf("comparison panicked: %v", r))
		}
	}()

	res := m.engine.Compare(p.a, p.b)
	if res.Score < 0 || res.Score > 1 || res.Score != res.Score {
		return nil, types.ValidationError("Miner.Compare", p.a.AgentID+"/"+p.b.AgentID,
			fmt.Errorf("score %v outside [0,1]", res.Score))
	}
	if res.Score <= m.threshold {
		logging.MinerDebug("Rejected %s/%s: score %.3f <= %.2f", p.a.AgentID, p.b.AgentID, res.Score, m.threshold)
		return nil, nil
	}

	pat := res.Pattern.Clone()
	pat.Kind = types.PatternKindCrossTeam
	pat.Confidence = res.Score
	if len(pat.SourceAgents) == 0 {
		pat.SourceAgents = types.SortedUnique([]string{p.a.AgentID, p.b.AgentID})
	}
	if pat.GroupType == "" {
		pat.GroupType = types.DefaultGroupType
	}
	if pat.Applications == nil && res.Applications != nil {
		pat.Applications = append([]types.Application(nil), res.Applications...)
	}
	pat.ID = PatternID(pat)
	logging.MinerDebug("Accepted %s/%s: score %.3f -> %s", p.a.AgentID, p.b.AgentID, res.Score, pat.ID)
	return &pat, nil
}

// =============================================================================
// META-PATTERNS
// =============================================================================

func (m *Miner) synthesizeGroups(patterns []types.Pattern, errs *types.ErrorSummary) []types.Pattern {
	groups := make(map[string][]types.Pattern)
	for _, p := range patterns {
		groups[p.GroupType] = append(groups[p.GroupType], p)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var metas []types.Pattern
	for _, k := range keys {
		if len(groups[k]) < m.metaGroupSize {
			continue
		}
		meta, err := SynthesizeMetaPattern(groups[k])
		if err != nil {
			errs.Add(err)
			continue
		}
		logging.Miner("Synthesized meta-pattern %s from %d %q patterns", meta.ID, len(groups[k]), k)
		metas = append(metas, meta)
	}
	return metas
}

// SynthesizeMetaPattern generalizes a group of patterns. Its confidence is
// the weakest input's, and DerivedFrom lists every input ID.
func SynthesizeMetaPattern(group []types.Pattern) (types.Pattern, error) {
	if len(group) < 2 {
		return types.Pattern{}, types.ValidationError("SynthesizeMetaPattern", "", fmt.Errorf("need at least 2 patterns, got %d", len(group)))
	}

	var sources, derived, procs, facts []string
	apps := make(map[types.Application]struct{})
	groupType := group[0].GroupType
	confidence := 1.0
	for _, p := range group {
		if p.ID == "" {
			return types.Pattern{}, types.ValidationError("SynthesizeMetaPattern", groupType, fmt.Errorf("input pattern without id"))
		}
		sources = append(sources, p.SourceAgents...)
		derived = append(derived, p.ID)
		procs = append(procs, p.Procedures...)
		facts = append(facts, p.Facts...)
		for _, a := range p.Applications {
			apps[a] = struct{}{}
		}
		if p.Confidence < confidence {
			confidence = p.Confidence
		}
	}
	if confidence < 0 {
		confidence = 0
	}

	meta := types.Pattern{
		Kind:         types.PatternKindMeta,
		SourceAgents: types.SortedUnique(sources),
		GroupType:    groupType,
		Confidence:   confidence,
		DerivedFrom:  types.SortedUnique(derived),
		Procedures:   types.SortedUnique(procs),
		Facts:        types.SortedUnique(facts),
		Applications: sortedApplications(apps),
	}
	meta.Description = fmt.Sprintf("Recurring %s pattern across %d agents (%d supporting patterns)",
		groupType, len(meta.SourceAgents), len(meta.DerivedFrom))
	meta.ID = PatternID(meta)
	return meta, nil
}

func sortedApplications(set map[types.Application]struct{}) []types.Application {
	if len(set) == 0 {
		return nil
	}
	out := make([]types.Application, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Description < out[j].Description
	})
	return out
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

var patternNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("hivemind.patterns"))

// PatternID derives a stable UUIDv5 from a pattern's kind, sources, group
// and shared content. Equal inputs always produce the same ID.
func PatternID(p types.Pattern) string {
	var sb strings.Builder
	sb.WriteString(string(p.Kind))
	for _, part := range [][]string{
		types.SortedUnique(p.SourceAgents),
		{p.GroupType},
		types.SortedUnique(p.Procedures),
		types.SortedUnique(p.Facts),
		types.SortedUnique(p.DerivedFrom),
	} {
		sb.WriteByte(0)
		sb.WriteString(strings.Join(part, "\x1f"))
	}
	return uuid.NewSHA1(patternNamespace, []byte(sb.String())).String()
}

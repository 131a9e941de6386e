package curation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// =============================================================================
// COLLECTING
// =============================================================================

// collect builds one snapshot per registered agent. An agent whose snapshot
// fails is left out of this cycle.
func (c *Curator) collect(ctx context.Context, cy *cycle) error {
	agents := append([]types.Agent(nil), c.deps.Agents.Agents()...)
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].ID() < agents[j].ID() })
	cy.agents = agents

	for _, a := range agents {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := c.deps.Snapshots.Snapshot(ctx, a, c.cfg.MinReward)
		if err != nil {
			if isCancellation(err) {
				return err
			}
			if types.KindOf(err) == types.ErrorKindUnknown {
				err = types.StorageError("Snapshot", a.ID(), err)
			}
			logging.Get(logging.CategoryCuration).Warn("Skipping %s: %v", a.ID(), err)
			cy.errs.Add(err)
			continue
		}
		if snap.AgentID == "" {
			snap.AgentID = a.ID()
		}
		cy.snapshots[snap.AgentID] = snap
	}
	logging.Curation("Collected %d snapshots from %d agents", len(cy.snapshots), len(agents))
	return nil
}

// =============================================================================
// MINING
// =============================================================================

func (c *Curator) mine(ctx context.Context, cy *cycle) error {
	res, err := c.miner.Mine(ctx, cy.snapshots)
	cy.mined = res
	cy.errs.Merge(res.Errors)
	cy.patterns = res.All()
	if res.Partial {
		cy.partial = true
	}
	return err
}

// =============================================================================
// ENRICHING
// =============================================================================

// Impact weights: confidence, reach across agents, and how many sources
// back the pattern with high-reward episodes.
const (
	impactConfidenceWeight = 0.5
	impactReachWeight      = 0.3
	impactEvidenceWeight   = 0.2
)

// enrich attaches context, impact, an implementation guide and success
// criteria. Existing pattern fields are never changed.
func (c *Curator) enrich(ctx context.Context, cy *cycle) error {
	population := len(cy.snapshots)
	for i := range cy.patterns {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := &cy.patterns[i]
		p.Context = patternContext(p.SourceAgents, cy.snapshots)
		p.Impact = impact(*p, cy.snapshots, population)
		p.ImplementationGuide = implementationGuide(*p)
		p.SuccessCriteria = successCriteria(*p, c.cfg.MinReward)
		logging.CurationDebug("Enriched %s: impact=%.3f terms=%d", p.ID, p.Impact, len(p.Context.Terms()))
	}
	return nil
}

func patternContext(sources []string, snapshots map[string]types.LearningSnapshot) types.PatternContext {
	var domains, caps, tags, projects []string
	for _, id := range sources {
		meta := snapshots[id].Metadata
		domains = append(domains, meta.Domains...)
		caps = append(caps, meta.Capabilities...)
		tags = append(tags, meta.Tags...)
		if meta.ProjectTag != "" {
			projects = append(projects, meta.ProjectTag)
		}
	}
	return types.PatternContext{
		Domains:      types.NormalizeSet(domains),
		Capabilities: types.NormalizeSet(caps),
		Tags:         types.NormalizeSet(tags),
		Projects:     types.NormalizeSet(projects),
	}
}

func impact(p types.Pattern, snapshots map[string]types.LearningSnapshot, population int) float64 {
	if len(p.SourceAgents) == 0 || population == 0 {
		return clamp01(impactConfidenceWeight * p.Confidence)
	}
	reach := float64(len(p.SourceAgents)) / float64(population)
	backed := 0
	for _, id := range p.SourceAgents {
		if len(snapshots[id].HighRewardEpisodes) > 0 {
			backed++
		}
	}
	evidence := float64(backed) / float64(len(p.SourceAgents))
	return clamp01(impactConfidenceWeight*p.Confidence +
		impactReachWeight*clamp01(reach) +
		impactEvidenceWeight*evidence)
}

func implementationGuide(p types.Pattern) []string {
	var guide []string
	guide = append(guide, fmt.Sprintf("Start from how %s apply it", strings.Join(p.SourceAgents, ", ")))
	for _, app := range p.Applications {
		guide = append(guide, fmt.Sprintf("Introduce %s %q", app.Kind, app.Name))
	}
	if p.IsMeta() {
		guide = append(guide, fmt.Sprintf("Roll out together with its %d supporting patterns", len(p.DerivedFrom)))
	}
	return guide
}

func successCriteria(p types.Pattern, minReward float64) []string {
	return []string{
		fmt.Sprintf("Episodes using it reach reward >= %.2f", minReward),
		fmt.Sprintf("No drop in %s outcomes after adoption", p.GroupType),
		fmt.Sprintf("Adopted beyond the %d source agents", len(p.SourceAgents)),
	}
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// DISTRIBUTING
// =============================================================================

func (c *Curator) distribute(ctx context.Context, cy *cycle) error {
	cy.dist = c.distributor.Distribute(ctx, cy.patterns, cy.agents)
	cy.errs.Merge(cy.dist.Errors)
	if cy.dist.Partial {
		cy.partial = true
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PERSISTING
// =============================================================================

// persist upserts every pattern into the graph, folds this cycle's transfer
// outcomes into usage counts, writes the entries to the repository, then
// consolidates duplicates and links related patterns.
func (c *Curator) persist(ctx context.Context, cy *cycle) error {
	g := c.deps.Graph
	for _, p := range cy.patterns {
		g.Upsert(p)
	}
	// New nodes start at zero usage; this cycle's deliveries count after.
	for _, rec := range c.deps.TransferLog.Since(cy.logMark) {
		g.RecordUsage(rec.PatternID, rec.Status == types.TransferStatusTransferred)
	}

	if c.deps.Repository != nil {
		for _, p := range cy.patterns {
			if err := ctx.Err(); err != nil {
				return err
			}
			node, ok := g.Get(p.ID)
			if !ok {
				continue
			}
			path, err := c.deps.Repository.SaveEntry(ctx, c.deps.KnowledgeRoot, node.Entry)
			cy.audit.PatternPersist(p.ID, path, err)
			if err != nil {
				if isCancellation(err) {
					return err
				}
				cy.errs.Add(err)
				continue
			}
			cy.persisted++
		}
	}

	merged := g.Consolidate()
	links := g.Relate()
	logging.Curation("Persisted %d patterns (graph=%d, merged=%d, links=%d)", cy.persisted, g.Len(), merged, links)
	return nil
}

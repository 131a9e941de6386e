package curation

import (
	"context"
	"time"

	"hivemind/internal/knowledge"
	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// =============================================================================
// GLOBAL KNOWLEDGE BOOT
// =============================================================================

// LoadGlobal seeds the graph with every pattern already in the repository,
// keeping persisted usage counts. Returns the number of nodes added.
func (c *Curator) LoadGlobal(ctx context.Context) (int, error) {
	if c.deps.Repository == nil {
		return 0, nil
	}
	timer := logging.StartTimer(logging.CategoryCuration, "Curator.LoadGlobal")
	defer timer.Stop()

	entries, err := c.deps.Repository.LoadEntries(ctx, c.deps.KnowledgeRoot)
	if err != nil {
		logging.Get(logging.CategoryCuration).Error("Failed to load global knowledge: %v", err)
		return 0, err
	}
	added := c.deps.Graph.Seed(entries)
	logging.Curation("Seeded graph with %d of %d global patterns", added, len(entries))
	return added, nil
}

// Watch starts a watcher on the knowledge root that seeds the graph with
// patterns written by other curators. The caller must Stop it.
func (c *Curator) Watch(ctx context.Context) (*knowledge.Watcher, error) {
	if c.deps.Repository == nil {
		return nil, types.ConfigurationError("Watch", "repository", errNoRepository)
	}
	w, err := knowledge.NewWatcher(c.deps.Repository, c.deps.KnowledgeRoot, func(entries []types.GlobalKnowledgeEntry) {
		if added := c.deps.Graph.Seed(entries); added > 0 {
			logging.Curation("Watcher added %d patterns to the graph", added)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

// =============================================================================
// PERIODIC RUNNER
// =============================================================================

// RunEvery runs a cycle immediately and then once per interval until ctx is
// done. fn, if set, receives each cycle's outcome. Returns ctx.Err().
func (c *Curator) RunEvery(ctx context.Context, interval time.Duration, fn func(Insights, error)) error {
	if interval <= 0 {
		return types.ConfigurationError("RunEvery", "interval", errBadInterval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Curation("Running a cycle every %s", interval)
	for {
		ins, err := c.Run(ctx)
		if fn != nil {
			fn(ins, err)
		}
		if err != nil && types.KindOf(err).Fatal() {
			return err
		}

		select {
		case <-ctx.Done():
			logging.Curation("Periodic runner stopped: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

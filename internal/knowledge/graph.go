package knowledge

import (
	"sort"
	"sync"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// Node is one pattern in the knowledge graph plus its links.
type Node struct {
	Entry   types.GlobalKnowledgeEntry
	Aliases []string // IDs merged into this node by consolidation
	Related []string // Nodes sharing at least one source agent
	success int
}

// Graph is the in-process knowledge graph keyed by pattern ID.
// Usage bookkeeping is initialized on first insert and never reset by updates.
type Graph struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	aliases map[string]string // merged ID -> canonical ID
	now     func() time.Time
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		aliases: make(map[string]string),
		now:     time.Now,
	}
}

func (g *Graph) resolve(id string) string {
	if canon, ok := g.aliases[id]; ok {
		return canon
	}
	return id
}

// Upsert inserts p with zero usage and success rate, or replaces the stored
// pattern while leaving usage bookkeeping untouched. Reports whether the
// node was created.
func (g *Graph) Upsert(p types.Pattern) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	id := g.resolve(p.ID)
	if n, ok := g.nodes[id]; ok {
		keepID := n.Entry.ID
		n.Entry.Pattern = p.Clone()
		n.Entry.ID = keepID
		n.Entry.LastUpdatedMillis = now
		return false
	}
	g.nodes[p.ID] = &Node{
		Entry: types.GlobalKnowledgeEntry{
			Pattern:           p.Clone(),
			GlobalUsageCount:  0,
			SuccessRate:       0,
			LastUpdatedMillis: now,
		},
	}
	return true
}

// Seed loads persisted entries, keeping their usage bookkeeping. Entries
// already present are left alone.
func (g *Graph) Seed(entries []types.GlobalKnowledgeEntry) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	added := 0
	for _, e := range entries {
		id := g.resolve(e.ID)
		if _, ok := g.nodes[id]; ok {
			continue
		}
		e.Pattern = e.Pattern.Clone()
		g.nodes[e.ID] = &Node{
			Entry:   e,
			success: int(e.SuccessRate*float64(e.GlobalUsageCount) + 0.5),
		}
		added++
	}
	return added
}

// RecordUsage counts one delivery attempt of a pattern and updates its
// success rate. Unknown IDs are ignored.
func (g *Graph) RecordUsage(id string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[g.resolve(id)]
	if !ok {
		return
	}
	n.Entry.GlobalUsageCount++
	if success {
		n.success++
	}
	n.Entry.SuccessRate = float64(n.success) / float64(n.Entry.GlobalUsageCount)
	n.Entry.LastUpdatedMillis = g.now().UnixMilli()
}

// Get returns a copy of the node for id, following consolidation aliases.
func (g *Graph) Get(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[g.resolve(id)]
	if !ok {
		return Node{}, false
	}
	return copyNode(n), true
}

// Len returns the number of canonical nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Nodes returns copies of all canonical nodes sorted by ID.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for _, id := range g.sortedIDsLocked() {
		out = append(out, copyNode(g.nodes[id]))
	}
	return out
}

func (g *Graph) sortedIDsLocked() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyNode(n *Node) Node {
	c := *n
	c.Entry.Pattern = n.Entry.Pattern.Clone()
	c.Aliases = append([]string(nil), n.Aliases...)
	c.Related = append([]string(nil), n.Related...)
	return c
}

// =============================================================================
// CONSOLIDATION AND RELATIONSHIPS
// =============================================================================

// duplicateKey groups near-duplicates: same group, same sources, same
// normalized description.
func duplicateKey(p types.Pattern) string {
	key := types.NormalizeIdentifier(p.GroupType) + "|" + types.NormalizeIdentifier(p.Description)
	for _, a := range types.SortedUnique(p.SourceAgents) {
		key += "|" + a
	}
	return key
}

// Consolidate merges near-duplicate nodes into the one with the smallest ID.
// Merged IDs stay resolvable as aliases and their usage is folded into the
// survivor, so history is kept. Returns the number of nodes merged.
func (g *Graph) Consolidate() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	groups := make(map[string][]string)
	for _, id := range g.sortedIDsLocked() {
		k := duplicateKey(g.nodes[id].Entry.Pattern)
		groups[k] = append(groups[k], id)
	}

	merged := 0
	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		canon := g.nodes[ids[0]]
		for _, id := range ids[1:] {
			dup := g.nodes[id]
			canon.Entry.GlobalUsageCount += dup.Entry.GlobalUsageCount
			canon.success += dup.success
			// The survivor is no more certain than its weakest duplicate.
			if dup.Entry.Confidence < canon.Entry.Confidence {
				canon.Entry.Confidence = dup.Entry.Confidence
			}
			if dup.Entry.LastUpdatedMillis > canon.Entry.LastUpdatedMillis {
				canon.Entry.LastUpdatedMillis = dup.Entry.LastUpdatedMillis
			}
			canon.Aliases = append(canon.Aliases, id)
			canon.Aliases = append(canon.Aliases, dup.Aliases...)
			g.aliases[id] = ids[0]
			for _, a := range dup.Aliases {
				g.aliases[a] = ids[0]
			}
			delete(g.nodes, id)
			merged++
		}
		if canon.Entry.GlobalUsageCount > 0 {
			canon.Entry.SuccessRate = float64(canon.success) / float64(canon.Entry.GlobalUsageCount)
		}
		canon.Aliases = types.SortedUnique(canon.Aliases)
	}

	if merged > 0 {
		// Related lists may point at merged IDs.
		for _, n := range g.nodes {
			for i, r := range n.Related {
				n.Related[i] = g.resolve(r)
			}
			n.Related = types.SortedUnique(without(n.Related, n.Entry.ID))
		}
		logging.Knowledge("Consolidated %d duplicate patterns", merged)
	}
	return merged
}

// Relate links every pair of nodes that share a source agent. Returns the
// number of distinct links.
func (g *Graph) Relate() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	bySource := make(map[string][]string)
	for _, id := range g.sortedIDsLocked() {
		for _, a := range types.SortedUnique(g.nodes[id].Entry.SourceAgents) {
			bySource[a] = append(bySource[a], id)
		}
	}

	related := make(map[string]map[string]struct{})
	for _, ids := range bySource {
		for i := range ids {
			for j := range ids {
				if i == j {
					continue
				}
				if related[ids[i]] == nil {
					related[ids[i]] = make(map[string]struct{})
				}
				related[ids[i]][ids[j]] = struct{}{}
			}
		}
	}

	links := 0
	for id, n := range g.nodes {
		var rel []string
		for other := range related[id] {
			rel = append(rel, other)
		}
		n.Related = types.SortedUnique(rel)
		links += len(n.Related)
	}
	logging.KnowledgeDebug("Related %d pattern links", links/2)
	return links / 2
}

func without(items []string, drop string) []string {
	out := items[:0]
	for _, s := range items {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

package team

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Registry holds the agents taking part in curation.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent. IDs must be unique.
func (r *Registry) Register(a Agent) error {
	if a == nil || a.ID() == "" {
		return types.ValidationError("Registry.Register", "", fmt.Errorf("agent with id required"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID()]; ok {
		return types.ValidationError("Registry.Register", a.ID(), fmt.Errorf("agent already registered"))
	}
	r.agents[a.ID()] = a
	return nil
}

// Remove drops an agent. Unknown IDs are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Agents returns every registered agent sorted by ID.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// =============================================================================
// DEFINITIONS
// =============================================================================

// Definition describes one team in a teams file.
type Definition struct {
	types.AgentMetadata `yaml:",inline"`
	Context             types.AgentContext `yaml:"context"`
}

// File is the on-disk shape of a teams file.
type File struct {
	Teams []Definition `yaml:"teams"`
}

// LoadDefinitions reads team definitions from a YAML file. A missing file
// yields no definitions.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Get(logging.CategoryTeam).Debug("No teams file at %s", path)
			return nil, nil
		}
		return nil, types.ConfigurationError("LoadDefinitions", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, types.ConfigurationError("LoadDefinitions", path, fmt.Errorf("failed to parse teams file: %w", err))
	}
	seen := make(map[string]struct{}, len(f.Teams))
	for i, d := range f.Teams {
		if d.AgentID == "" {
			return nil, types.ConfigurationError("LoadDefinitions", path, fmt.Errorf("team %d has no agent_id", i))
		}
		if _, dup := seen[d.AgentID]; dup {
			return nil, types.ConfigurationError("LoadDefinitions", path, fmt.Errorf("duplicate agent_id %q", d.AgentID))
		}
		seen[d.AgentID] = struct{}{}
	}
	return f.Teams, nil
}

// SaveDefinitions writes definitions as a teams file.
func SaveDefinitions(path string, defs []Definition) error {
	data, err := yaml.Marshal(File{Teams: defs})
	if err != nil {
		return types.ConfigurationError("SaveDefinitions", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return types.StorageError("SaveDefinitions", path, err)
	}
	return nil
}

// Build creates a registry of Team handles over memory. Agents found in
// memory without a definition are registered with bare metadata so their
// learning is still curated.
func Build(memory *store.Memory, defs []Definition, agentIDs []string) (*Registry, error) {
	reg := NewRegistry()
	for _, d := range defs {
		t, err := New(memory, d.AgentMetadata, d.Context)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	for _, id := range agentIDs {
		if _, ok := reg.Get(id); ok {
			continue
		}
		t, err := New(memory, types.AgentMetadata{AgentID: id}, types.AgentContext{})
		if err != nil {
			return nil, err
		}
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	logging.Get(logging.CategoryTeam).Info("Registered %d teams (%d defined)", reg.Len(), len(defs))
	return reg, nil
}

package main

import (
	"context"
	"errors"
	"fmt"

	"hivemind/internal/curation"
	"hivemind/internal/knowledge"
	"hivemind/internal/logging"
	"hivemind/internal/metrics"
	"hivemind/internal/store"
	"hivemind/internal/team"
	"hivemind/internal/types"
)

// app is the wired curation stack for one command invocation.
type app struct {
	memory   *store.Memory
	registry *team.Registry
	log      *metrics.TransferLog
	repo     *knowledge.Repository
	curator  *curation.Curator
}

// registryAgents adapts a team registry to curation.AgentSource.
type registryAgents struct{ reg *team.Registry }

func (r registryAgents) Agents() []types.Agent { return r.reg.Agents() }

// openTeams opens memory and registers every defined or stored team.
func (c *cli) openTeams(ctx context.Context) (*app, error) {
	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mem, err := store.Open(cfg.Memory, cfg.Knowledge.Project)
	if err != nil {
		return nil, err
	}
	a := &app{memory: mem, repo: knowledge.NewRepository(cfg.Knowledge.Project)}

	defs, err := team.LoadDefinitions(cfg.TeamsFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	ids, err := mem.Agents(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	a.registry, err = team.Build(mem, defs, ids)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// team returns the registered handle for id, or a bare one for a new agent.
func (a *app) team(id string) (*team.Team, error) {
	if agent, ok := a.registry.Get(id); ok {
		if t, ok := agent.(*team.Team); ok {
			return t, nil
		}
	}
	t, err := team.New(a.memory, types.AgentMetadata{AgentID: id}, types.AgentContext{})
	if err != nil {
		return nil, err
	}
	if err := a.registry.Register(t); err != nil {
		return nil, err
	}
	return t, nil
}

// openApp opens the teams, the transfer log and a curator seeded with the
// global knowledge already on disk.
func (c *cli) openApp(ctx context.Context) (*app, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "openApp")
	defer timer.Stop()

	cfg := c.cfg
	a, err := c.openTeams(ctx)
	if err != nil {
		return nil, err
	}

	if path := cfg.Knowledge.TransferLogPath(); path != "" {
		a.log, err = metrics.OpenTransferLog(path)
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		a.log = metrics.NewTransferLog()
	}

	a.curator, err = curation.New(cfg.Curation, curation.Deps{
		Agents:        registryAgents{a.registry},
		Snapshots:     team.MemorySnapshots{Memory: a.memory},
		Repository:    a.repo,
		KnowledgeRoot: cfg.Knowledge.Root,
		Graph:         knowledge.NewGraph(),
		TransferLog:   a.log,
	}, curation.WithWindows(cfg.GetVelocityWindow(), cfg.GetInnovationWindow()))
	if err != nil {
		a.Close()
		return nil, err
	}
	if _, err := a.curator.LoadGlobal(ctx); err != nil {
		logging.Get(logging.CategoryBoot).Warn("Starting with an empty knowledge graph: %v", err)
	}

	logging.Boot("Curator ready: %d teams, %d prior transfers, %d global patterns",
		a.registry.Len(), a.log.Len(), a.curator.Graph().Len())
	return a, nil
}

// Close releases the transfer log and memory.
func (a *app) Close() error {
	var errs []error
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	if a.memory != nil {
		errs = append(errs, a.memory.Close())
	}
	return errors.Join(errs...)
}

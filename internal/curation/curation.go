// Package curation runs the knowledge curation cycle: collect snapshots,
// mine patterns, enrich them, distribute them to beneficiaries, persist them
// into the global knowledge repository and report insights.
package curation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/config"
	"hivemind/internal/distributor"
	"hivemind/internal/knowledge"
	"hivemind/internal/logging"
	"hivemind/internal/metrics"
	"hivemind/internal/miner"
	"hivemind/internal/similarity"
	"hivemind/internal/types"
)

// State is a step of the curation cycle.
type State string

const (
	StateIdle         State = "idle"
	StateCollecting   State = "collecting"
	StateMining       State = "mining"
	StateEnriching    State = "enriching"
	StateDistributing State = "distributing"
	StatePersisting   State = "persisting"
	StateReporting    State = "reporting"
)

var (
	errNoRepository = errors.New("knowledge repository required")
	errBadInterval  = errors.New("interval must be positive")
)

// AgentSource lists the agents taking part in a cycle.
type AgentSource interface {
	Agents() []types.Agent
}

// Deps are the collaborators a Curator drives.
type Deps struct {
	Agents    AgentSource
	Snapshots types.SnapshotSource

	// Repository and KnowledgeRoot are optional; without them patterns only
	// reach the in-process graph.
	Repository    *knowledge.Repository
	KnowledgeRoot string

	Graph       *knowledge.Graph
	TransferLog *metrics.TransferLog

	// Similarity defaults to an engine built from the curation config.
	Similarity miner.Comparer
	// Relevance defaults to distributor.DefaultRelevance.
	Relevance distributor.RelevanceFunc
}

// Curator owns the cycle state machine. One cycle runs at a time.
type Curator struct {
	cfg  config.CurationConfig
	deps Deps

	miner       *miner.Miner
	distributor *distributor.Distributor

	velocityWindow   time.Duration
	innovationWindow time.Duration
	now              func() time.Time

	runMu   sync.Mutex // Held for a whole cycle
	stateMu sync.RWMutex
	state   State
}

// Option configures a Curator.
type Option func(*Curator)

// WithClock overrides the time source used for metrics.
func WithClock(now func() time.Time) Option {
	return func(c *Curator) { c.now = now }
}

// WithWindows sets the knowledge velocity and innovation index windows.
func WithWindows(velocity, innovation time.Duration) Option {
	return func(c *Curator) {
		if velocity > 0 {
			c.velocityWindow = velocity
		}
		if innovation > 0 {
			c.innovationWindow = innovation
		}
	}
}

// New creates a curator. Invalid thresholds or weights are a
// ConfigurationError.
func New(cfg config.CurationConfig, deps Deps, opts ...Option) (*Curator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, types.ConfigurationError("curation.New", "curation", err)
	}
	if deps.Graph == nil {
		deps.Graph = knowledge.NewGraph()
	}
	if deps.Similarity == nil {
		engine, err := similarity.NewFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		deps.Similarity = engine
	}

	var distOpts []distributor.Option
	if deps.Relevance != nil {
		distOpts = append(distOpts, distributor.WithRelevance(deps.Relevance))
	}

	c := &Curator{
		cfg:              cfg,
		deps:             deps,
		miner:            miner.NewFromConfig(deps.Similarity, cfg),
		velocityWindow:   metrics.DefaultVelocityWindow,
		innovationWindow: metrics.DefaultInnovationWindow,
		now:              time.Now,
		state:            StateIdle,
	}
	// A nil *TransferLog must not become a non-nil interface.
	var recorder types.TransferRecorder
	if deps.TransferLog != nil {
		recorder = deps.TransferLog
	}
	c.distributor = distributor.NewFromConfig(recorder, cfg, distOpts...)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the step the curator is currently in.
func (c *Curator) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Curator) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	logging.CurationDebug("State -> %s", s)
}

// Graph returns the in-process knowledge graph.
func (c *Curator) Graph() *knowledge.Graph {
	return c.deps.Graph
}

// preflight checks collaborators. Failures here are the only fatal errors
// a cycle can return.
func (c *Curator) preflight() error {
	switch {
	case c.deps.Agents == nil:
		return types.ConfigurationError("Run", "agents", fmt.Errorf("agent source required"))
	case c.deps.Snapshots == nil:
		return types.ConfigurationError("Run", "snapshots", fmt.Errorf("snapshot source required"))
	case c.deps.TransferLog == nil:
		return types.ConfigurationError("Run", "transfer_log", fmt.Errorf("transfer log required"))
	case c.deps.Repository != nil && c.deps.KnowledgeRoot == "":
		return types.ConfigurationError("Run", "knowledge_root", fmt.Errorf("knowledge root required with a repository"))
	}
	return nil
}

// =============================================================================
// CYCLE
// =============================================================================

// StateTiming records how one state of a cycle went.
type StateTiming struct {
	State    State         `json:"state"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// cycle is the working set of one Run.
type cycle struct {
	id      string
	audit   *logging.AuditLogger
	started time.Time

	agents    []types.Agent
	snapshots map[string]types.LearningSnapshot
	mined     miner.Result
	patterns  []types.Pattern // Enriched cross-team and meta patterns
	dist      distributor.Summary
	logMark   int // Transfer log length when the cycle began
	persisted int

	errs    types.ErrorSummary
	partial bool
	states  []StateTiming
}

type step struct {
	state State
	fn    func(ctx context.Context, cy *cycle) error
}

// Run executes one full cycle and returns its insights. Failures inside a
// state are contained: the cycle skips to Reporting and the insights are
// marked Partial. Only a ConfigurationError found before Collecting is
// returned as an error.
func (c *Curator) Run(ctx context.Context) (Insights, error) {
	if err := c.preflight(); err != nil {
		logging.Get(logging.CategoryCuration).Error("Failed to start cycle: %v", err)
		return Insights{}, err
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	timer := logging.StartTimer(logging.CategoryCuration, "Curator.Run")
	defer timer.Stop()

	cy := &cycle{
		id:        uuid.NewString(),
		started:   c.now(),
		snapshots: make(map[string]types.LearningSnapshot),
		logMark:   c.deps.TransferLog.Len(),
		errs:      types.NewErrorSummary(),
	}
	cy.audit = logging.AuditForCycle(cy.id)
	cy.audit.Log(logging.AuditEvent{EventType: logging.AuditCycleStart, Success: true, Message: "cycle started"})
	logging.Curation("Cycle %s started", cy.id)

	steps := []step{
		{StateCollecting, c.collect},
		{StateMining, c.mine},
		{StateEnriching, c.enrich},
		{StateDistributing, c.distribute},
		{StatePersisting, c.persist},
	}
	for _, st := range steps {
		if ctx.Err() != nil {
			cy.partial = true
			logging.Get(logging.CategoryCuration).Warn("Cycle %s cancelled before %s", cy.id, st.state)
			break
		}
		if err := c.runState(ctx, st, cy); err != nil {
			cy.partial = true
			break
		}
	}

	c.setState(StateReporting)
	start := time.Now()
	insights := c.report(cy)
	cy.audit.CycleState(string(StateReporting), true, time.Since(start))
	c.setState(StateIdle)

	cy.audit.Log(logging.AuditEvent{
		EventType:  logging.AuditCycleComplete,
		Success:    !insights.Partial,
		DurationMs: time.Since(cy.started).Milliseconds(),
		Message:    insights.Summary,
		Fields: map[string]interface{}{
			"patterns":  insights.PatternCount,
			"meta":      insights.MetaPatternCount,
			"transfers": len(insights.Transfers),
			"errors":    insights.Errors.Total(),
		},
	})
	logging.Curation("Cycle %s finished: %s (partial=%v, errors: %s)",
		cy.id, insights.Summary, insights.Partial, insights.Errors.String())
	return insights, nil
}

// runState runs one state with panic containment and records its timing.
func (c *Curator) runState(ctx context.Context, st step, cy *cycle) (err error) {
	c.setState(st.state)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = types.ValidationError(string(st.state), cy.id, fmt.Errorf("panic: %v", r))
		}
		timing := StateTiming{State: st.state, Duration: time.Since(start)}
		if err != nil {
			timing.Error = err.Error()
			if !isCancellation(err) {
				cy.errs.Add(err)
			}
			logging.Get(logging.CategoryCuration).Error("State %s failed in cycle %s: %v", st.state, cy.id, err)
			cy.audit.Log(logging.AuditEvent{
				EventType: logging.AuditErrorContained,
				Target:    string(st.state),
				Error:     err.Error(),
			})
		}
		cy.states = append(cy.states, timing)
		cy.audit.CycleState(string(st.state), err == nil, timing.Duration)
	}()

	return st.fn(ctx, cy)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

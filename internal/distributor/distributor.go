// Package distributor decides which agents benefit from a pattern, adapts
// the pattern to each recipient and delivers it, recording every attempt.
package distributor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// RelevanceFunc scores how useful a pattern is to an agent, in [0,1].
type RelevanceFunc func(p types.Pattern, meta types.AgentMetadata) float64

// Distributor delivers patterns to beneficiaries with bounded parallelism.
// Deliveries into the same recipient never overlap.
type Distributor struct {
	recorder  types.TransferRecorder
	relevance RelevanceFunc
	threshold float64
	retries   int
	workers   int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // One lock per recipient
}

// Option configures a Distributor.
type Option func(*Distributor)

// WithRelevance replaces the default relevance function.
func WithRelevance(fn RelevanceFunc) Option {
	return func(d *Distributor) { d.relevance = fn }
}

// WithThreshold sets the beneficiary threshold. Relevance must be strictly greater.
func WithThreshold(th float64) Option {
	return func(d *Distributor) { d.threshold = th }
}

// WithRetries sets how many times a failed ingestion is retried.
func WithRetries(n int) Option {
	return func(d *Distributor) { d.retries = n }
}

// WithWorkers bounds how many patterns are distributed concurrently.
func WithWorkers(n int) Option {
	return func(d *Distributor) { d.workers = n }
}

// New creates a distributor that appends transfer records to recorder.
func New(recorder types.TransferRecorder, opts ...Option) *Distributor {
	d := &Distributor{
		recorder:  recorder,
		relevance: DefaultRelevance,
		threshold: 0.6,
		retries:   1,
		workers:   4,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	if d.retries < 0 {
		d.retries = 0
	}
	return d
}

// NewFromConfig creates a distributor from the curation config.
func NewFromConfig(recorder types.TransferRecorder, cfg config.CurationConfig, opts ...Option) *Distributor {
	base := []Option{
		WithThreshold(cfg.BeneficiaryThreshold),
		WithRetries(cfg.DeliveryRetries),
		WithWorkers(cfg.Workers),
	}
	return New(recorder, append(base, opts...)...)
}

func (d *Distributor) lockFor(agentID string) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	l, ok := d.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[agentID] = l
	}
	return l
}

// =============================================================================
// RELEVANCE
// =============================================================================

// DefaultRelevance is the share of the pattern's context vocabulary that the
// agent also carries. Project overlap counts as one more shared term. A
// pattern without context is relevant to nobody.
func DefaultRelevance(p types.Pattern, meta types.AgentMetadata) float64 {
	want := p.Context.Terms()
	projects := types.NormalizeSet(p.Context.Projects)
	if len(want) == 0 && len(projects) == 0 {
		return 0
	}

	have := make(map[string]struct{})
	for _, t := range meta.Terms() {
		have[t] = struct{}{}
	}
	hits := 0
	for _, t := range want {
		if _, ok := have[t]; ok {
			hits++
		}
	}
	total := len(want)
	if len(projects) > 0 {
		total++
		own := types.NormalizeIdentifier(meta.ProjectTag)
		for _, proj := range projects {
			if proj == own {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(total)
}

// Beneficiary is an agent selected to receive a pattern.
type Beneficiary struct {
	Agent     types.Agent
	Relevance float64
}

// IdentifyBeneficiaries returns agents whose relevance exceeds the threshold,
// sorted by agent ID. Source agents never qualify. Agents whose metadata
// cannot be read are skipped and reported in the summary.
func (d *Distributor) IdentifyBeneficiaries(ctx context.Context, p types.Pattern, agents []types.Agent) ([]Beneficiary, types.ErrorSummary) {
	errs := types.NewErrorSummary()
	var out []Beneficiary
	for _, a := range sortedAgents(agents) {
		if p.HasSource(a.ID()) {
			continue
		}
		meta, err := a.Metadata(ctx)
		if err != nil {
			logging.Get(logging.CategoryDistributor).Warn("Skipping %s for %s: metadata unavailable: %v", a.ID(), p.ID, err)
			errs.Add(types.DeliveryError("IdentifyBeneficiaries", a.ID(), err))
			continue
		}
		score := clamp01(d.relevance(p, meta))
		if score > d.threshold {
			out = append(out, Beneficiary{Agent: a, Relevance: score})
			logging.DistributorDebug("%s benefits from %s (relevance %.3f)", a.ID(), p.ID, score)
		} else {
			logging.DistributorDebug("%s skipped for %s (relevance %.3f <= %.2f)", a.ID(), p.ID, score, d.threshold)
		}
	}
	return out, errs
}

func sortedAgents(agents []types.Agent) []types.Agent {
	out := append([]types.Agent(nil), agents...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
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
// ADAPTATION
// =============================================================================

// AdaptPattern produces a recipient-specific copy of p. The shared pattern is
// never modified.
func (d *Distributor) AdaptPattern(ctx context.Context, p types.Pattern, agent types.Agent) (types.AdaptedPattern, error) {
	actx, err := agent.Context(ctx)
	if err != nil {
		return types.AdaptedPattern{}, types.DeliveryError("AdaptPattern", agent.ID(), fmt.Errorf("failed to read agent context: %w", err))
	}

	adapted := types.AdaptedPattern{
		Pattern:   p.Clone(),
		Recipient: agent.ID(),
	}

	domain := actx.Domain
	if domain == "" {
		domain = agent.ID()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Adopt %q in %s", p.Description, domain)
	if len(actx.Stack) > 0 {
		fmt.Fprintf(&sb, " using %s", strings.Join(actx.Stack, ", "))
	}
	if len(p.ImplementationGuide) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(p.ImplementationGuide, "; "))
	}
	adapted.Implementation = sb.String()

	for _, app := range p.Applications {
		ex := fmt.Sprintf("Apply %s %q within %s", app.Kind, app.Name, domain)
		if len(actx.Stack) > 0 {
			ex += " (" + actx.Stack[0] + ")"
		}
		adapted.Examples = append(adapted.Examples, ex)
	}

	adapted.Constraints = append(adapted.Constraints, actx.Constraints...)
	for _, c := range actx.Conventions {
		adapted.Constraints = append(adapted.Constraints, "Follow convention: "+c)
	}
	if p.Confidence < 0.8 {
		adapted.Constraints = append(adapted.Constraints,
			fmt.Sprintf("Validate locally before relying on it (confidence %.2f)", p.Confidence))
	}
	return adapted, nil
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// Summary reports one distribution pass.
type Summary struct {
	Transferred int
	Rejected    int
	Records     []types.TransferRecord
	// Recipients maps pattern ID to the agents that received it.
	Recipients map[string][]string
	Errors     types.ErrorSummary
	Partial    bool
}

// Distribute delivers every pattern to its beneficiaries. A failed ingestion
// is retried, then recorded as rejected; it never stops the remaining work.
// On cancellation in-flight deliveries finish, nothing new starts and the
// summary is marked Partial.
func (d *Distributor) Distribute(ctx context.Context, patterns []types.Pattern, agents []types.Agent) Summary {
	timer := logging.StartTimer(logging.CategoryDistributor, "Distributor.Distribute")
	defer timer.Stop()

	sum := Summary{
		Recipients: make(map[string][]string),
		Errors:     types.NewErrorSummary(),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i := range patterns {
		if gctx.Err() != nil {
			break
		}
		p := patterns[i]
		g.Go(func() error {
			part := d.distributeOne(gctx, p, agents)
			mu.Lock()
			sum.Transferred += part.Transferred
			sum.Rejected += part.Rejected
			sum.Records = append(sum.Records, part.Records...)
			if len(part.Recipients[p.ID]) > 0 {
				sum.Recipients[p.ID] = append(sum.Recipients[p.ID], part.Recipients[p.ID]...)
			}
			sum.Errors.Merge(part.Errors)
			sum.Partial = sum.Partial || part.Partial
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		sum.Partial = true
	}
	for id := range sum.Recipients {
		sort.Strings(sum.Recipients[id])
	}
	logging.Distributor("Distributed %d patterns: %d transferred, %d rejected (partial=%v)",
		len(patterns), sum.Transferred, sum.Rejected, sum.Partial)
	return sum
}

func (d *Distributor) distributeOne(ctx context.Context, p types.Pattern, agents []types.Agent) Summary {
	sum := Summary{Recipients: make(map[string][]string), Errors: types.NewErrorSummary()}
	if ctx.Err() != nil {
		sum.Partial = true
		return sum
	}

	beneficiaries, errs := d.IdentifyBeneficiaries(ctx, p, agents)
	sum.Errors.Merge(errs)
	for _, b := range beneficiaries {
		if ctx.Err() != nil {
			sum.Partial = true
			break
		}
		rec := d.deliver(ctx, p, b.Agent)
		sum.Records = append(sum.Records, rec)
		if rec.Status == types.TransferStatusTransferred {
			sum.Transferred++
			sum.Recipients[p.ID] = append(sum.Recipients[p.ID], rec.ToAgent)
		} else {
			sum.Rejected++
			sum.Errors.Add(types.DeliveryError("Distribute", p.ID+"->"+rec.ToAgent, fmt.Errorf("%s", rec.Error)))
		}
	}
	return sum
}

// deliver adapts and ingests p into agent, retrying once by default. The
// delivery runs to completion even if ctx is cancelled meanwhile.
func (d *Distributor) deliver(ctx context.Context, p types.Pattern, agent types.Agent) types.TransferRecord {
	ctx = context.WithoutCancel(ctx)
	agentID := agent.ID()

	lock := d.lockFor(agentID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	attempts := 0
	for attempts < 1+d.retries {
		attempts++
		adapted, err := d.AdaptPattern(ctx, p, agent)
		if err == nil {
			err = agent.IngestKnowledge(ctx, adapted)
		}
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		logging.Get(logging.CategoryDistributor).Warn("Delivery of %s to %s failed (attempt %d): %v", p.ID, agentID, attempts, err)
	}

	rec := types.TransferRecord{
		PatternID:  p.ID,
		FromAgents: append([]string(nil), p.SourceAgents...),
		ToAgent:    agentID,
		Status:     types.TransferStatusTransferred,
		Attempts:   attempts,
	}
	if lastErr != nil {
		rec.Status = types.TransferStatusRejected
		rec.Error = lastErr.Error()
	}
	if d.recorder != nil {
		rec = d.recorder.Append(rec)
	}

	logging.Audit().Transfer(p.ID, agentID, lastErr == nil, attempts, rec.Error)
	return rec
}

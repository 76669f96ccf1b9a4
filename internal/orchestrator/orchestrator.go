// Package orchestrator implements the Hedge Orchestrator (spec.md §4.E): a
// periodic loop that finds policies needing a hedge and dispatches them to
// the Hedge Strategy Executors, under a per-iteration budget re-read on
// every cycle. It never references internal/lifecycle (spec.md §9: the two
// core loops communicate only through the Repository and the event stream).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hedgecore/internal/clockutil"
	"hedgecore/internal/domain"
	"hedgecore/internal/events"
	"hedgecore/internal/repo"
)

// Executor is the shared contract every Hedge Strategy Executor satisfies
// (spec.md §4.C's execute(policy, config) -> Option<HedgePosition>).
// internal/strategy's three executors all implement this signature already.
type Executor interface {
	Execute(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error)
}

// Config is the subset of config.OrchestratorConfig the orchestrator
// re-reads at the top of every iteration.
type Config struct {
	Interval                time.Duration
	IterationDeadline       time.Duration
	MaxPoliciesPerIteration int
	MaxAggregateNotionalUSD float64
	PauseNewOpenings        bool
	DrainExistingPositions  bool
}

// ConfigSource is re-invoked every iteration so a hot-reloaded
// config.LiveConfig takes effect without restarting the loop.
type ConfigSource func() Config

// HedgeRatios resolves the configured hedge ratio for a coverage kind,
// matching config.HedgeRatioConfig.For's signature without this package
// importing the config package directly.
type HedgeRatios func(domain.CoverageKind) float64

// maxConcurrentExecutions bounds per-iteration fan-out across policies,
// independent of each venue's own rate limiter underneath.
const maxConcurrentExecutions = 8

// Orchestrator runs the Hedge Orchestrator loop.
type Orchestrator struct {
	logger    *zap.Logger
	repo      repo.Repository
	executors []Executor
	bus       events.Sink
	clock     clockutil.Clock
	cfg       ConfigSource
}

// NewOrchestrator wires a repository, the ordered list of strategy
// executors to try per policy (spec.md §4.C: a policy may qualify for more
// than one strategy; each executor decides independently whether it
// applies), an event sink, a clock, and a config source.
func NewOrchestrator(logger *zap.Logger, repository repo.Repository, executors []Executor, bus events.Sink, clock clockutil.Clock, cfg ConfigSource) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockutil.Real{}
	}
	return &Orchestrator{
		logger:    logger.Named("orchestrator"),
		repo:      repository,
		executors: executors,
		bus:       bus,
		clock:     clock,
		cfg:       cfg,
	}
}

// Run executes the orchestrator loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		interval := o.cfg().Interval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-o.clock.After(interval):
			if err := o.RunOnce(ctx); err != nil {
				o.logger.Warn("orchestrator iteration completed with errors", zap.Error(err))
			}
		}
	}
}

// RunOnce executes one iteration: load active policies and open positions,
// skip policies already hedged per (policy,strategy), and dispatch the rest
// to the executor chain under the current budget.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	cfg := o.cfg()
	if cfg.IterationDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.IterationDeadline)
		defer cancel()
	}

	if cfg.PauseNewOpenings {
		o.logger.Debug("new openings paused, skipping iteration")
		return nil
	}

	policies, _, err := o.repo.LoadActivePolicies(ctx, "")
	if err != nil {
		return fmt.Errorf("orchestrator: load active policies: %w", err)
	}

	now := o.clock.Now()
	candidates := make([]domain.Policy, 0, len(policies))
	for _, p := range policies {
		if p.IsHedgeable(now) {
			candidates = append(candidates, p)
		}
	}
	if cfg.MaxPoliciesPerIteration > 0 && len(candidates) > cfg.MaxPoliciesPerIteration {
		o.logger.Info("truncating iteration to configured policy budget",
			zap.Int("candidates", len(candidates)), zap.Int("budget", cfg.MaxPoliciesPerIteration))
		candidates = candidates[:cfg.MaxPoliciesPerIteration]
	}
	if len(candidates) == 0 {
		return nil
	}

	policyIDs := make([]string, len(candidates))
	for i, p := range candidates {
		policyIDs[i] = p.ID
	}
	openPositions, err := o.repo.LoadOpenPositions(ctx, policyIDs)
	if err != nil {
		return fmt.Errorf("orchestrator: load open positions: %w", err)
	}
	hedged := make(map[domain.Key]bool, len(openPositions))
	for _, pos := range openPositions {
		if pos.State.ActiveForDuplication() {
			hedged[pos.Key()] = true
		}
	}

	budget := &aggregateBudget{max: cfg.MaxAggregateNotionalUSD}

	sem := make(chan struct{}, maxConcurrentExecutions)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs error

	for _, policy := range candidates {
		policy := policy
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if perr := o.dispatch(ctx, policy, hedged, budget, now); perr != nil {
				mu.Lock()
				errs = multierr.Append(errs, perr)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// aggregateBudget tracks the per-iteration notional cap across every
// concurrently dispatched policy (spec.md §4.E, §6's MaxAggregateNotionalUSD).
type aggregateBudget struct {
	mu    sync.Mutex
	max   float64
	spent float64
}

// reserve attempts to claim notionalUSD from the remaining budget. Returns
// false if the cap (when configured positive) would be exceeded.
func (b *aggregateBudget) reserve(notionalUSD float64) bool {
	if b.max <= 0 {
		return true // unconfigured cap: unlimited
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spent+notionalUSD > b.max {
		return false
	}
	b.spent += notionalUSD
	return true
}

// release gives back a reservation that didn't end up persisted, so a later
// policy in the same iteration can use the headroom.
func (b *aggregateBudget) release(notionalUSD float64) {
	if b.max <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent -= notionalUSD
}

// dispatch runs every applicable executor for one policy in order, stopping
// at the first one that opens a position (spec.md §4.C: a policy hedges via
// at most one strategy per cycle; the duplication invariant is scoped to
// (policy,strategy), so a policy qualifying for two strategies can still
// only gain one position per dispatch since each executor bails out once
// the per-(policy,strategy) key is already hedged).
func (o *Orchestrator) dispatch(ctx context.Context, policy domain.Policy, hedged map[domain.Key]bool, budget *aggregateBudget, now time.Time) error {
	var lastExecErr error
	applied := false

	for _, executor := range o.executors {
		pos, execErr := executor.Execute(ctx, policy, now)
		if execErr != nil {
			lastExecErr = execErr
			o.logger.Warn("strategy executor returned an error", zap.String("policy_id", policy.ID), zap.Error(execErr))
			continue
		}
		if pos == nil {
			continue // this executor doesn't apply to this policy
		}
		applied = true

		if hedged[pos.Key()] {
			// Another goroutine in this same iteration (or a prior cycle)
			// already opened this (policy,strategy) pair: spec.md §3's
			// duplication invariant.
			continue
		}
		if !budget.reserve(pos.NotionalUSD) {
			o.recordAttempt(ctx, policy, domain.AttemptBudgetExceeded, pos.Strategy, pos.Venue, "", "aggregate notional budget exhausted")
			continue
		}

		pos.ID = nonEmptyOr(pos.ID, uuid.NewString())
		if err := o.repo.PersistPosition(ctx, *pos); err != nil {
			budget.release(pos.NotionalUSD)
			o.recordAttempt(ctx, policy, domain.AttemptRepositoryError, pos.Strategy, pos.Venue, "", err.Error())
			return fmt.Errorf("orchestrator: persist position for policy %s: %w", policy.ID, err)
		}

		attempt := domain.ExecutionAttempt{
			ID:          uuid.NewString(),
			PolicyID:    policy.ID,
			Strategy:    pos.Strategy,
			Venue:       pos.Venue,
			Outcome:     domain.AttemptSuccess,
			PositionID:  pos.ID,
			AttemptedAt: now,
			Automated:   true,
		}
		if err := o.repo.PersistAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("orchestrator: persist attempt for policy %s: %w", policy.ID, err)
		}

		o.publish(events.KindHedgeOpened, *pos)
		return nil
	}

	// Nothing opened. Distinguish "no executor applies to this coverage
	// kind" from "every applicable executor tried and failed" so the audit
	// trail (spec.md §4.F) tells the two apart.
	if lastExecErr != nil {
		o.recordAttempt(ctx, policy, domain.AttemptAllVenuesExhausted, "", "", "", fmt.Sprintf("last executor error: %v", lastExecErr))
	} else if !applied {
		o.recordAttempt(ctx, policy, domain.AttemptNoHedgeApplicable, "", "", "", "")
	}
	return nil
}

func (o *Orchestrator) recordAttempt(ctx context.Context, policy domain.Policy, outcome domain.AttemptOutcome, strategy domain.StrategyKind, venue domain.Venue, positionID, reason string) {
	attempt := domain.ExecutionAttempt{
		ID:            uuid.NewString(),
		PolicyID:      policy.ID,
		Strategy:      strategy,
		Venue:         venue,
		Outcome:       outcome,
		PositionID:    positionID,
		FailureReason: reason,
		AttemptedAt:   o.clock.Now(),
		Automated:     true,
	}
	if err := o.repo.PersistAttempt(ctx, attempt); err != nil {
		o.logger.Warn("failed to persist execution attempt audit record",
			zap.String("policy_id", policy.ID), zap.String("outcome", string(outcome)), zap.Error(err))
	}
}

func (o *Orchestrator) publish(kind events.Kind, pos domain.HedgePosition) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Kind:       kind,
		PositionID: pos.ID,
		PolicyID:   pos.PolicyID,
		Venue:      string(pos.Venue),
		At:         o.clock.Now(),
	})
}

func nonEmptyOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedgecore/internal/domain"
	"hedgecore/internal/events"
	"hedgecore/internal/repo/memory"
)

type execFunc func(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error)

func (f execFunc) Execute(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
	return f(ctx, policy, now)
}

type fakeSink struct {
	events []events.Event
}

func (s *fakeSink) Publish(e events.Event) { s.events = append(s.events, e) }

func (s *fakeSink) kinds() []events.Kind {
	out := make([]events.Kind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                       { return c.now }
func (c fixedClock) Sleep(time.Duration)                   {}
func (c fixedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func testConfig() Config {
	return Config{
		Interval:                time.Minute,
		IterationDeadline:       0,
		MaxPoliciesPerIteration: 0,
		MaxAggregateNotionalUSD: 0,
	}
}

func newOrchestrator(t *testing.T, r *memory.Repository, sink events.Sink, now time.Time, executors ...Executor) *Orchestrator {
	t.Helper()
	return NewOrchestrator(nil, r, executors, sink, fixedClock{now: now}, func() Config { return testConfig() })
}

func activePolicy(id string, coverageCents int64, now time.Time) domain.Policy {
	return domain.Policy{
		ID:                  id,
		Coverage:            domain.CoverageDepeg,
		ProtectedAsset:      "USDX",
		CoverageAmountCents: coverageCents,
		Status:              domain.PolicyActive,
		StartsAt:            now.Add(-time.Hour),
		EndsAt:              now.Add(24 * time.Hour),
	}
}

func TestRunOnce_OpensHedgeAndPersistsAttempt(t *testing.T) {
	now := time.Unix(1000, 0)
	r := memory.New()
	pol := activePolicy("pol-1", 100_000_00, now)
	r.SeedPolicy(pol)

	exec := execFunc(func(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
		return &domain.HedgePosition{
			PolicyID: policy.ID, Strategy: domain.StrategyPredictionMarketYes, Venue: domain.VenuePolymarket,
			NotionalUSD: 20_000, State: domain.PositionOpening, OpenedAt: now, LastMarkAt: now,
		}, nil
	})
	sink := &fakeSink{}
	o := newOrchestrator(t, r, sink, now, exec)

	require.NoError(t, o.RunOnce(context.Background()))

	positions := r.AllPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, pol.ID, positions[0].PolicyID)
	assert.NotEmpty(t, positions[0].ID)

	attempts := r.AllAttempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptSuccess, attempts[0].Outcome)
	assert.Contains(t, sink.kinds(), events.KindHedgeOpened)
}

func TestRunOnce_NoApplicableExecutorRecordsNoHedgeApplicable(t *testing.T) {
	now := time.Unix(1000, 0)
	r := memory.New()
	r.SeedPolicy(activePolicy("pol-1", 100_000_00, now))

	declines := execFunc(func(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
		return nil, nil
	})
	o := newOrchestrator(t, r, &fakeSink{}, now, declines)

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Empty(t, r.AllPositions())

	attempts := r.AllAttempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptNoHedgeApplicable, attempts[0].Outcome)
}

func TestRunOnce_ExecutorErrorRecordsAllVenuesExhausted(t *testing.T) {
	now := time.Unix(1000, 0)
	r := memory.New()
	r.SeedPolicy(activePolicy("pol-1", 100_000_00, now))

	fails := execFunc(func(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
		return nil, errors.New("venue unreachable")
	})
	o := newOrchestrator(t, r, &fakeSink{}, now, fails)

	require.NoError(t, o.RunOnce(context.Background()))
	attempts := r.AllAttempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptAllVenuesExhausted, attempts[0].Outcome)
}

func TestRunOnce_SkipsPolicyAlreadyHedgedForStrategy(t *testing.T) {
	now := time.Unix(1000, 0)
	r := memory.New()
	pol := activePolicy("pol-1", 100_000_00, now)
	r.SeedPolicy(pol)
	require.NoError(t, r.PersistPosition(context.Background(), domain.HedgePosition{
		ID: "existing", PolicyID: pol.ID, Strategy: domain.StrategyPredictionMarketYes,
		Venue: domain.VenuePolymarket, State: domain.PositionOpen,
	}))

	exec := execFunc(func(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
		return &domain.HedgePosition{
			PolicyID: policy.ID, Strategy: domain.StrategyPredictionMarketYes, Venue: domain.VenuePolymarket,
			NotionalUSD: 20_000, State: domain.PositionOpening, OpenedAt: now, LastMarkAt: now,
		}, nil
	})
	o := newOrchestrator(t, r, &fakeSink{}, now, exec)

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Len(t, r.AllPositions(), 1, "no duplicate position should be opened for an already-hedged (policy,strategy) pair")
}

func TestRunOnce_RespectsAggregateBudget(t *testing.T) {
	now := time.Unix(1000, 0)
	r := memory.New()
	polA := activePolicy("pol-a", 1_000_000_00, now)
	polB := activePolicy("pol-b", 1_000_000_00, now)
	r.SeedPolicy(polA)
	r.SeedPolicy(polB)

	exec := execFunc(func(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
		return &domain.HedgePosition{
			PolicyID: policy.ID, Strategy: domain.StrategyPredictionMarketYes, Venue: domain.VenuePolymarket,
			NotionalUSD: 60_000, State: domain.PositionOpening, OpenedAt: now, LastMarkAt: now,
		}, nil
	})
	o := NewOrchestrator(nil, r, []Executor{exec}, &fakeSink{}, fixedClock{now: now}, func() Config {
		cfg := testConfig()
		cfg.MaxAggregateNotionalUSD = 100_000 // only one of the two 60k positions fits
		return cfg
	})

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Len(t, r.AllPositions(), 1)

	attempts := r.AllAttempts()
	var budgetExceeded int
	for _, a := range attempts {
		if a.Outcome == domain.AttemptBudgetExceeded {
			budgetExceeded++
		}
	}
	assert.Equal(t, 1, budgetExceeded)
}

func TestRunOnce_PauseNewOpeningsIsNoOp(t *testing.T) {
	now := time.Unix(1000, 0)
	r := memory.New()
	r.SeedPolicy(activePolicy("pol-1", 100_000_00, now))

	exec := execFunc(func(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
		t.Fatal("executor should not run while PauseNewOpenings is set")
		return nil, nil
	})
	o := NewOrchestrator(nil, r, []Executor{exec}, &fakeSink{}, fixedClock{now: now}, func() Config {
		cfg := testConfig()
		cfg.PauseNewOpenings = true
		return cfg
	})

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Empty(t, r.AllPositions())
	assert.Empty(t, r.AllAttempts())
}

func TestRunOnce_MaxPoliciesPerIterationTruncates(t *testing.T) {
	now := time.Unix(1000, 0)
	r := memory.New()
	r.SeedPolicy(activePolicy("pol-1", 100_000_00, now))
	r.SeedPolicy(activePolicy("pol-2", 100_000_00, now))
	r.SeedPolicy(activePolicy("pol-3", 100_000_00, now))

	exec := execFunc(func(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
		return nil, nil
	})
	o := NewOrchestrator(nil, r, []Executor{exec}, &fakeSink{}, fixedClock{now: now}, func() Config {
		cfg := testConfig()
		cfg.MaxPoliciesPerIteration = 1
		return cfg
	})

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Len(t, r.AllAttempts(), 1, "iteration should have been truncated to the configured policy budget")
}

func TestRunOnce_ExpiredPolicyIsNotHedgeable(t *testing.T) {
	now := time.Unix(1000, 0)
	r := memory.New()
	pol := activePolicy("pol-1", 100_000_00, now)
	pol.EndsAt = now.Add(-time.Minute) // already past term, even though Status is still Active
	r.SeedPolicy(pol)

	exec := execFunc(func(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
		t.Fatal("executor should not run for a policy past its term")
		return nil, nil
	})
	o := newOrchestrator(t, r, &fakeSink{}, now, exec)

	require.NoError(t, o.RunOnce(context.Background()))
	assert.Empty(t, r.AllAttempts())
}

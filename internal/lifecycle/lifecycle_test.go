package lifecycle

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
	"hedgecore/internal/venue"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                  { return c.now }
func (c fixedClock) Sleep(time.Duration)              {}
func (c fixedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

type fakeAdapter struct {
	name     domain.Venue
	status   venue.PositionStatus
	statusErr error
	closeResult venue.CloseResult
	closeErr    error
}

func (f *fakeAdapter) Name() domain.Venue { return f.name }
func (f *fakeAdapter) DiscoverMarket(ctx context.Context, sel venue.MarketSelector) (domain.VenueMarketSnapshot, error) {
	return domain.VenueMarketSnapshot{}, venue.ErrUnsupportedOperation
}
func (f *fakeAdapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	return venue.OrderResult{}, venue.ErrUnsupportedOperation
}
func (f *fakeAdapter) ClosePosition(ctx context.Context, externalPositionID string) (venue.CloseResult, error) {
	return f.closeResult, f.closeErr
}
func (f *fakeAdapter) QueryPosition(ctx context.Context, externalPositionID string) (venue.PositionStatus, error) {
	return f.status, f.statusErr
}
func (f *fakeAdapter) QueryFundingRate(ctx context.Context, instrument string) (float64, error) {
	return 0, nil
}

var _ venue.Adapter = (*fakeAdapter)(nil)

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

func testConfig() Config {
	return Config{
		Period:                     time.Minute,
		WarningLossFraction:        0.50,
		CriticalLossFraction:       0.80,
		ReconciliationToleranceUSD: 10,
	}
}

func newManager(t *testing.T, repository *memory.Repository, adapter venue.Adapter, sink events.Sink, now time.Time) *Manager {
	t.Helper()
	adapters := map[domain.Venue]venue.Adapter{adapter.Name(): adapter}
	return NewManager(nil, repository, adapters, sink, fixedClock{now: now}, func() Config { return testConfig() })
}

func seedPosition(t *testing.T, r *memory.Repository, pos domain.HedgePosition) domain.HedgePosition {
	t.Helper()
	require.NoError(t, r.PersistPosition(context.Background(), pos))
	return pos
}

func TestConfirmOpening_TransitionsToOpenAndEmits(t *testing.T) {
	r := memory.New()
	pol := domain.Policy{ID: "pol-1", Status: domain.PolicyActive, CoverageAmountCents: 10_000_00, EndsAt: time.Unix(0, 0).Add(24 * time.Hour)}
	r.SeedPolicy(pol)
	seedPosition(t, r, domain.HedgePosition{
		ID: "pos-1", PolicyID: pol.ID, Strategy: domain.StrategyShortPerp, Venue: domain.VenueBinanceFutures,
		ExternalID: "ext-1", EntryPrice: 100, CollateralUSD: 200, Leverage: 5, State: domain.PositionOpening,
	})

	adapter := &fakeAdapter{name: domain.VenueBinanceFutures, status: venue.PositionStatus{Quantity: 2, EntryPrice: 100, MarkPrice: 100}}
	sink := &fakeSink{}
	m := newManager(t, r, adapter, sink, time.Unix(100, 0))

	err := m.RunOnce(context.Background())
	require.NoError(t, err)

	stored := r.AllPositions()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.PositionOpen, stored[0].State)
	assert.Contains(t, sink.kinds(), events.KindHedgeOpened)
}

func TestConfirmOpening_StaysOpeningOnQueryError(t *testing.T) {
	r := memory.New()
	r.SeedPolicy(domain.Policy{ID: "pol-1", Status: domain.PolicyActive, CoverageAmountCents: 1, EndsAt: time.Unix(0, 0).Add(time.Hour)})
	seedPosition(t, r, domain.HedgePosition{ID: "pos-1", PolicyID: "pol-1", Venue: domain.VenueBinanceFutures, State: domain.PositionOpening})

	adapter := &fakeAdapter{name: domain.VenueBinanceFutures, statusErr: errors.New("not yet filled")}
	sink := &fakeSink{}
	m := newManager(t, r, adapter, sink, time.Unix(0, 0))

	require.NoError(t, m.RunOnce(context.Background()))

	stored := r.AllPositions()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.PositionOpening, stored[0].State)
	assert.Empty(t, sink.events)
}

func TestMarkAndMaybeClose_PolicyStillActive_NoClose(t *testing.T) {
	r := memory.New()
	pol := domain.Policy{ID: "pol-1", Status: domain.PolicyActive, CoverageAmountCents: 1_000_000, EndsAt: time.Unix(0, 0).Add(24 * time.Hour)}
	r.SeedPolicy(pol)
	seedPosition(t, r, domain.HedgePosition{
		ID: "pos-1", PolicyID: pol.ID, Strategy: domain.StrategyShortPerp, Venue: domain.VenueBinanceFutures,
		ExternalID: "ext-1", Quantity: 1, EntryPrice: 100, CollateralUSD: 200, Leverage: 5, State: domain.PositionOpen,
		LastMarkAt: time.Unix(0, 0),
	})

	adapter := &fakeAdapter{name: domain.VenueBinanceFutures, status: venue.PositionStatus{Quantity: 1, EntryPrice: 100, MarkPrice: 102, FundingAccruedUSD: 1.5}}
	sink := &fakeSink{}
	m := newManager(t, r, adapter, sink, time.Unix(100, 0))

	require.NoError(t, m.RunOnce(context.Background()))

	stored := r.AllPositions()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.PositionOpen, stored[0].State)
	assert.Equal(t, 1.5, stored[0].FundingAccruedUSD)
	// short perp, entry=100 mark=102: unrealized = 200*5*(100-102)/100 = -20
	assert.InDelta(t, -20, stored[0].UnrealizedPnLUSD, 0.001)
	assert.NotContains(t, sink.kinds(), events.KindHedgeClosed)
}

func TestMarkAndMaybeClose_RiskWarningEmittedOnceOnTransition(t *testing.T) {
	r := memory.New()
	pol := domain.Policy{ID: "pol-1", Status: domain.PolicyActive, CoverageAmountCents: 1_000_000, EndsAt: time.Unix(0, 0).Add(24 * time.Hour)}
	r.SeedPolicy(pol)
	seedPosition(t, r, domain.HedgePosition{
		ID: "pos-1", PolicyID: pol.ID, Strategy: domain.StrategyShortPerp, Venue: domain.VenueBinanceFutures,
		ExternalID: "ext-1", Quantity: 1, EntryPrice: 100, CollateralUSD: 200, Leverage: 5, State: domain.PositionOpen,
	})

	// lossFraction = 5*(112-100)/100 = 0.60 -> Warning (between 0.50 and 0.80)
	adapter := &fakeAdapter{name: domain.VenueBinanceFutures, status: venue.PositionStatus{Quantity: 1, EntryPrice: 100, MarkPrice: 112}}
	sink := &fakeSink{}
	m := newManager(t, r, adapter, sink, time.Unix(100, 0))

	require.NoError(t, m.RunOnce(context.Background()))
	assert.Contains(t, sink.kinds(), events.KindLiquidationRiskWarning)

	// Second cycle at the same risk level must not re-emit.
	sink.events = nil
	m.clock = fixedClock{now: time.Unix(200, 0)}
	require.NoError(t, m.RunOnce(context.Background()))
	assert.NotContains(t, sink.kinds(), events.KindLiquidationRiskWarning)
}

func TestMarkAndMaybeClose_PolicyInactive_ClosesPosition(t *testing.T) {
	r := memory.New()
	pol := domain.Policy{ID: "pol-1", Status: domain.PolicyExpired, CoverageAmountCents: 1_000_000, EndsAt: time.Unix(0, 0)}
	r.SeedPolicy(pol) // expired: absent from LoadActivePolicies
	seedPosition(t, r, domain.HedgePosition{
		ID: "pos-1", PolicyID: pol.ID, Strategy: domain.StrategyShortPerp, Venue: domain.VenueBinanceFutures,
		ExternalID: "ext-1", Quantity: 1, EntryPrice: 100, CollateralUSD: 200, Leverage: 5, State: domain.PositionOpen,
	})

	adapter := &fakeAdapter{
		name:        domain.VenueBinanceFutures,
		status:      venue.PositionStatus{Quantity: 1, EntryPrice: 100, MarkPrice: 100},
		closeResult: venue.CloseResult{RealizedPnLUSD: 42},
	}
	sink := &fakeSink{}
	m := newManager(t, r, adapter, sink, time.Unix(100, 0))

	require.NoError(t, m.RunOnce(context.Background()))

	stored := r.AllPositions()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.PositionClosed, stored[0].State)
	assert.Equal(t, 42.0, stored[0].RealizedPnLUSD)
	assert.Contains(t, sink.kinds(), events.KindHedgeClosed)
}

func TestMarkAndMaybeClose_ReconciliationDriftCorrectsOnce(t *testing.T) {
	r := memory.New()
	pol := domain.Policy{ID: "pol-1", Status: domain.PolicyActive, CoverageAmountCents: 1_000_000, EndsAt: time.Unix(0, 0).Add(24 * time.Hour)}
	r.SeedPolicy(pol)
	seedPosition(t, r, domain.HedgePosition{
		ID: "pos-1", PolicyID: pol.ID, Strategy: domain.StrategyShortPerp, Venue: domain.VenueBinanceFutures,
		ExternalID: "ext-1", Quantity: 1, EntryPrice: 100, CollateralUSD: 200, Leverage: 5, State: domain.PositionOpen,
	})

	// Venue reports a materially different size: drift = |1*100 - 2*100| = 100 > tolerance(10).
	adapter := &fakeAdapter{name: domain.VenueBinanceFutures, status: venue.PositionStatus{Quantity: 2, EntryPrice: 100, MarkPrice: 100}}
	sink := &fakeSink{}
	m := newManager(t, r, adapter, sink, time.Unix(100, 0))

	require.NoError(t, m.RunOnce(context.Background()))
	assert.Contains(t, sink.kinds(), events.KindReconciliationDrift)
	stored := r.AllPositions()
	require.Len(t, stored, 1)
	assert.Equal(t, 2.0, stored[0].Quantity)

	// Second cycle: local now matches venue, no further drift event.
	sink.events = nil
	m.clock = fixedClock{now: time.Unix(200, 0)}
	require.NoError(t, m.RunOnce(context.Background()))
	assert.NotContains(t, sink.kinds(), events.KindReconciliationDrift)
}

func TestReconcileAbsent_ClosedWhenNotCritical(t *testing.T) {
	r := memory.New()
	pol := domain.Policy{ID: "pol-1", Status: domain.PolicyActive, CoverageAmountCents: 1_000_000, EndsAt: time.Unix(0, 0).Add(24 * time.Hour)}
	r.SeedPolicy(pol)
	seedPosition(t, r, domain.HedgePosition{
		ID: "pos-1", PolicyID: pol.ID, Strategy: domain.StrategyShortPerp, Venue: domain.VenueBinanceFutures,
		ExternalID: "ext-1", Quantity: 1, EntryPrice: 100, CollateralUSD: 200, Leverage: 5, State: domain.PositionOpen,
	})

	adapter := &fakeAdapter{name: domain.VenueBinanceFutures, statusErr: venue.ErrMarketNotFound}
	sink := &fakeSink{}
	m := newManager(t, r, adapter, sink, time.Unix(100, 0))

	require.NoError(t, m.RunOnce(context.Background()))

	stored := r.AllPositions()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.PositionClosed, stored[0].State)
	assert.Contains(t, sink.kinds(), events.KindHedgeClosed)
}

func TestReconcileAbsent_LiquidatedWhenLastRiskCritical(t *testing.T) {
	r := memory.New()
	pol := domain.Policy{ID: "pol-1", Status: domain.PolicyActive, CoverageAmountCents: 1_000_000, EndsAt: time.Unix(0, 0).Add(24 * time.Hour)}
	r.SeedPolicy(pol)
	seedPosition(t, r, domain.HedgePosition{
		ID: "pos-1", PolicyID: pol.ID, Strategy: domain.StrategyShortPerp, Venue: domain.VenueBinanceFutures,
		ExternalID: "ext-1", Quantity: 1, EntryPrice: 100, CollateralUSD: 200, Leverage: 5, State: domain.PositionOpen,
	})

	adapter := &fakeAdapter{name: domain.VenueBinanceFutures, status: venue.PositionStatus{Quantity: 1, EntryPrice: 100, MarkPrice: 120}}
	sink := &fakeSink{}
	m := newManager(t, r, adapter, sink, time.Unix(100, 0))
	// lossFraction = 5*(120-100)/100 = 1.0 -> Critical, persisted via RunOnce below.
	require.NoError(t, m.RunOnce(context.Background()))
	require.Contains(t, sink.kinds(), events.KindLiquidationRiskCritical)

	sink.events = nil
	adapter.statusErr = venue.ErrMarketNotFound
	m.clock = fixedClock{now: time.Unix(200, 0)}
	require.NoError(t, m.RunOnce(context.Background()))

	stored := r.AllPositions()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.PositionLiquidated, stored[0].State)
	assert.Contains(t, sink.kinds(), events.KindHedgeLiquidated)
}

func TestRunOnce_MissingAdapterAggregatesError(t *testing.T) {
	r := memory.New()
	pol := domain.Policy{ID: "pol-1", Status: domain.PolicyActive, CoverageAmountCents: 1, EndsAt: time.Unix(0, 0).Add(time.Hour)}
	r.SeedPolicy(pol)
	seedPosition(t, r, domain.HedgePosition{ID: "pos-1", PolicyID: pol.ID, Venue: domain.VenueGmx, State: domain.PositionOpening})

	m := NewManager(nil, r, map[domain.Venue]venue.Adapter{}, &fakeSink{}, fixedClock{now: time.Unix(0, 0)}, func() Config { return testConfig() })

	err := m.RunOnce(context.Background())
	require.Error(t, err)
}

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		name     string
		strategy domain.StrategyKind
		leverage float64
		entry    float64
		mark     float64
		want     RiskLevel
	}{
		{"short safe", domain.StrategyShortPerp, 5, 100, 100, RiskSafe},
		{"short warning", domain.StrategyShortPerp, 5, 100, 112, RiskWarning},
		{"short critical", domain.StrategyShortPerp, 5, 100, 120, RiskCritical},
		{"long warning", domain.StrategyLongPerp, 5, 100, 88, RiskWarning},
		{"prediction market always safe", domain.StrategyPredictionMarketYes, 1, 100, 1000, RiskSafe},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyRisk(tc.strategy, tc.leverage, tc.entry, tc.mark, 0.50, 0.80)
			assert.Equal(t, tc.want, got)
		})
	}
}

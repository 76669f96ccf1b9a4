package strategy

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedgecore/clients/polymarketapi"
	"hedgecore/internal/domain"
	"hedgecore/internal/venue"
)

// fakeAdapter is a minimal venue.Adapter test double: it answers
// DiscoverMarket/PlaceOrder from preset fields without touching the network,
// standing in for a real venue the way the teacher's HedgeAPIClient fakes
// stand in for clients/polymarketapi in hedge_tracker_test.go.
type fakeAdapter struct {
	name domain.Venue

	snapshot    domain.VenueMarketSnapshot
	snapshotErr error

	order    venue.OrderResult
	orderErr error
}

func (f *fakeAdapter) Name() domain.Venue { return f.name }

func (f *fakeAdapter) DiscoverMarket(ctx context.Context, sel venue.MarketSelector) (domain.VenueMarketSnapshot, error) {
	if f.snapshotErr != nil {
		return domain.VenueMarketSnapshot{}, f.snapshotErr
	}
	return f.snapshot, nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	if f.orderErr != nil {
		return venue.OrderResult{}, f.orderErr
	}
	return f.order, nil
}

func (f *fakeAdapter) ClosePosition(ctx context.Context, externalPositionID string) (venue.CloseResult, error) {
	return venue.CloseResult{}, venue.ErrUnsupportedOperation
}

func (f *fakeAdapter) QueryPosition(ctx context.Context, externalPositionID string) (venue.PositionStatus, error) {
	return venue.PositionStatus{}, venue.ErrUnsupportedOperation
}

func (f *fakeAdapter) QueryFundingRate(ctx context.Context, instrument string) (float64, error) {
	return 0, venue.ErrUnsupportedOperation
}

var _ venue.Adapter = (*fakeAdapter)(nil)

func fixedRatio(r float64) func(domain.CoverageKind) float64 {
	return func(domain.CoverageKind) float64 { return r }
}

// TestProtocolShortExecutor_S2 reproduces spec.md §8's S2 scenario: an Aave
// Ethereum SmartContract policy hedged on Hyperliquid.
func TestProtocolShortExecutor_S2(t *testing.T) {
	hyperliquid := &fakeAdapter{
		name: domain.VenueHyperliquid,
		snapshot: domain.VenueMarketSnapshot{
			Venue:      domain.VenueHyperliquid,
			Instrument: "AAVE",
			MarkPrice:  165.50,
			// OpenInterestUSD is set so that 25%-tradable-fraction heuristic
			// (venue.DefaultLiquidityFraction) yields spec.md §8 S2's stated
			// $2,000,000 "liquidity" figure: 8,000,000 * 0.25 = 2,000,000.
			OpenInterestUSD: 8_000_000,
			MaxLeverage:     50,
		},
		order: venue.OrderResult{
			ExternalOrderID: "hl-1",
			FilledQuantity:  30_000 / 165.50,
			FilledPrice:     165.50,
			FilledAt:        time.Now(),
		},
	}

	exec := NewProtocolShortExecutor(nil, []venue.Adapter{hyperliquid}, fixedRatio(0.30))

	policy := domain.Policy{
		ID:                  "43",
		Coverage:            domain.CoverageSmartContract,
		ProtectedAsset:      "USDC",
		ProtectedChain:      "Ethereum",
		CoverageAmountCents: 100_000 * 100,
		Status:              domain.PolicyActive,
		EndsAt:              time.Now().Add(24 * time.Hour),
	}

	pos, err := exec.Execute(context.Background(), policy, time.Now())
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, domain.VenueHyperliquid, pos.Venue)
	assert.Equal(t, domain.StrategyShortPerp, pos.Strategy)
	assert.Equal(t, domain.PositionOpening, pos.State)
	assert.InDelta(t, 30_000, pos.NotionalUSD, 1)
	assert.Equal(t, 10.0, pos.Leverage)
	assert.InDelta(t, 181.3, pos.Quantity, 0.5)
	assert.InDelta(t, 3_000, pos.CollateralUSD, 1)
}

// TestProtocolShortExecutor_NoMapping reproduces spec.md §8's S3 scenario:
// no token mapping entry means NoHedgeApplicable, never a guess.
func TestProtocolShortExecutor_NoMapping(t *testing.T) {
	exec := NewProtocolShortExecutor(nil, nil, fixedRatio(0.30))

	policy := domain.Policy{
		ID:                  "44",
		Coverage:            domain.CoverageSmartContract,
		ProtectedAsset:      "DAI",
		ProtectedChain:      "Polygon",
		CoverageAmountCents: 50_000 * 100,
		Status:              domain.PolicyActive,
		EndsAt:              time.Now().Add(24 * time.Hour),
	}

	pos, err := exec.Execute(context.Background(), policy, time.Now())
	require.NoError(t, err)
	assert.Nil(t, pos)
}

// TestProtocolShortExecutor_FallsThroughVenues checks the Hyperliquid ->
// GMX -> Binance failover order from spec.md §4.C.2.
func TestProtocolShortExecutor_FallsThroughVenues(t *testing.T) {
	hyperliquid := &fakeAdapter{name: domain.VenueHyperliquid, snapshotErr: venue.ErrMarketNotFound}
	gmx := &fakeAdapter{name: domain.VenueGmx, snapshotErr: venue.ErrMarketNotFound}
	binance := &fakeAdapter{
		name: domain.VenueBinanceFutures,
		snapshot: domain.VenueMarketSnapshot{
			Instrument:      "COMPUSDT",
			MarkPrice:       50,
			OpenInterestUSD: 1_000_000,
			MaxLeverage:     20,
		},
		order: venue.OrderResult{
			ExternalOrderID: "bn-1",
			FilledQuantity:  30_000 / 50,
			FilledPrice:     50,
		},
	}

	exec := NewProtocolShortExecutor(nil, []venue.Adapter{hyperliquid, gmx, binance}, fixedRatio(0.30))

	policy := domain.Policy{
		ID:                  "45",
		Coverage:            domain.CoverageSmartContract,
		ProtectedAsset:      "ETH",
		ProtectedChain:      "Ethereum",
		CoverageAmountCents: 100_000 * 100,
		Status:              domain.PolicyActive,
		EndsAt:              time.Now().Add(24 * time.Hour),
	}

	pos, err := exec.Execute(context.Background(), policy, time.Now())
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.VenueBinanceFutures, pos.Venue)
}

func TestProtocolShortExecutor_AllVenuesExhausted(t *testing.T) {
	hyperliquid := &fakeAdapter{name: domain.VenueHyperliquid, snapshotErr: venue.ErrMarketNotFound}
	gmx := &fakeAdapter{name: domain.VenueGmx, snapshotErr: venue.ErrMarketNotFound}
	binance := &fakeAdapter{name: domain.VenueBinanceFutures, snapshotErr: venue.ErrMarketNotFound}

	exec := NewProtocolShortExecutor(nil, []venue.Adapter{hyperliquid, gmx, binance}, fixedRatio(0.30))

	policy := domain.Policy{
		ID:                  "46",
		Coverage:            domain.CoverageSmartContract,
		ProtectedAsset:      "ETH",
		ProtectedChain:      "Ethereum",
		CoverageAmountCents: 100_000 * 100,
		Status:              domain.PolicyActive,
		EndsAt:              time.Now().Add(24 * time.Hour),
	}

	pos, err := exec.Execute(context.Background(), policy, time.Now())
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestCEXCorrelationExecutor(t *testing.T) {
	binance := &fakeAdapter{
		name: domain.VenueBinanceFutures,
		snapshot: domain.VenueMarketSnapshot{
			Instrument:      "BTCUSDT",
			MarkPrice:       60_000,
			OpenInterestUSD: 10_000_000,
			MaxLeverage:     20,
		},
		order: venue.OrderResult{
			ExternalOrderID: "bn-2",
			FilledQuantity:  25_000 / 60_000,
			FilledPrice:     60_000,
		},
	}

	exec := NewCEXCorrelationExecutor(nil, binance, fixedRatio(0.25))

	policy := domain.Policy{
		ID:                  "50",
		Coverage:            domain.CoverageCexLiquidation,
		ProtectedAsset:      "BTC",
		CoverageAmountCents: 100_000 * 100,
		Status:              domain.PolicyActive,
		EndsAt:              time.Now().Add(24 * time.Hour),
	}

	pos, err := exec.Execute(context.Background(), policy, time.Now())
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 3.0, pos.Leverage)
	assert.InDelta(t, 25_000, pos.NotionalUSD, 1)
}

type fakeSearcher struct {
	markets []polymarketapi.GammaMarket
	err     error
}

func (f *fakeSearcher) SearchActiveMarkets(ctx context.Context, query string, limit int) ([]polymarketapi.GammaMarket, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.markets, nil
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// TestDepegExecutor_S1 reproduces spec.md §8's S1 scenario.
func TestDepegExecutor_S1(t *testing.T) {
	market := polymarketapi.GammaMarket{
		ID:           "m1",
		Question:     "Will USDC trade below $0.98 by 2025-12-31?",
		ConditionID:  "cond-1",
		Active:       true,
		ClobTokenIDs: rawJSON(t, []string{"yes-token", "no-token"}),
		Outcomes:     rawJSON(t, []string{"Yes", "No"}),
		OutcomePrices: rawJSON(t, []string{"0.20", "0.80"}),
		Volume24hr:   500_000,
	}
	search := &fakeSearcher{markets: []polymarketapi.GammaMarket{market}}

	polymarket := &fakeAdapter{
		name: domain.VenuePolymarket,
		snapshot: domain.VenueMarketSnapshot{
			Venue:      domain.VenuePolymarket,
			Instrument: "cond-1",
			MarkPrice:  0.20,
			// 1,000,000 effective liquidity == 4,000,000 OI * 0.25 heuristic.
			OpenInterestUSD: 4_000_000,
			MaxLeverage:     1,
		},
		order: venue.OrderResult{
			ExternalOrderID: "pm-1",
			FilledQuantity:  100_000,
			FilledPrice:     0.20,
			FilledAt:        time.Now(),
		},
	}

	exec := NewDepegExecutor(nil, search, polymarket, fixedRatio(0.20))

	policy := domain.Policy{
		ID:                  "42",
		Coverage:            domain.CoverageDepeg,
		ProtectedAsset:      "USDC",
		CoverageAmountCents: 100_000 * 100,
		Status:              domain.PolicyActive,
		EndsAt:              time.Now().Add(24 * time.Hour),
	}

	pos, err := exec.Execute(context.Background(), policy, time.Now())
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, domain.StrategyPredictionMarketYes, pos.Strategy)
	assert.Equal(t, domain.VenuePolymarket, pos.Venue)
	assert.InDelta(t, 100_000, pos.Quantity, 1)
	assert.InDelta(t, 0.20, pos.EntryPrice, 0.001)
	assert.InDelta(t, 20_000, pos.NotionalUSD, 1)
	assert.Equal(t, domain.PositionOpening, pos.State)
}

func TestDepegExecutor_NoQualifyingMarket(t *testing.T) {
	search := &fakeSearcher{markets: nil}
	exec := NewDepegExecutor(nil, search, &fakeAdapter{name: domain.VenuePolymarket}, fixedRatio(0.20))

	policy := domain.Policy{
		ID:                  "99",
		Coverage:            domain.CoverageDepeg,
		ProtectedAsset:      "FRAX",
		CoverageAmountCents: 10_000 * 100,
		Status:              domain.PolicyActive,
		EndsAt:              time.Now().Add(24 * time.Hour),
	}

	pos, err := exec.Execute(context.Background(), policy, time.Now())
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestDepegExecutor_NotApplicable(t *testing.T) {
	exec := NewDepegExecutor(nil, &fakeSearcher{}, &fakeAdapter{name: domain.VenuePolymarket}, fixedRatio(0.20))

	policy := domain.Policy{
		ID:       "100",
		Coverage: domain.CoverageSmartContract,
		Status:   domain.PolicyActive,
		EndsAt:   time.Now().Add(24 * time.Hour),
	}

	pos, err := exec.Execute(context.Background(), policy, time.Now())
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestCEXCorrelationExecutor_NotApplicable(t *testing.T) {
	exec := NewCEXCorrelationExecutor(nil, &fakeAdapter{name: domain.VenueBinanceFutures}, fixedRatio(0.25))

	policy := domain.Policy{
		ID:       "51",
		Coverage: domain.CoverageSmartContract,
		Status:   domain.PolicyActive,
		EndsAt:   time.Now().Add(24 * time.Hour),
	}

	pos, err := exec.Execute(context.Background(), policy, time.Now())
	require.NoError(t, err)
	assert.Nil(t, pos)
}

package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hedgecore/clients/polymarketapi"
	"hedgecore/internal/domain"
	"hedgecore/internal/marketfeed"
	"hedgecore/internal/venue"
)

// feedFreshnessWindow bounds how old a marketfeed tick may be before the
// Depeg Executor trusts it over the REST snapshot it just pulled.
const feedFreshnessWindow = 5 * time.Second

// depegProfitableAskCeiling is the "typically < 0.30 implied" qualifying
// threshold spec.md §4.C.1 names for a YES share to be worth buying.
const depegProfitableAskCeiling = 0.30

// marketSearcher is the narrow slice of polymarketapi.PolymarketApiClient
// the Depeg Executor needs for candidate discovery, kept as an interface so
// tests can fake it without constructing a real Gamma-API client.
type marketSearcher interface {
	SearchActiveMarkets(ctx context.Context, query string, limit int) ([]polymarketapi.GammaMarket, error)
}

// DepegExecutor hedges Depeg-coverage policies with a pre-purchased YES
// share on a Polymarket binary market asking whether the protected asset
// trades below a depeg threshold before the policy's term ends
// (spec.md §4.C.1).
type DepegExecutor struct {
	logger     *zap.Logger
	search     marketSearcher
	adapter    venue.Adapter
	hedgeRatio func(domain.CoverageKind) float64
	feed       *marketfeed.Feed
}

// NewDepegExecutor wires the Gamma-API search client (used for candidate
// market discovery and ranking, spec.md §4.C.1 step 1) together with the
// Polymarket venue.Adapter (used for the fresh snapshot and the order
// itself).
func NewDepegExecutor(logger *zap.Logger, search marketSearcher, adapter venue.Adapter, hedgeRatio func(domain.CoverageKind) float64) *DepegExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DepegExecutor{
		logger:     logger.Named("executor.depeg"),
		search:     search,
		adapter:    adapter,
		hedgeRatio: hedgeRatio,
	}
}

// UseMarketFeed attaches a live trade-price feed consulted ahead of the
// REST-sourced yes price, so sizing reflects the latest tick instead of
// racing a REST snapshot that may already be stale by the time the order is
// placed. A nil feed (or one with no tick yet for the chosen token) leaves
// REST as the sole source, unchanged.
func (e *DepegExecutor) UseMarketFeed(feed *marketfeed.Feed) {
	e.feed = feed
}

// Execute implements spec.md §4.C's `execute(policy, config) -> Option<HedgePosition>`.
// A nil position with a nil error means NoHedgeApplicable; it is never an
// error by itself.
func (e *DepegExecutor) Execute(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
	if policy.Coverage != domain.CoverageDepeg {
		return nil, nil
	}

	market, tokenID, yesPrice, err := e.findQualifyingMarket(ctx, policy)
	if err != nil {
		e.logger.Info("no qualifying depeg market",
			zap.String("policy_id", policy.ID), zap.String("asset", policy.ProtectedAsset), zap.Error(err))
		return nil, nil
	}
	if e.feed != nil {
		if livePrice, _, ok := e.feed.LastPrice(tokenID, feedFreshnessWindow); ok && livePrice > 0 && livePrice < depegProfitableAskCeiling {
			yesPrice = livePrice
		}
	}

	snapshot, err := e.adapter.DiscoverMarket(ctx, venue.MarketSelector{Instrument: market.ConditionID})
	if err != nil {
		e.logger.Info("depeg market snapshot unavailable", zap.String("policy_id", policy.ID), zap.Error(err))
		return nil, nil
	}
	if snapshot.OpenInterestUSD <= 0 {
		// spec.md §8 property 13: zero liquidity is NoHedgeApplicable, not
		// an order attempt.
		return nil, nil
	}

	ratio := e.hedgeRatio(domain.CoverageDepeg)
	targetNotional := policy.CoverageAmountUSD() * ratio
	if cap := snapshot.MaxTradeNotionalUSD(venue.DefaultLiquidityFraction); cap > 0 && targetNotional > cap {
		targetNotional = cap
	}
	if targetNotional <= 0 || yesPrice <= 0 {
		return nil, nil
	}

	shares := targetNotional / yesPrice

	result, err := e.adapter.PlaceOrder(ctx, venue.OrderRequest{
		Instrument: tokenID,
		Side:       venue.OrderBuy,
		SizeUSD:    shares,
		Leverage:   1,
		Kind:       venue.OrderKindLimit,
		LimitPrice: yesPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("depeg executor: place order: %w", err)
	}

	filledNotional := result.FilledQuantity * result.FilledPrice

	pos := &domain.HedgePosition{
		ID:            uuid.NewString(),
		PolicyID:      policy.ID,
		Strategy:      domain.StrategyPredictionMarketYes,
		Venue:         domain.VenuePolymarket,
		Instrument:    tokenID,
		ExternalID:    result.ExternalOrderID,
		NotionalUSD:   filledNotional,
		Quantity:      result.FilledQuantity,
		EntryPrice:    result.FilledPrice,
		CollateralUSD: filledNotional, // fully collateralized, no leverage
		Leverage:      1,
		State:         domain.PositionOpening,
		OpenedAt:      now,
		LastMarkAt:    now,
	}
	return pos, nil
}

// findQualifyingMarket implements step 1 of spec.md §4.C.1: search, then
// take the first active, open candidate whose question names the protected
// asset and whose YES price is in (0, depegProfitableAskCeiling), in the
// search client's Volume24hr-descending order. A market's close date is not
// checked against the policy term.
func (e *DepegExecutor) findQualifyingMarket(ctx context.Context, policy domain.Policy) (polymarketapi.GammaMarket, string, float64, error) {
	query := strings.TrimSpace(policy.ProtectedAsset + " depeg")
	candidates, err := e.search.SearchActiveMarkets(ctx, query, 25)
	if err != nil {
		return polymarketapi.GammaMarket{}, "", 0, fmt.Errorf("search active markets: %w", err)
	}

	for _, m := range candidates {
		if m.Closed || !m.Active {
			continue
		}
		if !strings.Contains(strings.ToLower(m.Question), strings.ToLower(policy.ProtectedAsset)) {
			continue
		}
		prices := m.GetOutcomePrices()
		tokenIDs := m.GetTokenIDs()
		if len(prices) == 0 || len(tokenIDs) == 0 {
			continue
		}
		yesPrice := prices[0]
		if yesPrice <= 0 || yesPrice >= depegProfitableAskCeiling {
			continue
		}
		return m, tokenIDs[0], yesPrice, nil
	}

	return polymarketapi.GammaMarket{}, "", 0, fmt.Errorf("no qualifying market found for %q", policy.ProtectedAsset)
}

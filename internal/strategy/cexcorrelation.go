package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hedgecore/internal/domain"
	"hedgecore/internal/venue"
)

// defaultCexCorrelationLeverage is spec.md §4.C.3's default leverage for
// CEX-correlation shorts, distinct from the category-leverage table
// tokenmap.go uses for protocol shorts.
const defaultCexCorrelationLeverage = 3

// CEXCorrelationExecutor hedges CexLiquidation-coverage policies with a
// Binance Futures short on the correlated major the protected position is
// exposed to (spec.md §4.C.3). Sizing and the 5%-of-liquidity cap follow
// the same rules as the Protocol Short executor.
type CEXCorrelationExecutor struct {
	logger     *zap.Logger
	binance    venue.Adapter
	hedgeRatio func(domain.CoverageKind) float64
}

func NewCEXCorrelationExecutor(logger *zap.Logger, binance venue.Adapter, hedgeRatio func(domain.CoverageKind) float64) *CEXCorrelationExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CEXCorrelationExecutor{
		logger:     logger.Named("executor.cex_correlation"),
		binance:    binance,
		hedgeRatio: hedgeRatio,
	}
}

// Execute implements spec.md §4.C's execute(policy, config) -> Option<HedgePosition>.
func (e *CEXCorrelationExecutor) Execute(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
	if policy.Coverage != domain.CoverageCexLiquidation {
		return nil, nil
	}
	if policy.ProtectedAsset == "" {
		return nil, nil
	}

	snapshot, err := e.binance.DiscoverMarket(ctx, venue.MarketSelector{Asset: policy.ProtectedAsset})
	if err != nil {
		e.logger.Info("no correlated binance market, skipping cex correlation hedge",
			zap.String("policy_id", policy.ID), zap.String("asset", policy.ProtectedAsset), zap.Error(err))
		return nil, nil
	}
	if snapshot.OpenInterestUSD <= 0 {
		return nil, nil
	}

	ratio := e.hedgeRatio(domain.CoverageCexLiquidation)
	notional := policy.CoverageAmountUSD() * ratio
	if cap := snapshot.MaxTradeNotionalUSD(venue.DefaultLiquidityFraction); cap > 0 && notional > cap {
		notional = cap
	}
	if notional <= 0 || snapshot.MarkPrice <= 0 {
		return nil, nil
	}

	leverage := float64(defaultCexCorrelationLeverage)
	if cap := snapshot.MaxLeverage / 2; cap > 0 && leverage > cap {
		leverage = cap
	}

	result, err := e.binance.PlaceOrder(ctx, venue.OrderRequest{
		Instrument: snapshot.Instrument,
		Side:       venue.OrderSell,
		SizeUSD:    notional,
		Leverage:   leverage,
		Kind:       venue.OrderKindMarket,
	})
	if err != nil {
		return nil, fmt.Errorf("cex correlation: place order: %w", err)
	}

	filledNotional := result.FilledQuantity * result.FilledPrice

	return &domain.HedgePosition{
		ID:            uuid.NewString(),
		PolicyID:      policy.ID,
		Strategy:      domain.StrategyShortPerp,
		Venue:         e.binance.Name(),
		Instrument:    snapshot.Instrument,
		ExternalID:    result.ExternalOrderID,
		NotionalUSD:   filledNotional,
		Quantity:      result.FilledQuantity,
		EntryPrice:    result.FilledPrice,
		CollateralUSD: filledNotional / leverage,
		Leverage:      leverage,
		State:         domain.PositionOpening,
		OpenedAt:      now,
		LastMarkAt:    now,
	}, nil
}

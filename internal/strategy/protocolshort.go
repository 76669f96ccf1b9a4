package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hedgecore/internal/domain"
	"hedgecore/internal/venue"
)

// applicableForProtocolShort is spec.md §4.C.2's applicability set:
// SmartContract, Oracle, Bridge always qualify; Depeg qualifies only when
// the protected asset is an algorithmic stablecoin with a token mapping
// entry (e.g. FRAX), which tokenmap.go's sparse table already encodes —
// an unmapped Depeg asset simply falls through to NoHedgeApplicable here.
func applicableForProtocolShort(kind domain.CoverageKind) bool {
	switch kind {
	case domain.CoverageSmartContract, domain.CoverageOracle, domain.CoverageBridge, domain.CoverageDepeg:
		return true
	}
	return false
}

// ProtocolShortExecutor opens a short perp on the protocol token correlated
// with a policy's protected protocol, trying each venue adapter in order
// until one returns a tradable snapshot (spec.md §4.C.2, §9's
// "dynamic-dispatch over venue strategies").
type ProtocolShortExecutor struct {
	logger     *zap.Logger
	venues     []venue.Adapter // tried in order: Hyperliquid, GMX, Binance Futures
	hedgeRatio func(domain.CoverageKind) float64
}

// NewProtocolShortExecutor takes venues pre-ordered per spec.md §4.C.2:
// Hyperliquid first (broad DeFi coverage), GMX for majors, Binance Futures
// for listed perps.
func NewProtocolShortExecutor(logger *zap.Logger, venues []venue.Adapter, hedgeRatio func(domain.CoverageKind) float64) *ProtocolShortExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProtocolShortExecutor{
		logger:     logger.Named("executor.protocol_short"),
		venues:     venues,
		hedgeRatio: hedgeRatio,
	}
}

// Execute implements spec.md §4.C's execute(policy, config) -> Option<HedgePosition>.
func (e *ProtocolShortExecutor) Execute(ctx context.Context, policy domain.Policy, now time.Time) (*domain.HedgePosition, error) {
	if !applicableForProtocolShort(policy.Coverage) {
		return nil, nil
	}

	mapping, ok := TokenMap(policy.Coverage, policy.ProtectedChain, policy.ProtectedAsset)
	if !ok {
		e.logger.Info("no token mapping entry, skipping protocol short",
			zap.String("policy_id", policy.ID), zap.String("chain", policy.ProtectedChain),
			zap.String("asset", policy.ProtectedAsset))
		return nil, nil
	}

	ratio := e.hedgeRatio(policy.Coverage)
	targetNotional := policy.CoverageAmountUSD() * ratio

	for _, adapter := range e.venues {
		pos, err := e.tryVenue(ctx, adapter, policy, mapping, targetNotional, now)
		if err != nil {
			if errors.Is(err, venue.ErrMarketNotFound) || errors.Is(err, venue.ErrUnsupportedOperation) {
				continue
			}
			e.logger.Warn("venue rejected protocol short, trying next",
				zap.String("policy_id", policy.ID), zap.String("venue", string(adapter.Name())), zap.Error(err))
			continue
		}
		if pos != nil {
			return pos, nil
		}
	}

	return nil, nil
}

func (e *ProtocolShortExecutor) tryVenue(ctx context.Context, adapter venue.Adapter, policy domain.Policy, mapping TokenMapping, targetNotional float64, now time.Time) (*domain.HedgePosition, error) {
	snapshot, err := adapter.DiscoverMarket(ctx, venue.MarketSelector{Asset: mapping.Symbol})
	if err != nil {
		return nil, err
	}
	if snapshot.OpenInterestUSD <= 0 {
		return nil, nil
	}

	notional := targetNotional
	if cap := snapshot.MaxTradeNotionalUSD(venue.DefaultLiquidityFraction); cap > 0 && notional > cap {
		notional = cap
	}
	if notional <= 0 || snapshot.MarkPrice <= 0 {
		return nil, nil
	}

	leverage := mapping.DefaultLeverage(snapshot.MaxLeverage)
	if leverage <= 0 {
		leverage = 1
	}

	result, err := adapter.PlaceOrder(ctx, venue.OrderRequest{
		Instrument: snapshot.Instrument,
		Side:       venue.OrderSell,
		SizeUSD:    notional,
		Leverage:   leverage,
		Kind:       venue.OrderKindMarket,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol short: place order on %s: %w", adapter.Name(), err)
	}

	filledNotional := result.FilledQuantity * result.FilledPrice

	return &domain.HedgePosition{
		ID:            uuid.NewString(),
		PolicyID:      policy.ID,
		Strategy:      domain.StrategyShortPerp,
		Venue:         adapter.Name(),
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

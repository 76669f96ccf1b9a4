// Package venue defines the shared contract every execution venue adapter
// implements (spec.md §4.B) and the request/result types that cross it.
// Concrete adapters live in the polymarket, hyperliquid, binance, and gmx
// subpackages; polymarket, hyperliquid and gmx wrap internal/httpcore.Client,
// binance wraps the go-binance futures client, and each adds symbol
// normalization and funding-rate normalization.
package venue

import (
	"context"
	"errors"
	"time"

	"hedgecore/internal/domain"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// OrderKind distinguishes a resting limit order from an immediate market
// order, per spec.md §4.B's place_order contract.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "limit"
	OrderKindMarket OrderKind = "market"
)

// MarketSelector identifies an instrument to discover. Exactly one of
// Instrument (venue-native id) or Asset+Chain (symbol lookup) is expected to
// be set; adapters that only support one form report ErrUnsupportedOperation
// for the other.
type MarketSelector struct {
	Instrument string
	Asset      string
	Chain      string
}

// OrderRequest is the shared place_order input.
type OrderRequest struct {
	Instrument string
	Side       OrderSide
	SizeUSD    float64 // perp venues: USD notional, converted to contracts; Polymarket: share count, sent as-is
	Leverage   float64 // 1.0 for non-leveraged venues (Polymarket)
	Kind       OrderKind
	LimitPrice float64 // ignored for OrderKindMarket
	// IdempotencyKey, when the venue supports it, allows PlaceOrder to be
	// retried safely by the Resilient HTTP Core (spec.md §4.A's "Failure
	// semantics": order placement is retried only when an idempotency key
	// is honored).
	IdempotencyKey string
}

// OrderResult is the shared place_order output.
type OrderResult struct {
	ExternalOrderID string
	FilledQuantity  float64
	FilledPrice     float64
	FeeUSD          float64
	FilledAt        time.Time
}

// CloseResult is the shared close_position output.
type CloseResult struct {
	RealizedPnLUSD float64
	FeeUSD         float64
	ClosedAt       time.Time
}

// PositionStatus is the shared query_position output.
type PositionStatus struct {
	Quantity          float64
	EntryPrice        float64
	MarkPrice         float64
	FundingAccruedUSD float64
	LiquidationPrice  float64 // 0 if the venue has no liquidation concept (Polymarket)
}

// Errors a venue adapter may return, shared across every venue so executors
// and the lifecycle manager can branch on them without importing a specific
// adapter package.
var (
	ErrMarketNotFound       = errors.New("venue: market not found")
	ErrUnsupportedOperation = errors.New("venue: operation unsupported on this venue")
)

// Adapter is the contract every venue package implements (spec.md §4.B).
// Any operation may return ErrUnsupportedOperation; callers must handle that
// rather than assume universal support.
type Adapter interface {
	Name() domain.Venue
	DiscoverMarket(ctx context.Context, sel MarketSelector) (domain.VenueMarketSnapshot, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ClosePosition(ctx context.Context, externalPositionID string) (CloseResult, error)
	QueryPosition(ctx context.Context, externalPositionID string) (PositionStatus, error)
	QueryFundingRate(ctx context.Context, instrument string) (float64, error)
}

// NormalizeFundingToHourly converts a funding rate reported on an
// intervalHours cadence to the hourly-normalized figure every venue adapter
// must return (spec.md §4.B).
func NormalizeFundingToHourly(rate float64, intervalHours float64) float64 {
	if intervalHours <= 0 {
		return rate
	}
	return rate / intervalHours
}

// DefaultLiquidityFraction is the share of reported open interest treated
// as tradable without significant price impact when an adapter has no
// venue-specific figure (spec.md §4.B default: 25%).
const DefaultLiquidityFraction = 0.25

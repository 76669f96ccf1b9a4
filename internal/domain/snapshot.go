package domain

import "time"

// SnapshotSource distinguishes a REST poll from a live feed tick so
// staleness comparisons (spec.md §5) can prefer the fuller REST record when
// a thinner feed update races it.
type SnapshotSource string

const (
	SourceREST SnapshotSource = "rest"
	SourceFeed SnapshotSource = "feed"
)

// VenueMarketSnapshot is an ephemeral read of one venue instrument. It is
// never persisted; executors and the lifecycle manager consume it in place.
type VenueMarketSnapshot struct {
	Venue            Venue
	Instrument       string
	MarkPrice        float64 // perp mark, or YES/NO share price in [0,1]
	SpotPrice        float64
	FundingRateHourly float64
	OpenInterestUSD  float64
	MaxLeverage      float64
	ObservedAt       time.Time
	Source           SnapshotSource
}

// TradableLiquidityUSD is the heuristic "effective liquidity at 5% of OI"
// spec.md §3 requires sizing be checked against. Venue adapters set the
// heuristic fraction (default 25% of OI, per §4.B); this just isolates the
// spec's 5%-of-liquidity cap computation in one place.
func (s VenueMarketSnapshot) TradableLiquidityUSD(liquidityFraction float64) float64 {
	if liquidityFraction <= 0 {
		liquidityFraction = 0.25
	}
	return s.OpenInterestUSD * liquidityFraction
}

// MaxTradeNotionalUSD returns 5% of the snapshot's tradable liquidity — the
// per-trade size cap from spec.md §3's invariants.
func (s VenueMarketSnapshot) MaxTradeNotionalUSD(liquidityFraction float64) float64 {
	return 0.05 * s.TradableLiquidityUSD(liquidityFraction)
}

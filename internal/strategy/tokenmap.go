// Package strategy implements the three hedge strategy executors
// (spec.md §4.C): Depeg (prediction-market YES), Protocol Short (perps),
// and CEX Correlation (perps). tokenmap.go holds the deterministic
// (coverage kind, chain, asset) -> (protocol, token symbol, category)
// lookup the Protocol Short executor sizes against.
package strategy

import (
	"hedgecore/internal/domain"
)

// TokenCategory groups protocol tokens by the default short leverage they
// carry (spec.md §4.C.2).
type TokenCategory string

const (
	CategoryLending    TokenCategory = "lending"
	CategoryDex        TokenCategory = "dex"
	CategoryOracle     TokenCategory = "oracle"
	CategoryStablecoin TokenCategory = "stablecoin"
	CategoryBridge     TokenCategory = "bridge"
)

// categoryDefaultLeverage is spec.md §4.C.2's literal table: Lending 10x,
// Dex 6x, Oracle 8x, Stablecoin 5x, Bridge 4x.
var categoryDefaultLeverage = map[TokenCategory]float64{
	CategoryLending:    10,
	CategoryDex:        6,
	CategoryOracle:     8,
	CategoryStablecoin: 5,
	CategoryBridge:     4,
}

// TokenMapping is the resolved protocol-token identity for a coverage kind.
type TokenMapping struct {
	Protocol string
	Symbol   string // perp base symbol, e.g. "AAVE"
	Category TokenCategory
}

// DefaultLeverage returns the category's default short leverage, capped at
// venue.max_leverage/2 as spec.md §4.C.2 requires. Pass the venue's
// reported MaxLeverage from the VenueMarketSnapshot.
func (m TokenMapping) DefaultLeverage(venueMaxLeverage float64) float64 {
	lev := categoryDefaultLeverage[m.Category]
	if lev <= 0 {
		lev = 1
	}
	if cap := venueMaxLeverage / 2; cap > 0 && lev > cap {
		lev = cap
	}
	return lev
}

// tokenMapKey identifies one entry in the deterministic mapping table.
type tokenMapKey struct {
	Coverage domain.CoverageKind
	Chain    string
	Asset    string
}

// defaultTokenMap is the deterministic table spec.md §4.C.2 requires.
// Entries are seeded from well-known DeFi protocols plus the spec's literal
// S2 scenario (SmartContract/Ethereum/USDC -> AAVE, Lending). Deliberately
// sparse: an (kind, chain, asset) combination with no entry here is the
// spec's S3 scenario and must fall through to NoHedgeApplicable, not a
// fabricated fallback.
var defaultTokenMap = map[tokenMapKey]TokenMapping{
	{domain.CoverageSmartContract, "Ethereum", "USDC"}: {Protocol: "Aave", Symbol: "AAVE", Category: CategoryLending},
	{domain.CoverageSmartContract, "Ethereum", "USDT"}: {Protocol: "Aave", Symbol: "AAVE", Category: CategoryLending},
	{domain.CoverageSmartContract, "Ethereum", "DAI"}:  {Protocol: "MakerDAO", Symbol: "MKR", Category: CategoryStablecoin},
	{domain.CoverageSmartContract, "Ethereum", "ETH"}:  {Protocol: "Compound", Symbol: "COMP", Category: CategoryLending},
	{domain.CoverageSmartContract, "Ethereum", "WBTC"}: {Protocol: "Uniswap", Symbol: "UNI", Category: CategoryDex},
	{domain.CoverageOracle, "Ethereum", "ETH"}:         {Protocol: "Chainlink", Symbol: "LINK", Category: CategoryOracle},
	{domain.CoverageOracle, "Ethereum", "USDC"}:        {Protocol: "Chainlink", Symbol: "LINK", Category: CategoryOracle},
	{domain.CoverageBridge, "Ethereum", "USDC"}:        {Protocol: "Wormhole", Symbol: "W", Category: CategoryBridge},
	{domain.CoverageBridge, "Arbitrum", "ETH"}:         {Protocol: "Wormhole", Symbol: "W", Category: CategoryBridge},
	{domain.CoverageDepeg, "Ethereum", "FRAX"}:         {Protocol: "Curve", Symbol: "CRV", Category: CategoryDex},
	{domain.CoverageSmartContract, "Ethereum", "CRVUSD"}: {Protocol: "Curve", Symbol: "CRV", Category: CategoryDex},
}

// TokenMap resolves the deterministic protocol-token mapping for a policy's
// coverage kind, chain, and protected asset. ok is false when no mapping
// exists (spec.md §8's S3: no entry means NoHedgeApplicable, never a guess).
func TokenMap(kind domain.CoverageKind, chain, asset string) (TokenMapping, bool) {
	m, ok := defaultTokenMap[tokenMapKey{Coverage: kind, Chain: chain, Asset: asset}]
	return m, ok
}

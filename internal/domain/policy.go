// Package domain holds the data types the hedge orchestrator core operates
// on: policies (external input), hedge positions (the core's own aggregate),
// execution attempts (audit), and venue market snapshots (ephemeral).
package domain

import "time"

// CoverageKind identifies the risk a policy protects against.
type CoverageKind string

const (
	CoverageDepeg          CoverageKind = "depeg"
	CoverageSmartContract  CoverageKind = "smart_contract"
	CoverageOracle         CoverageKind = "oracle"
	CoverageBridge         CoverageKind = "bridge"
	CoverageCexLiquidation CoverageKind = "cex_liquidation"
)

// PolicyStatus is the lifecycle state of an upstream policy.
type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "active"
	PolicyExpired   PolicyStatus = "expired"
	PolicyClaimed   PolicyStatus = "claimed"
	PolicyCancelled PolicyStatus = "cancelled"
)

// Policy is the upstream, read-only record the core hedges against. It is
// produced by the policy-creation/pricing system (out of scope here).
type Policy struct {
	ID             string
	Owner          string
	Coverage       CoverageKind
	ProtectedAsset string
	ProtectedChain string
	// CoverageAmountCents is the insured amount in USD cents, matching the
	// upstream premium system's fixed-point representation.
	CoverageAmountCents int64
	StartsAt            time.Time
	EndsAt              time.Time
	Status              PolicyStatus
}

// CoverageAmountUSD returns the coverage amount as a floating-point USD value.
func (p Policy) CoverageAmountUSD() float64 {
	return float64(p.CoverageAmountCents) / 100.0
}

// IsHedgeable reports whether the policy is a candidate for hedging at all:
// active, non-zero coverage, and not past its term.
func (p Policy) IsHedgeable(now time.Time) bool {
	return p.Status == PolicyActive && p.CoverageAmountCents > 0 && now.Before(p.EndsAt)
}

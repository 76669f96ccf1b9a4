package domain

import "time"

// AttemptOutcome classifies the result of an ExecutionAttempt.
type AttemptOutcome string

const (
	AttemptSuccess          AttemptOutcome = "success"
	AttemptNoHedgeApplicable AttemptOutcome = "no_hedge_applicable"
	AttemptAllVenuesExhausted AttemptOutcome = "all_venues_exhausted"
	AttemptBudgetExceeded   AttemptOutcome = "budget_exceeded"
	AttemptRepositoryError  AttemptOutcome = "repository_error"
)

// ExecutionAttempt is an immutable audit record of one hedge attempt,
// written regardless of whether a HedgePosition resulted.
type ExecutionAttempt struct {
	ID             string
	PolicyID       string
	Strategy       StrategyKind
	Venue          Venue
	PayloadDigest  string // fingerprint of the request payload, for audit
	Outcome        AttemptOutcome
	PositionID     string // set iff Outcome == AttemptSuccess
	FailureReason  string // set iff Outcome != AttemptSuccess
	AttemptedAt    time.Time
	Automated      bool // true for orchestrator-driven attempts; false for operator-triggered
	DurationMS     int64
}

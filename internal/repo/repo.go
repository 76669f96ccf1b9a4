// Package repo declares the persistence boundary the core specifies but
// does not implement (spec.md §4.F): a narrow port for policies, positions,
// and the audit log. Production persistence lives outside this module; see
// repo/memory for an in-memory reference implementation used by tests.
package repo

import (
	"context"
	"errors"

	"hedgecore/internal/domain"
)

// ErrBackwardTransition is returned by UpdatePositionState when asked to
// move a position out of a terminal state (spec.md §3's invariant 3).
var ErrBackwardTransition = errors.New("repo: refusing backward state transition")

// Repository is the persistence and audit boundary the orchestrator and
// lifecycle manager consume. An implementation must make PersistPosition
// atomic with its linked PersistAttempt, per spec.md §4.F.
type Repository interface {
	// LoadActivePolicies returns active policies, optionally paged; an empty
	// cursor requests the first page. A non-empty returned cursor means
	// more pages are available.
	LoadActivePolicies(ctx context.Context, cursor string) (policies []domain.Policy, nextCursor string, err error)

	// LoadOpenPositions returns positions for the given policy ids (or all
	// policies, if policyIDs is empty) that are not in a terminal state.
	// Used for reconciliation and for the orchestrator's duplication check.
	LoadOpenPositions(ctx context.Context, policyIDs []string) ([]domain.HedgePosition, error)

	// PersistPosition durably stores a HedgePosition. Must be atomic with
	// respect to its linked ExecutionAttempt when both are written for the
	// same orchestrator decision.
	PersistPosition(ctx context.Context, pos domain.HedgePosition) error

	// PersistAttempt appends an audit record. Append-only: never mutated or
	// deleted once written.
	PersistAttempt(ctx context.Context, attempt domain.ExecutionAttempt) error

	// UpdatePositionState applies a state transition, optionally recording
	// realized P&L. Must refuse and return ErrBackwardTransition if newState
	// is not reachable from the position's current state.
	UpdatePositionState(ctx context.Context, positionID string, newState domain.PositionState, realizedPnLUSD *float64) error
}

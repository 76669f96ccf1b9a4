// Package memory is an in-memory Repository used by tests and local runs,
// standing in for the external persistence layer spec.md §4.F hands off —
// the same role the teacher's fakes play behind HedgeAPIClient/gist.Storage.
package memory

import (
	"context"
	"sort"
	"sync"

	"hedgecore/internal/domain"
	"hedgecore/internal/repo"
)

// Repository is a concurrency-safe, non-durable Repository implementation.
type Repository struct {
	mu sync.RWMutex

	policies  map[string]domain.Policy
	positions map[string]domain.HedgePosition
	attempts  []domain.ExecutionAttempt
}

// New returns an empty in-memory repository.
func New() *Repository {
	return &Repository{
		policies:  make(map[string]domain.Policy),
		positions: make(map[string]domain.HedgePosition),
	}
}

// SeedPolicy inserts or replaces a policy. Test/setup helper, not part of
// the Repository interface.
func (r *Repository) SeedPolicy(p domain.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.ID] = p
}

// SetPolicyStatus updates a seeded policy's status in place. Test helper for
// exercising expiry/claim transitions.
func (r *Repository) SetPolicyStatus(policyID string, status domain.PolicyStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.policies[policyID]; ok {
		p.Status = status
		r.policies[policyID] = p
	}
}

func (r *Repository) LoadActivePolicies(ctx context.Context, cursor string) ([]domain.Policy, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Policy, 0, len(r.policies))
	for _, p := range r.policies {
		if p.Status == domain.PolicyActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	// The reference implementation never pages; everything fits in one call.
	return out, "", nil
}

func (r *Repository) LoadOpenPositions(ctx context.Context, policyIDs []string) ([]domain.HedgePosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[string]bool, len(policyIDs))
	for _, id := range policyIDs {
		want[id] = true
	}

	out := make([]domain.HedgePosition, 0)
	for _, pos := range r.positions {
		if len(want) > 0 && !want[pos.PolicyID] {
			continue
		}
		if pos.State.ActiveForDuplication() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) PersistPosition(ctx context.Context, pos domain.HedgePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[pos.ID] = pos
	return nil
}

func (r *Repository) PersistAttempt(ctx context.Context, attempt domain.ExecutionAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *Repository) UpdatePositionState(ctx context.Context, positionID string, newState domain.PositionState, realizedPnLUSD *float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[positionID]
	if !ok {
		return nil
	}
	if !pos.State.CanTransitionTo(newState) {
		return repo.ErrBackwardTransition
	}
	pos.State = newState
	if realizedPnLUSD != nil {
		pos.RealizedPnLUSD = *realizedPnLUSD
	}
	r.positions[positionID] = pos
	return nil
}

// AllPositions returns every stored position. Test helper.
func (r *Repository) AllPositions() []domain.HedgePosition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.HedgePosition, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllAttempts returns every recorded audit record. Test helper.
func (r *Repository) AllAttempts() []domain.ExecutionAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ExecutionAttempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

var _ repo.Repository = (*Repository)(nil)

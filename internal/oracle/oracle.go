// Package oracle declares the read-only price interface the core consumes.
// Oracle aggregation itself is upstream and out of scope (spec.md §1).
package oracle

import "context"

// Price is a best-effort USD spot price with a confidence score in [0,1].
// Used only for sanity checks; never as an execution price (spec.md §6).
type Price struct {
	Asset      string
	USD        float64
	Confidence float64
}

// Oracle is the narrow port the core consumes for spot-price sanity checks.
type Oracle interface {
	GetSpotPrice(ctx context.Context, asset string) (Price, error)
}

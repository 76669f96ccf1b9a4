// Package events implements the downstream event stream spec.md §6
// requires: an append-only, at-least-once-delivery feed of tagged records
// with a position id, policy id, timestamp, and kind-specific payload.
package events

import "time"

// Kind enumerates the event kinds spec.md §6 names.
type Kind string

const (
	KindHedgeOpened             Kind = "HedgeOpened"
	KindHedgeClosed             Kind = "HedgeClosed"
	KindHedgeLiquidated         Kind = "HedgeLiquidated"
	KindHedgeFailed             Kind = "HedgeFailed"
	KindLiquidationRiskWarning  Kind = "LiquidationRiskWarning"
	KindLiquidationRiskCritical Kind = "LiquidationRiskCritical"
	KindVenueCircuitOpen        Kind = "VenueCircuitOpen"
	KindVenueCircuitClosed      Kind = "VenueCircuitClosed"
	KindReconciliationDrift     Kind = "ReconciliationDrift"
)

// Event is one tagged record on the stream.
type Event struct {
	Kind       Kind
	PositionID string
	PolicyID   string
	Venue      string
	At         time.Time
	Payload    map[string]any
}

// Sink is anything that can receive published events. The in-process Log is
// the authoritative sink (read by the repository's audit views); Discord and
// Telegram notifiers are additional, best-effort sinks for the operator-
// facing subset of kinds — mirroring the teacher's notifier.Notifier
// combinator pattern (clients/notifier/notifier.go), generalized from
// trade alerts to hedge-lifecycle events.
type Sink interface {
	Publish(e Event)
}

// Bus fans a published event out to every registered sink. Publish calls
// each sink synchronously, in order: a sink that blocks delays the
// publisher, and a panic in a sink is not recovered.
type Bus struct {
	sinks []Sink
}

// NewBus returns a Bus publishing to the given sinks, in order.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, s := range b.sinks {
		s.Publish(e)
	}
}

var _ Sink = (*Bus)(nil)

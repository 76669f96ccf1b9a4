package events

import (
	"fmt"

	"hedgecore/clients/notifier"
)

// operatorFacing is the subset of event kinds routed to Discord/Telegram.
// Every other kind still lands in the authoritative Log; these are the ones
// judged worth interrupting a human for.
var operatorFacing = map[Kind]notifier.Severity{
	KindHedgeFailed:             notifier.SeverityWarning,
	KindHedgeLiquidated:         notifier.SeverityCritical,
	KindLiquidationRiskWarning:  notifier.SeverityWarning,
	KindLiquidationRiskCritical: notifier.SeverityCritical,
	KindVenueCircuitOpen:        notifier.SeverityWarning,
	KindVenueCircuitClosed:      notifier.SeverityInfo,
	KindReconciliationDrift:     notifier.SeverityWarning,
}

// NotifySink adapts a notifier.Notifier into an events.Sink, translating the
// operator-facing subset of event kinds into HedgeAlert notifications. Events
// outside that subset are dropped silently; the Log remains their record.
type NotifySink struct {
	notifier notifier.Notifier
}

// NewNotifySink wraps a notifier.Notifier (typically a notifier.MultiNotifier
// fanning out to Discord and Telegram) as a Sink.
func NewNotifySink(n notifier.Notifier) *NotifySink {
	return &NotifySink{notifier: n}
}

func (s *NotifySink) Publish(e Event) {
	severity, ok := operatorFacing[e.Kind]
	if !ok {
		return
	}

	alert := notifier.HedgeAlert{
		Kind:       string(e.Kind),
		Severity:   severity,
		PolicyID:   e.PolicyID,
		PositionID: e.PositionID,
		Venue:      e.Venue,
		Timestamp:  e.At,
		Detail:     detailFromPayload(e.Payload),
	}

	if strategy, ok := e.Payload["strategy"].(string); ok {
		alert.Strategy = strategy
	}
	if instrument, ok := e.Payload["instrument"].(string); ok {
		alert.Instrument = instrument
	}
	if notional, ok := e.Payload["notional_usd"].(float64); ok {
		alert.NotionalUSD = notional
	}

	s.notifier.SendHedgeAlert(alert)
}

func detailFromPayload(payload map[string]any) string {
	if reason, ok := payload["reason"].(string); ok && reason != "" {
		return reason
	}
	if len(payload) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", payload)
}

var _ Sink = (*NotifySink)(nil)

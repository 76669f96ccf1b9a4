package notifier

import (
	"time"
)

// Severity classifies how urgently an operator should look at an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// HedgeAlert contains the data needed for an operator-facing notification
// about one hedge-lifecycle event. Kind mirrors events.Kind as a string
// rather than importing the events package, keeping this client package
// free of a dependency on the orchestrator's internal types.
type HedgeAlert struct {
	Kind     string
	Severity Severity

	PolicyID   string
	PositionID string
	Venue      string
	Strategy   string
	Instrument string

	NotionalUSD float64
	Detail      string // human-readable cause, e.g. "liquidation buffer 4.1%" or "circuit opened after 6 failures"

	Timestamp time.Time
}

// Notifier is the interface for sending hedge alerts to various channels.
type Notifier interface {
	// SendHedgeAlert sends a hedge-lifecycle alert notification.
	SendHedgeAlert(alert HedgeAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendHedgeAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendHedgeAlert(alert HedgeAlert) {
	for _, n := range m.notifiers {
		n.SendHedgeAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

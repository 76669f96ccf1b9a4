package events

import "sync"

// Log is an append-only in-memory Sink: the reference implementation of the
// "published event stream" read by downstream audit views and dashboards
// (out of scope here; spec.md §1). Production deployments back this with a
// durable broker (Kafka, SNS, a log-structured store); the interface is
// intentionally broker-agnostic.
type Log struct {
	mu     sync.Mutex
	events []Event
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{}
}

func (l *Log) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// All returns every event published so far, oldest first.
func (l *Log) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// ByKind filters the log to one event kind.
func (l *Log) ByKind(k Kind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

var _ Sink = (*Log)(nil)

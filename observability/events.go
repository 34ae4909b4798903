package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"cdpcore/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured ledger events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdp",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of ledger events segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// CountingEmitter wraps another emitter and records every event it forwards.
type CountingEmitter struct {
	Next events.Emitter
}

// Emit forwards the event after recording it.
func (e *CountingEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	Events().RecordEvent(evt.EventType())
	if e != nil && e.Next != nil {
		e.Next.Emit(evt)
	}
}

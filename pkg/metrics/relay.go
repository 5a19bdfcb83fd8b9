package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics tracks how the outbox relay settles each event.
type RelayMetrics struct {
	events  *prometheus.CounterVec
	batches prometheus.Histogram
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_relay_events_total",
		Help: "Outbox events handled by the relay, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	batches := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_relay_batch_duration_seconds",
		Help:    "Wall time of one relay batch transaction.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(events, batches)
	return &RelayMetrics{events: events, batches: batches}
}

func (m *RelayMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *RelayMetrics) ObserveBatch(d time.Duration) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(d.Seconds())
}

package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	streams   prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed registry events and
// their delivery to journal and stream subscribers.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "registrar",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed registry events segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "registrar",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events a sink failed to accept, segmented by sink.",
			}, []string{"sink"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "registrar",
				Subsystem: "events",
				Name:      "stream_subscribers",
				Help:      "Number of connected event stream subscribers.",
			}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.dropped, eventRegistry.streams)
	})
	return eventRegistry
}

// RecordPublished increments the counter for the supplied event type.
func (m *eventMetrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// RecordDropped increments the drop counter for a sink.
func (m *eventMetrics) RecordDropped(sink string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(sink)).Inc()
}

// SetStreamSubscribers reports the live subscriber count.
func (m *eventMetrics) SetStreamSubscribers(n int) {
	if m == nil {
		return
	}
	m.streams.Set(float64(n))
}

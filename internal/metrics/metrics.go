package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coveindexer"

// Metrics holds the indexer's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	skipped   prometheus.Counter
	duration  prometheus.Histogram
	changes   prometheus.Counter
	head      prometheus.Gauge
	indexed   prometheus.Gauge
}

// New registers every collector plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Events applied and committed, by event type.",
		}, []string{"type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Events rejected, by event type and reason.",
		}, []string{"type", "reason"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Events at or below the checkpoint.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time to apply and commit one event.",
			Buckets:   prometheus.DefBuckets,
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_writes_total",
			Help:      "Entities written by committed events.",
		}),
		head: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_head_block",
			Help:      "Latest confirmed block seen on chain.",
		}),
		indexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_block",
			Help:      "Block of the last committed event.",
		}),
	}

	m.registry.MustRegister(
		m.processed, m.failed, m.skipped, m.duration, m.changes, m.head, m.indexed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventProcessed records a committed event.
func (m *Metrics) EventProcessed(eventType string, block uint64, writes int, took time.Duration) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(eventType).Inc()
	m.changes.Add(float64(writes))
	m.duration.Observe(took.Seconds())
	m.indexed.Set(float64(block))
}

// EventFailed records a rejected event.
func (m *Metrics) EventFailed(eventType, reason string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(eventType, reason).Inc()
}

// EventSkipped records an event already covered by the checkpoint.
func (m *Metrics) EventSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

// ChainHead records the newest confirmed block.
func (m *Metrics) ChainHead(block uint64) {
	if m == nil {
		return
	}
	m.head.Set(float64(block))
}

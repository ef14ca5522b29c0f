// Package metrics exposes the operational counters of the ingestion
// pipeline in Prometheus exposition format. Asynchronous persistence
// failures are observable only here and in the logs, never by the
// client that submitted the batch.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all collectors on a private registry so tests can
// create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	EventsAccepted      prometheus.Counter
	EventsRejected      prometheus.Counter
	BatchesQueued       prometheus.Counter
	RateLimited         prometheus.Counter
	BatchesPersisted    prometheus.Counter
	EventsPersisted     prometheus.Counter
	BatchesFailed       prometheus.Counter
	BatchesDeadLettered prometheus.Counter
	BatchesReplayed     prometheus.Counter
	PersistDuration     prometheus.Histogram
}

// New creates a metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "logtide_events_accepted_total",
			Help: "Events that passed sanitization and were queued.",
		}),
		EventsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "logtide_events_rejected_total",
			Help: "Events dropped by validation.",
		}),
		BatchesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "logtide_batches_queued_total",
			Help: "Batches handed to the ingestion queue.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "logtide_requests_rate_limited_total",
			Help: "Requests rejected by per-client admission control.",
		}),
		BatchesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "logtide_batches_persisted_total",
			Help: "Batches committed to storage.",
		}),
		EventsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "logtide_events_persisted_total",
			Help: "Events written in committed batches.",
		}),
		BatchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "logtide_batches_failed_total",
			Help: "Batches abandoned after exhausting persistence retries.",
		}),
		BatchesDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "logtide_batches_dead_lettered_total",
			Help: "Failed batches written to the local dead-letter queue.",
		}),
		BatchesReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "logtide_batches_replayed_total",
			Help: "Dead-letter batches successfully replayed to storage.",
		}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "logtide_batch_persist_duration_seconds",
			Help:    "Wall time to persist one batch, including retries.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RegisterQueueDepth registers a gauge sampling the ingestion queue
// backlog on scrape.
func (m *Metrics) RegisterQueueDepth(depth func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "logtide_queue_depth",
		Help: "Batches currently buffered in the ingestion queue.",
	}, depth))
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

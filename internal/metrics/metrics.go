// Package metrics exposes the hub's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every collector the hub publishes under /metrics.
type Registry struct {
	ActiveConnections   prometheus.Gauge
	ActiveDocuments     prometheus.Gauge
	DeltasAppended      prometheus.Counter
	CausalityViolations prometheus.Counter
	SlowConsumerDrops   prometheus.Counter
	AuthFailures        prometheus.Counter
	PubSubPublishErrors prometheus.Counter
}

// NewRegistry creates and registers the hub's Prometheus collectors
// against the default registry.
func NewRegistry() *Registry {
	return &Registry{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synckit_hub_connections_active",
			Help: "Number of currently registered WebSocket connections",
		}),
		ActiveDocuments: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synckit_hub_documents_active",
			Help: "Number of documents with at least one local subscriber",
		}),
		DeltasAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synckit_hub_deltas_appended_total",
			Help: "Total deltas accepted and appended to storage",
		}),
		CausalityViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synckit_hub_causality_violations_total",
			Help: "Total deltas rejected for violating same-origin causal ordering",
		}),
		SlowConsumerDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synckit_hub_slow_consumer_drops_total",
			Help: "Total connections closed for a full outbound queue",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synckit_hub_auth_failures_total",
			Help: "Total failed authentication attempts",
		}),
		PubSubPublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synckit_hub_pubsub_publish_errors_total",
			Help: "Total pub/sub publish calls that returned an error",
		}),
	}
}

// Handler returns the HTTP handler serving the default Prometheus
// registry in text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics holds the process-wide Prometheus collectors. Collectors are
// registered once at init through promauto; callers just update them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rookery",
		Name:      "attempts_total",
		Help:      "Unit-of-work attempts by outcome.",
	}, []string{"outcome"})

	ItemsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rookery",
		Name:      "items_completed_total",
		Help:      "Batch items reaching a terminal status.",
	}, []string{"status"})

	ProxiesEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rookery",
		Name:      "proxies_enabled",
		Help:      "Proxies currently eligible for selection.",
	})

	ProxiesDisabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rookery",
		Name:      "proxies_disabled",
		Help:      "Proxies disabled after consecutive failures.",
	})

	ProbeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rookery",
		Name:      "probe_latency_seconds",
		Help:      "Latency of successful proxy health probes.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

// Handler serves the default registry, for mounting on an HTTP mux.
func Handler() http.Handler {
	return promhttp.Handler()
}

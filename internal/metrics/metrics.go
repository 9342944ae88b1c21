// Package metrics registers the server's Prometheus counters and
// gauges and serves them on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the counters the file service and adapter update.
type Registry struct {
	UploadsTotal       *prometheus.CounterVec
	DownloadsTotal     prometheus.Counter
	DedupHitsTotal     prometheus.Counter
	ReconcileSweeps    prometheus.Counter
	OrphanedBlobsFound prometheus.Counter
	WorkerPoolInFlight prometheus.Gauge
}

// New registers all metrics under the "hyperfs" namespace.
func New() *Registry {
	return &Registry{
		UploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hyperfs",
				Subsystem: "uploads",
				Name:      "total",
				Help:      "Upload commits by outcome (new, duplicate, overwrite).",
			},
			[]string{"outcome"},
		),
		DownloadsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "hyperfs",
			Subsystem: "downloads",
			Name:      "total",
			Help:      "Completed download preparations.",
		}),
		DedupHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "hyperfs",
			Subsystem: "blobs",
			Name:      "dedup_hits_total",
			Help:      "Uploads whose content digest already existed.",
		}),
		ReconcileSweeps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "hyperfs",
			Subsystem: "reconcile",
			Name:      "sweeps_total",
			Help:      "Startup orphan-reconciliation sweeps run.",
		}),
		OrphanedBlobsFound: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "hyperfs",
			Subsystem: "reconcile",
			Name:      "orphans_found_total",
			Help:      "Catalog/filesystem divergences found by reconciliation sweeps.",
		}),
		WorkerPoolInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "hyperfs",
			Subsystem: "workerpool",
			Name:      "in_flight",
			Help:      "Blocking operations currently holding a worker pool slot.",
		}),
	}
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

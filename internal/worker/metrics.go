package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	exportsTotal     *prometheus.CounterVec
	exportDuration   *prometheus.HistogramVec
	activeExports    prometheus.Gauge
	exportBytesTotal prometheus.Counter
	webhookFailures  *prometheus.CounterVec
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		registry: registry,
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagehandler_worker_exports_total",
			Help: "Total export tasks by final status.",
		}, []string{"status"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagehandler_worker_export_duration_seconds",
			Help:    "Duration of each export attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeExports: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagehandler_worker_active_exports",
			Help: "Export tasks currently running.",
		}),
		exportBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagehandler_worker_export_bytes_total",
			Help: "Total bytes written to the export bucket.",
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagehandler_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}, []string{"event"}),
	}

	registry.MustRegister(
		m.exportsTotal,
		m.exportDuration,
		m.activeExports,
		m.exportBytesTotal,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

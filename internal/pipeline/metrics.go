package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	transformsTotal   *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	outputBytes       *prometheus.CounterVec
	activeTransforms  prometheus.Gauge
}

// NewMetrics registers the engine collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transformsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagehandler_transforms_total",
			Help: "Total transforms by output format and result code.",
		}, []string{"format", "code"}),
		transformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagehandler_transform_duration_seconds",
			Help:    "Transform latency in seconds, fetch included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),
		outputBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagehandler_transform_output_bytes_total",
			Help: "Total bytes produced by transforms.",
		}, []string{"format"}),
		activeTransforms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagehandler_active_transforms",
			Help: "Transforms currently holding a codec slot.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.transformsTotal,
			m.transformDuration,
			m.outputBytes,
			m.activeTransforms,
		)
	}
	return m
}

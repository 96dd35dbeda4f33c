package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups skillforge's Prometheus collectors. Only the SSE
// collectors are updated (by pkg/api's chat handler); the sandbox and
// validation collectors are registered but never set.
// One instance is constructed at bootstrap and threaded through the
// capability struct, mirroring how tarsy threads its WorkerPool.Health()
// into the health handler rather than relying on package-level globals.
type Metrics struct {
	SandboxPoolSize    *prometheus.GaugeVec
	ValidationDuration *prometheus.HistogramVec
	ValidationOutcomes *prometheus.CounterVec
	SSEStreamsActive   prometheus.Gauge
	SSEFramesEmitted   *prometheus.CounterVec
}

// NewMetrics registers all collectors against reg and returns the handle.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry across parallel test packages.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SandboxPoolSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "skillforge_sandbox_pool_size",
			Help: "Number of live sandboxes per owner-key kind.",
		}, []string{"kind"}),
		ValidationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skillforge_validation_step_duration_seconds",
			Help:    "Duration of each validation pipeline step.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		ValidationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skillforge_validation_outcomes_total",
			Help: "Validation pipeline outcomes by result.",
		}, []string{"result"}),
		SSEStreamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "skillforge_sse_streams_active",
			Help: "Number of SSE streams currently open.",
		}),
		SSEFramesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "skillforge_sse_frames_emitted_total",
			Help: "SSE frames emitted by event name.",
		}, []string{"event"}),
	}
}

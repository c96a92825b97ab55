package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Enqueued         = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_enqueued_total", Help: "Payments accepted onto the primary queue"})
	Settled          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payments_settled_total", Help: "Payments recorded in the ledger"}, []string{"partition"})
	DispatchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payments_dispatch_failures_total", Help: "Failed dispatch attempts"}, []string{"queue", "outcome"})
	DispatchLatency  = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "payments_dispatch_seconds", Help: "Settlement call latency", Buckets: prometheus.DefBuckets}, []string{"processor", "outcome"})
	Rerouted         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payments_rerouted_total", Help: "Failed items pushed back for another attempt"}, []string{"route"})
	DeadLettered     = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_dead_lettered_total", Help: "Items moved to the dead-letter queue"})
	Duplicates       = prometheus.NewCounter(prometheus.CounterOpts{Name: "payments_duplicates_skipped_total", Help: "Redeliveries dropped by the idempotency guard"})
	Requeued         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payments_requeued_after_error_total", Help: "Items requeued unchanged after an infrastructure error"}, []string{"queue"})
	PacingSleeps     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payments_pacing_sleeps_total", Help: "Dispatches delayed because the circuit reported failing"}, []string{"processor"})
	ProbeFailures    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payments_health_probe_failures_total", Help: "Health probes that failed"}, []string{"processor"})
	CircuitFailing   = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "payments_circuit_failing", Help: "1 when the processor is believed to be failing"}, []string{"processor"})
	QueueDepth       = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "payments_queue_depth", Help: "Items waiting per queue"}, []string{"queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Enqueued,
			Settled,
			DispatchFailures,
			DispatchLatency,
			Rerouted,
			DeadLettered,
			Duplicates,
			Requeued,
			PacingSleeps,
			ProbeFailures,
			CircuitFailing,
			QueueDepth,
		)
	})
	return promhttp.Handler()
}

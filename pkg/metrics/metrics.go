package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Idle detector metrics
	NodeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pvepower_node_state",
			Help: "Current idle state per node (1 = node is in this state)",
		},
		[]string{"node", "state"},
	)

	StateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvepower_state_transitions_total",
			Help: "Total idle state transitions by event type",
		},
		[]string{"type"},
	)

	// Cascade metrics
	WorkloadShutdownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvepower_workload_shutdowns_total",
			Help: "Total workload power-off results by outcome",
		},
		[]string{"outcome"},
	)

	CascadeStagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pvepower_cascade_stages_total",
			Help: "Total cascade stages executed",
		},
	)

	// Supervisor metrics
	CycleErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pvepower_cycle_errors_total",
			Help: "Total faulted poll cycles",
		},
	)

	ConsecutiveErrors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvepower_consecutive_errors",
			Help: "Current consecutive faulted poll cycles",
		},
	)
)

// Register registers all metrics with the default registry. Call once at
// startup.
func Register() {
	prometheus.MustRegister(
		NodeState,
		StateTransitionsTotal,
		WorkloadShutdownsTotal,
		CascadeStagesTotal,
		CycleErrorsTotal,
		ConsecutiveErrors,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics HTTP server on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

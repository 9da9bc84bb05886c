package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Persistence metrics.
	PersistenceSaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimbus_persistence_save_duration_seconds",
			Help:    "Time taken to durably save the desired Deployment.",
			Buckets: prometheus.DefBuckets,
		},
	)

	PersistenceSaveErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_persistence_save_errors_total",
			Help: "Total number of failed Deployment saves.",
		},
	)

	// Cluster-state metrics.
	ClusterStateUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_cluster_state_updates_total",
			Help: "Total number of node state reports applied.",
		},
	)

	ClusterStateKnownNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_cluster_state_known_nodes",
			Help: "Number of nodes with a held state report.",
		},
	)

	// HTTP API metrics.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_api_requests_total",
			Help: "Total number of HTTP API requests by route and status.",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Control RPC metrics.
	ControlRPCConnectedAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_control_rpc_connected_agents",
			Help: "Number of agents currently connected to the control RPC server.",
		},
	)

	ControlRPCPushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_control_rpc_pushes_total",
			Help: "Total number of ClusterStatusCommand pushes sent to agents.",
		},
	)

	// Convergence agent metrics.
	ConvergenceIterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_convergence_iterations_total",
			Help: "Total number of convergence iterations by outcome.",
		},
		[]string{"outcome"},
	)

	ConvergenceIterationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimbus_convergence_iteration_duration_seconds",
			Help:    "Time taken to run one discover/report/converge iteration.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		PersistenceSaveDuration,
		PersistenceSaveErrorsTotal,
		ClusterStateUpdatesTotal,
		ClusterStateKnownNodes,
		APIRequestsTotal,
		APIRequestDuration,
		ControlRPCConnectedAgents,
		ControlRPCPushesTotal,
		ConvergenceIterationsTotal,
		ConvergenceIterationDuration,
	)
}

// Handler returns the Prometheus scrape handler, mounted at /metrics by
// both the control service and the agent.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration and reports it to a Prometheus
// histogram when stopped.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration reports the elapsed time to obs. Takes the narrower
// prometheus.Observer interface rather than prometheus.Histogram so a
// single Timer works with both bare histograms and the per-label
// Observer returned by a HistogramVec's WithLabelValues.
func (t *Timer) ObserveDuration(obs prometheus.Observer) time.Duration {
	elapsed := time.Since(t.start)
	obs.Observe(elapsed.Seconds())
	return elapsed
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetgate_workers_total",
			Help: "Total number of known workers by health status",
		},
		[]string{"status"},
	)

	WorkerLoadCounter = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetgate_worker_load",
			Help: "Approximate number of resident models per worker",
		},
		[]string{"worker"},
	)

	// Health monitor metrics
	HealthProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgate_health_probes_total",
			Help: "Total number of worker health probes by outcome",
		},
		[]string{"outcome"},
	)

	HealthProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetgate_health_probe_duration_seconds",
			Help:    "Time taken for one health-probe sweep across all workers",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Placement metrics
	PlacementRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgate_placement_requests_total",
			Help: "Total number of placement decisions by outcome",
		},
		[]string{"outcome"},
	)

	PlacementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetgate_placement_duration_seconds",
			Help:    "Time taken to resolve a worker for a model, including any load",
			Buckets: prometheus.DefBuckets,
		},
	)

	ModelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgate_model_loads_total",
			Help: "Total number of model load calls issued to workers, by outcome",
		},
		[]string{"outcome"},
	)

	ModelLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetgate_model_load_duration_seconds",
			Help:    "Time taken for a worker to load a model",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
	)

	ModelUnloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgate_model_unloads_total",
			Help: "Total number of model unload calls issued to workers, by outcome",
		},
		[]string{"outcome"},
	)

	AssignmentRacesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetgate_assignment_races_total",
			Help: "Total number of times a concurrent assign lost the registry race",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetgate_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetgate_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciliationRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgate_reconciliation_repairs_total",
			Help: "Total number of inconsistencies repaired by the reconciler, by kind",
		},
		[]string{"kind"},
	)

	// Frontend metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgate_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetgate_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Registry metrics
	RegistryOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgate_registry_operations_total",
			Help: "Total number of registry operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerLoadCounter)
	prometheus.MustRegister(HealthProbesTotal)
	prometheus.MustRegister(HealthProbeDuration)
	prometheus.MustRegister(PlacementRequestsTotal)
	prometheus.MustRegister(PlacementDuration)
	prometheus.MustRegister(ModelLoadsTotal)
	prometheus.MustRegister(ModelLoadDuration)
	prometheus.MustRegister(ModelUnloadsTotal)
	prometheus.MustRegister(AssignmentRacesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationRepairsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RegistryOperationsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

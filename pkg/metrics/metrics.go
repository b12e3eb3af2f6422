package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch metrics
	NotificationsDispatched *prometheus.CounterVec
	DispatchLatency         *prometheus.HistogramVec
	NotificationsCreated    *prometheus.CounterVec

	// Worker metrics
	WorkerRuns         *prometheus.CounterVec
	WorkerSkippedTicks *prometheus.CounterVec
	WorkerDuration     *prometheus.HistogramVec
	WorkerItems        *prometheus.CounterVec

	// Live connection metrics
	LiveConnections    prometheus.Gauge
	HeartbeatEvictions prometheus.Counter
	LivePushes         *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on reg.
// A nil reg registers on the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		NotificationsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dispatched_total",
			Help:      "Channel dispatch outcomes",
		}, []string{"channel", "status"}),
		DispatchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in a channel backend send",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"channel"}),
		NotificationsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Notification records created",
		}, []string{"kind"}),

		WorkerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_runs_total",
			Help:      "Periodic task runs",
		}, []string{"task", "result"}),
		WorkerSkippedTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_skipped_ticks_total",
			Help:      "Ticks skipped because the previous run was still in flight",
		}, []string{"task"}),
		WorkerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_run_duration_seconds",
			Help:      "Duration of periodic task runs",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"task"}),
		WorkerItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_items_total",
			Help:      "Rows handled by periodic tasks",
		}, []string{"task", "result"}),

		LiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Currently registered live sockets",
		}),
		HeartbeatEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_evictions_total",
			Help:      "Sockets terminated for missing heartbeats",
		}),
		LivePushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_pushes_total",
			Help:      "Push frames written to live sockets",
		}, []string{"result"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// NewNop returns metrics bound to a throwaway registry. Used by tests.
func NewNop() *Metrics {
	return NewMetrics("test", prometheus.NewRegistry())
}

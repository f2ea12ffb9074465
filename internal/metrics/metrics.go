// Package metrics exposes Prometheus instrumentation for the sweeps.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters every sweep reports into.
type Metrics struct {
	SweepRuns        *prometheus.CounterVec
	UsersWarned      prometheus.Counter
	UsersMarked      prometheus.Counter
	UsersDeleted     prometheus.Counter
	RowsDeleted      *prometheus.CounterVec
	DeletionFailures *prometheus.CounterVec
	DeletionSeconds  prometheus.Histogram
}

// New registers the retention metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retention_sweep_runs_total",
			Help: "Sweep executions by cadence.",
		}, []string{"cadence"}),
		UsersWarned: f.NewCounter(prometheus.CounterOpts{
			Name: "retention_users_warned_total",
			Help: "Users sent an inactivity warning.",
		}),
		UsersMarked: f.NewCounter(prometheus.CounterOpts{
			Name: "retention_users_marked_total",
			Help: "Users marked for deletion.",
		}),
		UsersDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "retention_users_deleted_total",
			Help: "Users removed by the cascading deletion engine.",
		}),
		RowsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retention_rows_deleted_total",
			Help: "Rows removed by retention sweeps, by entity kind.",
		}, []string{"kind"}),
		DeletionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retention_deletion_failures_total",
			Help: "Deletion failures by classification.",
		}, []string{"class"}),
		DeletionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "retention_deletion_duration_seconds",
			Help:    "Duration of single-user cascading deletions.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
